package protocol_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.arsenm.dev/erpc/protocol"
)

func TestDecodeParameters(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []any
		fail    bool
		wantErr error
	}{
		{name: "empty body", body: ""},
		{name: "whitespace", body: " \n\t"},
		{name: "null", body: "null"},
		{name: "one string", body: `["hello"]`, want: []any{"hello"}},
		{name: "numbers", body: `[2, 3.5, 12345678901234567890]`, want: []any{
			json.Number("2"), json.Number("3.5"), json.Number("12345678901234567890"),
		}},
		{name: "nested", body: `[{"a":[true,null]}]`, want: []any{
			map[string]any{"a": []any{true, nil}},
		}},
		{name: "empty list", body: "[]", fail: true, wantErr: protocol.ErrEmptyParameters},
		{name: "object", body: `{"a":1}`, fail: true},
		{name: "trailing", body: `[1] [2]`, fail: true, wantErr: protocol.ErrTrailingData},
		{name: "garbage", body: `[1,`, fail: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := protocol.DecodeParameters([]byte(tc.body))
			if tc.fail {
				var derr *protocol.DecodeError
				if !errors.As(err, &derr) {
					t.Fatalf("expected DecodeError, got %v", err)
				}
				if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
					t.Errorf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("parameters (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSocketMessageValidate(t *testing.T) {
	errText := "boom"
	tests := []struct {
		name string
		msg  protocol.SocketMessage
		ok   bool
	}{
		{"request", protocol.SocketMessage{ID: "c1", Request: &protocol.Request{Identifier: "add"}}, true},
		{"request with params", protocol.SocketMessage{ID: "c1", Request: &protocol.Request{
			Identifier: "add", Parameters: []any{1, 2},
		}}, true},
		{"response ok", protocol.SocketMessage{ID: "c1", Body: &protocol.Result{Ok: &protocol.Response{}}}, true},
		{"response err", protocol.SocketMessage{ID: "c1", Body: &protocol.Result{Err: &errText}}, true},
		{"no id", protocol.SocketMessage{Request: &protocol.Request{Identifier: "add"}}, false},
		{"neither", protocol.SocketMessage{ID: "c1"}, false},
		{"both", protocol.SocketMessage{
			ID:      "c1",
			Request: &protocol.Request{Identifier: "add"},
			Body:    &protocol.Result{Err: &errText},
		}, false},
		{"empty params", protocol.SocketMessage{ID: "c1", Request: &protocol.Request{
			Identifier: "add", Parameters: []any{},
		}}, false},
		{"no identifier", protocol.SocketMessage{ID: "c1", Request: &protocol.Request{}}, false},
		{"empty result", protocol.SocketMessage{ID: "c1", Body: &protocol.Result{}}, false},
		{"double result", protocol.SocketMessage{ID: "c1", Body: &protocol.Result{
			Ok: &protocol.Response{}, Err: &errText,
		}}, false},
	}

	for _, tc := range tests {
		err := tc.msg.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}
		if !tc.ok {
			var derr *protocol.DecodeError
			if !errors.As(err, &derr) {
				t.Errorf("%s: expected DecodeError, got %v", tc.name, err)
			}
		}
	}
}

func TestWireShape(t *testing.T) {
	req := protocol.NewSocketRequest("c1", &protocol.Request{
		Identifier: "add",
		Parameters: []any{2, 3},
	})
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"id":"c1","request":{"identifier":"add","parameters":[2,3]}}`; got != want {
		t.Errorf("request frame: expected %s, got %s", want, got)
	}

	resp := protocol.NewSocketResponse("c1", &protocol.Response{Body: 5}, nil)
	data, err = json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"id":"c1","body":{"Ok":{"body":5}}}`; got != want {
		t.Errorf("response frame: expected %s, got %s", want, got)
	}

	errResp := protocol.NewSocketResponse("c2", nil, protocol.ErrHandlerNotFound)
	data, err = json.Marshal(errResp)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"id":"c2","body":{"Err":"Handler not found."}}`; got != want {
		t.Errorf("error frame: expected %s, got %s", want, got)
	}

	noParams := protocol.NewSocketRequest("c3", &protocol.Request{Identifier: "ping"})
	data, err = json.Marshal(noParams)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"id":"c3","request":{"identifier":"ping"}}`; got != want {
		t.Errorf("no-params frame: expected %s, got %s", want, got)
	}
}

type peerError struct{ msg string }

func (e peerError) Error() string       { return "internal: " + e.msg }
func (e peerError) PeerMessage() string { return e.msg }

func TestErrorText(t *testing.T) {
	type testCase struct {
		name string
		err  error
		want string
	}

	cases := []testCase{
		{"NotFound", protocol.ErrHandlerNotFound, protocol.NotFoundText},
		{"WrappedNotFound", fmt.Errorf("lookup: %w", protocol.ErrHandlerNotFound), protocol.NotFoundText},
		{"Decode", &protocol.DecodeError{Err: errors.New("bad json")}, protocol.ServerErrorText},
		{"Encode", &protocol.EncodeError{Err: errors.New("bad value")}, protocol.ServerErrorText},
		{"Peer", peerError{"boom"}, "boom"},
		{"WrappedPeer", fmt.Errorf("call: %w", peerError{"boom"}), "boom"},
		{"Unsupported", protocol.ErrUnsupportedOperation, protocol.ErrUnsupportedOperation.Error()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := protocol.ErrorText(tc.err); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestRemoteErrorNotFound(t *testing.T) {
	err := error(&protocol.RemoteError{Message: protocol.NotFoundText})
	if !errors.Is(err, protocol.ErrHandlerNotFound) {
		t.Error("expected remote not-found reply to match ErrHandlerNotFound")
	}

	err = &protocol.RemoteError{Message: "something else"}
	if errors.Is(err, protocol.ErrHandlerNotFound) {
		t.Error("unexpected match for unrelated remote error")
	}

	if !errors.Is(protocol.ErrConnectionClosed, protocol.ErrTransport) {
		t.Error("expected ErrConnectionClosed to be a transport error")
	}
}
