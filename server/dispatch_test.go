package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.arsenm.dev/erpc/protocol"
	"go.uber.org/zap/zaptest"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *int) {
	r := NewRegistry()
	calls := new(int)

	r.Register("echo", MustFunc(func(s string) string {
		*calls++
		return s
	}))
	r.Register("panic", MustFunc(func() { panic("oops") }))
	r.Register("chan", MustFunc(func() chan int { return make(chan int) }))
	r.Register("fail", MustFunc(func() error { return errors.New("failed") }))

	return NewDispatcher(r, zaptest.NewLogger(t)), calls
}

func TestDispatch(t *testing.T) {
	d, calls := newTestDispatcher(t)
	ctx := context.Background()

	resp, err := d.Dispatch(ctx, "echo", []byte(`["hello"]`))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(resp.Body.(json.RawMessage)); got != `"hello"` {
		t.Errorf("expected \"hello\", got %s", got)
	}
	if *calls != 1 {
		t.Errorf("expected handler to run once, ran %d times", *calls)
	}

	type testCase struct {
		name       string
		identifier string
		body       string
		check      func(error) bool
	}

	isDecode := func(err error) bool {
		var derr *protocol.DecodeError
		return errors.As(err, &derr)
	}
	isEncode := func(err error) bool {
		var eerr *protocol.EncodeError
		return errors.As(err, &eerr)
	}
	isHandler := func(err error) bool {
		var herr *HandlerError
		return errors.As(err, &herr)
	}
	isNotFound := func(err error) bool {
		return errors.Is(err, protocol.ErrHandlerNotFound)
	}

	cases := []testCase{
		{"NotFound", "missing", `["x"]`, isNotFound},
		// Lookup comes before decoding
		{"NotFoundEmptyList", "missing", `[]`, isNotFound},
		{"EmptyList", "echo", `[]`, isDecode},
		{"Malformed", "echo", `["x"`, isDecode},
		{"NotAList", "echo", `{"a":1}`, isDecode},
		{"WrongCount", "echo", `["a","b"]`, isDecode},
		{"Panic", "panic", ``, isHandler},
		{"HandlerError", "fail", `null`, isHandler},
		{"Unencodable", "chan", ``, isEncode},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d.Dispatch(ctx, tc.identifier, []byte(tc.body))
			if !tc.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}

	// Failed calls do not affect later ones
	if _, err := d.Dispatch(ctx, "echo", []byte(`["again"]`)); err != nil {
		t.Errorf("expected later call to succeed, got %v", err)
	}
}

func TestDispatchRequest(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	resp, err := d.DispatchRequest(ctx, &protocol.Request{Identifier: "echo", Parameters: []any{"hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(resp.Body.(json.RawMessage)); got != `"hi"` {
		t.Errorf("expected \"hi\", got %s", got)
	}

	_, err = d.DispatchRequest(ctx, &protocol.Request{Identifier: "missing"})
	if !errors.Is(err, protocol.ErrHandlerNotFound) {
		t.Errorf("expected ErrHandlerNotFound, got %v", err)
	}

	_, err = d.DispatchRequest(ctx, &protocol.Request{Identifier: "echo", Parameters: []any{}})
	var derr *protocol.DecodeError
	if !errors.As(err, &derr) {
		t.Errorf("expected *protocol.DecodeError, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var order []string
	mark := func(name string) Middleware {
		return func(next Handler) Handler {
			return HandlerFunc(func(ctx context.Context, params []any) (any, error) {
				order = append(order, name+":"+Identifier(ctx))
				return next.Invoke(ctx, params)
			})
		}
	}
	d.Use(mark("outer"), mark("inner"))
	d.Use(RateLimit(0, 1))

	ctx := context.Background()
	if _, err := d.Dispatch(ctx, "echo", []byte(`["a"]`)); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "outer:echo" || order[1] != "inner:echo" {
		t.Errorf("unexpected middleware order %v", order)
	}

	// The bucket holds a single token which is never refilled
	_, err := d.Dispatch(ctx, "echo", []byte(`["b"]`))
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}
