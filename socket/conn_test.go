package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"go.arsenm.dev/erpc/codec"
	"go.arsenm.dev/erpc/protocol"
	"golang.org/x/net/websocket"
)

// echoServer answers every request with its first parameter
type echoServer struct{}

func (echoServer) DispatchRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if req.Identifier != "echo" {
		return nil, protocol.ErrHandlerNotFound
	}
	if len(req.Parameters) == 0 {
		return &protocol.Response{}, nil
	}
	return &protocol.Response{Body: req.Parameters[0]}, nil
}

// testResolver records pending calls by correlation ID
type testResolver struct {
	mtx     sync.Mutex
	pending map[string]chan *protocol.SocketMessage
	failed  chan error
}

func newTestResolver() *testResolver {
	return &testResolver{
		pending: map[string]chan *protocol.SocketMessage{},
		failed:  make(chan error, 1),
	}
}

func (r *testResolver) expect(id string) <-chan *protocol.SocketMessage {
	ch := make(chan *protocol.SocketMessage, 1)
	r.mtx.Lock()
	r.pending[id] = ch
	r.mtx.Unlock()
	return ch
}

func (r *testResolver) Resolve(msg *protocol.SocketMessage) bool {
	r.mtx.Lock()
	ch, ok := r.pending[msg.ID]
	delete(r.pending, msg.ID)
	r.mtx.Unlock()
	if ok {
		ch <- msg
	}
	return ok
}

func (r *testResolver) Fail(err error) {
	r.failed <- err
}

// serveConns starts a WebSocket server whose connections are created
// with opts and sent on the returned channel
func serveConns(opts Options) (*httptest.Server, string, <-chan *Connection) {
	conns := make(chan *Connection, 1)
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		c := New(ws, opts)
		conns <- c
		c.Wait()
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/test", conns
}

func recvConn(t *testing.T, conns <-chan *Connection) *Connection {
	t.Helper()
	select {
	case c := <-conns:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func TestRequestReply(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hs, url, conns := serveConns(Options{Role: "server", Server: echoServer{}})
	defer hs.Close()

	cli, err := Dial(ctx, url, Options{Role: "client"})
	if err != nil {
		t.Fatal(err)
	}
	srv := recvConn(t, conns)

	res := newTestResolver()
	cli.Attach(res)

	// Issue calls whose replies may arrive in any order
	const n = 10
	waits := make([]<-chan *protocol.SocketMessage, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		waits[i] = res.expect(id)
		err := cli.Send(ctx, protocol.NewSocketRequest(id, &protocol.Request{
			Identifier: "echo",
			Parameters: []any{i},
		}))
		if err != nil {
			t.Fatal(err)
		}
	}

	for i, wait := range waits {
		select {
		case msg := <-wait:
			if msg.Body == nil || msg.Body.Ok == nil {
				t.Fatalf("call %d: expected Ok reply, got %+v", i, msg)
			}
			if got := msg.Body.Ok.Body.(json.Number).String(); got != strconv.Itoa(i) {
				t.Errorf("call %d: expected %d, got %s", i, i, got)
			}
		case <-ctx.Done():
			t.Fatalf("call %d: timed out", i)
		}
	}

	cli.Close()
	cli.Wait()
	srv.Wait()

	// The client's resolver is failed on teardown
	select {
	case err := <-res.failed:
		if !errors.Is(err, protocol.ErrConnectionClosed) {
			t.Errorf("expected ErrConnectionClosed, got %v", err)
		}
	case <-ctx.Done():
		t.Fatal("resolver was not failed on close")
	}

	if err := cli.Send(ctx, protocol.NewSocketRequest("late", &protocol.Request{Identifier: "echo"})); !errors.Is(err, protocol.ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed after close, got %v", err)
	}
}

func TestUnsupportedRequest(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hs, url, conns := serveConns(Options{Role: "server"})
	defer hs.Close()

	// The client does not serve requests
	cli, err := Dial(ctx, url, Options{Role: "client"})
	if err != nil {
		t.Fatal(err)
	}
	srv := recvConn(t, conns)

	res := newTestResolver()
	srv.Attach(res)
	wait := res.expect("r1")

	if err := srv.Send(ctx, protocol.NewSocketRequest("r1", &protocol.Request{Identifier: "echo"})); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-wait:
		if msg.Body == nil || msg.Body.Err == nil {
			t.Fatalf("expected Err reply, got %+v", msg)
		}
		if *msg.Body.Err != protocol.ErrUnsupportedOperation.Error() {
			t.Errorf("unexpected error text %q", *msg.Body.Err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for reply")
	}

	srv.Close()
	srv.Wait()
	cli.Wait()
}

func TestUnmatchedReplyDropped(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hs, url, conns := serveConns(Options{Role: "server"})
	defer hs.Close()
	cli, err := Dial(ctx, url, Options{Role: "client", Server: echoServer{}})
	if err != nil {
		t.Fatal(err)
	}
	srv := recvConn(t, conns)

	res := newTestResolver()
	srv.Attach(res)
	wait := res.expect("known")

	// A reply nobody waits for is dropped without disturbing other calls
	stray := "stray"
	if err := cli.Send(ctx, &protocol.SocketMessage{ID: "unknown", Body: &protocol.Result{Err: &stray}}); err != nil {
		t.Fatal(err)
	}
	if err := srv.Send(ctx, protocol.NewSocketRequest("known", &protocol.Request{
		Identifier: "echo",
		Parameters: []any{"hi"},
	})); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-wait:
		if msg.Body.Ok == nil || msg.Body.Ok.Body != "hi" {
			t.Errorf("expected hi, got %+v", msg.Body)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for reply")
	}

	cli.Close()
	cli.Wait()
	srv.Wait()
}

func TestDecodeFailureEndsInput(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hs, url, conns := serveConns(Options{Role: "server", Server: echoServer{}})
	defer hs.Close()

	// Use a raw WebSocket so that an invalid frame can be sent
	raw, err := websocket.Dial(url, "", DefaultOrigin)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	srv := recvConn(t, conns)

	res := newTestResolver()
	srv.Attach(res)

	if err := websocket.Message.Send(raw, `{"id":"x","request":{"identifier":"echo","parameters":[]}}`); err != nil {
		t.Fatal(err)
	}

	// The inbound side ends, failing pending calls
	select {
	case err := <-res.failed:
		if !errors.Is(err, protocol.ErrConnectionClosed) {
			t.Errorf("expected ErrConnectionClosed, got %v", err)
		}
	case <-ctx.Done():
		t.Fatal("resolver was not failed after decode error")
	}

	// A resolver attached afterwards fails immediately
	late := newTestResolver()
	srv.Attach(late)
	select {
	case <-late.failed:
	default:
		t.Error("expected late resolver to fail immediately")
	}

	// The outbound side still works
	if err := srv.Send(ctx, protocol.NewSocketRequest("out", &protocol.Request{Identifier: "ping"})); err != nil {
		t.Fatal(err)
	}
	var msg protocol.SocketMessage
	if err := codec.JSON.Receive(raw, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.ID != "out" || !msg.IsRequest() {
		t.Errorf("unexpected message %+v", msg)
	}

	srv.Close()
	srv.Wait()
}

func TestMsgpackConnection(t *testing.T) {
	defer leaktest.Check(t)()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hs, url, conns := serveConns(Options{Role: "server", Server: echoServer{}, Codec: codec.Msgpack})
	defer hs.Close()
	cli, err := Dial(ctx, url, Options{Role: "client", Codec: codec.Msgpack})
	if err != nil {
		t.Fatal(err)
	}
	srv := recvConn(t, conns)

	res := newTestResolver()
	cli.Attach(res)
	wait := res.expect("m1")

	if err := cli.Send(ctx, protocol.NewSocketRequest("m1", &protocol.Request{
		Identifier: "echo",
		Parameters: []any{"packed"},
	})); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-wait:
		if msg.Body.Ok == nil || msg.Body.Ok.Body != "packed" {
			t.Errorf("expected packed, got %+v", msg.Body)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for reply")
	}

	cli.Close()
	cli.Wait()
	srv.Wait()
}
