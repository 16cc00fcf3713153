/*
 *	erpc allows processes and browsers to call functions on each other remotely.
 *	Copyright (C) 2022 Arsen Musayelyan
 *
 *	This program is free software: you can redistribute it and/or modify
 *	it under the terms of the GNU General Public License as published by
 *	the Free Software Foundation, either version 3 of the License, or
 *	(at your option) any later version.
 *
 *	This program is distributed in the hope that it will be useful,
 *	but WITHOUT ANY WARRANTY; without even the implied warranty of
 *	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 *	GNU General Public License for more details.
 *
 *	You should have received a copy of the GNU General Public License
 *	along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package server implements the erpc engine, which serves registered
// handlers over HTTP and WebSocket at the same time.
package server

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/taskgroup"
	"go.arsenm.dev/erpc/codec"
	"go.arsenm.dev/erpc/socket"
	"go.uber.org/zap"
)

// DefaultAddr is the address an engine listens on when none is given
const DefaultAddr = "127.0.0.1:0"

// Options configures an Engine
type Options struct {
	// Addr is the TCP address to listen on
	Addr string

	// AllowedOrigins lists the origins allowed to make cross-origin
	// requests and to open WebSocket connections. "*" allows any
	// origin. If empty, CORS is disabled and any WebSocket origin is
	// accepted.
	AllowedOrigins []string

	// EnableSockets serves the persistent transport at /ws/{role}
	EnableSockets bool

	// Codec names the default socket codec ("json" or "msgpack").
	// A peer can override it with the codec query parameter.
	Codec string

	// Logger receives engine events. If nil, nothing is logged.
	Logger *zap.Logger

	// Middleware wraps every handler invocation
	Middleware []Middleware

	// ShutdownTimeout bounds Stop, if positive
	ShutdownTimeout time.Duration
}

// Engine is an erpc server. It owns a handler registry and a
// connection registry, and serves both until stopped.
type Engine struct {
	opts       Options
	log        *zap.Logger
	codec      codec.Codec
	handlers   *Registry
	conns      *socket.Registry
	dispatcher *Dispatcher
	metrics    *metrics
	handler    http.Handler
	addr       atomic.Value // string

	runMtx sync.Mutex
	srv    *http.Server
	tasks  *taskgroup.Group

	// sockMtx guards quit, which is closed while the engine stops
	// so that no new socket is accepted
	sockMtx sync.Mutex
	quit    chan struct{}
	sockets sync.WaitGroup
}

// New creates an engine. It does not start serving.
func New(opts Options) (*Engine, error) {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	cdc, ok := codec.ByName(opts.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, opts.Codec)
	}

	handlers := NewRegistry()
	d := NewDispatcher(handlers, opts.Logger)
	d.Use(opts.Middleware...)

	e := &Engine{
		opts:       opts,
		log:        opts.Logger,
		codec:      cdc,
		handlers:   handlers,
		conns:      socket.NewRegistry(),
		dispatcher: d,
		metrics:    d.metrics,
		quit:       make(chan struct{}),
	}
	e.handler = e.newHandler()
	e.addr.Store("")

	return e, nil
}

// RegisterHandler registers h under identifier, replacing any handler
// already registered under it. It may be called while serving.
func (e *Engine) RegisterHandler(identifier string, h Handler) error {
	if err := e.handlers.Register(identifier, h); err != nil {
		return err
	}
	e.log.Debug("Registered handler", zap.String("identifier", identifier))
	return nil
}

// Register registers the function fn under identifier. See Func for
// the signatures fn may have.
func (e *Engine) Register(identifier string, fn any) error {
	h, err := Func(fn)
	if err != nil {
		return err
	}
	return e.RegisterHandler(identifier, h)
}

// Identifiers returns the sorted identifiers of all registered handlers
func (e *Engine) Identifiers() []string {
	return e.handlers.Identifiers()
}

// Use appends middlewares to the chain wrapping every handler
func (e *Engine) Use(mws ...Middleware) {
	e.dispatcher.Use(mws...)
}

// Dispatcher returns the dispatcher serving the engine's handlers.
// It can be passed to socket.Dial to serve calls on outgoing
// connections.
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// OnConnect calls cb with every live connection and with every
// connection accepted from now on. cb runs synchronously on the
// accepting goroutine and must not call OnConnect.
func (e *Engine) OnConnect(cb func(*socket.Connection)) {
	e.conns.Subscribe(cb)
}

// Connections returns the live persistent connections
func (e *Engine) Connections() *socket.Registry {
	return e.conns
}

// Handler returns the engine's HTTP handler, for mounting it
// in another server instead of calling Start
func (e *Engine) Handler() http.Handler {
	return e.handler
}

// Metrics returns the engine's activity counters
func (e *Engine) Metrics() *expvar.Map {
	return e.metrics.emap
}

// Addr returns the address the engine is listening on, or an
// empty string if it is not running
func (e *Engine) Addr() string {
	return e.addr.Load().(string)
}

// Start binds the listening address and begins serving in the
// background. It returns ErrAlreadyRunning if the engine is running.
func (e *Engine) Start() error {
	e.runMtx.Lock()
	defer e.runMtx.Unlock()

	if e.srv != nil {
		return ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", e.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", e.opts.Addr, err)
	}

	srv := &http.Server{
		Handler:           e.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(e.log.Named("http")),
	}

	tasks := taskgroup.New(nil)
	tasks.Go(func() error {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		e.log.Error("HTTP server stopped unexpectedly", zap.Error(err))
		return err
	})

	e.srv, e.tasks = srv, tasks
	e.addr.Store(ln.Addr().String())
	e.log.Info("Engine started",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("sockets", e.opts.EnableSockets),
	)
	return nil
}

// Stop shuts the engine down gracefully. In-flight HTTP calls are
// allowed to finish, no new connections are accepted, and all
// persistent connections are closed. It returns ErrNotRunning if the
// engine is not running. The engine may be started again afterwards.
func (e *Engine) Stop(ctx context.Context) error {
	e.runMtx.Lock()
	defer e.runMtx.Unlock()

	if e.srv == nil {
		return ErrNotRunning
	}

	if e.opts.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ShutdownTimeout)
		defer cancel()
	}

	err := e.srv.Shutdown(ctx)
	if err != nil {
		e.log.Warn("Graceful shutdown interrupted", zap.Error(err))
		e.srv.Close()
	}

	e.closeSockets()

	if serr := e.tasks.Wait(); serr != nil && err == nil {
		err = serr
	}

	e.srv, e.tasks = nil, nil
	e.addr.Store("")
	e.log.Info("Engine stopped")
	return err
}

// closeSockets closes every persistent connection and waits for
// their handlers to return
func (e *Engine) closeSockets() {
	e.sockMtx.Lock()
	close(e.quit)
	e.sockMtx.Unlock()

	e.conns.CloseAll()
	e.sockets.Wait()

	e.sockMtx.Lock()
	e.quit = make(chan struct{})
	e.sockMtx.Unlock()
}
