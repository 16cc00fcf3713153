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

// Package client implements Targets, which call handlers registered
// on a remote engine or on a connected browser.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/uuid"
	"go.arsenm.dev/erpc/codec"
	"go.arsenm.dev/erpc/internal/reflectutil"
	"go.arsenm.dev/erpc/protocol"
	"go.arsenm.dev/erpc/socket"
	"go.uber.org/zap"
)

// Client error values
var (
	ErrNotBound     = errors.New("target has no bound connection")
	ErrWrongKind    = errors.New("operation not supported by this kind of target")
	ErrUnknownKind  = errors.New("unknown target kind")
	ErrUnknownCodec = errors.New("unknown socket codec")
)

// Kind selects the transport a Target calls over
type Kind string

const (
	// HTTPServer targets are called over the unary HTTP transport
	HTTPServer Kind = "http-server"

	// Browser targets are called over a bound persistent connection
	Browser Kind = "browser"
)

// Options configures a Target
type Options struct {
	// Address is the host of the remote engine, optionally with a scheme
	Address string

	// Port is appended to Address unless it is zero
	Port int

	// Kind defaults to HTTPServer
	Kind Kind

	// HTTPClient is used by HTTPServer targets. It defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Codec names the codec requested when dialing, "json"
	// (the default) or "msgpack"
	Codec string

	Logger *zap.Logger
}

// Target calls handlers on one remote peer
type Target struct {
	opts  Options
	log   *zap.Logger
	base  string
	codec codec.Codec

	mtx     sync.Mutex
	conn    *socket.Connection
	pending *PendingCalls
}

// New creates a target
func New(opts Options) (*Target, error) {
	switch opts.Kind {
	case "":
		opts.Kind = HTTPServer
	case HTTPServer, Browser:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, opts.Kind)
	}
	if opts.Codec == "" {
		opts.Codec = "json"
	}
	cdc, ok := codec.ByName(opts.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, opts.Codec)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Target{
		opts:  opts,
		log:   opts.Logger.With(zap.String("target", string(opts.Kind))),
		base:  baseURL(opts.Address, opts.Port),
		codec: cdc,
	}, nil
}

// Kind returns the transport kind of the target
func (t *Target) Kind() Kind {
	return t.opts.Kind
}

// Bind makes conn the connection used for calls. Calls already in
// flight on a previously bound connection are not affected.
func (t *Target) Bind(conn *socket.Connection) error {
	if t.opts.Kind != Browser {
		return ErrWrongKind
	}

	pc := NewPendingCalls()
	conn.Attach(pc)

	t.mtx.Lock()
	t.conn, t.pending = conn, pc
	t.mtx.Unlock()
	return nil
}

// Connection returns the bound connection, or nil
func (t *Target) Connection() *socket.Connection {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.conn
}

// Dial opens a persistent connection to the engine at the target's
// address with the given role, and binds it. If srv is non-nil, it
// serves calls made by the engine over the connection.
func (t *Target) Dial(ctx context.Context, role string, srv socket.Server) (*socket.Connection, error) {
	if t.opts.Kind != Browser {
		return nil, ErrWrongKind
	}

	conn, err := socket.Dial(ctx, t.socketURL(role), socket.Options{
		Role:   role,
		Codec:  t.codec,
		Server: srv,
		Logger: t.opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	if err := t.Bind(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Call calls the handler registered under identifier on the remote
// peer and returns its result as decoded from JSON
func (t *Target) Call(ctx context.Context, identifier string, params ...any) (any, error) {
	t.log.Debug("Calling remote handler", zap.String("identifier", identifier), zap.Int("params", len(params)))

	if t.opts.Kind == Browser {
		return t.callSocket(ctx, identifier, params)
	}
	return t.callHTTP(ctx, identifier, params)
}

// Call calls the handler registered under identifier on t and decodes
// its result into R
func Call[R any](ctx context.Context, t *Target, identifier string, params ...any) (R, error) {
	var out R

	val, err := t.Call(ctx, identifier, params...)
	if err != nil {
		return out, err
	}

	if err := reflectutil.Decode(val, &out); err != nil {
		return out, &protocol.DecodeError{Err: err}
	}
	return out, nil
}

// callSocket sends a request on the bound connection and waits for
// the reply with the same correlation ID
func (t *Target) callSocket(ctx context.Context, identifier string, params []any) (any, error) {
	t.mtx.Lock()
	conn, pc := t.conn, t.pending
	t.mtx.Unlock()

	if conn == nil {
		return nil, ErrNotBound
	}

	// Create new v4 UUID
	uid, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	id := uid.String()

	replyCh, err := pc.add(id)
	if err != nil {
		return nil, err
	}
	defer pc.remove(id)

	req := &protocol.Request{Identifier: identifier}
	if len(params) > 0 {
		req.Parameters = params
	}

	if err := conn.Send(ctx, protocol.NewSocketRequest(id, req)); err != nil {
		return nil, err
	}

	select {
	case res, ok := <-replyCh:
		if !ok {
			return nil, pc.Err()
		}
		if res.Err != nil {
			return nil, &protocol.RemoteError{Message: *res.Err}
		}
		return res.Ok.Body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// baseURL builds the URL prefix of a remote engine
func baseURL(address string, port int) string {
	address = strings.TrimSuffix(address, "/")
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	if port != 0 {
		address += ":" + strconv.Itoa(port)
	}
	return address
}

// socketURL returns the URL of the persistent transport for role
func (t *Target) socketURL(role string) string {
	u := t.base
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/" + url.PathEscape(role) + "?codec=" + url.QueryEscape(t.opts.Codec)
}
