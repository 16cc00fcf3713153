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

// Package socket implements the persistent transport: a Connection
// wrapping one WebSocket peer, and a Registry of live connections.
package socket

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/creachadair/taskgroup"
	"go.arsenm.dev/erpc/codec"
	"go.arsenm.dev/erpc/protocol"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

// DefaultQueueSize is the capacity of a connection's inbound and
// outbound queues when Options.QueueSize is zero
const DefaultQueueSize = 64

// Server serves requests received on a connection
type Server interface {
	DispatchRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
}

// Resolver receives the replies arriving on a connection
type Resolver interface {
	// Resolve delivers a reply to the pending call with the same
	// correlation ID and reports whether there was one
	Resolve(msg *protocol.SocketMessage) bool

	// Fail ends all pending calls with err. It is called once no more
	// replies can arrive.
	Fail(err error)
}

// Options configures a Connection
type Options struct {
	// Role is the label supplied by the peer at connect time
	Role string

	// Codec encodes frames. The zero value selects codec.Default.
	Codec codec.Codec

	// Server serves requests sent by the peer. If nil, such
	// requests are answered with ErrUnsupportedOperation.
	Server Server

	// Logger receives connection events
	Logger *zap.Logger

	// QueueSize is the capacity of the inbound and outbound queues
	QueueSize int
}

// Connection is one live persistent-transport peer. Frames are read and
// written by independent loops joined by an inbound and an outbound queue,
// so outbound frames keep their send order while replies may arrive in
// any order.
type Connection struct {
	role  string
	ws    *websocket.Conn
	codec codec.Codec
	srv   Server
	log   *zap.Logger

	in   chan *protocol.SocketMessage
	out  chan *protocol.SocketMessage
	done chan struct{}

	// ctx is passed to handlers and cancelled on close
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error

	resMtx    sync.Mutex
	resolvers []Resolver
	inputErr  error // set once the inbound side has ended

	tasks *taskgroup.Group
}

// New creates a connection on ws and starts its loops
func New(ws *websocket.Conn, opts Options) *Connection {
	if opts.Codec.Marshal == nil || opts.Codec.Unmarshal == nil {
		opts.Codec = codec.Default
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	c := &Connection{
		role:  opts.Role,
		ws:    ws,
		codec: opts.Codec,
		srv:   opts.Server,
		log:   opts.Logger.With(zap.String("role", opts.Role)),
		in:    make(chan *protocol.SocketMessage, opts.QueueSize),
		out:   make(chan *protocol.SocketMessage, opts.QueueSize),
		done:  make(chan struct{}),
		tasks: taskgroup.New(nil),
	}
	c.ctx, c.cancel = context.WithCancel(withConnection(context.Background(), c))

	c.tasks.Go(c.readLoop)
	c.tasks.Go(c.writeLoop)
	c.tasks.Go(c.routeLoop)

	return c
}

// Role returns the label supplied by the peer at connect time
func (c *Connection) Role() string {
	return c.role
}

// RemoteAddr returns the address of the peer
func (c *Connection) RemoteAddr() string {
	if req := c.ws.Request(); req != nil {
		return req.RemoteAddr
	}
	if addr := c.ws.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Send queues msg for delivery to the peer. It fails with
// ErrConnectionClosed once the connection is closed.
func (c *Connection) Send(ctx context.Context, msg *protocol.SocketMessage) error {
	// Check first so a closed connection never accepts a frame
	select {
	case <-c.done:
		return protocol.ErrConnectionClosed
	default:
	}

	select {
	case c.out <- msg:
		return nil
	case <-c.done:
		return protocol.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach registers r to receive the replies arriving on this
// connection. If the inbound side has already ended, r is failed
// immediately.
func (c *Connection) Attach(r Resolver) {
	c.resMtx.Lock()
	err := c.inputErr
	if err == nil {
		c.resolvers = append(c.resolvers, r)
	}
	c.resMtx.Unlock()

	if err != nil {
		r.Fail(err)
	}
}

// Detach stops delivering replies to r
func (c *Connection) Detach(r Resolver) {
	c.resMtx.Lock()
	defer c.resMtx.Unlock()
	for i, res := range c.resolvers {
		if res == r {
			c.resolvers = append(c.resolvers[:i], c.resolvers[i+1:]...)
			return
		}
	}
}

// Done returns a channel that is closed when the connection closes
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. It is safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// Wait blocks until all of the connection's loops and the requests
// they are serving have finished
func (c *Connection) Wait() {
	c.tasks.Wait()
}

// readLoop decodes frames and queues them for routing. A frame that
// fails to decode ends this loop only; the outbound side stays open
// and the connection stays live until it is closed.
func (c *Connection) readLoop() error {
	defer close(c.in)

	for {
		msg := new(protocol.SocketMessage)
		err := c.codec.Receive(c.ws, msg)
		if err != nil {
			var derr *protocol.DecodeError
			switch {
			case errors.As(err, &derr):
				c.log.Warn("Socket message parse error, no longer reading from peer", zap.Error(err))
			case c.closed():
				// Closed locally, nothing to report
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				c.log.Debug("Peer disconnected")
				c.Close()
			default:
				c.log.Warn("Socket message error", zap.Error(err))
				c.Close()
			}
			return nil
		}

		select {
		case c.in <- msg:
		case <-c.done:
			return nil
		}
	}
}

// writeLoop drains the outbound queue in order
func (c *Connection) writeLoop() error {
	for {
		select {
		case msg := <-c.out:
			err := c.codec.Send(c.ws, msg)
			if err == nil {
				continue
			}

			var eerr *protocol.EncodeError
			if errors.As(err, &eerr) {
				c.log.Error("Could not serialize socket message", zap.String("id", msg.ID), zap.Error(err))
				continue
			}
			if !c.closed() {
				c.log.Warn("Could not write socket message", zap.Error(err))
				c.Close()
			}
			return nil
		case <-c.done:
			return nil
		}
	}
}

// routeLoop classifies inbound messages. Requests are served
// concurrently and replies are handed to the attached resolvers.
func (c *Connection) routeLoop() error {
	for msg := range c.in {
		if msg.IsRequest() {
			c.tasks.Go(func() error {
				c.serve(msg)
				return nil
			})
			continue
		}

		if !c.resolve(msg) {
			c.log.Debug("Dropping reply with no pending call", zap.String("id", msg.ID))
		}
	}

	// No more replies can arrive, so every pending call has failed
	c.resMtx.Lock()
	c.inputErr = protocol.ErrConnectionClosed
	resolvers := c.resolvers
	c.resolvers = nil
	c.resMtx.Unlock()

	for _, r := range resolvers {
		r.Fail(protocol.ErrConnectionClosed)
	}
	return nil
}

func (c *Connection) resolve(msg *protocol.SocketMessage) bool {
	c.resMtx.Lock()
	resolvers := append([]Resolver(nil), c.resolvers...)
	c.resMtx.Unlock()

	for _, r := range resolvers {
		if r.Resolve(msg) {
			return true
		}
	}
	return false
}

// serve answers a request sent by the peer
func (c *Connection) serve(msg *protocol.SocketMessage) {
	var (
		resp *protocol.Response
		err  error
	)
	if c.srv == nil {
		err = protocol.ErrUnsupportedOperation
		c.log.Warn("Received a request on a connection that does not serve requests",
			zap.String("id", msg.ID),
			zap.String("identifier", msg.Request.Identifier),
		)
	} else {
		resp, err = c.srv.DispatchRequest(c.ctx, msg.Request)
	}

	if err := c.Send(c.ctx, protocol.NewSocketResponse(msg.ID, resp, err)); err != nil {
		c.log.Debug("Could not send reply", zap.String("id", msg.ID), zap.Error(err))
	}
}

func (c *Connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
