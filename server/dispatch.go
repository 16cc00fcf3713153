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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.arsenm.dev/erpc/protocol"
	"go.uber.org/zap"
)

// Dispatcher invokes registered handlers for incoming calls from
// either transport
type Dispatcher struct {
	handlers *Registry
	log      *zap.Logger
	metrics  *metrics

	mwMtx sync.RWMutex
	mws   []Middleware
}

// NewDispatcher creates a dispatcher serving the handlers in r
func NewDispatcher(r *Registry, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		handlers: r,
		log:      log,
		metrics:  newMetrics(),
	}
}

// Use appends middlewares to the chain wrapping every handler
func (d *Dispatcher) Use(mws ...Middleware) {
	d.mwMtx.Lock()
	d.mws = append(d.mws, mws...)
	d.mwMtx.Unlock()
}

// Dispatch calls the handler registered under identifier with the
// parameters encoded in body, the raw JSON body of an HTTP call.
//
// The handler is looked up before the body is decoded, so an unknown
// identifier always results in ErrHandlerNotFound.
func (d *Dispatcher) Dispatch(ctx context.Context, identifier string, body []byte) (*protocol.Response, error) {
	h, err := d.lookup(identifier)
	if err != nil {
		return nil, err
	}

	params, err := protocol.DecodeParameters(body)
	if err != nil {
		d.metrics.callInErr.Add(1)
		d.log.Warn("Could not decode parameters", zap.String("identifier", identifier), zap.Error(err))
		return nil, err
	}

	return d.invoke(ctx, identifier, h, params)
}

// DispatchRequest calls the handler for a request that was already
// decoded, such as one received on a persistent connection
func (d *Dispatcher) DispatchRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	h, err := d.lookup(req.Identifier)
	if err != nil {
		return nil, err
	}
	return d.invoke(ctx, req.Identifier, h, req.Parameters)
}

func (d *Dispatcher) lookup(identifier string) (Handler, error) {
	h, ok := d.handlers.Lookup(identifier)
	if !ok {
		d.metrics.callNotFound.Add(1)
		d.log.Warn("Could not find a registered handler", zap.String("identifier", identifier))
		return nil, protocol.ErrHandlerNotFound
	}
	return h, nil
}

// invoke runs h exactly once and encodes its result
func (d *Dispatcher) invoke(ctx context.Context, identifier string, h Handler, params []any) (*protocol.Response, error) {
	d.metrics.callIn.Add(1)

	val, err := d.call(WithIdentifier(ctx, identifier), h, params)
	if err != nil {
		d.metrics.callInErr.Add(1)
		d.log.Error("Error while running handler", zap.String("identifier", identifier), zap.Error(err))

		// Parameters not matching the handler's signature stay decode errors
		var derr *protocol.DecodeError
		if errors.As(err, &derr) {
			return nil, err
		}
		return nil, &HandlerError{Identifier: identifier, Err: err}
	}

	data, err := json.Marshal(val)
	if err != nil {
		d.metrics.callInErr.Add(1)
		d.log.Error("Could not encode handler result", zap.String("identifier", identifier), zap.Error(err))
		return nil, &protocol.EncodeError{Err: err}
	}

	return &protocol.Response{Body: json.RawMessage(data)}, nil
}

// call invokes h through the middleware chain, converting a panic
// into an error
func (d *Dispatcher) call(ctx context.Context, h Handler, params []any) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			val, err = nil, fmt.Errorf("handler panicked: %v", r)
		}
	}()

	d.mwMtx.RLock()
	mws := d.mws
	d.mwMtx.RUnlock()

	return Chain(mws...)(h).Invoke(ctx, params)
}
