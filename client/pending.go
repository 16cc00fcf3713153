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

package client

import (
	"sync"

	"go.arsenm.dev/erpc/protocol"
)

// PendingCalls tracks the calls awaiting a reply on one connection.
// It implements socket.Resolver.
type PendingCalls struct {
	mtx   sync.Mutex
	calls map[string]chan *protocol.Result
	err   error
}

// NewPendingCalls creates an empty table
func NewPendingCalls() *PendingCalls {
	return &PendingCalls{calls: map[string]chan *protocol.Result{}}
}

// add inserts a slot for the call with the given correlation ID
func (p *PendingCalls) add(id string) (<-chan *protocol.Result, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.err != nil {
		return nil, p.err
	}

	// Buffered so that Resolve never blocks
	ch := make(chan *protocol.Result, 1)
	p.calls[id] = ch
	return ch, nil
}

// remove forgets the call with the given correlation ID
func (p *PendingCalls) remove(id string) {
	p.mtx.Lock()
	delete(p.calls, id)
	p.mtx.Unlock()
}

// Resolve delivers a reply to the call with the same correlation ID
// and reports whether there was one
func (p *PendingCalls) Resolve(msg *protocol.SocketMessage) bool {
	p.mtx.Lock()
	ch, ok := p.calls[msg.ID]
	delete(p.calls, msg.ID)
	p.mtx.Unlock()

	if ok {
		ch <- msg.Body
	}
	return ok
}

// Fail ends every pending call with err. Calls added afterwards fail
// immediately.
func (p *PendingCalls) Fail(err error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.err == nil {
		p.err = err
	}
	for id, ch := range p.calls {
		close(ch)
		delete(p.calls, id)
	}
}

// Err returns the error the table was failed with, if any
func (p *PendingCalls) Err() error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.err
}

// Len returns the number of calls awaiting a reply
func (p *PendingCalls) Len() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.calls)
}
