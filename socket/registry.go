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

package socket

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.arsenm.dev/erpc/protocol"
)

// Registry tracks live connections and notifies subscribers of new ones.
//
// Subscribers are called synchronously, in subscription order, and see
// every connection exactly once, including connections that were added
// before they subscribed. A subscriber must not call Subscribe or Add
// itself.
type Registry struct {
	// notifyMtx serializes Add and Subscribe so that no
	// notification is missed or repeated
	notifyMtx sync.Mutex

	mtx   sync.RWMutex
	conns []*Connection
	subs  []func(*Connection)
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Add records c as live and notifies all subscribers
func (r *Registry) Add(c *Connection) {
	r.notifyMtx.Lock()
	defer r.notifyMtx.Unlock()

	r.mtx.Lock()
	r.conns = append(r.conns, c)
	subs := slices.Clone(r.subs)
	r.mtx.Unlock()

	for _, cb := range subs {
		cb(c)
	}
}

// Remove forgets c. It does not close it.
func (r *Registry) Remove(c *Connection) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for i, conn := range r.conns {
		if conn == c {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			return
		}
	}
}

// Subscribe calls cb with every live connection, then with every
// connection added from now on
func (r *Registry) Subscribe(cb func(*Connection)) {
	r.notifyMtx.Lock()
	defer r.notifyMtx.Unlock()

	r.mtx.Lock()
	existing := slices.Clone(r.conns)
	r.subs = append(r.subs, cb)
	r.mtx.Unlock()

	for _, c := range existing {
		cb(c)
	}
}

// Connections returns the live connections
func (r *Registry) Connections() []*Connection {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return slices.Clone(r.conns)
}

// ByRole returns the live connections whose peer supplied role
func (r *Registry) ByRole(role string) []*Connection {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	var out []*Connection
	for _, c := range r.conns {
		if c.Role() == role {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of live connections
func (r *Registry) Len() int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return len(r.conns)
}

// Broadcast queues msg on every live connection. Connections that
// closed in the meantime are skipped; other errors are joined.
func (r *Registry) Broadcast(ctx context.Context, msg *protocol.SocketMessage) error {
	var errs []error
	for _, c := range r.Connections() {
		err := c.Send(ctx, msg)
		if err != nil && !errors.Is(err, protocol.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CloseAll closes every live connection
func (r *Registry) CloseAll() {
	for _, c := range r.Connections() {
		c.Close()
	}
}
