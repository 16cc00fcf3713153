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
	"sort"
	"sync"
)

// Registry maps identifiers to handlers. It is safe for concurrent
// use, and handlers may be registered while the engine is serving.
type Registry struct {
	mtx      sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register stores h under identifier, replacing any handler
// already registered under it
func (r *Registry) Register(identifier string, h Handler) error {
	if identifier == "" || h == nil {
		return ErrInvalidHandler
	}

	r.mtx.Lock()
	r.handlers[identifier] = h
	r.mtx.Unlock()
	return nil
}

// Lookup returns the handler registered under identifier
func (r *Registry) Lookup(identifier string) (Handler, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	h, ok := r.handlers[identifier]
	return h, ok
}

// Identifiers returns the sorted identifiers of all registered handlers
func (r *Registry) Identifiers() []string {
	r.mtx.RLock()
	out := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		out = append(out, id)
	}
	r.mtx.RUnlock()

	sort.Strings(out)
	return out
}
