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
	"errors"
	"fmt"
)

// Server error values
var (
	ErrInvalidHandler = errors.New("handler must be a non-nil function with a non-empty identifier")
	ErrAlreadyRunning = errors.New("server is already running")
	ErrNotRunning     = errors.New("server can't be stopped if not started")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrUnknownCodec   = errors.New("unknown socket codec")

	ErrOriginNotAllowed = errors.New("origin not allowed")
)

// HandlerError is a failure reported by a handler
type HandlerError struct {
	Identifier string
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s: %v", e.Identifier, e.Err)
}

// PeerMessage returns the handler's own error message
func (e *HandlerError) PeerMessage() string {
	return e.Err.Error()
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
