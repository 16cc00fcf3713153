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

package protocol

import (
	"errors"
	"fmt"
)

// Error values shared by both transports
var (
	ErrHandlerNotFound      = errors.New("handler not found")
	ErrTransport            = errors.New("transport error")
	ErrConnectionClosed     = fmt.Errorf("%w: connection closed", ErrTransport)
	ErrUnsupportedOperation = errors.New("operation not supported on this connection")
)

// Decode error causes
var (
	ErrMissingIdentifier = errors.New("request has no identifier")
	ErrEmptyParameters   = errors.New("parameters present but empty")
	ErrInvalidResult     = errors.New("result must have exactly one of Ok or Err")
	ErrMissingID         = errors.New("socket message has no id")
	ErrUnknownShape      = errors.New("socket message is neither a request nor a response")
	ErrTrailingData      = errors.New("unexpected data after JSON value")
)

// PeerError is implemented by errors whose message may be shown
// to the peer that made the call
type PeerError interface {
	PeerMessage() string
}

// DecodeError is returned when a payload is malformed or has the
// wrong shape
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// EncodeError is returned when a value cannot be serialized
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return "encode: " + e.Err.Error()
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// RemoteError is a failure reported by the peer for a single call
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote: " + e.Message
}

// Is makes a remote "not found" reply match ErrHandlerNotFound
func (e *RemoteError) Is(target error) bool {
	return target == ErrHandlerNotFound && e.Message == NotFoundText
}
