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

// Package protocol defines the messages exchanged by erpc peers
// over both the unary (HTTP) and the persistent (WebSocket) transport.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// Plain-text bodies written by the HTTP transport
const (
	NotFoundText    = "Handler not found."
	ServerErrorText = "Please see the server logs."
)

// Request is a call to the handler registered under Identifier.
//
// A nil Parameters slice means no parameters were supplied. A
// non-nil but empty slice is invalid on the wire.
type Request struct {
	Identifier string `json:"identifier"`
	Parameters []any  `json:"parameters,omitempty"`
}

// Validate checks the request against the wire rules
func (r *Request) Validate() error {
	if r.Identifier == "" {
		return &DecodeError{Err: ErrMissingIdentifier}
	}
	if r.Parameters != nil && len(r.Parameters) == 0 {
		return &DecodeError{Err: ErrEmptyParameters}
	}
	return nil
}

// Response holds the value returned by a handler
type Response struct {
	Body any `json:"body"`
}

// Result is either a successful Response or an error string.
// Exactly one of the fields is set.
type Result struct {
	Ok  *Response `json:"Ok,omitempty"`
	Err *string   `json:"Err,omitempty"`
}

// Validate checks that exactly one side of the result is set
func (r *Result) Validate() error {
	if (r.Ok == nil) == (r.Err == nil) {
		return &DecodeError{Err: ErrInvalidResult}
	}
	return nil
}

// SocketMessage is a single frame on the persistent transport. It is
// either a SocketRequest (Request set) or a SocketResponse (Body set),
// told apart by shape since the frame carries no type tag.
type SocketMessage struct {
	ID      string   `json:"id"`
	Request *Request `json:"request,omitempty"`
	Body    *Result  `json:"body,omitempty"`
}

// NewSocketRequest creates a request frame with the given correlation ID
func NewSocketRequest(id string, req *Request) *SocketMessage {
	return &SocketMessage{ID: id, Request: req}
}

// NewSocketResponse creates a reply frame for the call with the given
// correlation ID. If err is non-nil, the reply carries its text instead
// of resp.
func NewSocketResponse(id string, resp *Response, err error) *SocketMessage {
	if err != nil {
		msg := ErrorText(err)
		return &SocketMessage{ID: id, Body: &Result{Err: &msg}}
	}
	if resp == nil {
		resp = &Response{}
	}
	return &SocketMessage{ID: id, Body: &Result{Ok: resp}}
}

// IsRequest reports whether the message is a SocketRequest
func (m *SocketMessage) IsRequest() bool {
	return m.Request != nil
}

// IsResponse reports whether the message is a SocketResponse
func (m *SocketMessage) IsResponse() bool {
	return m.Body != nil
}

// Validate classifies the frame and checks the variant it holds
func (m *SocketMessage) Validate() error {
	if m.ID == "" {
		return &DecodeError{Err: ErrMissingID}
	}

	switch {
	case m.Request != nil && m.Body == nil:
		return m.Request.Validate()
	case m.Body != nil && m.Request == nil:
		return m.Body.Validate()
	default:
		return &DecodeError{Err: ErrUnknownShape}
	}
}

// ErrorText returns the message sent to a peer for err. Malformed
// payloads and unencodable results are internal failures, and their
// details stay in the server logs.
func ErrorText(err error) string {
	var (
		derr *DecodeError
		eerr *EncodeError
		perr PeerError
	)
	switch {
	case errors.Is(err, ErrHandlerNotFound):
		return NotFoundText
	case errors.As(err, &derr), errors.As(err, &eerr):
		return ServerErrorText
	case errors.As(err, &perr):
		return perr.PeerMessage()
	}
	return err.Error()
}

// DecodeParameters decodes an HTTP request body into a parameter list.
// An empty body or a JSON null means no parameters and yields a nil
// slice. Numbers are kept as json.Number so that no precision is lost.
func DecodeParameters(body []byte) ([]any, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	var params []any
	if err := DecodeValue(body, &params); err != nil {
		return nil, err
	}

	if params != nil && len(params) == 0 {
		return nil, &DecodeError{Err: ErrEmptyParameters}
	}
	return params, nil
}

// DecodeValue decodes a single JSON document into v, keeping numbers
// as json.Number. Trailing data after the document is an error.
func DecodeValue(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return &DecodeError{Err: err}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return &DecodeError{Err: ErrTrailingData}
	}
	return nil
}
