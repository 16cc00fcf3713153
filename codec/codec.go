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

// Package codec provides the frame codecs used on the persistent transport
package codec

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"go.arsenm.dev/erpc/protocol"
	"golang.org/x/net/websocket"
)

// Codec encodes and decodes WebSocket frames
type Codec = websocket.Codec

// Default is the codec used when a peer does not ask for one
var Default = JSON

// JSON sends frames as JSON text messages
var JSON = Codec{
	Marshal:   jsonMarshal,
	Unmarshal: jsonUnmarshal,
}

// Msgpack sends frames as msgpack binary messages
var Msgpack = Codec{
	Marshal:   msgpackMarshal,
	Unmarshal: msgpackUnmarshal,
}

// ByName returns the codec with the given name. An empty name
// selects the default codec.
func ByName(name string) (Codec, bool) {
	switch strings.ToLower(name) {
	case "", "json":
		return Default, true
	case "msgpack":
		return Msgpack, true
	default:
		return Codec{}, false
	}
}

// validator is implemented by protocol messages
type validator interface {
	Validate() error
}

func jsonMarshal(v any) ([]byte, byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, 0, &protocol.EncodeError{Err: err}
	}
	return data, websocket.TextFrame, nil
}

// jsonUnmarshal accepts both text and binary frames
func jsonUnmarshal(data []byte, _ byte, v any) error {
	if err := protocol.DecodeValue(data, v); err != nil {
		return err
	}
	return validate(v)
}

func msgpackMarshal(v any) ([]byte, byte, error) {
	// Convert JSON-specific values into native ones
	if msg, ok := v.(*protocol.SocketMessage); ok {
		nmsg, err := normalizeMessage(msg)
		if err != nil {
			return nil, 0, &protocol.EncodeError{Err: err}
		}
		v = nmsg
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, 0, &protocol.EncodeError{Err: err}
	}
	return buf.Bytes(), websocket.BinaryFrame, nil
}

func msgpackUnmarshal(data []byte, _ byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(v); err != nil {
		return &protocol.DecodeError{Err: err}
	}
	return validate(v)
}

func validate(v any) error {
	if val, ok := v.(validator); ok {
		return val.Validate()
	}
	return nil
}
