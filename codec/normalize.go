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

package codec

import (
	"encoding/json"

	"go.arsenm.dev/erpc/protocol"
)

// normalizeMessage returns a copy of msg whose values contain no
// json.Number or json.RawMessage, so that they encode as native
// msgpack values instead of strings and byte arrays.
func normalizeMessage(msg *protocol.SocketMessage) (*protocol.SocketMessage, error) {
	out := &protocol.SocketMessage{ID: msg.ID}

	if msg.Request != nil {
		req := &protocol.Request{Identifier: msg.Request.Identifier}
		if msg.Request.Parameters != nil {
			req.Parameters = make([]any, len(msg.Request.Parameters))
			for i, param := range msg.Request.Parameters {
				nv, err := normalize(param)
				if err != nil {
					return nil, err
				}
				req.Parameters[i] = nv
			}
		}
		out.Request = req
	}

	if msg.Body != nil {
		res := &protocol.Result{Err: msg.Body.Err}
		if msg.Body.Ok != nil {
			body, err := normalize(msg.Body.Ok.Body)
			if err != nil {
				return nil, err
			}
			res.Ok = &protocol.Response{Body: body}
		}
		out.Body = res
	}

	return out, nil
}

func normalize(v any) (any, error) {
	switch val := v.(type) {
	case json.RawMessage:
		var decoded any
		if err := protocol.DecodeValue(val, &decoded); err != nil {
			return nil, err
		}
		return normalize(decoded)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		return val.Float64()
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			nv, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for key, elem := range val {
			nv, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[key] = nv
		}
		return out, nil
	default:
		return v, nil
	}
}
