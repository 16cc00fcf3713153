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
	"fmt"

	"go.arsenm.dev/erpc/protocol"
	"golang.org/x/net/websocket"
)

// DefaultOrigin is sent as the Origin header when dialing
const DefaultOrigin = "http://localhost/"

// Dial opens a persistent connection to the WebSocket endpoint at url,
// such as ws://localhost:8080/ws/browser-1. Requests sent by the remote
// side are served by opts.Server, if set.
func Dial(ctx context.Context, url string, opts Options) (*Connection, error) {
	return DialOrigin(ctx, url, DefaultOrigin, opts)
}

// DialOrigin is like Dial but sends the given Origin header
func DialOrigin(ctx context.Context, url, origin string, opts Options) (*Connection, error) {
	cfg, err := websocket.NewConfig(url, origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrTransport, err)
	}

	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrTransport, err)
	}

	return New(ws, opts), nil
}
