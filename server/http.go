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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/cors"
	"go.arsenm.dev/erpc/codec"
	"go.arsenm.dev/erpc/protocol"
	"go.arsenm.dev/erpc/socket"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

// MaxBodySize is the largest HTTP call body the engine accepts
const MaxBodySize = 8 << 20

// Plain-text bodies written by the HTTP transport, in addition to
// those defined by the protocol package
const (
	tooManyRequestsText  = "Too many requests."
	methodNotAllowedText = "Method not allowed."
	unknownCodecText     = "Unknown codec."
)

// newHandler builds the engine's HTTP mux
func (e *Engine) newHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/endpoints/{identifier...}", e.handleEndpoint)
	if e.opts.EnableSockets {
		mux.HandleFunc("GET /ws/{role}", e.handleSocket)
	}

	if len(e.opts.AllowedOrigins) == 0 {
		return mux
	}

	// AllowOriginFunc reflects the request origin, so credentials
	// work with the wildcard as well
	return cors.New(cors.Options{
		AllowOriginFunc:  e.originAllowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(mux)
}

// originAllowed reports whether origin is in the allowed list
func (e *Engine) originAllowed(origin string) bool {
	origin = strings.TrimSuffix(origin, "/")
	for _, allowed := range e.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

// handleEndpoint serves POST /endpoints/{identifier}
func (e *Engine) handleEndpoint(res http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		res.Header().Set("Allow", http.MethodPost)
		writeText(res, http.StatusMethodNotAllowed, methodNotAllowedText)
		return
	}

	identifier := req.PathValue("identifier")

	body, err := io.ReadAll(http.MaxBytesReader(res, req.Body, MaxBodySize))
	if err != nil {
		e.log.Warn("Could not read request body", zap.String("identifier", identifier), zap.Error(err))
		writeText(res, http.StatusInternalServerError, protocol.ServerErrorText)
		return
	}

	resp, err := e.dispatcher.Dispatch(req.Context(), identifier, body)
	if err != nil {
		writeError(res, err)
		return
	}

	data, err := json.Marshal(resp.Body)
	if err != nil {
		e.log.Error("Could not encode response", zap.String("identifier", identifier), zap.Error(err))
		writeText(res, http.StatusInternalServerError, protocol.ServerErrorText)
		return
	}

	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(http.StatusOK)
	res.Write(data)
}

// writeError maps a dispatch error to a status code and plain-text body
func writeError(res http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, protocol.ErrHandlerNotFound):
		writeText(res, http.StatusNotFound, protocol.NotFoundText)
	case errors.Is(err, ErrRateLimited):
		writeText(res, http.StatusTooManyRequests, tooManyRequestsText)
	default:
		writeText(res, http.StatusInternalServerError, protocol.ServerErrorText)
	}
}

func writeText(res http.ResponseWriter, code int, text string) {
	res.Header().Set("Content-Type", "text/plain; charset=utf-8")
	res.Header().Set("X-Content-Type-Options", "nosniff")
	res.WriteHeader(code)
	io.WriteString(res, text)
}

// handleSocket serves GET /ws/{role}, upgrading the request to a
// persistent connection
func (e *Engine) handleSocket(res http.ResponseWriter, req *http.Request) {
	role := req.PathValue("role")

	cdc := e.codec
	if name := req.URL.Query().Get("codec"); name != "" {
		var ok bool
		cdc, ok = codec.ByName(name)
		if !ok {
			e.metrics.handshakeFail.Add(1)
			e.log.Warn("Rejected socket with unknown codec", zap.String("role", role), zap.String("codec", name))
			writeText(res, http.StatusBadRequest, unknownCodecText)
			return
		}
	}

	ws := websocket.Server{
		Handshake: e.handshake,
		Handler: func(ws *websocket.Conn) {
			e.serveSocket(ws, role, cdc)
		},
	}
	ws.ServeHTTP(res, req)
}

// handshake checks the Origin header of an upgrade request
func (e *Engine) handshake(cfg *websocket.Config, req *http.Request) error {
	origin, err := websocket.Origin(cfg, req)
	if err != nil {
		e.metrics.handshakeFail.Add(1)
		e.log.Warn("Rejected socket with invalid origin", zap.Error(err))
		return err
	}
	cfg.Origin = origin

	// Non-browser peers may not send an origin
	if origin == nil || len(e.opts.AllowedOrigins) == 0 {
		return nil
	}

	if !e.originAllowed(origin.Scheme + "://" + origin.Host) {
		e.metrics.handshakeFail.Add(1)
		e.log.Warn("Rejected socket from disallowed origin", zap.String("origin", origin.String()))
		return fmt.Errorf("%w: %s", ErrOriginNotAllowed, origin)
	}
	return nil
}

// serveSocket runs one persistent connection until it closes
// or the engine stops
func (e *Engine) serveSocket(ws *websocket.Conn, role string, cdc codec.Codec) {
	e.sockMtx.Lock()
	quit := e.quit
	select {
	case <-quit:
		e.sockMtx.Unlock()
		ws.Close()
		return
	default:
	}
	e.sockets.Add(1)
	e.sockMtx.Unlock()
	defer e.sockets.Done()

	conn := socket.New(ws, socket.Options{
		Role:   role,
		Codec:  cdc,
		Server: e.dispatcher,
		Logger: e.log,
	})

	e.metrics.connTotal.Add(1)
	e.metrics.connActive.Add(1)
	defer e.metrics.connActive.Add(-1)

	e.log.Info("Peer connected", zap.String("role", role), zap.String("remote", conn.RemoteAddr()))
	e.conns.Add(conn)

	select {
	case <-conn.Done():
	case <-quit:
		conn.Close()
	}
	conn.Wait()

	e.conns.Remove(conn)
	e.log.Info("Peer disconnected", zap.String("role", role))
}
