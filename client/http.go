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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.arsenm.dev/erpc/protocol"
	"go.uber.org/zap"
)

// StatusError is returned when an engine answers an HTTP call with a
// status other than 200 OK
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", protocol.ErrTransport, e.Code, e.Message)
}

// Unwrap makes every StatusError a transport error
func (e *StatusError) Unwrap() error {
	return protocol.ErrTransport
}

// Is reports whether the status means that no handler was found
func (e *StatusError) Is(target error) bool {
	return target == protocol.ErrHandlerNotFound && e.Code == http.StatusNotFound
}

// callHTTP performs one POST /endpoints/{identifier} exchange
func (t *Target) callHTTP(ctx context.Context, identifier string, params []any) (any, error) {
	var body io.Reader = http.NoBody
	if len(params) > 0 {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, &protocol.EncodeError{Err: err}
		}
		body = bytes.NewReader(data)
	}

	endpoint := t.base + "/endpoints/" + url.PathEscape(identifier)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrTransport, err)
	}
	if len(params) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrTransport, err)
	}
	defer cleanlyCloseBody(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		t.log.Debug("Remote call failed",
			zap.String("identifier", identifier),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &StatusError{Code: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
	}

	var out any
	if err := protocol.DecodeValue(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// cleanlyCloseBody drains and closes an HTTP response body so that the
// connection can be reused
func cleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}
