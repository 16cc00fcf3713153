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
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Middleware wraps the invocation of a handler
type Middleware func(next Handler) Handler

// Chain combines middlewares into one. Chain(a, b, c)(h) runs a first
// and h last.
func Chain(mws ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call with its duration and error, if any
func Logging(log *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, params []any) (any, error) {
			start := time.Now()
			val, err := next.Invoke(ctx, params)

			fields := []zap.Field{
				zap.String("identifier", Identifier(ctx)),
				zap.Int("params", len(params)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				log.Warn("Call failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("Call completed", fields...)
			}
			return val, err
		})
	}
}

// RateLimit rejects calls with ErrRateLimited once more than r calls
// per second (with bursts of up to burst calls) have been made
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, params []any) (any, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next.Invoke(ctx, params)
		})
	}
}
