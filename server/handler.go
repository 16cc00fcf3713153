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
	"fmt"
	"reflect"

	"go.arsenm.dev/erpc/internal/reflectutil"
	"go.arsenm.dev/erpc/protocol"
)

// Handler is a unit of work that can be called remotely.
//
// Invoke receives the decoded parameters of a call, or nil if the
// caller supplied none, and returns a value that encoding/json can
// marshal. A returned error is reported to the caller.
type Handler interface {
	Invoke(ctx context.Context, params []any) (any, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface
type HandlerFunc func(ctx context.Context, params []any) (any, error)

// Invoke calls f(ctx, params)
func (f HandlerFunc) Invoke(ctx context.Context, params []any) (any, error) {
	return f(ctx, params)
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// funcHandler calls a Go function with parameters converted to its
// argument types
type funcHandler struct {
	fn      reflect.Value
	typ     reflect.Type
	withCtx bool
}

// Func adapts fn into a Handler. fn may take a context.Context as its
// first argument followed by any number of arguments (including a
// variadic one), and may return nothing, a value, an error, or a value
// and an error.
//
// Parameters are converted to the declared argument types when a call
// arrives. A call with the wrong number of parameters, or with a
// parameter that cannot be converted, fails with a DecodeError.
func Func(fn any) (Handler, error) {
	val := reflect.ValueOf(fn)
	if val.Kind() != reflect.Func || val.IsNil() {
		return nil, ErrInvalidHandler
	}
	typ := val.Type()

	// If function has more than 2 outputs, it is invalid
	switch typ.NumOut() {
	case 0:
	case 1:
	case 2:
		// If function has 2 outputs, the second must be an error
		if typ.Out(1) != errorType {
			return nil, ErrInvalidHandler
		}
	default:
		return nil, ErrInvalidHandler
	}

	return funcHandler{
		fn:      val,
		typ:     typ,
		withCtx: typ.NumIn() > 0 && typ.In(0) == contextType,
	}, nil
}

// MustFunc is like Func but panics if fn cannot be adapted
func MustFunc(fn any) Handler {
	h, err := Func(fn)
	if err != nil {
		panic(fmt.Sprintf("erpc: %T: %v", fn, err))
	}
	return h
}

func (f funcHandler) Invoke(ctx context.Context, params []any) (any, error) {
	args, err := f.args(ctx, params)
	if err != nil {
		return nil, err
	}

	// Call packs trailing arguments of a variadic function
	out := f.fn.Call(args)

	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		// If the only return value's type is error
		if f.typ.Out(0) == errorType {
			err, _ := out[0].Interface().(error)
			return nil, err
		}
		return out[0].Interface(), nil
	default:
		err, _ := out[1].Interface().(error)
		if err != nil {
			return nil, err
		}
		return out[0].Interface(), nil
	}
}

// args converts params into the argument list of the function
func (f funcHandler) args(ctx context.Context, params []any) ([]reflect.Value, error) {
	numIn := f.typ.NumIn()
	first := 0
	if f.withCtx {
		first = 1
	}

	fixed := numIn - first
	if f.typ.IsVariadic() {
		fixed--
		if len(params) < fixed {
			return nil, paramCountError(fixed, len(params), true)
		}
	} else if len(params) != fixed {
		return nil, paramCountError(fixed, len(params), false)
	}

	args := make([]reflect.Value, 0, first+len(params))
	if f.withCtx {
		args = append(args, reflect.ValueOf(&ctx).Elem())
	}

	for i, param := range params {
		var argType reflect.Type
		if f.typ.IsVariadic() && first+i >= numIn-1 {
			argType = f.typ.In(numIn - 1).Elem()
		} else {
			argType = f.typ.In(first + i)
		}

		val, err := reflectutil.Convert(param, argType)
		if err != nil {
			return nil, &protocol.DecodeError{Err: fmt.Errorf("parameter %d: %w", i, err)}
		}
		args = append(args, val)
	}

	return args, nil
}

func paramCountError(want, got int, variadic bool) error {
	if variadic {
		return &protocol.DecodeError{Err: fmt.Errorf("expected at least %d parameters, got %d", want, got)}
	}
	return &protocol.DecodeError{Err: fmt.Errorf("expected %d parameters, got %d", want, got)}
}
