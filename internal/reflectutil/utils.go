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

package reflectutil

import (
	"encoding"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// Decode converts a structured value, as produced by a JSON or msgpack
// decoder, into out, which must be a non-nil pointer. Struct fields are
// matched using their json tags.
func Decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: textUnmarshalerHook,
		Result:     out,
		TagName:    "json",
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// Convert attempts to convert the given value to the given type
func Convert(in any, toType reflect.Type) (reflect.Value, error) {
	// If input is already the desired type, return
	if in != nil && reflect.TypeOf(in) == toType {
		return reflect.ValueOf(in), nil
	}

	// Create new value of desired type
	out := reflect.New(toType)
	if err := Decode(in, out.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return out.Elem(), nil
}

// textUnmarshalerHook decodes strings into types whose pointer
// implements encoding.TextUnmarshaler
func textUnmarshalerHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}

	if !reflect.PtrTo(to).Implements(textUnmarshalerType) {
		return data, nil
	}

	// Create new value and use its text unmarshaler
	val := reflect.New(to)
	u := val.Interface().(encoding.TextUnmarshaler)
	if err := u.UnmarshalText([]byte(reflect.ValueOf(data).String())); err != nil {
		return nil, err
	}
	return val.Elem().Interface(), nil
}
