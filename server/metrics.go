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

import "expvar"

// metrics record engine activity counters
type metrics struct {
	callIn        expvar.Int // number of calls dispatched
	callInErr     expvar.Int // number of calls reporting an error
	callNotFound  expvar.Int // number of calls to unknown identifiers
	connActive    expvar.Int // open persistent connections
	connTotal     expvar.Int // persistent connections accepted
	handshakeFail expvar.Int // rejected upgrade attempts

	emap *expvar.Map
}

func newMetrics() *metrics {
	m := &metrics{emap: new(expvar.Map)}
	m.emap.Set("calls_in", &m.callIn)
	m.emap.Set("calls_in_failed", &m.callInErr)
	m.emap.Set("calls_not_found", &m.callNotFound)
	m.emap.Set("connections_active", &m.connActive)
	m.emap.Set("connections_total", &m.connTotal)
	m.emap.Set("handshakes_failed", &m.handshakeFail)
	return m
}
