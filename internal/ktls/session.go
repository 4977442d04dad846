// SPDX-License-Identifier: GPL-2.0
/*
 * Copyright (c) 2023 Oracle and/or its affiliates.
 * Copyright (c) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * ktlshd is free software; you can redistribute it and/or
 * modify it under the terms of the GNU General Public License as
 * published by the Free Software Foundation; version 2.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU
 * General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 51 Franklin Street, Fifth Floor, Boston, MA
 * 02110-1301, USA.
 */

package ktls

import (
	"github.com/dpeckett/ktls/tls"
)

// offloadReporter is implemented by conns that manage kernel offload
// through their own entry points.
type offloadReporter interface {
	KernelTLSEnabled(read bool) bool
}

type connSession struct {
	conn *tls.Conn
}

// FromConn adapts a completed *tls.Conn to the Session interface.
func FromConn(conn *tls.Conn) Session {
	return &connSession{conn: conn}
}

func (s *connSession) Version() uint16 {
	return s.conn.ConnectionState().Version
}

func (s *connSession) CipherSuite() uint16 {
	return s.conn.ConnectionState().CipherSuite
}

func (s *connSession) KeyMaterial(read bool) (key, iv, seq []byte) {
	state := s.conn.ConnectionState()
	return state.KeyInfo(read)
}

func (s *connSession) OffloadEnabled(read bool) bool {
	if r, ok := any(s.conn).(offloadReporter); ok {
		return r.KernelTLSEnabled(read)
	}
	return false
}
