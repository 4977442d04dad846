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

package handshake

import (
	"fmt"

	"github.com/dpeckett/ktls/tls"
	"github.com/dpeckett/ktlshd/internal/config"
)

// ServerIdentity is the certificate and private key offered for every
// server-side x.509 handshake that carries no explicit serials. It is
// loaded once before the first handshake, read-only until Close, and
// closed once after the last handshake has finished.
type ServerIdentity struct {
	cert   tls.Certificate
	loaded bool
}

// LoadServerIdentity loads the configured server identity. A
// configuration without one yields an empty identity; server x.509
// handshakes then require serials from the kernel.
func LoadServerIdentity(conf *config.Config) (*ServerIdentity, error) {
	if conf.ServerCertFile == "" {
		return &ServerIdentity{}, nil
	}

	cert, err := tls.LoadX509KeyPair(conf.ServerCertFile, conf.ServerKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server identity: %w", err)
	}

	return NewServerIdentity(cert), nil
}

// NewServerIdentity wraps an already loaded certificate and key.
func NewServerIdentity(cert tls.Certificate) *ServerIdentity {
	return &ServerIdentity{cert: cert, loaded: true}
}

// Certificate returns the identity, if one is configured.
func (id *ServerIdentity) Certificate() (*tls.Certificate, bool) {
	if !id.loaded {
		return nil, false
	}
	return &id.cert, true
}

// Close drops the identity's key material.
func (id *ServerIdentity) Close() {
	id.cert = tls.Certificate{}
	id.loaded = false
}
