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

// Package priority computes the TLS negotiation policy shared by all
// handshakes: only cipher suites that both the TLS library and the
// kernel TLS record layer support, in the library's preference order.
package priority

import (
	"errors"
	"log/slog"

	"github.com/dpeckett/ktls/tls"
)

// Cipher suites the kernel record layer can offload (Linux v6.2).
// AES-128-CCM is also offloadable but the Go TLS stack does not
// implement a CCM suite, so it never survives the intersection.
var kernelCipherSuites = map[uint16]struct{}{
	tls.TLS_RSA_WITH_AES_128_GCM_SHA256:               {},
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256:         {},
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256:       {},
	tls.TLS_AES_128_GCM_SHA256:                        {},
	tls.TLS_RSA_WITH_AES_256_GCM_SHA384:               {},
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384:         {},
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384:       {},
	tls.TLS_AES_256_GCM_SHA384:                        {},
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256:   {},
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256: {},
	tls.TLS_CHACHA20_POLY1305_SHA256:                  {},
}

// State holds the two immutable tls.Config templates every handshake
// starts from. It is built once before the first handshake and closed
// once after the last; Select must not be called after Close.
type State struct {
	base *tls.Config
	psk  *tls.Config
}

// New computes the negotiation policy. minVersion may relax the
// protocol floor to TLS 1.2 for older kernels; zero means TLS 1.3.
func New(logger *slog.Logger, minVersion uint16) (*State, error) {
	if minVersion == 0 {
		minVersion = tls.VersionTLS13
	}

	var suites []uint16
	var names []string
	for _, cs := range tls.CipherSuites() {
		if _, ok := kernelCipherSuites[cs.ID]; ok {
			suites = append(suites, cs.ID)
			names = append(names, cs.Name)
		}
	}
	if len(suites) == 0 {
		return nil, errors.New("no kernel offloadable cipher suites available")
	}

	logger.Debug("Negotiable cipher suites", "suites", names)

	// Customizing the TLSv1.3 suite list is not supported by the
	// library, but every TLSv1.3 suite it implements is offloadable.
	base := &tls.Config{
		MinVersion:             minVersion,
		CipherSuites:           suites,
		SessionTicketsDisabled: true,
	}

	// The stack's only pre-shared-key exchange is the resumption
	// machinery, so the PSK variant leaves tickets enabled.
	psk := base.Clone()
	psk.SessionTicketsDisabled = false

	return &State{base: base, psk: psk}, nil
}

// Select returns a fresh config for one handshake attempt, so callback
// installation on the returned config cannot race between attempts.
func (s *State) Select(psk bool) *tls.Config {
	if psk {
		return s.psk.Clone()
	}
	return s.base.Clone()
}

// CipherSuites returns the negotiable suites in preference order.
func (s *State) CipherSuites() []uint16 {
	return append([]uint16(nil), s.base.CipherSuites...)
}

// Close releases the compiled templates.
func (s *State) Close() {
	s.base = nil
	s.psk = nil
}
