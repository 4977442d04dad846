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

package priority_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/dpeckett/ktls/tls"
	"github.com/dpeckett/ktlshd/internal/priority"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRestrictsToKernelCiphers(t *testing.T) {
	state, err := priority.New(discardLogger(), 0)
	require.NoError(t, err)
	defer state.Close()

	offloadable := map[uint16]struct{}{
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

	// The intersection preserves the library's own preference order.
	var want []uint16
	for _, cs := range tls.CipherSuites() {
		if _, ok := offloadable[cs.ID]; ok {
			want = append(want, cs.ID)
		}
	}

	require.NotEmpty(t, want)
	require.Equal(t, want, state.CipherSuites())
}

func TestSelectDefaults(t *testing.T) {
	state, err := priority.New(discardLogger(), 0)
	require.NoError(t, err)
	defer state.Close()

	base := state.Select(false)
	require.Equal(t, uint16(tls.VersionTLS13), base.MinVersion)
	require.True(t, base.SessionTicketsDisabled)
	require.Equal(t, state.CipherSuites(), base.CipherSuites)
}

func TestSelectPSKVariant(t *testing.T) {
	state, err := priority.New(discardLogger(), 0)
	require.NoError(t, err)
	defer state.Close()

	psk := state.Select(true)
	require.False(t, psk.SessionTicketsDisabled)
	require.Equal(t, state.CipherSuites(), psk.CipherSuites)
}

func TestSelectReturnsFreshConfigs(t *testing.T) {
	state, err := priority.New(discardLogger(), 0)
	require.NoError(t, err)
	defer state.Close()

	first := state.Select(false)
	first.ServerName = "mutated.example.com"

	second := state.Select(false)
	require.Empty(t, second.ServerName)
}

func TestNewMinVersionOverride(t *testing.T) {
	state, err := priority.New(discardLogger(), tls.VersionTLS12)
	require.NoError(t, err)
	defer state.Close()

	require.Equal(t, uint16(tls.VersionTLS12), state.Select(false).MinVersion)
}
