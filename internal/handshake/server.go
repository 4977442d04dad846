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
	"context"
	"fmt"

	"github.com/dpeckett/ktls/tls"
	"github.com/dpeckett/ktlshd/internal/keyring"
)

func (h *Handler) handleServerHello(ctx context.Context, params *HandshakeParams) error {
	h.logger.Info("Handling server hello")

	switch params.AuthMode {
	case HandshakeAuthUnauth, HandshakeAuthX509:
		return h.serverX509Handshake(ctx, params)
	case HandshakeAuthPSK:
		return h.serverPSKHandshake(ctx, params)
	default:
		return fmt.Errorf("unrecognized auth mode: %d", params.AuthMode)
	}
}

func (h *Handler) serverX509Handshake(ctx context.Context, params *HandshakeParams) error {
	h.logger.Info("Performing server X.509 TLS handshake")

	cert, err := h.serverCertificate(params)
	if err != nil {
		return err
	}

	tlsConfig := h.priority.Select(false)

	// The daemon has exactly one server identity; it is offered
	// whatever the client hello asks for.
	tlsConfig.GetCertificate = func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		h.logger.Debug("Received client hello", "serverName", hello.ServerName)

		return cert, nil
	}

	// Request, but do not require, a client certificate. The
	// verification policy treats absence as acceptable.
	tlsConfig.ClientAuth = tls.RequestClientCert
	tlsConfig.VerifyConnection = func(state tls.ConnectionState) error {
		return h.verifyPeer(state.PeerCertificates, params, true)
	}

	return h.startHandshake(ctx, tls.Server(params.Conn, tlsConfig), params)
}

// serverCertificate resolves the identity offered to clients: the
// request's keyring serials when present, else the daemon's configured
// identity.
func (h *Handler) serverCertificate(params *HandshakeParams) (*tls.Certificate, error) {
	if params.X509Cert != TLSNoCert && params.X509PrivKey != TLSNoPrivKey {
		certPEM, err := keyring.GetCertificate(params.X509Cert)
		if err != nil {
			return nil, fmt.Errorf("failed to get certificate: %w", err)
		}

		keyPEM, err := keyring.GetPrivateKey(params.X509PrivKey)
		if err != nil {
			return nil, fmt.Errorf("failed to get private key: %w", err)
		}

		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to create X.509 key pair: %w", err)
		}

		return &cert, nil
	}

	cert, ok := h.identity.Certificate()
	if !ok {
		return nil, fmt.Errorf("no server certificate configured")
	}

	return cert, nil
}

func (h *Handler) serverPSKHandshake(_ context.Context, params *HandshakeParams) error {
	h.logger.Info("Performing server PSK TLS handshake")

	// Resolve the peer's key before touching the socket so a missing
	// credential aborts the attempt with no session state.
	serial, err := keyring.SearchPSK(params.PeerName)
	if err != nil {
		return fmt.Errorf("failed to search for PSK: %w", err)
	}

	if _, err := keyring.GetPSK(serial); err != nil {
		return fmt.Errorf("failed to load PSK: %w", err)
	}

	h.logger.Debug("Resolved PSK", "serial", serial)

	return errPSKUnsupported
}
