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

func (h *Handler) handleClientHello(ctx context.Context, params *HandshakeParams) error {
	h.logger.Info("Handling client hello")

	switch params.AuthMode {
	case HandshakeAuthUnauth, HandshakeAuthX509:
		return h.clientX509Handshake(ctx, params)
	case HandshakeAuthPSK:
		return h.clientPSKHandshake(ctx, params)
	default:
		return fmt.Errorf("unrecognized auth mode: %d", params.AuthMode)
	}
}

func (h *Handler) clientX509Handshake(ctx context.Context, params *HandshakeParams) error {
	h.logger.Info("Performing client X.509 TLS handshake")

	tlsConfig := h.priority.Select(false)
	tlsConfig.InsecureSkipVerify = h.insecureSkipVerify

	var certPEM, keyPEM []byte
	if params.X509Cert != TLSNoCert {
		var err error
		certPEM, err = keyring.GetCertificate(params.X509Cert)
		if err != nil {
			return fmt.Errorf("failed to get certificate: %w", err)
		}
	}

	if params.X509PrivKey != TLSNoPrivKey {
		var err error
		keyPEM, err = keyring.GetPrivateKey(params.X509PrivKey)
		if err != nil {
			return fmt.Errorf("failed to get private key: %w", err)
		}
	}

	if len(certPEM) > 0 && len(keyPEM) > 0 {
		clientCert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return fmt.Errorf("failed to create X.509 key pair: %w", err)
		}

		// The one configured identity is offered regardless of which
		// issuers the server says it trusts; the hints are logged for
		// diagnostics only.
		tlsConfig.GetClientCertificate = func(req *tls.CertificateRequestInfo) (*tls.Certificate, error) {
			logIssuers(h.logger, req.AcceptableCAs)

			return &clientCert, nil
		}
	}

	// ServerName is required for SNI (Server Name Indication).
	tlsConfig.ServerName = params.PeerName

	tlsConn := tls.Client(params.Conn, tlsConfig)

	if err := h.runHandshake(ctx, tlsConn, params); err != nil {
		return err
	}

	state := tlsConn.ConnectionState()
	ids, err := h.collectPeerIDs(state.PeerCertificates, params.PeerName, keyring.CreateCertificate)
	if err != nil {
		return err
	}
	params.RemotePeerIDs = append(params.RemotePeerIDs, ids...)

	return h.installOffload(tlsConn, params)
}

func (h *Handler) clientPSKHandshake(_ context.Context, params *HandshakeParams) error {
	h.logger.Info("Performing client PSK TLS handshake")

	if len(params.PeerIDs) == 0 {
		return fmt.Errorf("no PSK identities provided")
	}

	// Resolve the kernel supplied identities before touching the
	// socket so a missing credential aborts with no session state.
	for _, serial := range params.PeerIDs {
		if _, err := keyring.GetPSK(serial); err != nil {
			return fmt.Errorf("failed to load PSK: %w", err)
		}
	}

	return errPSKUnsupported
}
