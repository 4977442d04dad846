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
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"log/slog"
	"syscall"

	"github.com/dpeckett/ktls/tls"
	"github.com/dpeckett/ktlshd/internal/keyring"
	"github.com/dpeckett/ktlshd/internal/ktls"
)

// The kernel only accepts up to 10 remote peer identities.
const maxRemotePeerIDs = 10

// The Go TLS stack has no external pre-shared-key exchange; PSK
// handshakes resolve their credentials and then fail with this error.
var errPSKUnsupported = errors.New("TLS PSK is not supported by the Go TLS stack")

// startHandshake drives a prepared session to completion and, on
// success, hands the kernel's socket over to the offload installer.
// The session never outlives this call.
func (h *Handler) startHandshake(ctx context.Context, tlsConn *tls.Conn, params *HandshakeParams) error {
	if err := h.runHandshake(ctx, tlsConn, params); err != nil {
		return err
	}

	return h.installOffload(tlsConn, params)
}

func (h *Handler) runHandshake(ctx context.Context, tlsConn *tls.Conn, params *HandshakeParams) error {
	handshakeCtx := ctx
	if params.Timeout > 0 {
		var cancel context.CancelFunc
		handshakeCtx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		h.logger.Error("TLS handshake failed", "error", err)

		return fmt.Errorf("TLS handshake failed: %w", errors.Join(syscall.EACCES, err))
	}

	state := tlsConn.ConnectionState()
	h.logger.Debug("TLS handshake complete",
		"version", tls.VersionName(state.Version),
		"cipherSuite", tls.CipherSuiteName(state.CipherSuite))

	return nil
}

func (h *Handler) installOffload(tlsConn *tls.Conn, params *HandshakeParams) error {
	if err := h.offload.Install(params.SockFD, ktls.FromConn(tlsConn)); err != nil {
		h.logger.Error("Failed to enable kernel TLS", "error", err)

		return fmt.Errorf("failed to enable kernel TLS: %w", err)
	}

	return nil
}

// verifyPeer is the x.509 verification policy shared by both roles:
// absence of a certificate is acceptable when one was only requested,
// an unverifiable chain is fatal, and a verified chain is registered in
// the keyring as the session's remote peer identities.
func (h *Handler) verifyPeer(certs []*x509.Certificate, params *HandshakeParams, server bool) error {
	if len(certs) == 0 {
		h.logger.Debug("The peer offered no certificate")
		return nil
	}

	opts := x509.VerifyOptions{
		Intermediates: x509.NewCertPool(),
	}
	if server {
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	} else {
		opts.DNSName = params.PeerName
	}
	for _, cert := range certs[1:] {
		opts.Intermediates.AddCert(cert)
	}

	if _, err := certs[0].Verify(opts); err != nil {
		h.logger.Error("Peer certificate verification failed", "error", err)

		return fmt.Errorf("peer certificate verification failed: %w", err)
	}

	ids, err := h.collectPeerIDs(certs, params.PeerName, keyring.CreateCertificate)
	if err != nil {
		return err
	}
	params.RemotePeerIDs = append(params.RemotePeerIDs, ids...)

	return nil
}

// collectPeerIDs registers the peer's certificate chain in the keyring
// and returns the resulting serials. Chains longer than the kernel's
// limit are truncated, not rejected.
func (h *Handler) collectPeerIDs(certs []*x509.Certificate, peerName string,
	register func(*x509.Certificate, string) (keyring.KeySerial, error)) ([]keyring.KeySerial, error) {

	n := len(certs)
	h.logger.Debug("The peer offered certificates", "count", n)

	if n > maxRemotePeerIDs {
		h.logger.Warn("Peer certificate chain truncated",
			"offered", n, "max", maxRemotePeerIDs)
		n = maxRemotePeerIDs
	}

	ids := make([]keyring.KeySerial, 0, n)
	for _, cert := range certs[:n] {
		id, err := register(cert, peerName)
		if err != nil {
			return nil, fmt.Errorf("failed to register peer certificate: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

// logIssuers renders the requester's trusted authority hints. The
// hints only inform diagnostics; certificate selection ignores them.
func logIssuers(logger *slog.Logger, acceptableCAs [][]byte) {
	if len(acceptableCAs) == 0 {
		return
	}

	logger.Debug("Peer's trusted authorities:")

	for i, raw := range acceptableCAs {
		var rdn pkix.RDNSequence
		if _, err := asn1.Unmarshal(raw, &rdn); err != nil {
			continue
		}

		logger.Debug("Trusted authority", "index", i, "subject", rdn.String())
	}
}
