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

// Package ktls installs the key material of a completed TLS session
// into the kernel TLS record layer. In some cases initialization might
// already be handled by the TLS library.
package ktls

import (
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"unsafe"

	"github.com/dpeckett/ktls/tls"
	"golang.org/x/sys/unix"
)

const (
	TLS_TX = 1 // Set transmit parameters.
	TLS_RX = 2 // Set receive parameters.
)

var (
	// ErrSocketInvalid indicates the kernel's socket file descriptor is
	// no longer valid.
	ErrSocketInvalid = errors.New("the kernel's socket file descriptor is no longer valid")
	// ErrKernelSupport indicates the kernel does not support the
	// requested algorithm.
	ErrKernelSupport = errors.New("the kernel does not support the requested algorithm")
	// ErrUnsupportedCipher indicates the session negotiated a cipher
	// suite with no kernel crypto_info layout. The cipher policy should
	// make this unreachable.
	ErrUnsupportedCipher = errors.New("unsupported cipher suite")
)

// Session exposes the parts of a completed TLS session needed to
// install kernel crypto state.
type Session interface {
	// Version is the negotiated protocol version.
	Version() uint16
	// CipherSuite is the negotiated cipher suite.
	CipherSuite() uint16
	// KeyMaterial returns the record-layer key, IV and sequence number
	// for one direction.
	KeyMaterial(read bool) (key, iv, seq []byte)
	// OffloadEnabled reports whether the TLS library has already
	// installed kernel offload for one direction.
	OffloadEnabled(read bool) bool
}

// Installer configures kernel TLS on sockets with completed handshakes.
type Installer struct {
	logger *slog.Logger

	// Overridable in tests.
	setULP        func(fd int) error
	setCryptoInfo func(fd, opt int, info []byte) error
}

// NewInstaller creates a new Installer.
func NewInstaller(logger *slog.Logger) *Installer {
	return &Installer{
		logger:        logger,
		setULP:        setULP,
		setCryptoInfo: setCryptoInfo,
	}
}

// Install extracts the per-direction key material from sess and hands
// it to the kernel via SOL_TLS socket options on fd. Both directions
// must succeed; a partially offloaded socket is never left behind as a
// success.
func (in *Installer) Install(fd int32, sess Session) error {
	if sess.OffloadEnabled(false) && sess.OffloadEnabled(true) {
		in.logger.Debug("Library has enabled kernel TLS for this session")
		return nil
	}

	if err := in.setULP(int(fd)); err != nil {
		in.logger.Error("Failed to set tls upper layer protocol", "error", err)
		return fmt.Errorf("failed to set tls upper layer protocol: %w", classify(err))
	}

	desc, ok := suiteDescs[sess.CipherSuite()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedCipher, tls.CipherSuiteName(sess.CipherSuite()))
	}

	for _, read := range []bool{false, true} {
		if err := in.installDirection(int(fd), desc, sess, read); err != nil {
			return err
		}
	}

	return nil
}

func (in *Installer) installDirection(fd int, desc *cipherDesc, sess Session, read bool) error {
	direction := "send"
	opt := TLS_TX
	if read {
		direction = "receive"
		opt = TLS_RX
	}

	if sess.OffloadEnabled(read) {
		in.logger.Debug("Library has enabled kernel TLS for this direction", "direction", direction)
		return nil
	}

	key, iv, seq := sess.KeyMaterial(read)

	info, err := desc.encode(sess.Version(), key, iv, seq)
	if err != nil {
		return fmt.Errorf("failed to encode %s crypto info: %w", desc.name, err)
	}

	if err := in.setCryptoInfo(fd, opt, info); err != nil {
		in.logger.Error("Failed to set crypto info",
			"cipher", desc.name, "direction", direction, "error", err)
		return fmt.Errorf("failed to set %s %s crypto info: %w", desc.name, direction, classify(err))
	}

	return nil
}

// classify sorts a setsockopt failure into the coarse categories the
// daemon reports, keeping the raw errno in the chain for diagnostics.
func classify(err error) error {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.EBADF, unix.ENOTSOCK:
			return errors.Join(ErrSocketInvalid, err)
		case unix.EINVAL, unix.ENOENT, unix.ENOPROTOOPT:
			return errors.Join(ErrKernelSupport, err)
		}
	}
	return err
}

func setULP(fd int) error {
	return syscall.SetsockoptString(fd, syscall.SOL_TCP, unix.TCP_ULP, "tls")
}

func setCryptoInfo(fd, opt int, info []byte) error {
	return setsockoptBytes(fd, unix.SOL_TLS, opt, info)
}

func setsockoptBytes(s, level, name int, value []byte) error {
	_, _, e1 := syscall.Syscall6(syscall.SYS_SETSOCKOPT, uintptr(s), uintptr(level), uintptr(name), uintptr(unsafe.Pointer(unsafe.SliceData(value))), uintptr(len(value)), 0)
	if e1 != 0 {
		return unix.Errno(e1)
	}

	return nil
}
