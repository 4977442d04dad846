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
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"testing"

	"github.com/dpeckett/ktls/tls"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeSession struct {
	version   uint16
	suite     uint16
	key       []byte
	iv        []byte
	seq       []byte
	offloadTX bool
	offloadRX bool
}

func (s *fakeSession) Version() uint16     { return s.version }
func (s *fakeSession) CipherSuite() uint16 { return s.suite }

func (s *fakeSession) KeyMaterial(read bool) (key, iv, seq []byte) {
	return s.key, s.iv, s.seq
}

func (s *fakeSession) OffloadEnabled(read bool) bool {
	if read {
		return s.offloadRX
	}
	return s.offloadTX
}

type sockoptCall struct {
	fd   int
	opt  int
	info []byte
}

type recorder struct {
	ulpCalls  int
	ulpErr    error
	calls     []sockoptCall
	cryptoErr error
}

func newTestInstaller(rec *recorder) *Installer {
	in := NewInstaller(slog.New(slog.NewTextHandler(io.Discard, nil)))
	in.setULP = func(fd int) error {
		rec.ulpCalls++
		return rec.ulpErr
	}
	in.setCryptoInfo = func(fd, opt int, info []byte) error {
		rec.calls = append(rec.calls, sockoptCall{fd: fd, opt: opt, info: info})
		return rec.cryptoErr
	}
	return in
}

func pattern(n int, start byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = start + byte(i)
	}
	return b
}

func TestInstallLayouts(t *testing.T) {
	for _, tt := range []struct {
		name  string
		suite uint16
		desc  *cipherDesc
	}{
		{"AES128GCM", tls.TLS_AES_128_GCM_SHA256, descAESGCM128},
		{"AES256GCM", tls.TLS_AES_256_GCM_SHA384, descAESGCM256},
		{"ChaCha20Poly1305", tls.TLS_CHACHA20_POLY1305_SHA256, descCHACHA20POLY1305},
	} {
		t.Run(tt.name, func(t *testing.T) {
			sess := &fakeSession{
				version: tls.VersionTLS13,
				suite:   tt.suite,
				key:     pattern(tt.desc.keySize, 0x10),
				iv:      pattern(tt.desc.saltSize+tt.desc.ivSize, 0x40),
				seq:     pattern(tt.desc.recSeqSize, 0x80),
			}

			rec := &recorder{}
			require.NoError(t, newTestInstaller(rec).Install(3, sess))

			require.Equal(t, 1, rec.ulpCalls)
			require.Len(t, rec.calls, 2)
			require.Equal(t, TLS_TX, rec.calls[0].opt)
			require.Equal(t, TLS_RX, rec.calls[1].opt)

			for _, call := range rec.calls {
				require.Len(t, call.info, tt.desc.size())
				require.Equal(t, uint16(tls.VersionTLS13), binary.NativeEndian.Uint16(call.info[0:2]))
				require.Equal(t, tt.desc.cipherType, binary.NativeEndian.Uint16(call.info[2:4]))
			}
		})
	}
}

func TestInstallTLS13GCMIVOffsetPastSalt(t *testing.T) {
	iv := pattern(descAESGCM128.saltSize+descAESGCM128.ivSize, 0x40)
	sess := &fakeSession{
		version: tls.VersionTLS13,
		suite:   tls.TLS_AES_128_GCM_SHA256,
		key:     pattern(descAESGCM128.keySize, 0x10),
		iv:      iv,
		seq:     pattern(8, 0x80),
	}

	rec := &recorder{}
	require.NoError(t, newTestInstaller(rec).Install(3, sess))

	info := rec.calls[0].info
	require.Equal(t, iv[descAESGCM128.saltSize:], info[4:4+descAESGCM128.ivSize])
	require.Equal(t, iv[:descAESGCM128.saltSize], info[4+descAESGCM128.ivSize+descAESGCM128.keySize:4+descAESGCM128.ivSize+descAESGCM128.keySize+descAESGCM128.saltSize])
	require.Equal(t, sess.seq, info[len(info)-8:])
}

func TestInstallTLS12GCMIVFromSequence(t *testing.T) {
	// The TLSv1.2 record layer only has the 4 byte implicit nonce.
	iv := pattern(descAESGCM128.saltSize, 0x40)
	seq := pattern(8, 0x80)
	sess := &fakeSession{
		version: tls.VersionTLS12,
		suite:   tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		key:     pattern(descAESGCM128.keySize, 0x10),
		iv:      iv,
		seq:     seq,
	}

	rec := &recorder{}
	require.NoError(t, newTestInstaller(rec).Install(3, sess))

	info := rec.calls[0].info
	require.Equal(t, uint16(tls.VersionTLS12), binary.NativeEndian.Uint16(info[0:2]))
	require.Equal(t, seq, info[4:4+descAESGCM128.ivSize])
	require.Equal(t, iv, info[4+descAESGCM128.ivSize+descAESGCM128.keySize:4+descAESGCM128.ivSize+descAESGCM128.keySize+descAESGCM128.saltSize])
}

func TestInstallChaCha20RawIV(t *testing.T) {
	iv := pattern(descCHACHA20POLY1305.ivSize, 0x40)
	for _, version := range []uint16{tls.VersionTLS12, tls.VersionTLS13} {
		sess := &fakeSession{
			version: version,
			suite:   tls.TLS_CHACHA20_POLY1305_SHA256,
			key:     pattern(descCHACHA20POLY1305.keySize, 0x10),
			iv:      iv,
			seq:     pattern(8, 0x80),
		}

		rec := &recorder{}
		require.NoError(t, newTestInstaller(rec).Install(3, sess))

		info := rec.calls[0].info
		require.Equal(t, version, binary.NativeEndian.Uint16(info[0:2]))
		require.Equal(t, iv, info[4:4+descCHACHA20POLY1305.ivSize])
	}
}

func TestInstallAlreadyOffloaded(t *testing.T) {
	sess := &fakeSession{
		version:   tls.VersionTLS13,
		suite:     tls.TLS_AES_128_GCM_SHA256,
		offloadTX: true,
		offloadRX: true,
	}

	rec := &recorder{}
	require.NoError(t, newTestInstaller(rec).Install(3, sess))

	require.Zero(t, rec.ulpCalls)
	require.Empty(t, rec.calls)
}

func TestInstallSingleDirectionOffloaded(t *testing.T) {
	sess := &fakeSession{
		version:   tls.VersionTLS13,
		suite:     tls.TLS_AES_128_GCM_SHA256,
		key:       pattern(descAESGCM128.keySize, 0x10),
		iv:        pattern(descAESGCM128.saltSize+descAESGCM128.ivSize, 0x40),
		seq:       pattern(8, 0x80),
		offloadRX: true,
	}

	rec := &recorder{}
	require.NoError(t, newTestInstaller(rec).Install(3, sess))

	require.Equal(t, 1, rec.ulpCalls)
	require.Len(t, rec.calls, 1)
	require.Equal(t, TLS_TX, rec.calls[0].opt)
}

func TestInstallULPFailureIsFatal(t *testing.T) {
	sess := &fakeSession{
		version: tls.VersionTLS13,
		suite:   tls.TLS_AES_128_GCM_SHA256,
		key:     pattern(descAESGCM128.keySize, 0x10),
		iv:      pattern(descAESGCM128.saltSize+descAESGCM128.ivSize, 0x40),
		seq:     pattern(8, 0x80),
	}

	rec := &recorder{ulpErr: unix.EINVAL}
	err := newTestInstaller(rec).Install(3, sess)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrKernelSupport)
	require.Empty(t, rec.calls)
}

func TestInstallUnsupportedCipher(t *testing.T) {
	sess := &fakeSession{
		version: tls.VersionTLS12,
		suite:   tls.TLS_RSA_WITH_AES_128_CBC_SHA,
	}

	rec := &recorder{}
	err := newTestInstaller(rec).Install(3, sess)
	require.ErrorIs(t, err, ErrUnsupportedCipher)
	require.Empty(t, rec.calls)
}

func TestInstallErrorClassification(t *testing.T) {
	for _, tt := range []struct {
		name  string
		errno unix.Errno
		want  error
	}{
		{"BadDescriptor", unix.EBADF, ErrSocketInvalid},
		{"NotSocket", unix.ENOTSOCK, ErrSocketInvalid},
		{"InvalidArgument", unix.EINVAL, ErrKernelSupport},
		{"NoProtoOpt", unix.ENOPROTOOPT, ErrKernelSupport},
	} {
		t.Run(tt.name, func(t *testing.T) {
			sess := &fakeSession{
				version: tls.VersionTLS13,
				suite:   tls.TLS_AES_128_GCM_SHA256,
				key:     pattern(descAESGCM128.keySize, 0x10),
				iv:      pattern(descAESGCM128.saltSize+descAESGCM128.ivSize, 0x40),
				seq:     pattern(8, 0x80),
			}

			rec := &recorder{cryptoErr: tt.errno}
			err := newTestInstaller(rec).Install(3, sess)
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, tt.errno)
		})
	}

	t.Run("Other", func(t *testing.T) {
		sess := &fakeSession{
			version: tls.VersionTLS13,
			suite:   tls.TLS_AES_128_GCM_SHA256,
			key:     pattern(descAESGCM128.keySize, 0x10),
			iv:      pattern(descAESGCM128.saltSize+descAESGCM128.ivSize, 0x40),
			seq:     pattern(8, 0x80),
		}

		rec := &recorder{cryptoErr: unix.ECONNRESET}
		err := newTestInstaller(rec).Install(3, sess)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrSocketInvalid)
		require.NotErrorIs(t, err, ErrKernelSupport)
		require.ErrorIs(t, err, unix.ECONNRESET)
	})
}

func TestEncodeRejectsShortKeyMaterial(t *testing.T) {
	_, err := descAESGCM128.encode(tls.VersionTLS13, pattern(8, 0), pattern(12, 0), pattern(8, 0))
	require.Error(t, err)

	_, err = descAESGCM128.encode(tls.VersionTLS13, pattern(16, 0), pattern(4, 0), pattern(8, 0))
	require.Error(t, err)

	_, err = descCHACHA20POLY1305.encode(tls.VersionTLS13, pattern(32, 0), pattern(8, 0), pattern(8, 0))
	require.Error(t, err)
}

func TestEncodeIsContiguous(t *testing.T) {
	key := pattern(descAESGCM256.keySize, 0x10)
	iv := pattern(descAESGCM256.saltSize+descAESGCM256.ivSize, 0x40)
	seq := pattern(8, 0x80)

	info, err := descAESGCM256.encode(tls.VersionTLS13, key, iv, seq)
	require.NoError(t, err)

	var want bytes.Buffer
	require.NoError(t, binary.Write(&want, binary.NativeEndian, uint16(tls.VersionTLS13)))
	require.NoError(t, binary.Write(&want, binary.NativeEndian, uint16(cipherAESGCM256)))
	want.Write(iv[descAESGCM256.saltSize:])
	want.Write(key)
	want.Write(iv[:descAESGCM256.saltSize])
	want.Write(seq)

	require.Equal(t, want.Bytes(), info)
}
