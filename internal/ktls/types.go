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
	"fmt"

	"github.com/dpeckett/ktls/tls"
)

// Kernel cipher type tags from linux/tls.h.
const (
	cipherAESGCM128        = 51
	cipherAESGCM256        = 52
	cipherAESCCM128        = 53
	cipherCHACHA20POLY1305 = 54
)

// cipherDesc describes the fixed layout of a kernel tls12_crypto_info
// structure for one cipher. Sizes and field order are kernel ABI.
type cipherDesc struct {
	name       string
	cipherType uint16
	keySize    int
	ivSize     int
	saltSize   int
	recSeqSize int
}

var (
	descAESGCM128 = &cipherDesc{
		name:       "AES-128-GCM",
		cipherType: cipherAESGCM128,
		keySize:    16,
		ivSize:     8,
		saltSize:   4,
		recSeqSize: 8,
	}
	descAESGCM256 = &cipherDesc{
		name:       "AES-256-GCM",
		cipherType: cipherAESGCM256,
		keySize:    32,
		ivSize:     8,
		saltSize:   4,
		recSeqSize: 8,
	}
	descAESCCM128 = &cipherDesc{
		name:       "AES-128-CCM",
		cipherType: cipherAESCCM128,
		keySize:    16,
		ivSize:     8,
		saltSize:   4,
		recSeqSize: 8,
	}
	descCHACHA20POLY1305 = &cipherDesc{
		name:       "CHACHA20-POLY1305",
		cipherType: cipherCHACHA20POLY1305,
		keySize:    32,
		ivSize:     12,
		saltSize:   0,
		recSeqSize: 8,
	}
)

// suiteDescs maps negotiated TLS cipher suites to their kernel cipher
// descriptor. The Go TLS stack offers no CCM suites, so descAESCCM128
// is reachable only if a future library version adds one.
var suiteDescs = map[uint16]*cipherDesc{
	tls.TLS_RSA_WITH_AES_128_GCM_SHA256:               descAESGCM128,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256:         descAESGCM128,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256:       descAESGCM128,
	tls.TLS_AES_128_GCM_SHA256:                        descAESGCM128,
	tls.TLS_RSA_WITH_AES_256_GCM_SHA384:               descAESGCM256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384:         descAESGCM256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384:       descAESGCM256,
	tls.TLS_AES_256_GCM_SHA384:                        descAESGCM256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256:   descCHACHA20POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256: descCHACHA20POLY1305,
	tls.TLS_CHACHA20_POLY1305_SHA256:                  descCHACHA20POLY1305,
}

// size returns the encoded length of the crypto_info structure: the
// two-field header plus the per-cipher key material fields.
func (d *cipherDesc) size() int {
	return 4 + d.ivSize + d.keySize + d.saltSize + d.recSeqSize
}

// encode lays the extracted key material into the cipher's crypto_info
// wire format: version, cipher_type, iv, key, salt, rec_seq, native
// endian throughout.
//
// For TLSv1.2 the kernel derives the per-record IV itself, so the iv
// field carries the record sequence number instead. ChaCha20-Poly1305
// has no salt and uses the full record-layer IV for either version.
func (d *cipherDesc) encode(version uint16, key, iv, seq []byte) ([]byte, error) {
	if len(key) != d.keySize {
		return nil, fmt.Errorf("wrong %s key length, desired: %d, actual: %d", d.name, d.keySize, len(key))
	}
	if len(seq) != d.recSeqSize {
		return nil, fmt.Errorf("wrong %s sequence length, desired: %d, actual: %d", d.name, d.recSeqSize, len(seq))
	}

	ivField := make([]byte, d.ivSize)
	switch {
	case d.saltSize == 0:
		if len(iv) < d.ivSize {
			return nil, fmt.Errorf("wrong %s iv length, desired: %d, actual: %d", d.name, d.ivSize, len(iv))
		}
		copy(ivField, iv)
	case version == tls.VersionTLS12:
		// TLSv1.2 generates the IV in the kernel.
		copy(ivField, seq)
	default:
		if len(iv) < d.saltSize+d.ivSize {
			return nil, fmt.Errorf("wrong %s iv length, desired: %d, actual: %d", d.name, d.saltSize+d.ivSize, len(iv))
		}
		copy(ivField, iv[d.saltSize:])
	}

	saltField := make([]byte, d.saltSize)
	if d.saltSize > 0 {
		if len(iv) < d.saltSize {
			return nil, fmt.Errorf("wrong %s iv length, desired: %d, actual: %d", d.name, d.saltSize, len(iv))
		}
		copy(saltField, iv[:d.saltSize])
	}

	var w bytes.Buffer
	w.Grow(d.size())
	if err := binary.Write(&w, binary.NativeEndian, version); err != nil {
		return nil, fmt.Errorf("failed to encode crypto info: %w", err)
	}
	if err := binary.Write(&w, binary.NativeEndian, d.cipherType); err != nil {
		return nil, fmt.Errorf("failed to encode crypto info: %w", err)
	}
	w.Write(ivField)
	w.Write(key)
	w.Write(saltField)
	w.Write(seq)

	return w.Bytes(), nil
}
