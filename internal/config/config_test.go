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

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dpeckett/ktls/tls"
	"github.com/dpeckett/ktlshd/internal/config"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ktlshd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	conf, err := config.Load(writeConfig(t, `
server_cert_file: /etc/ktlshd/server.crt
server_key_file: /etc/ktlshd/server.key
min_version: "1.2"
insecure_skip_verify: true
`))
	require.NoError(t, err)

	require.Equal(t, "/etc/ktlshd/server.crt", conf.ServerCertFile)
	require.Equal(t, "/etc/ktlshd/server.key", conf.ServerKeyFile)
	require.True(t, conf.InsecureSkipVerify)

	minVersion, err := conf.TLSMinVersion()
	require.NoError(t, err)
	require.Equal(t, uint16(tls.VersionTLS12), minVersion)
}

func TestLoadDefaults(t *testing.T) {
	conf, err := config.Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	minVersion, err := conf.TLSMinVersion()
	require.NoError(t, err)
	require.Equal(t, uint16(tls.VersionTLS13), minVersion)
	require.False(t, conf.InsecureSkipVerify)
}

func TestLoadRejectsUnknownVersion(t *testing.T) {
	_, err := config.Load(writeConfig(t, "min_version: \"1.1\"\n"))
	require.Error(t, err)
}

func TestLoadRejectsPartialServerIdentity(t *testing.T) {
	_, err := config.Load(writeConfig(t, "server_cert_file: /etc/ktlshd/server.crt\n"))
	require.Error(t, err)
}
