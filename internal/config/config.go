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

// Package config loads the daemon configuration file.
package config

import (
	"fmt"
	"os"

	"github.com/dpeckett/ktls/tls"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	// ServerCertFile and ServerKeyFile name the PEM encoded identity
	// offered for server-side x.509 handshakes when the kernel's
	// request carries no certificate serials.
	ServerCertFile string `yaml:"server_cert_file"`
	ServerKeyFile  string `yaml:"server_key_file"`

	// MinVersion is the protocol floor, "1.3" (default) or "1.2".
	// Kernel TLS consumers generally require TLSv1.3; "1.2" exists for
	// peers that cannot negotiate it.
	MinVersion string `yaml:"min_version"`

	// InsecureSkipVerify disables server certificate verification for
	// client-side handshakes.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		MinVersion: "1.3",
	}
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	conf := Default()
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}

	if _, err := conf.TLSMinVersion(); err != nil {
		return nil, err
	}

	if (conf.ServerCertFile == "") != (conf.ServerKeyFile == "") {
		return nil, fmt.Errorf("server_cert_file and server_key_file must be set together")
	}

	return conf, nil
}

// TLSMinVersion maps the configured protocol floor to its version constant.
func (c *Config) TLSMinVersion() (uint16, error) {
	switch c.MinVersion {
	case "", "1.3":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported minimum TLS version: %q", c.MinVersion)
	}
}
