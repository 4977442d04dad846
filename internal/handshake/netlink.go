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
	"fmt"

	"github.com/mdlayher/genetlink"
)

// NewNetlinkConn opens a generic netlink connection resolved to the
// kernel's handshake family.
func NewNetlinkConn() (*genetlink.Conn, genetlink.Family, error) {
	conn, err := genetlink.Dial(nil)
	if err != nil {
		return nil, genetlink.Family{}, fmt.Errorf("failed to dial generic netlink: %w", err)
	}

	family, err := conn.GetFamily(HandshakeFamilyName)
	if err != nil {
		_ = conn.Close()
		return nil, genetlink.Family{}, fmt.Errorf("failed to get %q family: %w", HandshakeFamilyName, err)
	}

	return conn, family, nil
}

// JoinTLSHDGroup subscribes conn to the tlshd multicast group, over
// which the kernel announces pending handshake requests.
func JoinTLSHDGroup(conn *genetlink.Conn, family genetlink.Family) error {
	for _, group := range family.Groups {
		if group.Name == HandshakeMCGroupTLSHD {
			if err := conn.JoinGroup(group.ID); err != nil {
				return fmt.Errorf("failed to join %q multicast group: %w", HandshakeMCGroupTLSHD, err)
			}
			return nil
		}
	}

	return fmt.Errorf("family %q has no %q multicast group", family.Name, HandshakeMCGroupTLSHD)
}
