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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dpeckett/ktlshd/internal/config"
	"github.com/dpeckett/ktlshd/internal/handshake"
	"github.com/dpeckett/ktlshd/internal/ktls"
	"github.com/dpeckett/ktlshd/internal/priority"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	app := &cli.App{
		Name:  "ktlshd",
		Usage: "A Linux kernel TLS handshake daemon written in Go",
		Flags: []cli.Flag{
			&cli.GenericFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set the log level",
				Value:   fromLogLevel(slog.LevelInfo),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the configuration file",
			},
		},
		Before: func(c *cli.Context) error {
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: (*slog.Level)(c.Generic("log-level").(*logLevelFlag)),
			}))
			return nil
		},
		Action: func(c *cli.Context) error {
			conf := config.Default()
			if path := c.String("config"); path != "" {
				var err error
				conf, err = config.Load(path)
				if err != nil {
					logger.Error("Failed to load configuration", "error", err)
					return err
				}
			}

			minVersion, err := conf.TLSMinVersion()
			if err != nil {
				return err
			}

			// Shared handshake state is built once, strictly before the
			// first request, and torn down once after the loop exits.
			priorityState, err := priority.New(logger, minVersion)
			if err != nil {
				logger.Error("Failed to initialize cipher policy", "error", err)
				return err
			}
			defer priorityState.Close()

			identity, err := handshake.LoadServerIdentity(conf)
			if err != nil {
				logger.Error("Failed to load server identity", "error", err)
				return err
			}
			defer identity.Close()

			h := handshake.NewHandler(logger, priorityState, identity,
				ktls.NewInstaller(logger), conf.InsecureSkipVerify)

			conn, family, err := handshake.NewNetlinkConn()
			if err != nil {
				logger.Error("Failed to open netlink connection", "error", err)
				return err
			}
			defer conn.Close()

			if err := handshake.JoinTLSHDGroup(conn, family); err != nil {
				logger.Error("Failed to join multicast group", "error", err)
				return err
			}

			logger.Info("Listening for TLS handshake requests")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				default:
					if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
						return fmt.Errorf("failed to set read deadline: %w", err)
					}

					msgs, _, err := conn.Receive()
					if err != nil {
						if errors.Is(err, os.ErrDeadlineExceeded) {
							continue
						}

						return fmt.Errorf("failed to receive netlink messages: %w", err)
					}

					for _, msg := range msgs {
						go func() {
							if err := h.Handle(ctx, &msg); err != nil {
								logger.Error("Failed to handle handshake message", "error", err)
							}
						}()
					}
				}
			}
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("Failed to run application", "error", err)
		os.Exit(1)
	}
}

type logLevelFlag slog.Level

func fromLogLevel(l slog.Level) *logLevelFlag {
	f := logLevelFlag(l)
	return &f
}

func (f *logLevelFlag) Set(value string) error {
	return (*slog.Level)(f).UnmarshalText([]byte(value))
}

func (f *logLevelFlag) String() string {
	return (*slog.Level)(f).String()
}
