// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/plantctl/internal/hub"
	"github.com/spf13/cobra"
)

var (
	hubListen string
	hubUser   string
)

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run a WebSocket hub that acts as a shared bus",
	Long: `Serve a WebSocket endpoint at /bus that relays every binary message to all
other connected clients, so masters, slaves and analyzers on different hosts
share one bus.

When --auth-user is set, clients must present HTTP Basic credentials. The
password is read from PLANTCTL_PASSWORD or prompted.

Examples:
  plantctl hub --listen :8080
  plantctl slave --url ws://localhost:8080/bus --id 10 --type solar
  plantctl master --url ws://localhost:8080/bus --demo`,
	RunE: runHub,
}

func init() {
	rootCmd.AddCommand(hubCmd)
	hubCmd.Flags().StringVar(&hubListen, "listen", "", "Listen address (default: hub.listen from config, :8080)")
	hubCmd.Flags().StringVar(&hubUser, "auth-user", "", "Require HTTP Basic auth with this username")
}

func runHub(cmd *cobra.Command, args []string) error {
	if hubListen != "" {
		cfg.Hub.Listen = hubListen
	}
	if hubUser != "" {
		cfg.Hub.Username = hubUser
	}

	var password string
	if cfg.Hub.Username != "" {
		pw, err := GetPassword()
		if err != nil {
			return err
		}
		if pw == "" {
			return fmt.Errorf("a password is required with --auth-user")
		}
		password = pw
	}

	ctx, cancel := signalContext()
	defer cancel()

	h := hub.New(hub.Config{
		Addr:     cfg.Hub.Listen,
		Username: cfg.Hub.Username,
		Password: password,
		Logger:   logger,
	})

	fmt.Printf("plantctl - Hub\n")
	fmt.Printf("Listening on ws://%s%s\n", cfg.Hub.Listen, hub.BusPath)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	startMetrics(ctx)
	go func() {
		tick := time.NewTicker(30 * time.Second)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				logger.Info().
					Int("clients", h.Clients()).
					Uint64("relayed", h.Relayed()).
					Uint64("dropped", h.Dropped()).
					Msg("hub status")
			}
		}
	}()

	if err := h.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Hub error: %v\n", err)
		os.Exit(2)
	}
	return nil
}
