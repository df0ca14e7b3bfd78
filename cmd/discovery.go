// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/plantctl/internal/master"
	"github.com/Thermoquad/plantctl/internal/peers"
	"github.com/spf13/cobra"
)

var (
	discoveryTimeout int
	discoveryHello   bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "List the slaves present on the bus",
	Long: `Listen for slave heartbeats and list every slave heard.

Slaves announce themselves with a heartbeat {0x03, id, type} about once per
second, so a few seconds of listening finds every live slave. With --hello
each discovered slave is also asked for its device name.

Examples:
  plantctl discovery --port /dev/ttyUSB0
  plantctl discovery --url ws://localhost:8080/bus --timeout 3 --hello

Exit codes:
  0 - Discovery successful (at least one slave found)
  1 - No slaves found
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 5, "Listening time in seconds")
	discoveryCmd.Flags().BoolVar(&discoveryHello, "hello", false, "Ask each slave for its name")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	node, connInfo := openNode(ctx, cfg.Master.ID, false)
	m, err := master.New(node, master.Config{
		PeerTimeout: time.Duration(discoveryTimeout+1) * time.Second,
		Logger:      logger,
	})
	if err != nil {
		node.Close()
		return err
	}

	fmt.Printf("plantctl - Slave Discovery\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n\n", discoveryTimeout)

	m.OnPeerJoined(func(p peers.Peer) {
		fmt.Printf("Slave found: ID=%d, Type=%s\n", p.ID, p.Type)
		if discoveryHello {
			go func() {
				if err := m.SendHello(ctx, p.ID); err != nil {
					fmt.Printf("  hello to %d failed: %v\n", p.ID, err)
				}
			}()
		}
	})
	m.OnHello(func(src uint8, name string) {
		fmt.Printf("  Slave %d name: %s\n", src, name)
	})

	runCtx, stop := context.WithTimeout(ctx, time.Duration(discoveryTimeout)*time.Second)
	defer stop()
	if err := m.Run(runCtx); err != nil {
		fmt.Printf("READ FAILED: %v\n", err)
		os.Exit(2)
	}

	found := m.ConnectedSlaves()
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Print(formatPeerTable(found, time.Now()))

	if len(found) == 0 {
		fmt.Printf("No slaves discovered. Check connection and slave power.\n")
		os.Exit(1)
	}
	return nil
}
