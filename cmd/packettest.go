// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/plantctl/pkg/comprot"
	"github.com/spf13/cobra"
)

var packetTestTimeout int

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid frame",
	Long: `Wait for a valid bus frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any valid
frame. It ignores invalid bytes and waits for a complete frame that passes
the CRC check. Slaves send a heartbeat every second, so a live bus answers
quickly.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("plantctl - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid frame...\n\n")

	events := make(chan frameEvent, 16)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readFrames(ctx, conn, events, func(skipped int) {
			if skipped > 0 {
				fmt.Printf("(skipped %d invalid bytes before sync)\n", skipped)
			}
		})
	}()

	timeout := time.After(time.Duration(packetTestTimeout) * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.frame == nil {
				continue
			}
			f := ev.frame
			fmt.Printf("SUCCESS: Received valid frame\n")
			fmt.Printf("  Type: %s (0x%02X)\n", comprot.FormatMessageType(f.Type()), f.Type())
			fmt.Printf("  From: %d  To: %d\n", f.Src(), f.Dst())
			fmt.Printf("  Length: %d bytes\n", f.Length())
			fmt.Printf("  CRC: 0x%X\n", f.CRC())
			os.Exit(0)

		case err := <-readErr:
			if err == nil {
				err = fmt.Errorf("connection closed")
			}
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			os.Exit(2)

		case <-timeout:
			fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
			os.Exit(1)
		}
	}
}
