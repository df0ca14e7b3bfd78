// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/plantctl/internal/master"
	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping <id>",
	Short: "Measure round trips to one slave with hello requests",
	Long: `Send hello requests to one slave and wait for its hello response.

Each response carries the slave's device name; the round-trip time covers
the link, the slave's dispatch queue and the reply.

This is useful for verifying:
  - the connection (serial, WebSocket hub) carries frames both ways
  - HTTP Basic authentication works
  - the slave is alive and answering

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	Args: cobra.ExactArgs(1),
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 2, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	target, err := parseNodeID(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	node, connInfo := openNode(ctx, cfg.Master.ID, false)
	m, err := master.New(node, master.Config{Logger: logger})
	if err != nil {
		node.Close()
		return err
	}
	names := make(chan string, 4)
	m.OnHello(func(src uint8, name string) {
		if src == target {
			select {
			case names <- name:
			default:
			}
		}
	})

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- m.Run(runCtx) }()

	fmt.Printf("plantctl - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings to slave %d\n\n", pingCount, target)

	successCount := 0
	failCount := 0
	for i := 1; i <= pingCount && ctx.Err() == nil; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		// Drop late replies from the previous round
		select {
		case <-names:
		default:
		}

		startTime := time.Now()
		if err := m.SendHello(ctx, target); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		select {
		case name := <-names:
			fmt.Printf("PONG from %d (%s), rtt=%v\n", target, name, time.Since(startTime).Round(time.Microsecond))
			successCount++
		case <-time.After(time.Duration(pingTimeout) * time.Second):
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		case <-ctx.Done():
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}
	stop()
	<-done

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		pingCount, successCount, float64(pingCount-successCount)/float64(max(pingCount, 1))*100)

	if failCount > 0 || successCount < pingCount {
		os.Exit(1)
	}
	return nil
}
