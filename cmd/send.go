// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/plantctl/internal/master"
	"github.com/spf13/cobra"
)

var (
	sendID       uint8
	sendWait     time.Duration
	sendDiscover time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <command> <target> [args...]",
	Short: "Send one command and print the reply",
	Long: `Send a single command as the master and exit.

` + commandHelp + `

Commands for one slave that produce a reply (temp, status, output) wait up to
--wait for the response. Commands for a device type in iterate mode first
listen for heartbeats for --discover to learn which slaves exist.

Examples:
  plantctl send temp 20 --port /dev/ttyUSB0
  plantctl send led solar on --url ws://localhost:8080/bus
  plantctl send raw all 0x30 AA BB CC DD
  plantctl send sw 10 2

Exit codes:
  0 - Command sent (and reply received, if one was expected)
  1 - Send failed or no reply
  2 - Connection error`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().Uint8Var(&sendID, "id", 0, "Sender bus id (default: master.id from config)")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 2*time.Second, "How long to wait for a reply")
	sendCmd.Flags().DurationVar(&sendDiscover, "discover", 1500*time.Millisecond, "Heartbeat listening time before type commands")
}

func runSend(cmd *cobra.Command, args []string) error {
	c, err := parseCommandLine(strings.Join(args, " "))
	if err != nil {
		return err
	}

	id := cfg.Master.ID
	if cmd.Flags().Changed("id") {
		id = sendID
	}

	ctx, cancel := signalContext()
	defer cancel()

	node, _ := openNode(ctx, id, false)
	m, err := master.New(node, master.Config{
		PeerTimeout: cfg.Master.PeerTimeout.D(),
		TypeMode:    master.TypeMode(cfg.Master.TypeMode),
		Logger:      logger,
	})
	if err != nil {
		node.Close()
		return err
	}
	replied := make(chan string, 1)
	m.OnHello(func(src uint8, name string) {
		if src == c.Target.ID {
			select {
			case replied <- name:
			default:
			}
		}
	})

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- m.Run(runCtx) }()
	defer func() {
		stop()
		<-done
	}()

	if needsDiscovery(c, master.TypeMode(cfg.Master.TypeMode)) {
		select {
		case <-time.After(sendDiscover):
		case <-ctx.Done():
			return nil
		}
	}

	out, err := executeCommand(ctx, m, c, sendWait)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
		stop()
		<-done
		os.Exit(1)
	}
	if out != "" {
		fmt.Println(strings.TrimRight(out, "\n"))
	} else {
		fmt.Printf("Sent to %s\n", c.Target)
	}

	if c.Hello {
		select {
		case name := <-replied:
			fmt.Printf("Hello from %d: %s\n", c.Target.ID, name)
		case <-time.After(sendWait):
			fmt.Fprintf(os.Stderr, "TIMEOUT: no hello response from %d\n", c.Target.ID)
			stop()
			<-done
			os.Exit(1)
		case <-ctx.Done():
		}
	}
	return nil
}

// needsDiscovery reports whether c can only be sent once peers are known
func needsDiscovery(c busCommand, mode master.TypeMode) bool {
	return !c.Hello && !c.Target.All && c.Target.ID == 0 && !c.StarWire && mode != master.ModeBus
}
