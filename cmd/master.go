// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/plantctl/internal/bus"
	"github.com/Thermoquad/plantctl/internal/master"
	"github.com/Thermoquad/plantctl/internal/peers"
	"github.com/Thermoquad/plantctl/pkg/comprot"
	"github.com/spf13/cobra"
)

var (
	masterID           uint8
	masterDemo         bool
	masterDebugRX      bool
	masterReport       time.Duration
	masterTypeMode     string
	masterPeerTimeout  time.Duration
	masterHelloTargets string
	masterHelloEvery   time.Duration
)

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Run the bus master",
	Long: `Run the master node: discover slaves from their heartbeats, evict slaves
that stay silent for longer than the peer timeout, and print the peer table.

With --demo the master repeats the rig's test schedule:
  - LED command to solar slaves (state toggles every 10 seconds)
  - temperature request to wind slaves
  - custom command {AA BB CC DD} to slave 10

Commands for a device type are sent as one unicast frame per known slave
(--type-mode iterate) or as a single broadcast that slaves filter
(--type-mode bus).

Examples:
  plantctl master --port /dev/ttyUSB0 --demo
  plantctl master --url ws://hub.local:8080/bus --debug-rx --metrics-addr :9100`,
	RunE: runMaster,
}

func init() {
	rootCmd.AddCommand(masterCmd)
	masterCmd.Flags().Uint8Var(&masterID, "id", comprot.MasterID, "Master bus id")
	masterCmd.Flags().BoolVar(&masterDemo, "demo", false, "Run the demo command schedule")
	masterCmd.Flags().BoolVar(&masterDebugRX, "debug-rx", false, "Print every received frame")
	masterCmd.Flags().DurationVar(&masterReport, "report-interval", 10*time.Second, "Peer table report interval (0 disables)")
	masterCmd.Flags().StringVar(&masterTypeMode, "type-mode", "", "Type addressing: iterate or bus")
	masterCmd.Flags().DurationVar(&masterPeerTimeout, "peer-timeout", 0, "Evict slaves silent for longer than this")
	masterCmd.Flags().StringVar(&masterHelloTargets, "hello", "", "Comma-separated slave ids to poll with hello requests")
	masterCmd.Flags().DurationVar(&masterHelloEvery, "hello-interval", time.Second, "Hello polling interval")
}

// masterConfig merges master flags over the file configuration
func masterConfig(cmd *cobra.Command) (master.Config, uint8, error) {
	id := cfg.Master.ID
	if cmd.Flags().Changed("id") {
		id = masterID
	}

	mc := master.Config{
		PeerTimeout:   cfg.Master.PeerTimeout.D(),
		SweepInterval: cfg.Master.SweepInterval.D(),
		TypeMode:      master.TypeMode(cfg.Master.TypeMode),
		HelloInterval: cfg.Master.HelloInterval.D(),
		HelloTargets:  cfg.Master.HelloTargets,
		Logger:        logger,
	}
	if cmd.Flags().Changed("type-mode") {
		mc.TypeMode = master.TypeMode(masterTypeMode)
	}
	if cmd.Flags().Changed("peer-timeout") {
		mc.PeerTimeout = masterPeerTimeout
	}
	if masterHelloTargets != "" {
		targets, err := parseIDList(masterHelloTargets)
		if err != nil {
			return master.Config{}, 0, fmt.Errorf("--hello: %w", err)
		}
		mc.HelloTargets = targets
		mc.HelloInterval = masterHelloEvery
	}
	return mc, id, nil
}

func runMaster(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	mc, id, err := masterConfig(cmd)
	if err != nil {
		return err
	}

	node, connInfo := openNode(ctx, id, false)
	m, err := master.New(node, mc)
	if err != nil {
		node.Close()
		return err
	}

	fmt.Printf("plantctl - Master\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Master id: %d, peer timeout: %s\n", id, m.PeerTimeout())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	attachMasterPrinters(m, masterDebugRX)
	startMetrics(ctx)

	if masterDemo {
		go m.RunDemo(ctx, cfg.Master.DemoInterval.D(), nil)
	}
	if masterReport > 0 {
		go reportLoop(ctx, m, masterReport)
	}

	if err := m.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Bus error: %v\n", err)
		os.Exit(2)
	}
	return nil
}

// attachMasterPrinters prints discovery events and responses to stdout
func attachMasterPrinters(m *master.Master, debugRX bool) {
	m.OnPeerJoined(func(p peers.Peer) {
		fmt.Printf("[%s] New slave discovered: ID=%d, Type=%s\n", stamp(), p.ID, p.Type)
	})
	m.OnPeerLost(func(p peers.Peer) {
		fmt.Printf("[%s] Slave timed out: ID=%d, Type=%s\n", stamp(), p.ID, p.Type)
	})
	m.OnResponse(func(src uint8, r comprot.Response) {
		fmt.Printf("[%s] Response from %d: %s\n", stamp(), src, comprot.FormatOpcode(r.Opcode))
		fmt.Print(comprot.FormatResponseData(r.Opcode, r.Data))
	})
	m.OnHello(func(src uint8, name string) {
		fmt.Printf("[%s] Hello from %d: %s\n", stamp(), src, name)
	})
	if debugRX {
		m.SetDebugReceiveHandler(func(p bus.Packet, _ comprot.Message) {
			fmt.Printf("[RX] From %d: %s(len=%d)\n", p.Src, hexBytes(p.Payload), len(p.Payload))
		})
	}
}

func reportLoop(ctx context.Context, m *master.Master, every time.Duration) {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			fmt.Print(formatPeerTable(m.ConnectedSlaves(), time.Now()))
		}
	}
}

// formatPeerTable renders the peer table report
func formatPeerTable(list []peers.Peer, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Active slaves: %d\n", len(list))
	for _, p := range list {
		fmt.Fprintf(&b, "  Slave ID=%d, Type=%s, last seen %s ago", p.ID, p.Type, now.Sub(p.LastSeen).Truncate(time.Millisecond))
		if p.Name != "" {
			fmt.Fprintf(&b, ", Name=%s", p.Name)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func stamp() string {
	return time.Now().Format("15:04:05.000")
}

func hexBytes(data []byte) string {
	var b strings.Builder
	for _, v := range data {
		fmt.Fprintf(&b, "0x%02X ", v)
	}
	return b.String()
}

// parseIDList parses "10,11,12" or "10-12" into bus ids
func parseIDList(s string) ([]uint8, error) {
	var ids []uint8
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := parseNodeID(lo)
		if err != nil {
			return nil, err
		}
		end := start
		if isRange {
			if end, err = parseNodeID(hi); err != nil {
				return nil, err
			}
			if end < start {
				return nil, fmt.Errorf("range %q is reversed", part)
			}
		}
		for id := int(start); id <= int(end); id++ {
			ids = append(ids, uint8(id))
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no ids given")
	}
	return ids, nil
}

func parseNodeID(s string) (uint8, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	if n == comprot.AddressBroadcast || n > comprot.MaxNodeID {
		return 0, fmt.Errorf("id %d out of range (1-%d)", n, comprot.MaxNodeID)
	}
	return uint8(n), nil
}
