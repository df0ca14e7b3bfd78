// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/plantctl/internal/bus"
	"github.com/Thermoquad/plantctl/internal/master"
	"github.com/Thermoquad/plantctl/internal/peers"
	"github.com/Thermoquad/plantctl/pkg/comprot"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var monitorDemo bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for watching and commanding slaves",
	Long: `Run the master with an interactive terminal UI.

The UI shows the live peer table, bus statistics and an event log, and
accepts operator commands on its input line:

` + commandHelp + `

Enter sends the command. Esc clears the input line. Ctrl+C quits.

Supports serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorDemo, "demo", false, "Run the demo command schedule")
}

func runMonitor(cmd *cobra.Command, args []string) error {
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

	model := newMonitorModel(connInfo, func(line string) tea.Cmd {
		return runCommandLine(ctx, m, line)
	}, m.ConnectedSlaves)
	p := tea.NewProgram(model, tea.WithAltScreen())

	wireMonitor(m, p)
	startMetrics(ctx)

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	go func() {
		if err := <-done; err != nil {
			p.Send(connectionLostMsg{err: err})
		}
	}()
	if monitorDemo {
		go m.RunDemo(ctx, cfg.Master.DemoInterval.D(), func(r master.DemoResult) {
			p.Send(eventMsg{text: fmt.Sprintf("Demo: LED %s to %d, temp to %d, custom %t",
				onOff(r.LedOn), r.LedSent, r.TempSent, r.CustomSent)})
		})
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// wireMonitor forwards master events into the TUI
func wireMonitor(m *master.Master, p *tea.Program) {
	m.OnPeerJoined(func(peer peers.Peer) {
		p.Send(eventMsg{text: fmt.Sprintf("Slave %d joined (%s)", peer.ID, peer.Type)})
	})
	m.OnPeerLost(func(peer peers.Peer) {
		p.Send(eventMsg{text: fmt.Sprintf("Slave %d timed out (%s)", peer.ID, peer.Type), isError: true})
	})
	m.OnHello(func(src uint8, name string) {
		p.Send(eventMsg{text: fmt.Sprintf("Slave %d is %q", src, name)})
	})
	m.OnResponse(func(src uint8, r comprot.Response) {
		p.Send(responseMsg{src: src, resp: r})
	})
	m.SetDebugReceiveHandler(func(pkt bus.Packet, msg comprot.Message) {
		p.Send(frameMsg{src: pkt.Src, broadcast: pkt.Broadcast, parsed: msg != nil})
	})
}

// runCommandLine parses and executes one input line off the UI goroutine
func runCommandLine(ctx context.Context, m *master.Master, line string) tea.Cmd {
	c, err := parseCommandLine(line)
	if err != nil {
		return func() tea.Msg { return commandResultMsg{line: line, err: err} }
	}
	return func() tea.Msg {
		// Replies also arrive through OnResponse; the UI shows those.
		_, err := executeCommand(ctx, m, c, 0)
		return commandResultMsg{line: line, err: err}
	}
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

// refreshInterval is how often the peer table redraws
const refreshInterval = 500 * time.Millisecond
