// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/plantctl/internal/peers"
	"github.com/Thermoquad/plantctl/pkg/comprot"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	connInfo string
	execute  func(line string) tea.Cmd
	snapshot func() []peers.Peer

	peerTable table.Model
	input     textinput.Model

	frames     uint64
	broadcasts uint64
	unparsed   uint64
	responses  uint64
	started    time.Time

	eventLog      []logEntry
	maxLogEntries int

	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type eventMsg struct {
	text    string
	isError bool
}

type responseMsg struct {
	src  uint8
	resp comprot.Response
}

type frameMsg struct {
	src       uint8
	broadcast bool
	parsed    bool
}

type commandResultMsg struct {
	line string
	err  error
}

type connectionLostMsg struct {
	err error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

var peerColumns = []table.Column{
	{Title: "ID", Width: 4},
	{Title: "Type", Width: 8},
	{Title: "Name", Width: 16},
	{Title: "Last seen", Width: 10},
	{Title: "Online", Width: 28},
}

func newMonitorModel(connInfo string, execute func(string) tea.Cmd, snapshot func() []peers.Peer) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "led solar on"
	ti.Prompt = "> "
	ti.CharLimit = 120
	ti.Width = 60
	ti.Focus()

	t := table.New(
		table.WithColumns(peerColumns),
		table.WithHeight(8),
		table.WithFocused(false),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = lipgloss.NewStyle()
	t.SetStyles(styles)

	return monitorModel{
		connInfo:      connInfo,
		execute:       execute,
		snapshot:      snapshot,
		peerTable:     t,
		input:         ti,
		started:       time.Now(),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, monitorTickCmd())
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEsc:
			m.input.SetValue("")
			return m, nil
		case tea.KeyEnter:
			return m.submit()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(20, msg.Width-8)

	case monitorTickMsg:
		m.refreshPeers(time.Time(msg))
		return m, monitorTickCmd()

	case eventMsg:
		m.addLogEntry(msg.text, msg.isError)

	case frameMsg:
		m.frames++
		if msg.broadcast {
			m.broadcasts++
		}
		if !msg.parsed {
			m.unparsed++
		}

	case responseMsg:
		m.responses++
		text := strings.TrimSpace(comprot.FormatResponseData(msg.resp.Opcode, msg.resp.Data))
		m.addLogEntry(fmt.Sprintf("Response from %d: %s %s", msg.src, comprot.FormatOpcode(msg.resp.Opcode), text), false)

	case commandResultMsg:
		switch {
		case errors.Is(msg.err, errNoInput):
		case msg.err != nil:
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.line, msg.err), true)
		default:
			m.addLogEntry(fmt.Sprintf("Sent: %s", msg.line), false)
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry(fmt.Sprintf("Connection lost: %v", msg.err), true)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m monitorModel) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	switch strings.ToLower(line) {
	case "":
		return m, nil
	case "quit", "exit":
		m.quitting = true
		return m, tea.Quit
	case "help":
		for _, l := range strings.Split(commandHelp, "\n") {
			m.addLogEntry(l, false)
		}
		return m, nil
	case "clear":
		m.eventLog = m.eventLog[:0]
		return m, nil
	}
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}
	return m, m.execute(line)
}

func (m *monitorModel) refreshPeers(now time.Time) {
	list := m.snapshot()
	rows := make([]table.Row, 0, len(list))
	for _, p := range list {
		rows = append(rows, peerRow(p, now))
	}
	m.peerTable.SetRows(rows)
	m.peerTable.SetHeight(min(max(len(rows)+1, 3), 12))
}

func peerRow(p peers.Peer, now time.Time) table.Row {
	name := p.Name
	if name == "" {
		name = "-"
	}
	return table.Row{
		strconv.Itoa(int(p.ID)),
		p.Type.String(),
		name,
		fmt.Sprintf("%.1fs", now.Sub(p.LastSeen).Seconds()),
		formatUptime(uint64(now.Sub(p.FirstSeen).Milliseconds())),
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("PLANTCTL - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Connection: %s | Type 'help' for commands | Ctrl+C to quit", m.connInfo)))
	s.WriteString("\n\n")

	if m.connectionLost {
		s.WriteString(errorStyle.Render("✗ Connection lost"))
		s.WriteString("\n\n")
	}

	// Statistics
	elapsed := time.Since(m.started).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(m.frames) / elapsed
	}
	stats := fmt.Sprintf("%s %s   %s %s   %s %s   %s %s",
		labelStyle.Render("Frames:"), valueStyle.Render(strconv.FormatUint(m.frames, 10)),
		labelStyle.Render("Broadcast:"), valueStyle.Render(strconv.FormatUint(m.broadcasts, 10)),
		labelStyle.Render("Responses:"), valueStyle.Render(strconv.FormatUint(m.responses, 10)),
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f frames/s", rate)),
	)
	if m.unparsed > 0 {
		stats += fmt.Sprintf("   %s %s", labelStyle.Render("Unparsed:"), errorStyle.Render(strconv.FormatUint(m.unparsed, 10)))
	}
	s.WriteString(boxStyle.Render(stats))
	s.WriteString("\n\n")

	// Peers
	s.WriteString(labelStyle.Render(fmt.Sprintf("Slaves (%d):", len(m.peerTable.Rows()))))
	s.WriteString("\n")
	if len(m.peerTable.Rows()) == 0 {
		s.WriteString(boxStyle.Render(headerStyle.Render("(waiting for heartbeats)")))
	} else {
		s.WriteString(boxStyle.Render(m.peerTable.View()))
	}
	s.WriteString("\n\n")

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - m.peerTable.Height() - 16 // header, stats and input
	if logHeight < 5 {
		logHeight = 5
	}
	var logContent strings.Builder
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	}
	start := max(len(m.eventLog)-logHeight, 0)
	for _, entry := range m.eventLog[start:] {
		ts := headerStyle.Render(entry.timestamp.Format("15:04:05.000"))
		if entry.isError {
			logContent.WriteString(fmt.Sprintf("%s %s\n", ts, errorStyle.Render("✗ "+entry.message)))
		} else {
			logContent.WriteString(fmt.Sprintf("%s %s\n", ts, infoStyle.Render("ℹ "+entry.message)))
		}
	}
	s.WriteString(boxStyle.Width(max(m.width-4, 20)).Render(strings.TrimRight(logContent.String(), "\n")))
	s.WriteString("\n\n")

	s.WriteString(m.input.View())
	return s.String()
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	for _, u := range []struct {
		n    uint64
		unit string
	}{
		{days, "day"},
		{hours, "hour"},
		{minutes, "minute"},
	} {
		switch {
		case u.n == 1:
			parts = append(parts, "1 "+u.unit)
		case u.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", u.n, u.unit))
		}
	}
	if seconds > 0 || len(parts) == 0 {
		if seconds == 1 {
			parts = append(parts, "1 second")
		} else {
			parts = append(parts, fmt.Sprintf("%d seconds", seconds))
		}
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}
