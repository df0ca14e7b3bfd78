// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/plantctl/internal/bus"
	"github.com/Thermoquad/plantctl/internal/link"
	"github.com/Thermoquad/plantctl/internal/master"
	"github.com/Thermoquad/plantctl/internal/peers"
	"github.com/Thermoquad/plantctl/internal/plant"
	"github.com/Thermoquad/plantctl/internal/slave"
	"github.com/Thermoquad/plantctl/pkg/comprot"
	"github.com/rs/zerolog"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    busTarget
		wantErr bool
	}{
		{"10", busTarget{ID: 10}, false},
		{"254", busTarget{ID: 254}, false},
		{"all", busTarget{All: true}, false},
		{"ALL", busTarget{All: true}, false},
		{"solar", busTarget{Type: comprot.DeviceSolar}, false},
		{"wind", busTarget{Type: comprot.DeviceWind}, false},
		{"0", busTarget{}, true},
		{"255", busTarget{}, true},
		{"toaster", busTarget{}, true},
	}
	for _, tt := range tests {
		got, err := parseTarget(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTarget(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseTarget(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseHexData(t *testing.T) {
	tests := []struct {
		args    []string
		want    []byte
		wantErr bool
	}{
		{nil, []byte{}, false},
		{[]string{"AA", "BB"}, []byte{0xAA, 0xBB}, false},
		{[]string{"AABBCCDD"}, []byte{0xAA, 0xBB, 0xCC, 0xDD}, false},
		{[]string{"0x01,0x02"}, []byte{0x01, 0x02}, false},
		{[]string{"f"}, []byte{0x0F}, false},
		{[]string{"zz"}, nil, true},
		{[]string{strings.Repeat("00", 62)}, nil, true},
	}
	for _, tt := range tests {
		got, err := parseHexData(tt.args)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseHexData(%q) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !bytes.Equal(got, tt.want) {
			t.Errorf("parseHexData(%q) = % X, want % X", tt.args, got, tt.want)
		}
	}
}

func TestParseCommandLine(t *testing.T) {
	tests := []struct {
		line string
		want busCommand
	}{
		{"led 10 on", busCommand{Target: busTarget{ID: 10}, Opcode: comprot.OpLedControl, Data: []byte{1}}},
		{"led solar off", busCommand{Target: busTarget{Type: comprot.DeviceSolar}, Opcode: comprot.OpLedControl, Data: []byte{0}}},
		{"temp wind", busCommand{Target: busTarget{Type: comprot.DeviceWind}, Opcode: comprot.OpTempRequest, Reply: true}},
		{"custom 10", busCommand{Target: busTarget{ID: 10}, Opcode: comprot.OpCustom, Data: []byte{0xAA, 0xBB, 0xCC, 0xDD}}},
		{"custom all 01 02", busCommand{Target: busTarget{All: true}, Opcode: comprot.OpCustom, Data: []byte{1, 2}}},
		{"status 12", busCommand{Target: busTarget{ID: 12}, Opcode: comprot.OpStatus, Reply: true}},
		{"output 12 75", busCommand{Target: busTarget{ID: 12}, Opcode: comprot.OpSetOutput, Data: []byte{75}, Reply: true}},
		{"raw 10 0x30 AA", busCommand{Target: busTarget{ID: 10}, Opcode: 0x30, Data: []byte{0xAA}}},
		{"raw 10 temp", busCommand{Target: busTarget{ID: 10}, Opcode: comprot.OpTempRequest, Data: []byte{}, Reply: true}},
		{"sw 10 2", busCommand{Target: busTarget{ID: 10}, StarWire: true, Opcode: 2, Data: []byte{}, Reply: true}},
		{"sw solar 0x1 01", busCommand{Target: busTarget{Type: comprot.DeviceSolar}, StarWire: true, Opcode: 1, Data: []byte{1}}},
		{"hello 10", busCommand{Target: busTarget{ID: 10}, Hello: true}},
	}
	for _, tt := range tests {
		got, err := parseCommandLine(tt.line)
		if err != nil {
			t.Errorf("parseCommandLine(%q) error = %v", tt.line, err)
			continue
		}
		if got.Target != tt.want.Target || got.Opcode != tt.want.Opcode || got.StarWire != tt.want.StarWire ||
			got.Reply != tt.want.Reply || got.Hello != tt.want.Hello || !bytes.Equal(got.Data, tt.want.Data) {
			t.Errorf("parseCommandLine(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}
}

func TestParseCommandLine_Errors(t *testing.T) {
	lines := []string{
		"led",
		"led 10",
		"led 10 dim",
		"output 10 101",
		"status solar",
		"hello all",
		"sw 10 16",
		"raw 10",
		"frobnicate 10",
		"temp 300",
	}
	for _, line := range lines {
		if _, err := parseCommandLine(line); err == nil {
			t.Errorf("parseCommandLine(%q) expected error", line)
		}
	}
	if _, err := parseCommandLine("   "); !errors.Is(err, errNoInput) {
		t.Errorf("empty line error = %v", err)
	}
}

func TestParseIDList(t *testing.T) {
	got, err := parseIDList("10, 12-14,20")
	if err != nil {
		t.Fatal(err)
	}
	want := []uint8{10, 12, 13, 14, 20}
	if !bytes.Equal(got, want) {
		t.Errorf("parseIDList = %v, want %v", got, want)
	}
	for _, bad := range []string{"", "0", "14-12", "x"} {
		if _, err := parseIDList(bad); err == nil {
			t.Errorf("parseIDList(%q) expected error", bad)
		}
	}
}

func TestFormatPeerTable(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 10, 0, time.UTC)
	out := formatPeerTable([]peers.Peer{
		{ID: 10, Type: comprot.DeviceSolar, LastSeen: now.Add(-time.Second)},
		{ID: 20, Type: comprot.DeviceWind, LastSeen: now, Name: "Turbine"},
	}, now)
	for _, want := range []string{"Active slaves: 2", "Slave ID=10, Type=SOLAR", "Name=Turbine"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatPeerTable missing %q:\n%s", want, out)
		}
	}
}

// newSimMaster runs a master and one plant slave on an in-memory bus
func newSimMaster(t *testing.T) *master.Master {
	t.Helper()
	medium := link.NewMedium()
	ctx, cancel := context.WithCancel(context.Background())

	mnode, err := bus.New(medium.Attach(), bus.Options{ID: comprot.MasterID, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	m, err := master.New(mnode, master.Config{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	joined := make(chan struct{}, 1)
	m.OnPeerJoined(func(peers.Peer) {
		select {
		case joined <- struct{}{}:
		default:
		}
	})

	snode, err := bus.New(medium.Attach(), bus.Options{ID: 10, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	s, err := slave.New(snode, slave.Config{Type: comprot.DeviceSolar, HeartbeatInterval: 20 * time.Millisecond, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	if err := plant.New(comprot.DeviceSolar, s.Name(), zerolog.Nop()).Register(s); err != nil {
		t.Fatal(err)
	}

	mdone := make(chan error, 1)
	sdone := make(chan error, 1)
	go func() { mdone <- m.Run(ctx) }()
	go func() { sdone <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-mdone
		<-sdone
	})

	select {
	case <-joined:
	case <-time.After(2 * time.Second):
		t.Fatal("slave did not join")
	}
	return m
}

func TestExecuteCommand(t *testing.T) {
	m := newSimMaster(t)
	ctx := context.Background()

	c, _ := parseCommandLine("temp 10")
	out, err := executeCommand(ctx, m, c, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Response from 10") || !strings.Contains(out, "TEMP_REQUEST") {
		t.Errorf("temp output = %q", out)
	}

	c, _ = parseCommandLine("sw 10 2")
	if out, err = executeCommand(ctx, m, c, time.Second); err != nil || !strings.Contains(out, "Response from 10") {
		t.Errorf("starwire temp = %q, %v", out, err)
	}

	c, _ = parseCommandLine("led solar on")
	if out, err = executeCommand(ctx, m, c, time.Second); err != nil || out != "Sent to 1 SOLAR slave(s)" {
		t.Errorf("led solar = %q, %v", out, err)
	}

	c, _ = parseCommandLine("custom all")
	if _, err = executeCommand(ctx, m, c, time.Second); err != nil {
		t.Errorf("custom all: %v", err)
	}

	c, _ = parseCommandLine("hello 10")
	if _, err = executeCommand(ctx, m, c, time.Second); err != nil {
		t.Errorf("hello: %v", err)
	}
}
