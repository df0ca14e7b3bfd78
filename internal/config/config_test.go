// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/plantctl/pkg/comprot"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plantctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Full(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "debug"

[bus]
transport = "websocket"
url = "ws://hub.local:8080/bus"
crc32 = false
ack = true
ack_timeout = "250ms"

[master]
peer_timeout = "3s"
type_mode = "bus"
hello_interval = "2s"
hello_targets = [10, 11]

[[slaves]]
id = 10
type = "solar"

[[slaves]]
id = 11
type = 2
name = "WindFarm"
heartbeat_interval = "500ms"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Bus.Transport != "websocket" || !cfg.Bus.Ack {
		t.Errorf("top-level fields: %+v", cfg)
	}
	if cfg.Bus.UseCRC32() {
		t.Error("crc32 = false was not applied")
	}
	if cfg.Bus.AckTimeout.D() != 250*time.Millisecond || cfg.Bus.Baud != 115200 {
		t.Errorf("bus = %+v", cfg.Bus)
	}
	if cfg.Master.ID != 1 || cfg.Master.PeerTimeout.D() != 3*time.Second || cfg.Master.SweepInterval.D() != time.Second {
		t.Errorf("master = %+v", cfg.Master)
	}
	if cfg.Master.TypeMode != "bus" || len(cfg.Master.HelloTargets) != 2 {
		t.Errorf("master = %+v", cfg.Master)
	}

	if len(cfg.Slaves) != 2 {
		t.Fatalf("slaves = %+v", cfg.Slaves)
	}
	s10, _ := cfg.Slave(10)
	if s10.Type.DeviceType() != comprot.DeviceSolar || s10.Name != "PjonSlave10" || s10.HeartbeatInterval.D() != time.Second {
		t.Errorf("slave 10 = %+v", s10)
	}
	s11, _ := cfg.Slave(11)
	if s11.Type.DeviceType() != comprot.DeviceWind || s11.Name != "WindFarm" || s11.HeartbeatInterval.D() != 500*time.Millisecond {
		t.Errorf("slave 11 = %+v", s11)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad toml", "[bus\n", "parse failed"},
		{"unknown key", "[bus]\nspeed = 9600\n", "unknown keys"},
		{"bad duration", "[master]\npeer_timeout = \"soon\"\n", "parse failed"},
		{"bad transport", "[bus]\ntransport = \"smoke\"\n", "transport"},
		{"bad mode", "[master]\ntype_mode = \"flood\"\n", "type_mode"},
		{"slave id zero", "[[slaves]]\nid = 0\ntype = \"solar\"\n", "slaves[0]"},
		{"slave id 255", "[[slaves]]\nid = 255\ntype = \"solar\"\n", "out of range"},
		{"slave no type", "[[slaves]]\nid = 10\n", "type is required"},
		{"slave type too big", "[[slaves]]\nid = 10\ntype = 16\n", "StarWire"},
		{"duplicate", "[[slaves]]\nid = 10\ntype = 1\n[[slaves]]\nid = 10\ntype = 2\n", "duplicate"},
		{"master id clash", "[[slaves]]\nid = 1\ntype = 1\n", "master id"},
		{"hello target", "[master]\nhello_targets = [0]\n", "hello_targets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want containing %q", err, tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Master.PeerTimeout.D() != 5*time.Second || cfg.Master.DemoInterval.D() != 9300*time.Millisecond {
		t.Errorf("master defaults = %+v", cfg.Master)
	}
	if !cfg.Bus.UseCRC32() {
		t.Error("CRC-32 should be on by default")
	}
}

func TestGenerateSlaves(t *testing.T) {
	slaves, err := GenerateSlaves(10, 13, comprot.DeviceBattery)
	if err != nil {
		t.Fatal(err)
	}
	if len(slaves) != 4 || slaves[0].ID != 10 || slaves[3].Name != "PjonSlave13" {
		t.Errorf("slaves = %+v", slaves)
	}

	if _, err := GenerateSlaves(20, 10, comprot.DeviceSolar); err == nil {
		t.Error("expected error for reversed range")
	}
	if _, err := GenerateSlaves(0, 10, comprot.DeviceSolar); err == nil {
		t.Error("expected error for start 0")
	}
	if _, err := GenerateSlaves(10, 11, comprot.DeviceAny); err == nil {
		t.Error("expected error without device type")
	}

	// Full range ends at 254 without overflowing
	all, err := GenerateSlaves(250, 254, comprot.DeviceGas)
	if err != nil || len(all) != 5 {
		t.Errorf("GenerateSlaves(250, 254) = %d entries, %v", len(all), err)
	}
}

func TestMergeSlaves(t *testing.T) {
	cfg := Default()
	first, _ := GenerateSlaves(10, 12, comprot.DeviceSolar)
	if skipped := cfg.MergeSlaves(first); len(skipped) != 0 {
		t.Errorf("skipped = %v", skipped)
	}
	second, _ := GenerateSlaves(12, 13, comprot.DeviceWind)
	skipped := cfg.MergeSlaves(second)
	if len(skipped) != 1 || skipped[0] != 12 {
		t.Errorf("skipped = %v, want [12]", skipped)
	}
	if len(cfg.Slaves) != 4 {
		t.Errorf("len(Slaves) = %d, want 4", len(cfg.Slaves))
	}
	if s, _ := cfg.Slave(12); s.Type.DeviceType() != comprot.DeviceSolar {
		t.Error("existing slave overwritten")
	}
}

func TestWriteSlaves_LoadsBack(t *testing.T) {
	slaves, _ := GenerateSlaves(10, 11, comprot.DeviceHydro)

	var buf bytes.Buffer
	if err := WriteSlaves(&buf, slaves); err != nil {
		t.Fatal(err)
	}
	text := buf.String()
	if !strings.Contains(text, "[[slaves]]") || !strings.Contains(text, `type = "hydro"`) || !strings.Contains(text, `heartbeat_interval = "1s"`) {
		t.Errorf("unexpected encoding:\n%s", text)
	}

	cfg, err := Load(writeConfig(t, text))
	if err != nil {
		t.Fatalf("Load of generated slaves failed: %v", err)
	}
	if s, ok := cfg.Slave(11); !ok || s.Type.DeviceType() != comprot.DeviceHydro {
		t.Errorf("slave 11 = %+v", s)
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.toml")
	cfg := Default()
	cfg.Slaves, _ = GenerateSlaves(10, 10, comprot.DeviceCoal)

	if err := Save(path, cfg, false); err != nil {
		t.Fatal(err)
	}
	if err := Save(path, cfg, false); err == nil {
		t.Error("Save overwrote without force")
	}
	if err := Save(path, cfg, true); err != nil {
		t.Errorf("Save with force: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load of saved config failed: %v", err)
	}
	if len(loaded.Slaves) != 1 || loaded.Master.TypeMode != "iterate" {
		t.Errorf("loaded = %+v", loaded)
	}
}
