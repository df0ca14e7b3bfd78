// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads and validates plantctl's TOML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Thermoquad/plantctl/pkg/comprot"
)

// File is the top-level configuration file
type File struct {
	Log    LogConfig     `toml:"log"`
	Bus    BusConfig     `toml:"bus"`
	Master MasterConfig  `toml:"master"`
	Hub    HubConfig     `toml:"hub"`
	Slaves []SlaveConfig `toml:"slaves"`
}

// LogConfig selects log level and optional rotated file output
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// BusConfig describes the connection and frame options
type BusConfig struct {
	Transport   string   `toml:"transport"`
	Port        string   `toml:"port"`
	Baud        int      `toml:"baud"`
	URL         string   `toml:"url"`
	Username    string   `toml:"username"`
	NoSSLVerify bool     `toml:"no_ssl_verify"`
	CRC32       *bool    `toml:"crc32"` // default true
	Ack         bool     `toml:"ack"`
	MaxAttempts int      `toml:"max_attempts"`
	AckTimeout  Duration `toml:"ack_timeout"`
}

// UseCRC32 reports whether frames carry a CRC-32 trailer
func (b BusConfig) UseCRC32() bool {
	return b.CRC32 == nil || *b.CRC32
}

// MasterConfig configures the master node
type MasterConfig struct {
	ID            uint8    `toml:"id"`
	PeerTimeout   Duration `toml:"peer_timeout"`
	SweepInterval Duration `toml:"sweep_interval"`
	TypeMode      string   `toml:"type_mode"`
	HelloInterval Duration `toml:"hello_interval"`
	HelloTargets  []uint8  `toml:"hello_targets"`
	DemoInterval  Duration `toml:"demo_interval"`
	MetricsAddr   string   `toml:"metrics_addr"`
}

// HubConfig configures the WebSocket relay
type HubConfig struct {
	Listen   string `toml:"listen"`
	Username string `toml:"username"`
}

// SlaveConfig describes one slave node
type SlaveConfig struct {
	ID                uint8    `toml:"id"`
	Type              Device   `toml:"type"`
	Name              string   `toml:"name"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
}

// Default returns the configuration used when no file is given
func Default() File {
	var f File
	f.applyDefaults()
	return f
}

// Load reads, defaults and validates a configuration file
func Load(path string) (File, error) {
	var f File
	if err := loadToml(path, &f); err != nil {
		return File{}, err
	}
	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return File{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return f, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	md, err := toml.Decode(string(data), out)
	if err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func (f *File) applyDefaults() {
	if f.Log.Level == "" {
		f.Log.Level = "info"
	}
	if f.Bus.Baud == 0 {
		f.Bus.Baud = 115200
	}
	if f.Bus.CRC32 == nil {
		on := true
		f.Bus.CRC32 = &on
	}
	if f.Bus.MaxAttempts == 0 {
		f.Bus.MaxAttempts = 3
	}
	if f.Bus.AckTimeout == 0 {
		f.Bus.AckTimeout = Duration(100 * time.Millisecond)
	}
	if f.Master.ID == 0 {
		f.Master.ID = comprot.MasterID
	}
	if f.Master.PeerTimeout == 0 {
		f.Master.PeerTimeout = Duration(5 * time.Second)
	}
	if f.Master.SweepInterval == 0 {
		f.Master.SweepInterval = Duration(time.Second)
	}
	if f.Master.TypeMode == "" {
		f.Master.TypeMode = "iterate"
	}
	if f.Master.DemoInterval == 0 {
		f.Master.DemoInterval = Duration(9300 * time.Millisecond)
	}
	if f.Hub.Listen == "" {
		f.Hub.Listen = ":8080"
	}
	for i := range f.Slaves {
		s := &f.Slaves[i]
		if s.Name == "" {
			s.Name = DeviceName(s.ID)
		}
		if s.HeartbeatInterval == 0 {
			s.HeartbeatInterval = Duration(time.Second)
		}
	}
}

// Validate checks ranges and cross-field constraints
func (f File) Validate() error {
	switch f.Bus.Transport {
	case "", "serial", "websocket", "memory":
	default:
		return fmt.Errorf("bus.transport %q unknown (use serial, websocket or memory)", f.Bus.Transport)
	}
	if f.Bus.Baud < 0 {
		return fmt.Errorf("bus.baud must be positive")
	}
	if f.Bus.MaxAttempts < 1 {
		return fmt.Errorf("bus.max_attempts must be at least 1")
	}
	if f.Bus.AckTimeout <= 0 {
		return fmt.Errorf("bus.ack_timeout must be positive")
	}

	if err := ValidateNodeID(f.Master.ID); err != nil {
		return fmt.Errorf("master.id: %w", err)
	}
	if f.Master.PeerTimeout <= 0 || f.Master.SweepInterval <= 0 {
		return fmt.Errorf("master timeouts must be positive")
	}
	if f.Master.HelloInterval < 0 {
		return fmt.Errorf("master.hello_interval must not be negative")
	}
	switch f.Master.TypeMode {
	case "iterate", "bus":
	default:
		return fmt.Errorf("master.type_mode %q unknown (use iterate or bus)", f.Master.TypeMode)
	}
	for _, id := range f.Master.HelloTargets {
		if err := ValidateNodeID(id); err != nil {
			return fmt.Errorf("master.hello_targets: %w", err)
		}
	}

	seen := make(map[uint8]bool)
	for i, s := range f.Slaves {
		if err := ValidateSlave(s); err != nil {
			return fmt.Errorf("slaves[%d] invalid: %w", i, err)
		}
		if s.ID == f.Master.ID {
			return fmt.Errorf("slaves[%d] invalid: id %d is the master id", i, s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("slaves[%d] invalid: duplicate id %d", i, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// ValidateNodeID checks a unicast bus id
func ValidateNodeID(id uint8) error {
	if id == comprot.AddressBroadcast || id > comprot.MaxNodeID {
		return fmt.Errorf("id %d out of range (1-%d)", id, comprot.MaxNodeID)
	}
	return nil
}

// ValidateSlave checks one slave entry
func ValidateSlave(s SlaveConfig) error {
	if err := ValidateNodeID(s.ID); err != nil {
		return err
	}
	if s.Type.DeviceType() == comprot.DeviceAny {
		return fmt.Errorf("type is required")
	}
	if s.Type.DeviceType() > comprot.MaxNibble {
		return fmt.Errorf("type %d does not fit a StarWire target (1-%d)", s.Type, comprot.MaxNibble)
	}
	if len(s.Name) > comprot.MaxPayloadSize-1 {
		return fmt.Errorf("name longer than %d bytes", comprot.MaxPayloadSize-1)
	}
	if s.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	return nil
}

// Slave returns the slave entry with id
func (f File) Slave(id uint8) (SlaveConfig, bool) {
	for _, s := range f.Slaves {
		if s.ID == id {
			return s, true
		}
	}
	return SlaveConfig{}, false
}

// DeviceName is the default device name of a slave
func DeviceName(id uint8) string {
	return fmt.Sprintf("PjonSlave%d", id)
}
