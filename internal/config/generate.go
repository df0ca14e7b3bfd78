// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Thermoquad/plantctl/pkg/comprot"
)

// GenerateSlaves returns slave entries for ids start..end inclusive
func GenerateSlaves(start, end uint8, deviceType comprot.DeviceType) ([]SlaveConfig, error) {
	if err := ValidateNodeID(start); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if err := ValidateNodeID(end); err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	if end < start {
		return nil, fmt.Errorf("end id %d is below start id %d", end, start)
	}

	var slaves []SlaveConfig
	for id := int(start); id <= int(end); id++ {
		s := SlaveConfig{
			ID:                uint8(id),
			Type:              Device(deviceType),
			Name:              DeviceName(uint8(id)),
			HeartbeatInterval: Duration(time.Second),
		}
		if err := ValidateSlave(s); err != nil {
			return nil, fmt.Errorf("slave %d: %w", id, err)
		}
		slaves = append(slaves, s)
	}
	return slaves, nil
}

// MergeSlaves appends entries whose id is not already configured and
// returns the ids that were skipped
func (f *File) MergeSlaves(slaves []SlaveConfig) (skipped []uint8) {
	for _, s := range slaves {
		if _, exists := f.Slave(s.ID); exists {
			skipped = append(skipped, s.ID)
			continue
		}
		f.Slaves = append(f.Slaves, s)
	}
	return skipped
}

type slavesDoc struct {
	Slaves []SlaveConfig `toml:"slaves"`
}

// WriteSlaves encodes slave entries as [[slaves]] tables
func WriteSlaves(w io.Writer, slaves []SlaveConfig) error {
	return toml.NewEncoder(w).Encode(slavesDoc{Slaves: slaves})
}

// Write encodes the whole file
func Write(w io.Writer, f File) error {
	return toml.NewEncoder(w).Encode(f)
}

// Save writes f to path, refusing to overwrite unless force is set
func Save(path string, f File, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config exists at %s (use --force to overwrite)", path)
		}
	}
	var buf bytes.Buffer
	if err := Write(&buf, f); err != nil {
		return fmt.Errorf("config encode failed: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("config write failed (%s): %w", path, err)
	}
	return nil
}
