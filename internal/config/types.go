// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"strings"
	"time"

	"github.com/Thermoquad/plantctl/pkg/comprot"
)

// Duration is a time.Duration written as a Go duration string ("1s", "250ms")
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// D returns the value as a time.Duration
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// Device is a device type written by name ("solar") or number
type Device comprot.DeviceType

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Device) UnmarshalText(text []byte) error {
	t, err := comprot.ParseDeviceType(string(text))
	if err != nil {
		return err
	}
	*d = Device(t)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Device) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(comprot.DeviceType(d).String())), nil
}

// DeviceType returns the protocol device type
func (d Device) DeviceType() comprot.DeviceType {
	return comprot.DeviceType(d)
}
