// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comprot

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Status payload keys
const (
	StatusKeyType        = 0
	StatusKeyName        = 1
	StatusKeyUptime      = 2
	StatusKeyLed         = 3
	StatusKeyBlinking    = 4
	StatusKeyOutput      = 5
	StatusKeyTemperature = 6
)

// Status is a slave's OpStatus reply
type Status struct {
	Type        DeviceType
	Name        string
	UptimeMs    uint64
	Led         bool
	Blinking    bool
	Output      uint8 // percent
	Temperature float64
}

// EncodeStatus encodes a status reply as a CBOR map with integer keys
func EncodeStatus(s Status) ([]byte, error) {
	payload := map[int]interface{}{
		StatusKeyType:        uint64(s.Type),
		StatusKeyName:        s.Name,
		StatusKeyUptime:      s.UptimeMs,
		StatusKeyLed:         s.Led,
		StatusKeyBlinking:    s.Blinking,
		StatusKeyOutput:      uint64(s.Output),
		StatusKeyTemperature: s.Temperature,
	}
	data, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode status: %w", err)
	}
	return data, nil
}

// ParseStatus decodes a CBOR status reply. Missing keys keep zero values.
func ParseStatus(data []byte) (Status, error) {
	m, err := ParseCBORMap(data)
	if err != nil {
		return Status{}, err
	}

	var s Status
	if v, ok := GetMapUint(m, StatusKeyType); ok {
		s.Type = DeviceType(v)
	}
	if v, ok := GetMapString(m, StatusKeyName); ok {
		s.Name = v
	}
	if v, ok := GetMapUint(m, StatusKeyUptime); ok {
		s.UptimeMs = v
	}
	if v, ok := GetMapBool(m, StatusKeyLed); ok {
		s.Led = v
	}
	if v, ok := GetMapBool(m, StatusKeyBlinking); ok {
		s.Blinking = v
	}
	if v, ok := GetMapUint(m, StatusKeyOutput); ok {
		s.Output = uint8(v)
	}
	if v, ok := GetMapFloat(m, StatusKeyTemperature); ok {
		s.Temperature = v
	}
	return s, nil
}

// ParseCBORMap decodes a CBOR map with integer keys
func ParseCBORMap(data []byte) (map[int]interface{}, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty CBOR payload")
	}

	var raw interface{}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}

	v, ok := raw.(map[interface{}]interface{})
	if !ok {
		return nil, fmt.Errorf("expected map, got %T", raw)
	}

	payload := make(map[int]interface{}, len(v))
	for key, val := range v {
		switch k := key.(type) {
		case uint64:
			payload[int(k)] = val
		case int64:
			payload[int(k)] = val
		default:
			return nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return payload, nil
}

// Map value extraction helpers

// GetMapUint extracts a uint64 from a CBOR map by key
func GetMapUint(m map[int]interface{}, key int) (uint64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case uint64:
		return val, true
	case int64:
		if val >= 0 {
			return uint64(val), true
		}
		return 0, false
	case float64:
		return uint64(val), true
	}
	return 0, false
}

// GetMapFloat extracts a float64 from a CBOR map by key
func GetMapFloat(m map[int]interface{}, key int) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

// GetMapBool extracts a bool from a CBOR map by key
func GetMapBool(m map[int]interface{}, key int) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	if val, ok := v.(bool); ok {
		return val, true
	}
	return false, false
}

// GetMapString extracts a string from a CBOR map by key
func GetMapString(m map[int]interface{}, key int) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	if val, ok := v.(string); ok {
		return val, true
	}
	return "", false
}
