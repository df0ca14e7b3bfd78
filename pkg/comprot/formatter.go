// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comprot

import (
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	msgType := FormatMessageType(f.Type())

	dst := fmt.Sprintf("%d", f.dst)
	if f.IsBroadcast() {
		dst = "ALL"
	}

	if f.IsAck() {
		return fmt.Sprintf("[%s] ACK %d -> %s\n", timestamp, f.src, dst)
	}

	result := fmt.Sprintf("[%s] %s (0x%02X) %d -> %s len=%d%s\n",
		timestamp, msgType, f.Type(), f.src, dst, len(f.payload), formatFlags(f.flags))

	msg, err := f.Message()
	if err != nil {
		result += fmt.Sprintf("  Error: %v\n", err)
		return result + FormatHex(f.payload)
	}
	return result + FormatMessage(msg)
}

func formatFlags(flags uint8) string {
	var parts []string
	if flags&FlagCRC32 != 0 {
		parts = append(parts, "crc32")
	}
	if flags&FlagAckRequest != 0 {
		parts = append(parts, "ack-req")
	}
	if len(parts) == 0 {
		return ""
	}
	return " [" + strings.Join(parts, ",") + "]"
}

// FormatMessageType returns the human-readable name for a message type
func FormatMessageType(msgType uint8) string {
	switch msgType {
	case MsgHelloRequest:
		return "HELLO_REQUEST"
	case MsgHelloResponse:
		return "HELLO_RESPONSE"
	case MsgHeartbeat:
		return "HEARTBEAT"
	case MsgCommand:
		return "COMMAND"
	case MsgResponse:
		return "RESPONSE"
	case MsgStarWire:
		return "STARWIRE"
	default:
		return "UNKNOWN"
	}
}

// FormatOpcode returns the human-readable name for a command opcode
func FormatOpcode(op uint8) string {
	switch op {
	case OpLedControl:
		return "LED_CONTROL"
	case OpTempRequest:
		return "TEMP_REQUEST"
	case OpCustom:
		return "CUSTOM"
	case OpStatus:
		return "STATUS"
	case OpSetOutput:
		return "SET_OUTPUT"
	default:
		return "UNKNOWN"
	}
}

// FormatNibble returns the human-readable name for a StarWire command nibble
func FormatNibble(n uint8) string {
	switch n {
	case NibbleLedControl:
		return "LED_CONTROL"
	case NibbleTempRequest:
		return "TEMP_REQUEST"
	case NibbleCustom:
		return "CUSTOM"
	case NibbleStatus:
		return "STATUS"
	default:
		return "UNKNOWN"
	}
}

// String returns the device type name
func (t DeviceType) String() string {
	switch t {
	case DeviceAny:
		return "ANY"
	case DeviceSolar:
		return "SOLAR"
	case DeviceWind:
		return "WIND"
	case DeviceBattery:
		return "BATTERY"
	case DeviceHydro:
		return "HYDRO"
	case DeviceCoal:
		return "COAL"
	case DeviceNuclear:
		return "NUCLEAR"
	case DeviceGas:
		return "GAS"
	default:
		return fmt.Sprintf("TYPE_%d", uint8(t))
	}
}

// ParseDeviceType accepts a device type name (case-insensitive) or number
func ParseDeviceType(s string) (DeviceType, error) {
	for t := DeviceAny; t <= DeviceGas; t++ {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	var n uint8
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("unknown device type %q", s)
	}
	return DeviceType(n), nil
}

// ParseOpcode accepts an opcode name (case-insensitive, e.g. "led" or
// "LED_CONTROL") or a number (decimal or 0x-prefixed hex)
func ParseOpcode(s string) (uint8, error) {
	switch strings.ToLower(s) {
	case "led", "led_control":
		return OpLedControl, nil
	case "temp", "temp_request":
		return OpTempRequest, nil
	case "custom":
		return OpCustom, nil
	case "status":
		return OpStatus, nil
	case "output", "set_output":
		return OpSetOutput, nil
	}
	var n uint8
	if _, err := fmt.Sscan(s, &n); err == nil {
		return n, nil
	}
	if _, err := fmt.Sscanf(strings.ToLower(s), "0x%x", &n); err == nil {
		return n, nil
	}
	return 0, fmt.Errorf("unknown opcode %q", s)
}

// FormatMessage formats a parsed message body
func FormatMessage(msg Message) string {
	switch m := msg.(type) {
	case Heartbeat:
		return fmt.Sprintf("  ID: %d, Type: %s (%d)\n", m.ID, m.Type, uint8(m.Type))

	case Command:
		result := fmt.Sprintf("  Target: %s, Opcode: %s (0x%02X)\n", formatTarget(m.TargetType), FormatOpcode(m.Opcode), m.Opcode)
		return result + FormatCommandData(m.Opcode, m.Data)

	case StarWireCommand:
		result := fmt.Sprintf("  Target: %s, Nibble: %s (0x%X)\n", formatTarget(m.TargetType), FormatNibble(m.Nibble), m.Nibble)
		if len(m.Data) > 0 {
			result += FormatHex(m.Data)
		}
		return result

	case Response:
		result := fmt.Sprintf("  Opcode: %s (0x%02X)\n", FormatOpcode(m.Opcode), m.Opcode)
		return result + FormatResponseData(m.Opcode, m.Data)

	case HelloRequest:
		return "  (no payload)\n"

	case HelloResponse:
		return fmt.Sprintf("  Name: %q\n", m.Name)
	}
	return ""
}

func formatTarget(t DeviceType) string {
	if t == DeviceAny {
		return "unicast/all"
	}
	return t.String()
}

// FormatCommandData formats a command's data bytes for known opcodes
func FormatCommandData(op uint8, data []byte) string {
	switch op {
	case OpLedControl:
		if len(data) >= 1 {
			return fmt.Sprintf("  LED: %s\n", onOff(data[0] != 0))
		}
	case OpSetOutput:
		if len(data) >= 1 {
			return fmt.Sprintf("  Output: %d%%\n", data[0])
		}
	case OpTempRequest, OpStatus:
		if len(data) == 0 {
			return "  (no payload)\n"
		}
	}
	if len(data) == 0 {
		return ""
	}
	return FormatHex(data)
}

// FormatResponseData formats a response's data bytes for known opcodes
func FormatResponseData(op uint8, data []byte) string {
	switch op {
	case OpTempRequest:
		if t, err := ParseTemperature(data); err == nil {
			return fmt.Sprintf("  Temperature: %.2f°C\n", t)
		}
	case OpStatus:
		if s, err := ParseStatus(data); err == nil {
			return FormatStatus(s)
		}
	}
	if len(data) == 0 {
		return ""
	}
	return FormatHex(data)
}

// FormatStatus formats a status reply
func FormatStatus(s Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  Name: %s, Type: %s\n", s.Name, s.Type)
	fmt.Fprintf(&b, "  Uptime: %d ms (%.2f sec)\n", s.UptimeMs, float64(s.UptimeMs)/1000.0)
	fmt.Fprintf(&b, "  LED: %s, Blinking: %v, Output: %d%%\n", onOff(s.Led), s.Blinking, s.Output)
	fmt.Fprintf(&b, "  Temperature: %.2f°C\n", s.Temperature)
	return b.String()
}

// FormatHex renders bytes as a hex dump
func FormatHex(data []byte) string {
	var b strings.Builder
	b.WriteString("  Payload: ")
	for i, v := range data {
		if i > 0 && i%16 == 0 {
			b.WriteString("\n           ")
		}
		fmt.Fprintf(&b, "%02X ", v)
	}
	b.WriteString("\n")
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}
