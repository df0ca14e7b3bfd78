// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comprot

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyShortMessage AnomalyType = iota
	AnomalyUnknownType
	AnomalyUnknownOpcode
	AnomalyIDMismatch
	AnomalyInvalidDeviceType
	AnomalyInvalidValue
	AnomalyInvalidAddress
	AnomalyCRCError
	AnomalyDecodeError
)

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFrame validates frame structure and detects anomalies
// Returns a slice of validation errors (empty if frame is valid)
func ValidateFrame(f *Frame) []ValidationError {
	if f.IsAck() {
		if len(f.payload) != 0 {
			return []ValidationError{{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("ACK frame carries %d payload bytes", len(f.payload)),
				Details: map[string]interface{}{"length": len(f.payload)},
			}}
		}
		return nil
	}

	if f.src == AddressBroadcast {
		return []ValidationError{{
			Type:    AnomalyInvalidAddress,
			Message: "frame sent from broadcast address 0",
			Details: map[string]interface{}{"src": f.src},
		}}
	}

	msg, err := ParseMessage(f.payload)
	if err != nil {
		anomaly := AnomalyShortMessage
		if len(f.payload) > 0 && FormatMessageType(f.payload[0]) == "UNKNOWN" {
			anomaly = AnomalyUnknownType
		}
		return []ValidationError{{
			Type:    anomaly,
			Message: err.Error(),
			Details: map[string]interface{}{"length": len(f.payload)},
		}}
	}

	switch m := msg.(type) {
	case Heartbeat:
		return validateHeartbeat(f, m)
	case Command:
		return validateCommand(m)
	case StarWireCommand:
		return validateStarWire(m)
	}
	return nil
}

// validateHeartbeat validates a HEARTBEAT message
func validateHeartbeat(f *Frame, h Heartbeat) []ValidationError {
	var errors []ValidationError

	if len(f.payload) != HeartbeatSize {
		errors = append(errors, ValidationError{
			Type:    AnomalyShortMessage,
			Message: fmt.Sprintf("HEARTBEAT has %d bytes (expected %d)", len(f.payload), HeartbeatSize),
			Details: map[string]interface{}{"length": len(f.payload), "expected": HeartbeatSize},
		})
	}

	if h.ID != f.src {
		errors = append(errors, ValidationError{
			Type:    AnomalyIDMismatch,
			Message: fmt.Sprintf("HEARTBEAT id=%d sent from bus id %d", h.ID, f.src),
			Details: map[string]interface{}{"id": h.ID, "src": f.src},
		})
	}

	if h.Type == DeviceAny {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidDeviceType,
			Message: "HEARTBEAT announces device type 0",
			Details: map[string]interface{}{"type": uint8(h.Type)},
		})
	}

	return errors
}

// validateCommand validates a COMMAND message
func validateCommand(c Command) []ValidationError {
	var errors []ValidationError

	if FormatOpcode(c.Opcode) == "UNKNOWN" {
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownOpcode,
			Message: fmt.Sprintf("Unknown opcode 0x%02X", c.Opcode),
			Details: map[string]interface{}{"opcode": c.Opcode},
		})
	}

	switch c.Opcode {
	case OpLedControl:
		if len(c.Data) < 1 {
			errors = append(errors, ValidationError{
				Type:    AnomalyShortMessage,
				Message: "LED_CONTROL without state byte",
				Details: map[string]interface{}{"length": len(c.Data)},
			})
		} else if c.Data[0] > 1 {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("LED_CONTROL state=%d (valid 0-1)", c.Data[0]),
				Details: map[string]interface{}{"state": c.Data[0]},
			})
		}
	case OpSetOutput:
		if len(c.Data) < 1 {
			errors = append(errors, ValidationError{
				Type:    AnomalyShortMessage,
				Message: "SET_OUTPUT without percent byte",
				Details: map[string]interface{}{"length": len(c.Data)},
			})
		} else if c.Data[0] > 100 {
			errors = append(errors, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("SET_OUTPUT percent=%d (max 100)", c.Data[0]),
				Details: map[string]interface{}{"percent": c.Data[0], "max": 100},
			})
		}
	}

	return errors
}

// validateStarWire validates a STARWIRE message
func validateStarWire(c StarWireCommand) []ValidationError {
	if FormatNibble(c.Nibble) == "UNKNOWN" {
		return []ValidationError{{
			Type:    AnomalyUnknownOpcode,
			Message: fmt.Sprintf("Unknown StarWire nibble 0x%X", c.Nibble),
			Details: map[string]interface{}{"nibble": c.Nibble},
		}}
	}
	return nil
}
