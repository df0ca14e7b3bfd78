// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comprot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Message parsing errors
var (
	ErrShortMessage   = errors.New("message too short")
	ErrUnknownMessage = errors.New("unknown message type")
)

// Message is a parsed frame payload
type Message interface {
	MessageType() uint8
	Encode() []byte
}

// Heartbeat is the liveness message a slave sends to the master
type Heartbeat struct {
	ID   uint8
	Type DeviceType
}

// Command asks slaves to run an opcode.
// TargetType 0 addresses every device type.
type Command struct {
	TargetType DeviceType
	Opcode     uint8
	Data       []byte
}

// StarWireCommand is the nibble-addressed command of the StarWire dialect.
// TargetType is limited to 4 bits.
type StarWireCommand struct {
	TargetType DeviceType
	Nibble     uint8
	Data       []byte
}

// Response carries a slave's reply to a command
type Response struct {
	Opcode uint8
	Data   []byte
}

// HelloRequest asks a slave to identify itself
type HelloRequest struct{}

// HelloResponse carries the slave's device name
type HelloResponse struct {
	Name string
}

func (Heartbeat) MessageType() uint8       { return MsgHeartbeat }
func (Command) MessageType() uint8         { return MsgCommand }
func (StarWireCommand) MessageType() uint8 { return MsgStarWire }
func (Response) MessageType() uint8        { return MsgResponse }
func (HelloRequest) MessageType() uint8    { return MsgHelloRequest }
func (HelloResponse) MessageType() uint8   { return MsgHelloResponse }

// Encode returns the fixed 3-byte heartbeat {HEARTBEAT, id, type}
func (h Heartbeat) Encode() []byte {
	return []byte{MsgHeartbeat, h.ID, uint8(h.Type)}
}

// Encode returns {COMMAND, targetType, opcode, data...}
func (c Command) Encode() []byte {
	out := make([]byte, 0, 3+len(c.Data))
	out = append(out, MsgCommand, uint8(c.TargetType), c.Opcode)
	return append(out, c.Data...)
}

// Encode returns {STARWIRE, nibble<<4 | targetType, data...}
func (c StarWireCommand) Encode() []byte {
	out := make([]byte, 0, 2+len(c.Data))
	out = append(out, MsgStarWire, (c.Nibble&0x0F)<<4|uint8(c.TargetType)&0x0F)
	return append(out, c.Data...)
}

// Encode returns {RESPONSE, opcode, data...}
func (r Response) Encode() []byte {
	out := make([]byte, 0, 2+len(r.Data))
	out = append(out, MsgResponse, r.Opcode)
	return append(out, r.Data...)
}

// Encode returns {HELLO_REQUEST}
func (HelloRequest) Encode() []byte {
	return []byte{MsgHelloRequest}
}

// Encode returns {HELLO_RESPONSE, name...}
// The name is cut at a rune boundary so the message fits one frame.
func (h HelloResponse) Encode() []byte {
	return append([]byte{MsgHelloResponse}, TruncateName(h.Name, MaxPayloadSize-1)...)
}

// TruncateName shortens name to at most max bytes without splitting a
// UTF-8 sequence.
func TruncateName(name string, max int) string {
	if len(name) <= max {
		return name
	}
	if max <= 0 {
		return ""
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

// ParseMessage decodes a frame payload into a typed message.
// Data slices in the result alias the payload.
func ParseMessage(payload []byte) (Message, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrShortMessage)
	}

	switch payload[0] {
	case MsgHeartbeat:
		if len(payload) < HeartbeatSize {
			return nil, fmt.Errorf("%w: heartbeat has %d bytes (need %d)", ErrShortMessage, len(payload), HeartbeatSize)
		}
		return Heartbeat{ID: payload[1], Type: DeviceType(payload[2])}, nil

	case MsgCommand:
		if len(payload) < 3 {
			return nil, fmt.Errorf("%w: command has %d bytes (need 3)", ErrShortMessage, len(payload))
		}
		return Command{TargetType: DeviceType(payload[1]), Opcode: payload[2], Data: payload[3:]}, nil

	case MsgStarWire:
		if len(payload) < 2 {
			return nil, fmt.Errorf("%w: starwire command has %d bytes (need 2)", ErrShortMessage, len(payload))
		}
		return StarWireCommand{
			TargetType: DeviceType(payload[1] & 0x0F),
			Nibble:     payload[1] >> 4,
			Data:       payload[2:],
		}, nil

	case MsgResponse:
		if len(payload) < 2 {
			return nil, fmt.Errorf("%w: response has %d bytes (need 2)", ErrShortMessage, len(payload))
		}
		return Response{Opcode: payload[1], Data: payload[2:]}, nil

	case MsgHelloRequest:
		return HelloRequest{}, nil

	case MsgHelloResponse:
		return HelloResponse{Name: string(payload[1:])}, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownMessage, payload[0])
	}
}

// Matches reports whether a command targeting target applies to a node of type own
func Matches(target, own DeviceType) bool {
	return target == DeviceAny || target == own
}

// EncodeTemperature encodes a temperature reply as little-endian float32
func EncodeTemperature(celsius float32) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, math.Float32bits(celsius))
	return out
}

// ParseTemperature decodes a temperature reply
func ParseTemperature(data []byte) (float32, error) {
	if len(data) < 4 {
		return 0, fmt.Errorf("%w: temperature has %d bytes (need 4)", ErrShortMessage, len(data))
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
}
