// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comprot

import "time"

// Frame represents a decoded bus frame
type Frame struct {
	dst       uint8
	src       uint8
	flags     uint8
	payload   []byte
	crc       uint32
	timestamp time.Time
}

// NewFrame creates a frame ready for encoding
func NewFrame(dst, src, flags uint8, payload []byte) *Frame {
	return &Frame{
		dst:       dst,
		src:       src,
		flags:     flags,
		payload:   payload,
		timestamp: time.Now(),
	}
}

// Dst returns the destination bus id
func (f *Frame) Dst() uint8 {
	return f.dst
}

// Src returns the sender bus id
func (f *Frame) Src() uint8 {
	return f.src
}

// Flags returns the frame flag bits
func (f *Frame) Flags() uint8 {
	return f.flags
}

// Length returns the payload length
func (f *Frame) Length() uint8 {
	return uint8(len(f.payload))
}

// Payload returns the raw payload bytes
func (f *Frame) Payload() []byte {
	return f.payload
}

// CRC returns the received CRC value (zero for frames built locally)
func (f *Frame) CRC() uint32 {
	return f.crc
}

// Timestamp returns the frame's decode timestamp
func (f *Frame) Timestamp() time.Time {
	return f.timestamp
}

// Type returns the message type, or 0 for empty payloads
func (f *Frame) Type() uint8 {
	if len(f.payload) == 0 {
		return 0
	}
	return f.payload[0]
}

// IsBroadcast returns true if the frame is addressed to all nodes
func (f *Frame) IsBroadcast() bool {
	return f.dst == AddressBroadcast
}

// IsAck returns true for acknowledgement frames
func (f *Frame) IsAck() bool {
	return f.flags&FlagAck != 0
}

// WantsAck returns true if the sender waits for an acknowledgement
func (f *Frame) WantsAck() bool {
	return f.flags&FlagAckRequest != 0
}

// Message parses the payload into a typed message
func (f *Frame) Message() (Message, error) {
	return ParseMessage(f.payload)
}
