// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comprot

import (
	"errors"
	"fmt"
)

// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadSize
var ErrPayloadTooLarge = errors.New("payload too large")

// EncodeFrame creates a complete wire-formatted frame.
// Returns the frame bytes ready for transmission, including framing and byte stuffing.
func EncodeFrame(dst, src, flags uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	// Data section: length + dst + src + flags + payload
	// This is what gets CRC'd and byte-stuffed
	data := make([]byte, 0, HeaderSize+len(payload)+MaxCRCSize)
	data = append(data, uint8(len(payload)), dst, src, flags)
	data = append(data, payload...)

	crc := checksum(flags, data)

	// Append CRC (big-endian)
	if crcSize(flags) == 4 {
		data = append(data, byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
	} else {
		data = append(data, byte(crc>>8), byte(crc))
	}

	stuffed := stuffBytes(data)

	frame := make([]byte, 0, len(stuffed)+2)
	frame = append(frame, StartByte)
	frame = append(frame, stuffed...)
	frame = append(frame, EndByte)

	return frame, nil
}

// MustEncodeFrame encodes a frame and panics on error.
// Only use with payloads known to fit.
func MustEncodeFrame(dst, src, flags uint8, payload []byte) []byte {
	data, err := EncodeFrame(dst, src, flags, payload)
	if err != nil {
		panic(fmt.Sprintf("comprot: encode error: %v", err))
	}
	return data
}

// stuffBytes applies byte stuffing to escape special bytes.
// Special bytes (START, END, ESC) are replaced with ESC + (byte XOR EscXor).
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)

	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}

	return result
}

// UnstuffBytes removes byte stuffing from escaped data.
// This is the inverse of stuffBytes.
func UnstuffBytes(data []byte) ([]byte, error) {
	result := make([]byte, 0, len(data))
	escapeNext := false

	for _, b := range data {
		if escapeNext {
			result = append(result, b^EscXor)
			escapeNext = false
		} else if b == EscByte {
			escapeNext = true
		} else {
			result = append(result, b)
		}
	}

	if escapeNext {
		return nil, fmt.Errorf("incomplete escape sequence at end of data")
	}

	return result, nil
}
