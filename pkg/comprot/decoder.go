// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comprot

import (
	"errors"
	"fmt"
	"time"
)

// ErrCRCMismatch is wrapped by decode errors caused by a bad checksum
var ErrCRCMismatch = errors.New("CRC mismatch")

// Decoder implements the frame decoder state machine
type Decoder struct {
	state      int
	buffer     []byte
	escapeNext bool
	crcBytes   int
	frame      *Frame
	rawBuffer  []byte // wire bytes of the frame in progress, from START
	rejected   []byte
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, 0, MaxFrameSize),
		rawBuffer: make([]byte, 0, MaxFrameSize*2),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.escapeNext = false
	d.crcBytes = 0
	d.frame = nil
	d.rawBuffer = d.rawBuffer[:0]
}

// RejectedBytes returns the wire bytes of the frame behind the most recent
// decode error, starting at its START byte. The slice is reused by the
// next error.
func (d *Decoder) RejectedBytes() []byte {
	return d.rejected
}

// fail records the rejected wire bytes and returns the decoder to idle
func (d *Decoder) fail(err error) error {
	d.rejected = append(d.rejected[:0], d.rawBuffer...)
	d.Reset()
	return err
}

// Decode feeds a chunk of bytes through the decoder and returns every
// completed frame along with the decode errors encountered, in order.
func (d *Decoder) Decode(data []byte) ([]*Frame, []error) {
	var frames []*Frame
	var errs []error
	for _, b := range data {
		f, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames, errs
}

// DecodeByte processes a single byte through the decoder state machine
// Returns a completed frame, or nil if the frame is incomplete
// Returns an error if decoding fails
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	// START never appears stuffed, so it resynchronizes even after a
	// dangling escape.
	if b == StartByte {
		d.Reset()
		d.rawBuffer = append(d.rawBuffer, b)
		d.state = stateLength
		return nil, nil
	}

	// Noise between frames, including stray ESC and END bytes
	if d.state == stateIdle {
		return nil, nil
	}

	d.rawBuffer = append(d.rawBuffer, b)

	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	} else {
		switch b {
		case EscByte:
			d.escapeNext = true
			return nil, nil
		case EndByte:
			return d.finish()
		}
	}

	switch d.state {
	case stateLength:
		if b > MaxPayloadSize {
			return nil, d.fail(fmt.Errorf("invalid length: %d (max %d)", b, MaxPayloadSize))
		}
		d.frame = &Frame{payload: make([]byte, 0, b)}
		d.buffer = append(d.buffer, b)
		d.state = stateDst
		return nil, nil

	case stateDst:
		d.frame.dst = b
		d.buffer = append(d.buffer, b)
		d.state = stateSrc
		return nil, nil

	case stateSrc:
		d.frame.src = b
		d.buffer = append(d.buffer, b)
		d.state = stateFlags
		return nil, nil

	case stateFlags:
		d.frame.flags = b
		d.buffer = append(d.buffer, b)
		if d.buffer[0] == 0 {
			d.state = stateCRC
		} else {
			d.state = statePayload
		}
		return nil, nil

	case statePayload:
		d.frame.payload = append(d.frame.payload, b)
		d.buffer = append(d.buffer, b)
		if len(d.frame.payload) >= int(d.buffer[0]) {
			d.state = stateCRC
		}
		return nil, nil

	case stateCRC:
		d.frame.crc = d.frame.crc<<8 | uint32(b)
		d.crcBytes++
		if d.crcBytes >= crcSize(d.frame.flags) {
			d.state = stateEnd
		}
		return nil, nil

	case stateEnd:
		return nil, d.fail(fmt.Errorf("expected END byte, got 0x%02X", b))

	default:
		return nil, d.fail(fmt.Errorf("invalid state: %d", d.state))
	}
}

// finish handles an END byte
func (d *Decoder) finish() (*Frame, error) {
	if d.state != stateEnd {
		return nil, d.fail(fmt.Errorf("unexpected END byte in state %d", d.state))
	}

	frame := d.frame
	calculated := checksum(frame.flags, d.buffer)
	if frame.crc != calculated {
		return nil, d.fail(fmt.Errorf("%w: expected 0x%08X, got 0x%08X", ErrCRCMismatch, calculated, frame.crc))
	}

	frame.timestamp = time.Now()
	d.Reset()
	return frame, nil
}

// DecodeFrame decodes a single complete wire frame
func DecodeFrame(data []byte) (*Frame, error) {
	d := NewDecoder()
	for _, b := range data {
		f, err := d.DecodeByte(b)
		if err != nil {
			return nil, err
		}
		if f != nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("incomplete frame")
}
