// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comprot

import (
	"bytes"
	"errors"
	"testing"
)

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_Empty(t *testing.T) {
	crc := CalculateCRC([]byte{})
	if crc != crcInitial {
		t.Errorf("CRC of empty data should be initial value, got 0x%04X", crc)
	}
}

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{
			name:     "ASCII '123456789'",
			data:     []byte("123456789"),
			expected: 0x29B1, // Standard CRC-16-CCITT check value
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := CalculateCRC(tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", tt.expected, crc)
			}
		})
	}
}

func TestCalculateCRC32_KnownValue(t *testing.T) {
	crc := CalculateCRC32([]byte("123456789"))
	if crc != 0xCBF43926 {
		t.Errorf("CRC32 mismatch: expected 0xCBF43926, got 0x%08X", crc)
	}
}

// ============================================================
// Frame Encode/Decode Tests
// ============================================================

func TestEncodeFrame_Layout(t *testing.T) {
	payload := []byte{MsgHeartbeat, 10, 1}
	wire, err := EncodeFrame(MasterID, 10, 0, payload)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	if wire[0] != StartByte {
		t.Errorf("first byte = 0x%02X, want START", wire[0])
	}
	if wire[len(wire)-1] != EndByte {
		t.Errorf("last byte = 0x%02X, want END", wire[len(wire)-1])
	}

	data, err := UnstuffBytes(wire[1 : len(wire)-1])
	if err != nil {
		t.Fatalf("UnstuffBytes failed: %v", err)
	}

	want := []byte{3, MasterID, 10, 0, MsgHeartbeat, 10, 1}
	if !bytes.Equal(data[:len(want)], want) {
		t.Errorf("data section = % X, want % X", data[:len(want)], want)
	}

	crc := CalculateCRC(want)
	if data[len(want)] != byte(crc>>8) || data[len(want)+1] != byte(crc) {
		t.Errorf("CRC bytes = %02X %02X, want %04X", data[len(want)], data[len(want)+1], crc)
	}
}

func TestEncodeFrame_TooLarge(t *testing.T) {
	_, err := EncodeFrame(10, 1, 0, make([]byte, MaxPayloadSize+1))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		dst     uint8
		src     uint8
		flags   uint8
		payload []byte
	}{
		{"heartbeat", MasterID, 10, 0, []byte{MsgHeartbeat, 10, 1}},
		{"heartbeat crc32", MasterID, 10, FlagCRC32, []byte{MsgHeartbeat, 10, 1}},
		{"broadcast command", AddressBroadcast, MasterID, 0, []byte{MsgCommand, 1, OpLedControl, 1}},
		{"empty ack", 10, MasterID, FlagAck, nil},
		{"special bytes", 0x7E, 0x7D, FlagCRC32 | FlagAckRequest, []byte{0x7E, 0x7F, 0x7D, 0x20, 0x00}},
		{"max payload", 20, MasterID, 0, bytes.Repeat([]byte{0x7F}, MaxPayloadSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := EncodeFrame(tt.dst, tt.src, tt.flags, tt.payload)
			if err != nil {
				t.Fatalf("EncodeFrame failed: %v", err)
			}

			f, err := DecodeFrame(wire)
			if err != nil {
				t.Fatalf("DecodeFrame failed: %v", err)
			}

			if f.Dst() != tt.dst || f.Src() != tt.src || f.Flags() != tt.flags {
				t.Errorf("header = dst %d src %d flags %02X, want dst %d src %d flags %02X",
					f.Dst(), f.Src(), f.Flags(), tt.dst, tt.src, tt.flags)
			}
			if !bytes.Equal(f.Payload(), tt.payload) && !(len(f.Payload()) == 0 && len(tt.payload) == 0) {
				t.Errorf("payload = % X, want % X", f.Payload(), tt.payload)
			}
		})
	}
}

func TestDecoder_CRCMismatch(t *testing.T) {
	wire := MustEncodeFrame(MasterID, 10, 0, []byte{MsgHeartbeat, 10, 1})
	// Corrupt the heartbeat id: START len dst src flags type id ...
	wire[6] = 11

	_, err := DecodeFrame(wire)
	if !errors.Is(err, ErrCRCMismatch) {
		t.Fatalf("expected ErrCRCMismatch, got %v", err)
	}
}

func TestDecoder_ResyncOnStart(t *testing.T) {
	good := MustEncodeFrame(MasterID, 11, 0, []byte{MsgHeartbeat, 11, 2})
	stream := append([]byte{0x00, 0x55, StartByte, 0x03, 0x01}, good...)

	d := NewDecoder()
	frames, errs := d.Decode(stream)
	if len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Src() != 11 {
		t.Errorf("Src() = %d, want 11", frames[0].Src())
	}
}

func TestDecoder_ResyncAfterStrayEscape(t *testing.T) {
	good := MustEncodeFrame(MasterID, 10, 0, Heartbeat{ID: 10, Type: DeviceSolar}.Encode())

	tests := []struct {
		name   string
		prefix []byte
	}{
		{"escape while idle", []byte{EscByte}},
		{"noise ending in escape", []byte{0x00, 0x55, EscByte}},
		{"escape inside truncated frame", []byte{StartByte, 0x03, 0x01, EscByte}},
		{"escape then end while idle", []byte{EscByte, EndByte}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := append(append([]byte{}, tt.prefix...), good...)
			frames, errs := NewDecoder().Decode(stream)
			if len(errs) != 0 {
				t.Errorf("unexpected errors: %v", errs)
			}
			if len(frames) != 1 {
				t.Fatalf("expected 1 frame, got %d", len(frames))
			}
			if frames[0].Src() != 10 {
				t.Errorf("Src() = %d, want 10", frames[0].Src())
			}
		})
	}
}

func TestDecoder_RejectedBytes(t *testing.T) {
	wire := MustEncodeFrame(MasterID, 10, 0, []byte{MsgHeartbeat, 10, 1})
	wire[6] = 11

	d := NewDecoder()
	frames, errs := d.Decode(append([]byte{0x00, 0x55}, wire...))
	if len(frames) != 0 || len(errs) != 1 {
		t.Fatalf("got %d frames and %d errors, want 0 and 1", len(frames), len(errs))
	}
	if !bytes.Equal(d.RejectedBytes(), wire) {
		t.Errorf("RejectedBytes() = % X, want % X", d.RejectedBytes(), wire)
	}

	good := MustEncodeFrame(MasterID, 11, 0, []byte{MsgHeartbeat, 11, 1})
	if frames, _ := d.Decode(good); len(frames) != 1 {
		t.Fatalf("expected decoder to recover, got %d frames", len(frames))
	}
}

func TestDecoder_InvalidLength(t *testing.T) {
	d := NewDecoder()
	d.DecodeByte(StartByte)
	if _, err := d.DecodeByte(MaxPayloadSize + 1); err == nil {
		t.Error("expected error for oversized length byte")
	}
}

func TestDecoder_UnexpectedEnd(t *testing.T) {
	d := NewDecoder()
	frames, errs := d.Decode([]byte{StartByte, 0x03, 0x01, EndByte})
	if len(frames) != 0 {
		t.Errorf("expected no frames, got %d", len(frames))
	}
	if len(errs) != 1 {
		t.Errorf("expected 1 error, got %d", len(errs))
	}
}

func TestDecoder_MultipleFrames(t *testing.T) {
	var stream []byte
	for id := uint8(10); id < 15; id++ {
		stream = append(stream, MustEncodeFrame(MasterID, id, FlagCRC32, Heartbeat{ID: id, Type: DeviceSolar}.Encode())...)
	}

	frames, errs := NewDecoder().Decode(stream)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(frames) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.Src() != uint8(10+i) {
			t.Errorf("frame %d Src() = %d, want %d", i, f.Src(), 10+i)
		}
	}
}

func TestUnstuffBytes_IncompleteEscape(t *testing.T) {
	if _, err := UnstuffBytes([]byte{0x01, EscByte}); err == nil {
		t.Error("expected error for trailing escape byte")
	}
}
