// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package comprot

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
		want  []AnomalyType
	}{
		{
			name:  "valid heartbeat",
			frame: NewFrame(MasterID, 10, 0, Heartbeat{ID: 10, Type: DeviceSolar}.Encode()),
		},
		{
			name:  "heartbeat id mismatch",
			frame: NewFrame(MasterID, 10, 0, Heartbeat{ID: 11, Type: DeviceSolar}.Encode()),
			want:  []AnomalyType{AnomalyIDMismatch},
		},
		{
			name:  "heartbeat type zero",
			frame: NewFrame(MasterID, 10, 0, Heartbeat{ID: 10}.Encode()),
			want:  []AnomalyType{AnomalyInvalidDeviceType},
		},
		{
			name:  "short heartbeat",
			frame: NewFrame(MasterID, 10, 0, []byte{MsgHeartbeat, 10}),
			want:  []AnomalyType{AnomalyShortMessage},
		},
		{
			name:  "unknown message",
			frame: NewFrame(MasterID, 10, 0, []byte{0x42}),
			want:  []AnomalyType{AnomalyUnknownType},
		},
		{
			name:  "unknown opcode",
			frame: NewFrame(10, MasterID, 0, Command{Opcode: 0x99}.Encode()),
			want:  []AnomalyType{AnomalyUnknownOpcode},
		},
		{
			name:  "led state out of range",
			frame: NewFrame(10, MasterID, 0, Command{Opcode: OpLedControl, Data: []byte{7}}.Encode()),
			want:  []AnomalyType{AnomalyInvalidValue},
		},
		{
			name:  "output above 100",
			frame: NewFrame(10, MasterID, 0, Command{Opcode: OpSetOutput, Data: []byte{150}}.Encode()),
			want:  []AnomalyType{AnomalyInvalidValue},
		},
		{
			name:  "from broadcast address",
			frame: NewFrame(MasterID, AddressBroadcast, 0, Heartbeat{ID: 0, Type: DeviceSolar}.Encode()),
			want:  []AnomalyType{AnomalyInvalidAddress},
		},
		{
			name:  "empty ack",
			frame: NewFrame(10, MasterID, FlagAck, nil),
		},
		{
			name:  "unknown starwire nibble",
			frame: NewFrame(10, MasterID, 0, StarWireCommand{Nibble: 0xE}.Encode()),
			want:  []AnomalyType{AnomalyUnknownOpcode},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateFrame(tt.frame)
			if len(errs) != len(tt.want) {
				t.Fatalf("got %d errors (%v), want %d", len(errs), errs, len(tt.want))
			}
			for i, e := range errs {
				if e.Type != tt.want[i] {
					t.Errorf("error %d type = %d, want %d (%s)", i, e.Type, tt.want[i], e.Message)
				}
			}
		})
	}
}

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()

	hb := NewFrame(MasterID, 10, 0, Heartbeat{ID: 10, Type: DeviceSolar}.Encode())
	s.Update(hb, nil, nil)
	cmd := NewFrame(10, MasterID, 0, Command{Opcode: OpCustom}.Encode())
	s.Update(cmd, nil, nil)
	s.Update(nil, fmt.Errorf("%w: bad", ErrCRCMismatch), nil)
	s.Update(nil, fmt.Errorf("unexpected END byte in state 3"), nil)
	bad := NewFrame(MasterID, 10, 0, Heartbeat{ID: 11, Type: DeviceSolar}.Encode())
	s.Update(bad, nil, ValidateFrame(bad))

	if s.TotalFrames != 5 {
		t.Errorf("TotalFrames = %d, want 5", s.TotalFrames)
	}
	if s.ValidFrames != 2 {
		t.Errorf("ValidFrames = %d, want 2", s.ValidFrames)
	}
	if s.CRCErrors != 1 || s.DecodeErrors != 1 {
		t.Errorf("CRCErrors = %d, DecodeErrors = %d, want 1/1", s.CRCErrors, s.DecodeErrors)
	}
	if s.MalformedFrames != 1 {
		t.Errorf("MalformedFrames = %d, want 1", s.MalformedFrames)
	}
	if s.Heartbeats != 2 || s.Commands != 1 {
		t.Errorf("Heartbeats = %d, Commands = %d, want 2/1", s.Heartbeats, s.Commands)
	}
	if !strings.Contains(s.String(), "CRC Errors") {
		t.Error("String() should include CRC error line")
	}

	s.Reset()
	if s.TotalFrames != 0 {
		t.Errorf("TotalFrames after Reset = %d", s.TotalFrames)
	}
}

func TestFormatFrame(t *testing.T) {
	f := NewFrame(AddressBroadcast, MasterID, 0, Command{TargetType: DeviceSolar, Opcode: OpLedControl, Data: []byte{1}}.Encode())
	out := FormatFrame(f)
	for _, want := range []string{"COMMAND", "-> ALL", "SOLAR", "LED_CONTROL", "LED: ON"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatFrame output missing %q:\n%s", want, out)
		}
	}

	resp := NewFrame(MasterID, 12, 0, Response{Opcode: OpTempRequest, Data: EncodeTemperature(21.5)}.Encode())
	if out := FormatFrame(resp); !strings.Contains(out, "21.50") {
		t.Errorf("temperature response not decoded:\n%s", out)
	}
}
