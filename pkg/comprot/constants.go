// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package comprot implements the Com-Prot bus protocol used by the power-plant
// demo rig.
//
// A master node discovers slave nodes from their heartbeats and sends them
// commands, either addressed to one node or to every node of a device type.
// This package provides frame encoding/decoding, CRC validation, message
// parsing and payload formatting. Bus participation (addressing, ack, retry)
// lives in the bus package of the plantctl tool.
package comprot

// Protocol framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Frame size limits
const (
	MaxPayloadSize = 64
	HeaderSize     = 4 // len + dst + src + flags
	MaxCRCSize     = 4
	MaxFrameSize   = HeaderSize + MaxPayloadSize + MaxCRCSize
)

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Frame flags
const (
	FlagCRC32      = 0x01 // CRC field is CRC-32 (4 bytes) instead of CRC-16
	FlagAckRequest = 0x02 // Sender waits for an ACK frame
	FlagAck        = 0x04 // Frame acknowledges the previous request from dst
)

// Special bus ids
const (
	AddressBroadcast = 0x00 // All nodes
	MasterID         = 0x01 // Default master id
	MaxNodeID        = 0xFE
)

// Message types (first payload byte)
const (
	MsgHelloRequest  = 0x01
	MsgHelloResponse = 0x02
	MsgHeartbeat     = 0x03
	MsgCommand       = 0x04
	MsgResponse      = 0x05
	MsgStarWire      = 0x06
)

// Command opcodes
const (
	OpLedControl  = 0x10
	OpTempRequest = 0x20
	OpCustom      = 0x30
	OpStatus      = 0x40
	OpSetOutput   = 0x50
)

// TargetAll addresses every device type in a command
const TargetAll = 0x00

// StarWire command nibbles used by plant nodes
const (
	NibbleLedControl  = 0x1
	NibbleTempRequest = 0x2
	NibbleCustom      = 0x3
	NibbleStatus      = 0x4
	MaxNibble         = 0xF
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateLength
	stateDst
	stateSrc
	stateFlags
	statePayload
	stateCRC
	stateEnd
)

// DeviceType tags the kind of power plant a slave represents
type DeviceType uint8

// Device type values
const (
	DeviceAny DeviceType = iota
	DeviceSolar
	DeviceWind
	DeviceBattery
	DeviceHydro
	DeviceCoal
	DeviceNuclear
	DeviceGas
)

// HeartbeatSize is the fixed length of a heartbeat message
const HeartbeatSize = 3
