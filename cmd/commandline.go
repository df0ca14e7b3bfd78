// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/plantctl/internal/master"
	"github.com/Thermoquad/plantctl/pkg/comprot"
)

var errNoInput = errors.New("empty command")

// busTarget is one slave, every slave of a device type, or the whole bus
type busTarget struct {
	ID   uint8
	Type comprot.DeviceType
	All  bool
}

func (t busTarget) String() string {
	switch {
	case t.All:
		return "all"
	case t.ID != 0:
		return fmt.Sprintf("slave %d", t.ID)
	default:
		return fmt.Sprintf("type %s", t.Type)
	}
}

// busCommand is a parsed operator command
type busCommand struct {
	Target   busTarget
	StarWire bool
	Opcode   uint8 // nibble when StarWire
	Data     []byte
	Reply    bool // the slave answers with a response
	Hello    bool
}

const commandHelp = `Commands:
  led <target> on|off           LED control
  temp <target>                 temperature request
  custom <target> [hex]         custom command (default AA BB CC DD)
  status <id>                   status request
  output <target> <0-100>       set output percentage
  raw <target> <opcode> [hex]   any opcode
  sw <target> <nibble> [hex]    StarWire command
  hello <id>                    ask a slave for its name
Targets: a slave id, a device type (solar, wind, ...) or "all".`

// parseTarget parses a slave id, a device type name or "all"
func parseTarget(s string) (busTarget, error) {
	if strings.EqualFold(s, "all") {
		return busTarget{All: true}, nil
	}
	if _, err := strconv.Atoi(s); err == nil {
		id, err := parseNodeID(s)
		if err != nil {
			return busTarget{}, err
		}
		return busTarget{ID: id}, nil
	}
	t, err := comprot.ParseDeviceType(s)
	if err != nil {
		return busTarget{}, fmt.Errorf("unknown target %q", s)
	}
	if t == comprot.DeviceAny {
		return busTarget{All: true}, nil
	}
	return busTarget{Type: t}, nil
}

// parseHexData accepts "AA BB", "AABB", "0xAA,0xBB" and mixes of them
func parseHexData(args []string) ([]byte, error) {
	var b strings.Builder
	for _, a := range args {
		for _, f := range strings.FieldsFunc(a, func(r rune) bool { return r == ',' || r == ' ' }) {
			f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
			if len(f)%2 == 1 {
				f = "0" + f
			}
			b.WriteString(f)
		}
	}
	data, err := hex.DecodeString(b.String())
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	if len(data) > comprot.MaxPayloadSize-3 {
		return nil, fmt.Errorf("data too long (%d bytes, max %d)", len(data), comprot.MaxPayloadSize-3)
	}
	return data, nil
}

func parseByte(s string, max uint8) (uint8, error) {
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil || uint8(n) > max {
		return 0, fmt.Errorf("invalid value %q (0-%d)", s, max)
	}
	return uint8(n), nil
}

// parseCommandLine parses one operator command
func parseCommandLine(line string) (busCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return busCommand{}, errNoInput
	}
	verb := strings.ToLower(fields[0])
	args := fields[1:]
	if len(args) == 0 {
		return busCommand{}, fmt.Errorf("%s: missing target", verb)
	}
	target, err := parseTarget(args[0])
	if err != nil {
		return busCommand{}, err
	}
	args = args[1:]
	c := busCommand{Target: target}

	switch verb {
	case "led":
		if len(args) != 1 {
			return busCommand{}, fmt.Errorf("led: expected on or off")
		}
		c.Opcode = comprot.OpLedControl
		switch strings.ToLower(args[0]) {
		case "on", "1":
			c.Data = []byte{1}
		case "off", "0":
			c.Data = []byte{0}
		default:
			return busCommand{}, fmt.Errorf("led: expected on or off, got %q", args[0])
		}
	case "temp", "temperature":
		c.Opcode = comprot.OpTempRequest
		c.Reply = true
	case "custom":
		c.Opcode = comprot.OpCustom
		c.Data = append([]byte(nil), master.DemoCustomData...)
		if len(args) > 0 {
			if c.Data, err = parseHexData(args); err != nil {
				return busCommand{}, err
			}
		}
	case "status":
		c.Opcode = comprot.OpStatus
		c.Reply = true
	case "output":
		if len(args) != 1 {
			return busCommand{}, fmt.Errorf("output: expected a percentage")
		}
		pct, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil || pct > 100 {
			return busCommand{}, fmt.Errorf("output: percentage must be 0-100")
		}
		c.Opcode = comprot.OpSetOutput
		c.Data = []byte{uint8(pct)}
		c.Reply = true
	case "raw":
		if len(args) == 0 {
			return busCommand{}, fmt.Errorf("raw: missing opcode")
		}
		if c.Opcode, err = comprot.ParseOpcode(args[0]); err != nil {
			return busCommand{}, err
		}
		if c.Data, err = parseHexData(args[1:]); err != nil {
			return busCommand{}, err
		}
		c.Reply = c.Opcode == comprot.OpTempRequest || c.Opcode == comprot.OpStatus
	case "sw", "starwire":
		if len(args) == 0 {
			return busCommand{}, fmt.Errorf("sw: missing nibble")
		}
		if c.Opcode, err = parseByte(args[0], comprot.MaxNibble); err != nil {
			return busCommand{}, fmt.Errorf("sw: %w", err)
		}
		if c.Data, err = parseHexData(args[1:]); err != nil {
			return busCommand{}, err
		}
		if !target.All && target.ID == 0 && target.Type > comprot.MaxNibble {
			return busCommand{}, fmt.Errorf("sw: type %s does not fit a nibble", target.Type)
		}
		c.StarWire = true
		c.Reply = c.Opcode == comprot.NibbleTempRequest || c.Opcode == comprot.NibbleStatus
	case "hello":
		c.Hello = true
	default:
		return busCommand{}, fmt.Errorf("unknown command %q (try help)", verb)
	}

	if (c.Hello || verb == "status") && target.ID == 0 {
		return busCommand{}, fmt.Errorf("%s needs a slave id", verb)
	}
	return c, nil
}

// executeCommand sends c through m. For a single slave that replies, it
// waits up to timeout for the response and returns it formatted.
func executeCommand(ctx context.Context, m *master.Master, c busCommand, timeout time.Duration) (string, error) {
	t := c.Target
	switch {
	case c.Hello:
		return "", m.SendHello(ctx, t.ID)

	case t.ID != 0 && c.Reply && timeout > 0:
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		var (
			resp comprot.Response
			err  error
		)
		if c.StarWire {
			resp, err = m.RequestStarWire(ctx, t.ID, c.Opcode, c.Data)
		} else {
			resp, err = m.Request(ctx, t.ID, c.Opcode, c.Data)
		}
		if err != nil {
			return "", err
		}
		return formatResponse(t.ID, c.StarWire, resp), nil

	case t.ID != 0:
		if c.StarWire {
			return "", m.SendStarWire(ctx, t.ID, c.Opcode, c.Data)
		}
		return "", m.SendCommand(ctx, t.ID, c.Opcode, c.Data)

	case t.All:
		if c.StarWire {
			return "", m.SendStarWireToType(ctx, comprot.DeviceAny, c.Opcode, c.Data)
		}
		return "", m.Broadcast(ctx, c.Opcode, c.Data)

	default:
		if c.StarWire {
			return "", m.SendStarWireToType(ctx, t.Type, c.Opcode, c.Data)
		}
		n, err := m.SendCommandToType(ctx, t.Type, c.Opcode, c.Data)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Sent to %d %s slave(s)", n, t.Type), nil
	}
}

// starWireOpcodes maps plant nibbles to the opcode with the same reply layout
var starWireOpcodes = map[uint8]uint8{
	comprot.NibbleLedControl:  comprot.OpLedControl,
	comprot.NibbleTempRequest: comprot.OpTempRequest,
	comprot.NibbleCustom:      comprot.OpCustom,
	comprot.NibbleStatus:      comprot.OpStatus,
}

func formatResponse(src uint8, starWire bool, r comprot.Response) string {
	name := comprot.FormatOpcode(r.Opcode)
	op := r.Opcode
	if starWire {
		name = "STARWIRE " + comprot.FormatNibble(r.Opcode)
		op = starWireOpcodes[r.Opcode]
	}
	return fmt.Sprintf("Response from %d: %s\n%s", src, name, comprot.FormatResponseData(op, r.Data))
}
