// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package master

import (
	"context"
	"errors"
	"fmt"

	"github.com/Thermoquad/plantctl/internal/observability"
	"github.com/Thermoquad/plantctl/pkg/comprot"
)

func validUnicast(id uint8) error {
	if id == comprot.AddressBroadcast || id > comprot.MaxNodeID {
		return fmt.Errorf("%w: node id %d", ErrInvalidTarget, id)
	}
	return nil
}

// SendCommand sends opcode to one slave
func (m *Master) SendCommand(ctx context.Context, id, opcode uint8, data []byte) error {
	if err := validUnicast(id); err != nil {
		return err
	}
	payload := comprot.Command{TargetType: comprot.DeviceAny, Opcode: opcode, Data: data}.Encode()
	if err := m.node.Send(ctx, id, payload); err != nil {
		return fmt.Errorf("command 0x%02X to node %d: %w", opcode, id, err)
	}
	observability.RecordCommand(m.ID(), "unicast")
	return nil
}

// SendCommandToType sends opcode to every slave of deviceType and returns
// how many slaves were addressed. In bus mode the count is the number of
// known slaves of that type.
func (m *Master) SendCommandToType(ctx context.Context, deviceType comprot.DeviceType, opcode uint8, data []byte) (int, error) {
	if deviceType == comprot.DeviceAny {
		return 0, fmt.Errorf("%w: device type must be set, use Broadcast for all", ErrInvalidTarget)
	}
	payload := comprot.Command{TargetType: deviceType, Opcode: opcode, Data: data}.Encode()

	if m.cfg.TypeMode == ModeBus {
		if err := m.node.Send(ctx, comprot.AddressBroadcast, payload); err != nil {
			return 0, fmt.Errorf("command 0x%02X to %s: %w", opcode, deviceType, err)
		}
		observability.RecordCommand(m.ID(), "type")
		return len(m.peers.ByType(deviceType)), nil
	}

	var (
		sent int
		errs []error
	)
	for _, p := range m.peers.ByType(deviceType) {
		if err := m.node.Send(ctx, p.ID, payload); err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", p.ID, err))
			continue
		}
		sent++
	}
	if sent > 0 {
		observability.RecordCommand(m.ID(), "type")
	}
	m.logger.Debug().
		Str("type", deviceType.String()).
		Str("opcode", comprot.FormatOpcode(opcode)).
		Int("sent", sent).
		Msg("type command")
	return sent, errors.Join(errs...)
}

// Broadcast sends opcode to every slave in one frame
func (m *Master) Broadcast(ctx context.Context, opcode uint8, data []byte) error {
	payload := comprot.Command{TargetType: comprot.DeviceAny, Opcode: opcode, Data: data}.Encode()
	if err := m.node.Send(ctx, comprot.AddressBroadcast, payload); err != nil {
		return fmt.Errorf("broadcast 0x%02X: %w", opcode, err)
	}
	observability.RecordCommand(m.ID(), "broadcast")
	return nil
}

// SendStarWire sends a nibble command to one slave, or to all slaves when
// id is the broadcast address
func (m *Master) SendStarWire(ctx context.Context, id, nibble uint8, data []byte) error {
	return m.sendStarWire(ctx, id, comprot.DeviceAny, nibble, data)
}

// SendStarWireToType broadcasts a nibble command filtered by device type
func (m *Master) SendStarWireToType(ctx context.Context, deviceType comprot.DeviceType, nibble uint8, data []byte) error {
	if deviceType > comprot.MaxNibble {
		return fmt.Errorf("%w: device type %d does not fit a StarWire target", ErrInvalidTarget, deviceType)
	}
	return m.sendStarWire(ctx, comprot.AddressBroadcast, deviceType, nibble, data)
}

func (m *Master) sendStarWire(ctx context.Context, id uint8, deviceType comprot.DeviceType, nibble uint8, data []byte) error {
	if nibble > comprot.MaxNibble {
		return fmt.Errorf("%w: nibble %d (must be 0-%d)", ErrInvalidTarget, nibble, comprot.MaxNibble)
	}
	if id > comprot.MaxNodeID {
		return fmt.Errorf("%w: node id %d", ErrInvalidTarget, id)
	}
	payload := comprot.StarWireCommand{TargetType: deviceType, Nibble: nibble, Data: data}.Encode()
	if err := m.node.Send(ctx, id, payload); err != nil {
		return fmt.Errorf("starwire nibble %d to node %d: %w", nibble, id, err)
	}
	observability.RecordCommand(m.ID(), "starwire")
	return nil
}

// SendHello asks one slave for its device name; the answer arrives through
// OnHello and is stored in the peer table
func (m *Master) SendHello(ctx context.Context, id uint8) error {
	if err := validUnicast(id); err != nil {
		return err
	}
	if err := m.node.Send(ctx, id, comprot.HelloRequest{}.Encode()); err != nil {
		return fmt.Errorf("hello to node %d: %w", id, err)
	}
	return nil
}

// Request sends opcode to one slave and waits for its response
func (m *Master) Request(ctx context.Context, id, opcode uint8, data []byte) (comprot.Response, error) {
	return m.request(ctx, id, opcode, func() error {
		return m.SendCommand(ctx, id, opcode, data)
	})
}

// RequestStarWire sends a nibble command to one slave and waits for its response
func (m *Master) RequestStarWire(ctx context.Context, id, nibble uint8, data []byte) (comprot.Response, error) {
	if err := validUnicast(id); err != nil {
		return comprot.Response{}, err
	}
	return m.request(ctx, id, nibble, func() error {
		return m.SendStarWire(ctx, id, nibble, data)
	})
}

func (m *Master) request(ctx context.Context, id, opcode uint8, send func() error) (comprot.Response, error) {
	key := pendingKey{id, opcode}
	ch := make(chan comprot.Response, 1)

	m.pendingMu.Lock()
	if _, busy := m.pending[key]; busy {
		m.pendingMu.Unlock()
		return comprot.Response{}, fmt.Errorf("%w: node %d opcode 0x%02X", ErrRequestPending, id, opcode)
	}
	m.pending[key] = ch
	m.pendingMu.Unlock()

	defer func() {
		m.pendingMu.Lock()
		delete(m.pending, key)
		m.pendingMu.Unlock()
	}()

	if err := send(); err != nil {
		return comprot.Response{}, err
	}

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return comprot.Response{}, fmt.Errorf("waiting for node %d: %w", id, ctx.Err())
	}
}
