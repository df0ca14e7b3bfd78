// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package plant implements the demo behaviour of a power-plant slave: an
// indicator LED, a simulated temperature sensor and an output setpoint.
package plant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/plantctl/internal/slave"
	"github.com/Thermoquad/plantctl/pkg/comprot"
	"github.com/rs/zerolog"
)

// Blink timing for the custom command
const (
	BlinkDuration = 5 * time.Second
	BlinkPeriod   = 200 * time.Millisecond
)

// MaxNameLength keeps status replies inside one frame
const MaxNameLength = 16

// Registrar is the handler registration surface of a slave
type Registrar interface {
	Handle(opcode uint8, fn slave.HandlerFunc) error
	HandleNibble(nibble uint8, fn slave.HandlerFunc) error
}

// Plant is the simulated state of one slave
type Plant struct {
	deviceType comprot.DeviceType
	name       string
	logger     zerolog.Logger
	now        func() time.Time
	start      time.Time

	mu         sync.Mutex
	led        bool
	blinkStart time.Time
	blinkUntil time.Time
	output     uint8
	lastCustom []byte
}

// New creates a plant of deviceType
func New(deviceType comprot.DeviceType, name string, logger zerolog.Logger) *Plant {
	return newPlant(deviceType, name, logger, time.Now)
}

func newPlant(deviceType comprot.DeviceType, name string, logger zerolog.Logger, now func() time.Time) *Plant {
	name = comprot.TruncateName(name, MaxNameLength)
	return &Plant{
		deviceType: deviceType,
		name:       name,
		logger:     logger.With().Str("component", "plant").Logger(),
		now:        now,
		start:      now(),
	}
}

// Register installs the plant's opcode and StarWire handlers on r
func (p *Plant) Register(r Registrar) error {
	handlers := []struct {
		opcode uint8
		nibble uint8
		fn     slave.HandlerFunc
	}{
		{comprot.OpLedControl, comprot.NibbleLedControl, p.handleLED},
		{comprot.OpTempRequest, comprot.NibbleTempRequest, p.handleTemperature},
		{comprot.OpCustom, comprot.NibbleCustom, p.handleCustom},
		{comprot.OpStatus, comprot.NibbleStatus, p.handleStatus},
	}
	for _, h := range handlers {
		if err := r.Handle(h.opcode, h.fn); err != nil {
			return err
		}
		if err := r.HandleNibble(h.nibble, h.fn); err != nil {
			return err
		}
	}
	return r.Handle(comprot.OpSetOutput, p.handleSetOutput)
}

// Uptime returns the time since the plant started
func (p *Plant) Uptime() time.Duration {
	return p.now().Sub(p.start)
}

// Temperature returns the simulated sensor reading, a 10 s sawtooth from 20 to 30 °C
func (p *Plant) Temperature() float32 {
	ms := p.Uptime().Milliseconds()
	return 20.0 + float32(ms%10000)/1000.0
}

// LED returns the current indicator state, including blinking
func (p *Plant) LED() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ledLocked(p.now())
}

func (p *Plant) ledLocked(now time.Time) bool {
	if now.Before(p.blinkUntil) {
		phase := now.Sub(p.blinkStart) / BlinkPeriod
		return phase%2 == 0
	}
	return p.led
}

// Blinking reports whether a custom-command blink is in progress
func (p *Plant) Blinking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now().Before(p.blinkUntil)
}

// Output returns the output setpoint in percent
func (p *Plant) Output() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output
}

// LastCustom returns the data of the most recent custom command
func (p *Plant) LastCustom() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.lastCustom...)
}

// Status returns a snapshot for status replies
func (p *Plant) Status() comprot.Status {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	return comprot.Status{
		Type:        p.deviceType,
		Name:        p.name,
		UptimeMs:    uint64(now.Sub(p.start).Milliseconds()),
		Led:         p.ledLocked(now),
		Blinking:    now.Before(p.blinkUntil),
		Output:      p.output,
		Temperature: float64(p.Temperature()),
	}
}

func (p *Plant) handleLED(_ context.Context, req slave.Request) ([]byte, error) {
	if len(req.Data) < 1 {
		return nil, fmt.Errorf("LED command needs 1 data byte")
	}
	on := req.Data[0] != 0

	p.mu.Lock()
	p.led = on
	p.mu.Unlock()

	p.logger.Info().Uint8("src", req.Sender).Bool("on", on).Msg("LED set")
	return nil, nil
}

func (p *Plant) handleTemperature(_ context.Context, req slave.Request) ([]byte, error) {
	t := p.Temperature()
	p.logger.Info().Uint8("src", req.Sender).Float32("celsius", t).Msg("temperature requested")
	return comprot.EncodeTemperature(t), nil
}

func (p *Plant) handleCustom(_ context.Context, req slave.Request) ([]byte, error) {
	now := p.now()

	p.mu.Lock()
	p.lastCustom = append(p.lastCustom[:0], req.Data...)
	p.blinkStart = now
	p.blinkUntil = now.Add(BlinkDuration)
	p.mu.Unlock()

	p.logger.Info().Uint8("src", req.Sender).Hex("data", req.Data).Msg("custom command, blinking")
	return nil, nil
}

func (p *Plant) handleStatus(_ context.Context, _ slave.Request) ([]byte, error) {
	return comprot.EncodeStatus(p.Status())
}

func (p *Plant) handleSetOutput(_ context.Context, req slave.Request) ([]byte, error) {
	if len(req.Data) < 1 {
		return nil, fmt.Errorf("set output needs 1 data byte")
	}
	if req.Data[0] > 100 {
		return nil, fmt.Errorf("output %d%% out of range (0-100)", req.Data[0])
	}

	p.mu.Lock()
	p.output = req.Data[0]
	p.mu.Unlock()

	p.logger.Info().Uint8("src", req.Sender).Uint8("percent", req.Data[0]).Msg("output set")
	return []byte{req.Data[0]}, nil
}
