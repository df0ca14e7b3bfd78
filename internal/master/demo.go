// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package master

import (
	"context"
	"time"

	"github.com/Thermoquad/plantctl/pkg/comprot"
)

// DefaultDemoInterval is the period of the demo command schedule
const DefaultDemoInterval = 9300 * time.Millisecond

// DemoCustomTarget is the slave id that receives the demo custom command
const DemoCustomTarget = 10

// DemoCustomData is the payload of the demo custom command
var DemoCustomData = []byte{0xAA, 0xBB, 0xCC, 0xDD}

// DemoResult reports what one demo round sent
type DemoResult struct {
	Active     int
	LedSent    int
	LedOn      bool
	TempSent   int
	CustomSent bool
}

// DemoRound runs one round of the rig's test schedule: an LED command to
// solar slaves, a temperature request to wind slaves and a custom command
// to slave 10, each only when such a slave is connected.
func (m *Master) DemoRound(ctx context.Context, ledOn bool) DemoResult {
	res := DemoResult{Active: m.peers.Len(), LedOn: ledOn}

	for _, p := range m.peers.All() {
		m.logger.Info().Uint8("id", p.ID).Str("type", p.Type.String()).Msg("active slave")
	}

	if m.peers.HasType(comprot.DeviceSolar) {
		state := byte(0)
		if ledOn {
			state = 1
		}
		n, err := m.SendCommandToType(ctx, comprot.DeviceSolar, comprot.OpLedControl, []byte{state})
		if err != nil {
			m.logger.Warn().Err(err).Msg("demo LED command failed")
		}
		res.LedSent = n
	}

	if m.peers.HasType(comprot.DeviceWind) {
		n, err := m.SendCommandToType(ctx, comprot.DeviceWind, comprot.OpTempRequest, nil)
		if err != nil {
			m.logger.Warn().Err(err).Msg("demo temperature request failed")
		}
		res.TempSent = n
	}

	if _, ok := m.peers.Get(DemoCustomTarget); ok {
		if err := m.SendCommand(ctx, DemoCustomTarget, comprot.OpCustom, DemoCustomData); err != nil {
			m.logger.Warn().Err(err).Msg("demo custom command failed")
		} else {
			res.CustomSent = true
		}
	}

	return res
}

// RunDemo repeats DemoRound every interval until ctx is cancelled. The LED
// state follows the wall clock, toggling every ten seconds.
func (m *Master) RunDemo(ctx context.Context, interval time.Duration, report func(DemoResult)) {
	if interval <= 0 {
		interval = DefaultDemoInterval
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			ledOn := (m.now().Unix()/10)%2 == 1
			res := m.DemoRound(ctx, ledOn)
			m.logger.Info().
				Int("active", res.Active).
				Int("led", res.LedSent).
				Int("temp", res.TempSent).
				Bool("custom", res.CustomSent).
				Msg("demo round")
			if report != nil {
				report(res)
			}
		}
	}
}
