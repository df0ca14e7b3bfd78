// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package slave runs the slave side of the bus: periodic heartbeats to the
// master and dispatch of received commands to registered handlers.
package slave

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/plantctl/internal/bus"
	"github.com/Thermoquad/plantctl/internal/observability"
	"github.com/Thermoquad/plantctl/pkg/comprot"
	"github.com/rs/zerolog"
)

// DefaultHeartbeatInterval is the period between heartbeats
const DefaultHeartbeatInterval = time.Second

const requestQueueSize = 32

// Config configures a slave
type Config struct {
	Type              comprot.DeviceType
	Name              string // returned in hello responses
	MasterID          uint8
	HeartbeatInterval time.Duration
	Logger            zerolog.Logger
}

// Slave is a bus node that announces itself and serves commands
type Slave struct {
	node     *bus.Node
	cfg      Config
	registry *Registry
	logger   zerolog.Logger

	requests chan job
	interval chan time.Duration

	mu      sync.Mutex
	running bool
}

// New creates a slave on node
func New(node *bus.Node, cfg Config) (*Slave, error) {
	if cfg.Type == comprot.DeviceAny {
		return nil, fmt.Errorf("slave needs a device type")
	}
	if cfg.MasterID == 0 {
		cfg.MasterID = comprot.MasterID
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("PjonSlave%d", node.ID())
	}

	return &Slave{
		node:     node,
		cfg:      cfg,
		registry: NewRegistry(),
		logger: cfg.Logger.With().
			Str("component", "slave").
			Uint8("node", node.ID()).
			Str("type", cfg.Type.String()).
			Logger(),
		requests: make(chan job, requestQueueSize),
		interval: make(chan time.Duration, 1),
	}, nil
}

// ID returns the slave's bus id
func (s *Slave) ID() uint8 {
	return s.node.ID()
}

// Type returns the slave's device type
func (s *Slave) Type() comprot.DeviceType {
	return s.cfg.Type
}

// Name returns the slave's device name
func (s *Slave) Name() string {
	return s.cfg.Name
}

// Handle registers a handler for a command opcode
func (s *Slave) Handle(opcode uint8, fn HandlerFunc) error {
	return s.registry.Handle(opcode, fn)
}

// HandleNibble registers a handler for a StarWire command nibble
func (s *Slave) HandleNibble(nibble uint8, fn HandlerFunc) error {
	return s.registry.HandleNibble(nibble, fn)
}

// SetHeartbeatInterval changes the heartbeat period of a running slave
func (s *Slave) SetHeartbeatInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-s.interval:
	default:
	}
	s.interval <- d
}

// Run sends heartbeats and serves commands until ctx is cancelled
func (s *Slave) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("slave %d already running", s.ID())
	}
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.node.SetReceiver(s.receive)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.heartbeatLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.dispatchLoop(ctx)
	}()

	s.logger.Info().Uint8("master", s.cfg.MasterID).Dur("interval", s.cfg.HeartbeatInterval).Msg("slave started")
	err := s.node.Run(ctx)
	cancel()
	wg.Wait()
	s.logger.Info().Msg("slave stopped")
	return err
}

func (s *Slave) heartbeatLoop(ctx context.Context) {
	beat := comprot.Heartbeat{ID: s.ID(), Type: s.cfg.Type}.Encode()
	send := func() {
		if err := s.node.Send(ctx, s.cfg.MasterID, beat); err != nil {
			s.logger.Debug().Err(err).Msg("heartbeat send failed")
		}
	}

	send()
	tick := time.NewTicker(s.cfg.HeartbeatInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			send()
		case d := <-s.interval:
			tick.Reset(d)
			s.logger.Info().Dur("interval", d).Msg("heartbeat interval changed")
		}
	}
}

// receive runs on the bus goroutine; handlers run on the dispatch goroutine
// so they may send (and wait for acks) without stalling reception.
func (s *Slave) receive(p bus.Packet) {
	msg, err := comprot.ParseMessage(p.Payload)
	if err != nil {
		s.logger.Debug().Err(err).Uint8("src", p.Src).Msg("ignoring payload")
		return
	}

	var req Request
	switch m := msg.(type) {
	case comprot.Command:
		req = Request{Sender: p.Src, TargetType: m.TargetType, Opcode: m.Opcode, Data: m.Data, Broadcast: p.Broadcast}
	case comprot.StarWireCommand:
		req = Request{Sender: p.Src, TargetType: m.TargetType, Opcode: m.Nibble, Data: m.Data, Broadcast: p.Broadcast, StarWire: true}
	case comprot.HelloRequest:
		s.enqueueHello(p.Src)
		return
	default:
		return
	}

	if !comprot.Matches(req.TargetType, s.cfg.Type) {
		s.logger.Debug().
			Uint8("src", p.Src).
			Str("target", req.TargetType.String()).
			Msg("command for another device type")
		observability.RecordCommandHandled(s.ID(), "ignored")
		return
	}

	select {
	case s.requests <- job{req: req}:
	default:
		s.logger.Warn().Uint8("opcode", req.Opcode).Msg("command queue full, dropping")
		observability.RecordCommandHandled(s.ID(), "dropped")
	}
}

// job is one queued unit of slave work
type job struct {
	req   Request
	hello bool
}

func (s *Slave) enqueueHello(src uint8) {
	select {
	case s.requests <- job{req: Request{Sender: src}, hello: true}:
	default:
	}
}

func (s *Slave) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.requests:
			if j.hello {
				s.replyHello(ctx, j.req.Sender)
				continue
			}
			s.dispatch(ctx, j.req)
		}
	}
}

func (s *Slave) dispatch(ctx context.Context, req Request) {
	var (
		fn HandlerFunc
		ok bool
	)
	if req.StarWire {
		fn, ok = s.registry.LookupNibble(req.Opcode)
	} else {
		fn, ok = s.registry.Lookup(req.Opcode)
	}
	if !ok {
		s.logger.Warn().
			Uint8("src", req.Sender).
			Bool("starwire", req.StarWire).
			Str("opcode", fmt.Sprintf("0x%02X", req.Opcode)).
			Msg("unknown command")
		observability.RecordCommandHandled(s.ID(), "unknown")
		return
	}

	reply, err := fn(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).Str("opcode", fmt.Sprintf("0x%02X", req.Opcode)).Msg("command failed")
		observability.RecordCommandHandled(s.ID(), "failed")
		return
	}
	observability.RecordCommandHandled(s.ID(), "handled")

	if reply == nil {
		return
	}
	resp := comprot.Response{Opcode: req.Opcode, Data: reply}.Encode()
	if err := s.node.Send(ctx, req.Sender, resp); err != nil {
		s.logger.Warn().Err(err).Uint8("dst", req.Sender).Msg("failed to send response")
	}
}

func (s *Slave) replyHello(ctx context.Context, dst uint8) {
	resp := comprot.HelloResponse{Name: s.cfg.Name}.Encode()
	if err := s.node.Send(ctx, dst, resp); err != nil {
		s.logger.Debug().Err(err).Uint8("dst", dst).Msg("failed to answer hello")
	}
}
