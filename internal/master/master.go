// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package master runs the master side of the bus: slave discovery from
// heartbeats, eviction of silent slaves, and command dispatch.
package master

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/plantctl/internal/bus"
	"github.com/Thermoquad/plantctl/internal/observability"
	"github.com/Thermoquad/plantctl/internal/peers"
	"github.com/Thermoquad/plantctl/pkg/comprot"
	"github.com/rs/zerolog"
)

// Default timing
const (
	DefaultPeerTimeout   = 5 * time.Second
	DefaultSweepInterval = time.Second
)

// TypeMode selects how commands for a device type reach the bus
type TypeMode string

// Type addressing modes
const (
	// ModeIterate sends one unicast frame per known peer of the type
	ModeIterate TypeMode = "iterate"
	// ModeBus sends one broadcast frame and lets slaves filter by type
	ModeBus TypeMode = "bus"
)

// Errors returned by Master
var (
	ErrInvalidTarget  = errors.New("invalid target")
	ErrRequestPending = errors.New("request already pending")
)

// Config configures a master
type Config struct {
	PeerTimeout   time.Duration
	SweepInterval time.Duration
	TypeMode      TypeMode
	HelloInterval time.Duration // zero disables hello polling
	HelloTargets  []uint8
	Logger        zerolog.Logger
}

// DebugFunc observes every packet the master receives; msg is nil when the
// payload does not parse.
type DebugFunc func(p bus.Packet, msg comprot.Message)

type pendingKey struct {
	id     uint8
	opcode uint8
}

// Master discovers slaves and sends them commands
type Master struct {
	node   *bus.Node
	cfg    Config
	peers  *peers.Table
	logger zerolog.Logger
	now    func() time.Time

	cbMu       sync.RWMutex
	onJoined   func(peers.Peer)
	onLost     func(peers.Peer)
	onResponse func(src uint8, r comprot.Response)
	onHello    func(src uint8, name string)
	debug      DebugFunc

	pendingMu sync.Mutex
	pending   map[pendingKey]chan comprot.Response
}

// New creates a master on node
func New(node *bus.Node, cfg Config) (*Master, error) {
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = DefaultPeerTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	switch cfg.TypeMode {
	case "":
		cfg.TypeMode = ModeIterate
	case ModeIterate, ModeBus:
	default:
		return nil, fmt.Errorf("unknown type mode %q (use iterate or bus)", cfg.TypeMode)
	}

	return &Master{
		node:    node,
		cfg:     cfg,
		peers:   peers.NewTable(),
		logger:  cfg.Logger.With().Str("component", "master").Uint8("node", node.ID()).Logger(),
		now:     time.Now,
		pending: make(map[pendingKey]chan comprot.Response),
	}, nil
}

// PeerTimeout returns the silence limit after which a slave is evicted
func (m *Master) PeerTimeout() time.Duration {
	return m.cfg.PeerTimeout
}

// ID returns the master's bus id
func (m *Master) ID() uint8 {
	return m.node.ID()
}

// Peers returns the live peer table
func (m *Master) Peers() *peers.Table {
	return m.peers
}

// ConnectedSlaves returns every known slave sorted by id
func (m *Master) ConnectedSlaves() []peers.Peer {
	return m.peers.All()
}

// SlavesByType returns the known slaves of one device type
func (m *Master) SlavesByType(t comprot.DeviceType) []peers.Peer {
	return m.peers.ByType(t)
}

// OnPeerJoined sets the callback for newly discovered slaves
func (m *Master) OnPeerJoined(fn func(peers.Peer)) {
	m.cbMu.Lock()
	m.onJoined = fn
	m.cbMu.Unlock()
}

// OnPeerLost sets the callback for evicted slaves
func (m *Master) OnPeerLost(fn func(peers.Peer)) {
	m.cbMu.Lock()
	m.onLost = fn
	m.cbMu.Unlock()
}

// OnResponse sets the callback for command responses
func (m *Master) OnResponse(fn func(src uint8, r comprot.Response)) {
	m.cbMu.Lock()
	m.onResponse = fn
	m.cbMu.Unlock()
}

// OnHello sets the callback for hello responses
func (m *Master) OnHello(fn func(src uint8, name string)) {
	m.cbMu.Lock()
	m.onHello = fn
	m.cbMu.Unlock()
}

// SetDebugReceiveHandler installs a handler that sees every received packet
func (m *Master) SetDebugReceiveHandler(fn DebugFunc) {
	m.cbMu.Lock()
	m.debug = fn
	m.cbMu.Unlock()
}

// Run receives heartbeats and responses, evicts silent slaves and polls
// hello targets until ctx is cancelled. Callbacks run on internal
// goroutines and must not block.
func (m *Master) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.node.SetReceiver(m.receive)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.sweepLoop(ctx)
	}()
	if m.cfg.HelloInterval > 0 && len(m.cfg.HelloTargets) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.helloLoop(ctx)
		}()
	}

	m.logger.Info().
		Dur("timeout", m.cfg.PeerTimeout).
		Str("type_mode", string(m.cfg.TypeMode)).
		Msg("master started")
	err := m.node.Run(ctx)
	cancel()
	wg.Wait()
	m.logger.Info().Msg("master stopped")
	return err
}

func (m *Master) receive(p bus.Packet) {
	msg, err := comprot.ParseMessage(p.Payload)

	m.cbMu.RLock()
	debug := m.debug
	m.cbMu.RUnlock()
	if debug != nil {
		debug(p, msg)
	}

	if err != nil {
		m.logger.Debug().Err(err).Uint8("src", p.Src).Msg("ignoring payload")
		return
	}

	switch msg := msg.(type) {
	case comprot.Heartbeat:
		m.handleHeartbeat(p, msg)
	case comprot.Response:
		m.handleResponse(p.Src, msg)
	case comprot.HelloResponse:
		m.peers.SetName(p.Src, msg.Name)
		m.logger.Info().Uint8("id", p.Src).Str("name", msg.Name).Msg("hello response")
		m.cbMu.RLock()
		fn := m.onHello
		m.cbMu.RUnlock()
		if fn != nil {
			fn(p.Src, msg.Name)
		}
	}
}

func (m *Master) handleHeartbeat(p bus.Packet, h comprot.Heartbeat) {
	if h.ID == comprot.AddressBroadcast || h.ID > comprot.MaxNodeID {
		m.logger.Warn().Uint8("src", p.Src).Uint8("id", h.ID).Msg("heartbeat with invalid id")
		return
	}
	if h.ID != p.Src {
		m.logger.Debug().Uint8("src", p.Src).Uint8("id", h.ID).Msg("heartbeat id differs from frame source")
	}

	peer, isNew := m.peers.Upsert(h.ID, h.Type, m.now())
	if !isNew {
		return
	}

	m.logger.Info().Uint8("id", peer.ID).Str("type", peer.Type.String()).Msg("new slave connected")
	observability.SetPeersActive(m.ID(), m.peers.Len())

	m.cbMu.RLock()
	fn := m.onJoined
	m.cbMu.RUnlock()
	if fn != nil {
		fn(peer)
	}
}

func (m *Master) handleResponse(src uint8, r comprot.Response) {
	m.cbMu.RLock()
	fn := m.onResponse
	m.cbMu.RUnlock()
	if fn != nil {
		fn(src, r)
	}

	m.pendingMu.Lock()
	ch, ok := m.pending[pendingKey{src, r.Opcode}]
	m.pendingMu.Unlock()
	if ok {
		select {
		case ch <- r:
		default:
		}
	}
}

func (m *Master) sweepLoop(ctx context.Context) {
	tick := time.NewTicker(m.cfg.SweepInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			m.Sweep()
		}
	}
}

// Sweep evicts slaves silent for longer than the peer timeout and returns them
func (m *Master) Sweep() []peers.Peer {
	evicted := m.peers.Sweep(m.now(), m.cfg.PeerTimeout)
	if len(evicted) == 0 {
		return nil
	}

	observability.RecordEvictions(m.ID(), len(evicted))
	observability.SetPeersActive(m.ID(), m.peers.Len())

	m.cbMu.RLock()
	fn := m.onLost
	m.cbMu.RUnlock()
	for _, p := range evicted {
		m.logger.Info().Uint8("id", p.ID).Str("type", p.Type.String()).Msg("slave timed out")
		if fn != nil {
			fn(p)
		}
	}
	return evicted
}

func (m *Master) helloLoop(ctx context.Context) {
	tick := time.NewTicker(m.cfg.HelloInterval)
	defer tick.Stop()

	next := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			target := m.cfg.HelloTargets[next]
			next = (next + 1) % len(m.cfg.HelloTargets)
			if err := m.node.Send(ctx, target, comprot.HelloRequest{}.Encode()); err != nil {
				m.logger.Debug().Err(err).Uint8("dst", target).Msg("hello request failed")
			}
		}
	}
}
