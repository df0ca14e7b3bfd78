// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bus implements a node on the shared half-duplex bus: addressed
// frame send/receive with optional acknowledgement and retry.
package bus

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/plantctl/internal/link"
	"github.com/Thermoquad/plantctl/internal/observability"
	"github.com/Thermoquad/plantctl/pkg/comprot"
	"github.com/rs/zerolog"
)

// Errors returned by Node
var (
	ErrNoAck     = errors.New("no acknowledgement")
	ErrInvalidID = errors.New("invalid node id")
	ErrClosed    = errors.New("node closed")
)

// Default acknowledgement settings
const (
	DefaultMaxAttempts = 3
	DefaultAckTimeout  = 100 * time.Millisecond
)

// Packet is a frame delivered to the receive callback
type Packet struct {
	Src       uint8
	Dst       uint8
	Payload   []byte
	Broadcast bool
	Timestamp time.Time
}

// ReceiveFunc is invoked from the Run goroutine for every accepted packet
type ReceiveFunc func(Packet)

// Options configures a Node
type Options struct {
	ID          uint8
	CRC32       bool // send frames with a CRC-32 trailer
	Ack         bool // request acknowledgement for unicast frames
	MaxAttempts int
	AckTimeout  time.Duration
	Backoff     BackoffConfig
	Sniff       bool // deliver frames addressed to other nodes
	Logger      zerolog.Logger
}

// Stats is a snapshot of node counters
type Stats struct {
	Sent         uint64
	Received     uint64
	CRCErrors    uint64
	DecodeErrors uint64
	Retries      uint64
	AckFailures  uint64
}

// Node is one participant on the bus
type Node struct {
	conn   link.Connection
	opts   Options
	logger zerolog.Logger

	writeMu sync.Mutex

	recvMu   sync.RWMutex
	receiver ReceiveFunc

	ackSendMu sync.Mutex // one acknowledged send in flight at a time
	ackMu     sync.Mutex
	ackWait   map[uint8]chan struct{}

	rngMu sync.Mutex
	rng   *rand.Rand

	sent, received, crcErrors, decodeErrors, retries, ackFailures atomic.Uint64

	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a node on conn. The node owns conn and closes it on Close.
func New(conn link.Connection, opts Options) (*Node, error) {
	if opts.ID == comprot.AddressBroadcast || opts.ID > comprot.MaxNodeID {
		return nil, fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidID, opts.ID, comprot.MaxNodeID)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.Backoff == (BackoffConfig{}) {
		opts.Backoff = DefaultBackoff
	}

	return &Node{
		conn:    conn,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "bus").Uint8("node", opts.ID).Logger(),
		ackWait: make(map[uint8]chan struct{}),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// ID returns the node's bus id
func (n *Node) ID() uint8 {
	return n.opts.ID
}

// SetReceiver installs the receive callback, replacing any previous one
func (n *Node) SetReceiver(fn ReceiveFunc) {
	n.recvMu.Lock()
	n.receiver = fn
	n.recvMu.Unlock()
}

// Stats returns a snapshot of the node counters
func (n *Node) Stats() Stats {
	return Stats{
		Sent:         n.sent.Load(),
		Received:     n.received.Load(),
		CRCErrors:    n.crcErrors.Load(),
		DecodeErrors: n.decodeErrors.Load(),
		Retries:      n.retries.Load(),
		AckFailures:  n.ackFailures.Load(),
	}
}

func (n *Node) baseFlags() uint8 {
	if n.opts.CRC32 {
		return comprot.FlagCRC32
	}
	return 0
}

func (n *Node) writeFrame(dst, flags uint8, payload []byte) error {
	if n.closed.Load() {
		return ErrClosed
	}
	wire, err := comprot.EncodeFrame(dst, n.opts.ID, flags, payload)
	if err != nil {
		return err
	}

	n.writeMu.Lock()
	_, err = n.conn.Write(wire)
	n.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("write to bus: %w", err)
	}

	n.sent.Add(1)
	observability.RecordFrameSent(n.opts.ID, frameLabel(flags, payload))
	return nil
}

// Send transmits payload to dst. With acknowledgement enabled, unicast
// frames are retried until acknowledged or MaxAttempts is exhausted.
func (n *Node) Send(ctx context.Context, dst uint8, payload []byte) error {
	start := time.Now()
	if !n.opts.Ack || dst == comprot.AddressBroadcast {
		err := n.writeFrame(dst, n.baseFlags(), payload)
		observability.RecordSend(n.opts.ID, time.Since(start), false)
		return err
	}

	err := n.sendAcked(ctx, dst, payload)
	observability.RecordSend(n.opts.ID, time.Since(start), err == nil)
	return err
}

func (n *Node) sendAcked(ctx context.Context, dst uint8, payload []byte) error {
	n.ackSendMu.Lock()
	defer n.ackSendMu.Unlock()

	acked := make(chan struct{}, 1)
	n.ackMu.Lock()
	n.ackWait[dst] = acked
	n.ackMu.Unlock()
	defer func() {
		n.ackMu.Lock()
		delete(n.ackWait, dst)
		n.ackMu.Unlock()
	}()

	flags := n.baseFlags() | comprot.FlagAckRequest
	for attempt := 1; attempt <= n.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			n.retries.Add(1)
			if err := sleepContext(ctx, n.backoff(attempt-1)); err != nil {
				return err
			}
		}

		if err := n.writeFrame(dst, flags, payload); err != nil {
			return err
		}

		timer := time.NewTimer(n.opts.AckTimeout)
		select {
		case <-acked:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			n.logger.Debug().Uint8("dst", dst).Int("attempt", attempt).Msg("ack timeout")
		}
	}

	n.ackFailures.Add(1)
	observability.RecordAckFailure(n.opts.ID)
	return fmt.Errorf("%w from node %d after %d attempts", ErrNoAck, dst, n.opts.MaxAttempts)
}

func (n *Node) backoff(attempt int) time.Duration {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	return NextBackoffDelay(n.opts.Backoff, attempt, n.rng)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run reads and dispatches frames until ctx is cancelled or the connection
// fails. Cancelling ctx closes the connection.
func (n *Node) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			n.Close()
		case <-stop:
		}
	}()

	decoder := comprot.NewDecoder()
	buf := make([]byte, 256)
	for {
		nr, err := n.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil || n.closed.Load() {
				return nil
			}
			return fmt.Errorf("read from bus: %w", err)
		}

		frames, errs := decoder.Decode(buf[:nr])
		for _, derr := range errs {
			n.recordDecodeError(derr)
		}
		for _, f := range frames {
			n.handleFrame(f)
		}
	}
}

func (n *Node) recordDecodeError(err error) {
	if errors.Is(err, comprot.ErrCRCMismatch) {
		n.crcErrors.Add(1)
		observability.RecordFrameError(n.opts.ID, "crc")
	} else {
		n.decodeErrors.Add(1)
		observability.RecordFrameError(n.opts.ID, "decode")
	}
	n.logger.Debug().Err(err).Msg("dropped frame")
}

func (n *Node) handleFrame(f *comprot.Frame) {
	// Half-duplex transceivers may echo our own transmissions
	if f.Src() == n.opts.ID {
		return
	}

	toUs := f.Dst() == n.opts.ID
	if f.IsAck() {
		if toUs {
			n.ackMu.Lock()
			ch, ok := n.ackWait[f.Src()]
			n.ackMu.Unlock()
			if ok {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
		if !n.opts.Sniff {
			return
		}
	}

	if !toUs && !f.IsBroadcast() && !n.opts.Sniff {
		return
	}

	if toUs && f.WantsAck() {
		if err := n.writeFrame(f.Src(), n.baseFlags()|comprot.FlagAck, nil); err != nil {
			n.logger.Debug().Err(err).Uint8("dst", f.Src()).Msg("failed to send ack")
		}
	}

	n.received.Add(1)
	observability.RecordFrameReceived(n.opts.ID, frameLabel(f.Flags(), f.Payload()))

	n.recvMu.RLock()
	fn := n.receiver
	n.recvMu.RUnlock()
	if fn == nil {
		return
	}
	fn(Packet{
		Src:       f.Src(),
		Dst:       f.Dst(),
		Payload:   f.Payload(),
		Broadcast: f.IsBroadcast(),
		Timestamp: f.Timestamp(),
	})
}

// Close closes the underlying connection. Run returns nil afterwards.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.closed.Store(true)
		err = n.conn.Close()
	})
	return err
}

func frameLabel(flags uint8, payload []byte) string {
	if flags&comprot.FlagAck != 0 && len(payload) == 0 {
		return "ACK"
	}
	if len(payload) == 0 {
		return "EMPTY"
	}
	return comprot.FormatMessageType(payload[0])
}
