// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/Thermoquad/plantctl/internal/link"
	"github.com/Thermoquad/plantctl/pkg/comprot"
	"github.com/rs/zerolog"
)

func newTestNode(t *testing.T, m *link.Medium, opts Options) (*Node, chan Packet) {
	t.Helper()
	opts.Logger = zerolog.Nop()
	n, err := New(m.Attach(), opts)
	if err != nil {
		t.Fatalf("New(%d) failed: %v", opts.ID, err)
	}
	packets := make(chan Packet, 16)
	n.SetReceiver(func(p Packet) { packets <- p })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run(%d) returned %v", opts.ID, err)
		}
	})
	return n, packets
}

func expectPacket(t *testing.T, ch chan Packet) Packet {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for packet")
	}
	return Packet{}
}

func expectNoPacket(t *testing.T, ch chan Packet) {
	t.Helper()
	select {
	case p := <-ch:
		t.Fatalf("unexpected packet %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNew_InvalidID(t *testing.T) {
	m := link.NewMedium()
	for _, id := range []uint8{0, 255} {
		if _, err := New(m.Attach(), Options{ID: id}); !errors.Is(err, ErrInvalidID) {
			t.Errorf("New(id=%d) error = %v, want ErrInvalidID", id, err)
		}
	}
}

func TestNode_Unicast(t *testing.T) {
	m := link.NewMedium()
	a, _ := newTestNode(t, m, Options{ID: 1})
	_, bPackets := newTestNode(t, m, Options{ID: 10})
	_, cPackets := newTestNode(t, m, Options{ID: 11})

	payload := comprot.Heartbeat{ID: 1, Type: comprot.DeviceSolar}.Encode()
	if err := a.Send(context.Background(), 10, payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	p := expectPacket(t, bPackets)
	if p.Src != 1 || p.Dst != 10 || p.Broadcast || !bytes.Equal(p.Payload, payload) {
		t.Errorf("got %+v", p)
	}
	expectNoPacket(t, cPackets)

	if s := a.Stats(); s.Sent != 1 {
		t.Errorf("Sent = %d, want 1", s.Sent)
	}
}

func TestNode_Broadcast(t *testing.T) {
	m := link.NewMedium()
	a, aPackets := newTestNode(t, m, Options{ID: 1})
	_, bPackets := newTestNode(t, m, Options{ID: 10})
	_, cPackets := newTestNode(t, m, Options{ID: 11})

	if err := a.Send(context.Background(), comprot.AddressBroadcast, []byte{comprot.MsgHelloRequest}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	for _, ch := range []chan Packet{bPackets, cPackets} {
		if p := expectPacket(t, ch); !p.Broadcast || p.Src != 1 {
			t.Errorf("got %+v", p)
		}
	}
	expectNoPacket(t, aPackets)
}

func TestNode_Sniff(t *testing.T) {
	m := link.NewMedium()
	a, _ := newTestNode(t, m, Options{ID: 1})
	_, _ = newTestNode(t, m, Options{ID: 10})
	_, sniffed := newTestNode(t, m, Options{ID: 200, Sniff: true})

	a.Send(context.Background(), 10, []byte{comprot.MsgHelloRequest})
	if p := expectPacket(t, sniffed); p.Dst != 10 {
		t.Errorf("sniffed %+v", p)
	}
}

func TestNode_IgnoresOwnFrames(t *testing.T) {
	m := link.NewMedium()
	_, packets := newTestNode(t, m, Options{ID: 5})

	// Another endpoint replays a frame carrying our own source id
	echo := m.Attach()
	defer echo.Close()
	echo.Write(comprot.MustEncodeFrame(5, 5, 0, []byte{comprot.MsgHelloRequest}))
	expectNoPacket(t, packets)
}

func TestNode_CountsCRCErrors(t *testing.T) {
	m := link.NewMedium()
	n, packets := newTestNode(t, m, Options{ID: 5})

	wire := comprot.MustEncodeFrame(5, 9, 0, []byte{comprot.MsgHeartbeat, 9, 1})
	wire[6] = 11
	raw := m.Attach()
	defer raw.Close()
	raw.Write(wire)

	expectNoPacket(t, packets)
	if s := n.Stats(); s.CRCErrors != 1 {
		t.Errorf("CRCErrors = %d, want 1", s.CRCErrors)
	}
}

func TestNode_CRC32(t *testing.T) {
	m := link.NewMedium()
	a, _ := newTestNode(t, m, Options{ID: 1, CRC32: true})
	_, packets := newTestNode(t, m, Options{ID: 2})

	a.Send(context.Background(), 2, []byte{comprot.MsgHelloRequest})
	if p := expectPacket(t, packets); p.Src != 1 {
		t.Errorf("got %+v", p)
	}
}

func TestNode_AckedSend(t *testing.T) {
	m := link.NewMedium()
	a, _ := newTestNode(t, m, Options{ID: 1, Ack: true})
	_, packets := newTestNode(t, m, Options{ID: 2})

	if err := a.Send(context.Background(), 2, []byte{comprot.MsgHelloRequest}); err != nil {
		t.Fatalf("acked Send failed: %v", err)
	}
	expectPacket(t, packets)
	if s := a.Stats(); s.Retries != 0 || s.AckFailures != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestNode_AckExhausted(t *testing.T) {
	m := link.NewMedium()
	a, _ := newTestNode(t, m, Options{
		ID:          1,
		Ack:         true,
		MaxAttempts: 3,
		AckTimeout:  10 * time.Millisecond,
		Backoff:     BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2},
	})

	err := a.Send(context.Background(), 42, []byte{comprot.MsgHelloRequest})
	if !errors.Is(err, ErrNoAck) {
		t.Fatalf("Send error = %v, want ErrNoAck", err)
	}
	s := a.Stats()
	if s.Sent != 3 || s.Retries != 2 || s.AckFailures != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestNode_BroadcastNeverAcked(t *testing.T) {
	m := link.NewMedium()
	a, _ := newTestNode(t, m, Options{ID: 1, Ack: true, AckTimeout: 10 * time.Millisecond})

	if err := a.Send(context.Background(), comprot.AddressBroadcast, []byte{comprot.MsgHelloRequest}); err != nil {
		t.Fatalf("broadcast Send failed: %v", err)
	}
	if s := a.Stats(); s.Sent != 1 {
		t.Errorf("Sent = %d, want 1", s.Sent)
	}
}

func TestNode_SendAfterClose(t *testing.T) {
	m := link.NewMedium()
	n, err := New(m.Attach(), Options{ID: 3, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	n.Close()
	if err := n.Send(context.Background(), 1, []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestNextBackoffDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := NextBackoffDelay(cfg, tt.attempt, nil); got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}

	cfg.Jitter = true
	rng := rand.New(rand.NewSource(1))
	for i := 1; i <= 10; i++ {
		d := NextBackoffDelay(cfg, 2, rng)
		if d < 10*time.Millisecond || d > 30*time.Millisecond {
			t.Errorf("jittered delay %v out of range", d)
		}
	}

	if got := NextBackoffDelay(BackoffConfig{}, 3, nil); got != 0 {
		t.Errorf("zero config delay = %v", got)
	}
}
