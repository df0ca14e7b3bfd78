// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"sync"
	"sync/atomic"
)

// DefaultMediumBuffer is the number of pending chunks an endpoint may queue
const DefaultMediumBuffer = 256

// Medium is an in-process shared half-duplex wire. Every chunk written by
// one endpoint is delivered to all other attached endpoints; only one
// endpoint transmits at a time.
type Medium struct {
	mu        sync.Mutex
	endpoints map[*Endpoint]struct{}
	bufSize   int
	dropped   atomic.Uint64
}

// NewMedium creates an empty medium
func NewMedium() *Medium {
	return &Medium{
		endpoints: make(map[*Endpoint]struct{}),
		bufSize:   DefaultMediumBuffer,
	}
}

// Attach connects a new endpoint to the medium
func (m *Medium) Attach() *Endpoint {
	e := &Endpoint{
		medium: m,
		rx:     make(chan []byte, m.bufSize),
		closed: make(chan struct{}),
	}
	m.mu.Lock()
	m.endpoints[e] = struct{}{}
	m.mu.Unlock()
	return e
}

// Dropped returns how many chunks were lost to full receive buffers
func (m *Medium) Dropped() uint64 {
	return m.dropped.Load()
}

// Endpoints returns the number of attached endpoints
func (m *Medium) Endpoints() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.endpoints)
}

func (m *Medium) transmit(from *Endpoint, p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for e := range m.endpoints {
		if e == from {
			continue
		}
		chunk := make([]byte, len(p))
		copy(chunk, p)
		select {
		case e.rx <- chunk:
		default:
			m.dropped.Add(1)
		}
	}
}

func (m *Medium) detach(e *Endpoint) {
	m.mu.Lock()
	delete(m.endpoints, e)
	m.mu.Unlock()
}

// Endpoint is one node's tap on a Medium. It implements Connection.
type Endpoint struct {
	medium    *Medium
	rx        chan []byte
	pending   []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (e *Endpoint) Read(p []byte) (int, error) {
	if len(e.pending) == 0 {
		select {
		case <-e.closed:
			return 0, ErrConnectionClosed
		case chunk := <-e.rx:
			e.pending = chunk
		}
	}
	n := copy(p, e.pending)
	e.pending = e.pending[n:]
	return n, nil
}

func (e *Endpoint) Write(p []byte) (int, error) {
	select {
	case <-e.closed:
		return 0, ErrConnectionClosed
	default:
	}
	e.medium.transmit(e, p)
	return len(p), nil
}

// Close detaches the endpoint; pending reads return ErrConnectionClosed
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.medium.detach(e)
		close(e.closed)
	})
	return nil
}
