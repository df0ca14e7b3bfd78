// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package peers tracks the slaves a master has heard from.
package peers

import (
	"sort"
	"sync"
	"time"

	"github.com/Thermoquad/plantctl/pkg/comprot"
)

// Peer is one known slave
type Peer struct {
	ID        uint8
	Type      comprot.DeviceType
	FirstSeen time.Time
	LastSeen  time.Time
	Name      string // from a hello response, if any
}

// Table is a concurrency-safe peer table keyed by bus id
type Table struct {
	mu    sync.RWMutex
	peers map[uint8]*Peer
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{peers: make(map[uint8]*Peer)}
}

// Upsert records a heartbeat from id. An existing peer's type and lastSeen
// are overwritten. Returns the stored peer and whether it was new.
func (t *Table) Upsert(id uint8, deviceType comprot.DeviceType, now time.Time) (Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.peers[id]; ok {
		p.Type = deviceType
		p.LastSeen = now
		return *p, false
	}

	p := &Peer{ID: id, Type: deviceType, FirstSeen: now, LastSeen: now}
	t.peers[id] = p
	return *p, true
}

// SetName records a device name for a known peer
func (t *Table) SetName(id uint8, name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.peers[id]
	if !ok {
		return false
	}
	p.Name = name
	return true
}

// Sweep removes and returns every peer silent for longer than timeout
func (t *Table) Sweep(now time.Time, timeout time.Duration) []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []Peer
	for id, p := range t.peers {
		if now.Sub(p.LastSeen) > timeout {
			evicted = append(evicted, *p)
			delete(t.peers, id)
		}
	}
	sortByID(evicted)
	return evicted
}

// Get returns the peer with id
func (t *Table) Get(id uint8) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// All returns every peer sorted by id
func (t *Table) All() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	sortByID(out)
	return out
}

// ByType returns the peers of one device type sorted by id
func (t *Table) ByType(deviceType comprot.DeviceType) []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Peer
	for _, p := range t.peers {
		if p.Type == deviceType {
			out = append(out, *p)
		}
	}
	sortByID(out)
	return out
}

// HasType reports whether any peer of deviceType is connected
func (t *Table) HasType(deviceType comprot.DeviceType) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, p := range t.peers {
		if p.Type == deviceType {
			return true
		}
	}
	return false
}

// Len returns the number of peers
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

func sortByID(p []Peer) {
	sort.Slice(p, func(i, j int) bool { return p[i].ID < p[j].ID })
}
