// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package slave

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Thermoquad/plantctl/pkg/comprot"
)

// Registry errors
var (
	ErrDuplicateHandler = errors.New("handler already registered")
	ErrInvalidNibble    = errors.New("invalid command nibble")
	ErrNilHandler       = errors.New("nil handler")
)

// Request is a command delivered to a handler
type Request struct {
	Sender     uint8
	TargetType comprot.DeviceType
	Opcode     uint8 // opcode, or the nibble for StarWire commands
	Data       []byte
	Broadcast  bool
	StarWire   bool
}

// HandlerFunc runs a command. A non-nil reply is sent back to the sender.
type HandlerFunc func(ctx context.Context, req Request) ([]byte, error)

// Registry maps opcodes and StarWire nibbles to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[uint8]HandlerFunc
	nibbles  [comprot.MaxNibble + 1]HandlerFunc
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[uint8]HandlerFunc)}
}

// Handle registers fn for opcode
func (r *Registry) Handle(opcode uint8, fn HandlerFunc) error {
	if fn == nil {
		return fmt.Errorf("%w for opcode 0x%02X", ErrNilHandler, opcode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[opcode]; ok {
		return fmt.Errorf("%w: opcode 0x%02X", ErrDuplicateHandler, opcode)
	}
	r.handlers[opcode] = fn
	return nil
}

// HandleNibble registers fn for a StarWire command nibble (0-15)
func (r *Registry) HandleNibble(nibble uint8, fn HandlerFunc) error {
	if nibble > comprot.MaxNibble {
		return fmt.Errorf("%w: %d (must be 0-%d)", ErrInvalidNibble, nibble, comprot.MaxNibble)
	}
	if fn == nil {
		return fmt.Errorf("%w for nibble %d", ErrNilHandler, nibble)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.nibbles[nibble] != nil {
		return fmt.Errorf("%w: nibble %d", ErrDuplicateHandler, nibble)
	}
	r.nibbles[nibble] = fn
	return nil
}

// Lookup returns the handler for opcode
func (r *Registry) Lookup(opcode uint8) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[opcode]
	return fn, ok
}

// LookupNibble returns the handler for a StarWire nibble
func (r *Registry) LookupNibble(nibble uint8) (HandlerFunc, bool) {
	if nibble > comprot.MaxNibble {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn := r.nibbles[nibble]
	return fn, fn != nil
}
