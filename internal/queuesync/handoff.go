// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package queuesync

import (
	"errors"
	"fmt"

	"github.com/gogpu/nbody/gpucore"
)

// ErrInvalidTransition is returned when a handoff step is taken out of order.
var ErrInvalidTransition = errors.New("queuesync: invalid handoff transition")

// StateKind distinguishes settled ownership from an in-flight transfer.
type StateKind uint8

const (
	// Owned means one role holds the resource.
	Owned StateKind = iota
	// Transferring means the holder released the resource and the
	// receiver has not acquired it yet.
	Transferring
)

// State is the ownership state of the shared buffer.
type State struct {
	Kind StateKind
	// From is the owner, or the releasing role while transferring.
	From gpucore.QueueRole
	// To is the receiving role while transferring.
	To gpucore.QueueRole
}

// OwnedBy returns the state in which role holds the resource.
func OwnedBy(role gpucore.QueueRole) State {
	return State{Kind: Owned, From: role, To: role}
}

// TransferringTo returns the state in which from released the resource to to.
func TransferringTo(from, to gpucore.QueueRole) State {
	return State{Kind: Transferring, From: from, To: to}
}

// String returns a readable form such as "OwnedBy(compute)".
func (s State) String() string {
	if s.Kind == Owned {
		return fmt.Sprintf("OwnedBy(%s)", s.From)
	}
	return fmt.Sprintf("Transferring(%s->%s)", s.From, s.To)
}

// Handoff is the ownership state machine of the shared buffer:
//
//	OwnedBy(graphics) --EndGraphics--> Transferring(graphics->compute)
//	Transferring(graphics->compute) --BeginCompute--> OwnedBy(compute)
//	OwnedBy(compute) --EndCompute--> Transferring(compute->graphics)
//	Transferring(compute->graphics) --BeginGraphics--> OwnedBy(graphics)
//
// The machine starts in OwnedBy(graphics) because the initial upload runs
// on the graphics queue. It advances the same way whether or not the two
// roles share a queue family.
type Handoff struct {
	state State
}

// NewHandoff returns a machine in OwnedBy(graphics).
func NewHandoff() *Handoff {
	return &Handoff{state: OwnedBy(gpucore.RoleGraphics)}
}

// State returns the current state.
func (h *Handoff) State() State {
	return h.state
}

// BeginCompute moves Transferring(graphics->compute) to OwnedBy(compute).
func (h *Handoff) BeginCompute() error {
	return h.step(TransferringTo(gpucore.RoleGraphics, gpucore.RoleCompute), OwnedBy(gpucore.RoleCompute))
}

// EndCompute moves OwnedBy(compute) to Transferring(compute->graphics).
func (h *Handoff) EndCompute() error {
	return h.step(OwnedBy(gpucore.RoleCompute), TransferringTo(gpucore.RoleCompute, gpucore.RoleGraphics))
}

// BeginGraphics moves Transferring(compute->graphics) to OwnedBy(graphics).
func (h *Handoff) BeginGraphics() error {
	return h.step(TransferringTo(gpucore.RoleCompute, gpucore.RoleGraphics), OwnedBy(gpucore.RoleGraphics))
}

// EndGraphics moves OwnedBy(graphics) to Transferring(graphics->compute).
func (h *Handoff) EndGraphics() error {
	return h.step(OwnedBy(gpucore.RoleGraphics), TransferringTo(gpucore.RoleGraphics, gpucore.RoleCompute))
}

func (h *Handoff) step(from, to State) error {
	if h.state != from {
		return fmt.Errorf("%w: %s -> %s from %s", ErrInvalidTransition, from, to, h.state)
	}
	h.state = to
	return nil
}
