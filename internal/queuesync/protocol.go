// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package queuesync implements the per-frame handoff of the shared particle
// buffer between the compute and graphics queues.
//
// Two binary semaphores order the queues: graphicsDone is signaled by every
// graphics submission and waited on by the next compute submission;
// computeDone is signaled by every compute submission and waited on by the
// next graphics submission. graphicsDone is primed once at startup so the
// first compute submission has something to wait on.
//
// When the roles resolve to different queue families, each handoff also
// records a release barrier on the source queue and a matching acquire
// barrier on the destination queue. With a shared family those barriers are
// not recorded; the semaphores alone order the work.
package queuesync

import (
	"errors"
	"fmt"

	"github.com/gogpu/nbody/gpucore"
)

// Protocol errors.
var (
	// ErrNotPrimed is returned when a frame starts before Prime.
	ErrNotPrimed = errors.New("queuesync: graphics semaphore not primed")

	// ErrAlreadyPrimed is returned by a second Prime.
	ErrAlreadyPrimed = errors.New("queuesync: already primed")
)

// EmitsBarrier reports whether ownership barriers are recorded for the given
// graphics and compute families.
func EmitsBarrier(graphics, compute gpucore.QueueFamily) bool {
	return graphics != compute
}

// StageBarrier orders the Calculate writes before the Integrate reads of
// buf within the compute queue. It never transfers ownership.
func StageBarrier(buf gpucore.BufferID) gpucore.BufferBarrier {
	return gpucore.BufferBarrier{
		Buffer:    buf,
		SrcAccess: gpucore.AccessShaderWrite,
		DstAccess: gpucore.AccessShaderRead,
		SrcFamily: gpucore.QueueFamilyIgnored,
		DstFamily: gpucore.QueueFamilyIgnored,
		SrcStage:  gpucore.StageComputeShader,
		DstStage:  gpucore.StageComputeShader,
	}
}

// Stats counts recorded ownership barriers.
type Stats struct {
	Releases uint64
	Acquires uint64
}

// Protocol drives the handoff of one shared buffer.
type Protocol struct {
	dev      gpucore.Device
	buffer   gpucore.BufferID
	graphics gpucore.QueueFamily
	compute  gpucore.QueueFamily

	handoff      *Handoff
	graphicsDone gpucore.SemaphoreID
	computeDone  gpucore.SemaphoreID
	primed       bool
	stats        Stats
}

// New creates the protocol semaphores for buf on dev.
func New(dev gpucore.Device, buf gpucore.BufferID) (*Protocol, error) {
	p := &Protocol{
		dev:      dev,
		buffer:   buf,
		graphics: dev.QueueFamily(gpucore.RoleGraphics),
		compute:  dev.QueueFamily(gpucore.RoleCompute),
		handoff:  NewHandoff(),
	}

	var err error
	if p.graphicsDone, err = dev.CreateSemaphore("graphics_done"); err != nil {
		return nil, fmt.Errorf("create graphics semaphore: %w", err)
	}
	if p.computeDone, err = dev.CreateSemaphore("compute_done"); err != nil {
		dev.DestroySemaphore(p.graphicsDone)
		return nil, fmt.Errorf("create compute semaphore: %w", err)
	}
	return p, nil
}

// SplitFamilies reports whether ownership barriers are recorded.
func (p *Protocol) SplitFamilies() bool {
	return EmitsBarrier(p.graphics, p.compute)
}

// State returns the buffer's ownership state.
func (p *Protocol) State() State {
	return p.handoff.State()
}

// Stats returns the barrier counters.
func (p *Protocol) Stats() Stats {
	return p.stats
}

// Semaphores returns the graphics-done and compute-done semaphores.
func (p *Protocol) Semaphores() (graphicsDone, computeDone gpucore.SemaphoreID) {
	return p.graphicsDone, p.computeDone
}

// ReleaseUpload ends the initial upload recorded in enc on the graphics
// queue and hands the buffer to compute.
func (p *Protocol) ReleaseUpload(enc gpucore.CommandEncoder) error {
	if err := p.handoff.EndGraphics(); err != nil {
		return err
	}
	p.release(enc, gpucore.BufferBarrier{
		SrcAccess: gpucore.AccessTransferWrite,
		DstAccess: gpucore.AccessNone,
		SrcFamily: p.graphics,
		DstFamily: p.compute,
		SrcStage:  gpucore.StageTransfer,
		DstStage:  gpucore.StageBottomOfPipe,
	})
	return nil
}

// Prime signals graphicsDone with an empty graphics submission and waits
// for the device to go idle.
func (p *Protocol) Prime() error {
	if p.primed {
		return ErrAlreadyPrimed
	}
	if err := p.dev.Submit(gpucore.RoleGraphics, gpucore.SubmitInfo{
		Label:   "prime_graphics_done",
		Signals: []gpucore.SemaphoreID{p.graphicsDone},
	}); err != nil {
		return fmt.Errorf("prime graphics semaphore: %w", err)
	}
	if err := p.dev.WaitIdle(); err != nil {
		return fmt.Errorf("prime graphics semaphore: %w", err)
	}
	p.primed = true
	return nil
}

// BeginCompute records the compute-side acquire.
func (p *Protocol) BeginCompute(enc gpucore.CommandEncoder) error {
	if !p.primed {
		return ErrNotPrimed
	}
	if err := p.handoff.BeginCompute(); err != nil {
		return err
	}
	p.acquire(enc, gpucore.BufferBarrier{
		SrcAccess: gpucore.AccessNone,
		DstAccess: gpucore.AccessShaderWrite,
		SrcFamily: p.graphics,
		DstFamily: p.compute,
		SrcStage:  gpucore.StageTopOfPipe,
		DstStage:  gpucore.StageComputeShader,
	})
	return nil
}

// EndCompute records the compute-side release.
func (p *Protocol) EndCompute(enc gpucore.CommandEncoder) error {
	if err := p.handoff.EndCompute(); err != nil {
		return err
	}
	p.release(enc, gpucore.BufferBarrier{
		SrcAccess: gpucore.AccessShaderWrite,
		DstAccess: gpucore.AccessNone,
		SrcFamily: p.compute,
		DstFamily: p.graphics,
		SrcStage:  gpucore.StageComputeShader,
		DstStage:  gpucore.StageBottomOfPipe,
	})
	return nil
}

// ComputeSubmit returns the compute submission for cmd: it waits on
// graphicsDone before the compute stage and signals computeDone.
func (p *Protocol) ComputeSubmit(cmd gpucore.CommandBufferID) gpucore.SubmitInfo {
	return gpucore.SubmitInfo{
		Label:    "compute",
		Commands: []gpucore.CommandBufferID{cmd},
		Waits: []gpucore.SemaphoreWait{
			{Semaphore: p.graphicsDone, Stage: gpucore.StageComputeShader},
		},
		Signals: []gpucore.SemaphoreID{p.computeDone},
	}
}

// BeginGraphics records the graphics-side acquire.
func (p *Protocol) BeginGraphics(enc gpucore.CommandEncoder) error {
	if err := p.handoff.BeginGraphics(); err != nil {
		return err
	}
	p.acquire(enc, gpucore.BufferBarrier{
		SrcAccess: gpucore.AccessNone,
		DstAccess: gpucore.AccessVertexAttributeRead,
		SrcFamily: p.compute,
		DstFamily: p.graphics,
		SrcStage:  gpucore.StageTopOfPipe,
		DstStage:  gpucore.StageVertexInput,
	})
	return nil
}

// EndGraphics records the graphics-side release.
func (p *Protocol) EndGraphics(enc gpucore.CommandEncoder) error {
	if err := p.handoff.EndGraphics(); err != nil {
		return err
	}
	p.release(enc, gpucore.BufferBarrier{
		SrcAccess: gpucore.AccessVertexAttributeRead,
		DstAccess: gpucore.AccessNone,
		SrcFamily: p.graphics,
		DstFamily: p.compute,
		SrcStage:  gpucore.StageVertexInput,
		DstStage:  gpucore.StageBottomOfPipe,
	})
	return nil
}

// GraphicsSubmit returns the graphics submission for cmd rendering into f:
// it waits on computeDone before vertex input and on the image before color
// output, and signals graphicsDone and the frame's render-complete semaphore.
func (p *Protocol) GraphicsSubmit(cmd gpucore.CommandBufferID, f gpucore.Frame) gpucore.SubmitInfo {
	return gpucore.SubmitInfo{
		Label:    "graphics",
		Commands: []gpucore.CommandBufferID{cmd},
		Waits: []gpucore.SemaphoreWait{
			{Semaphore: p.computeDone, Stage: gpucore.StageVertexInput},
			{Semaphore: f.ImageAvailable, Stage: gpucore.StageColorAttachmentOutput},
		},
		Signals: []gpucore.SemaphoreID{p.graphicsDone, f.RenderComplete},
	}
}

// Destroy releases the semaphores. The device must be idle.
func (p *Protocol) Destroy() {
	p.dev.DestroySemaphore(p.computeDone)
	p.dev.DestroySemaphore(p.graphicsDone)
	p.computeDone, p.graphicsDone = gpucore.InvalidID, gpucore.InvalidID
}

func (p *Protocol) release(enc gpucore.CommandEncoder, b gpucore.BufferBarrier) {
	if !p.SplitFamilies() {
		return
	}
	b.Buffer = p.buffer
	enc.BufferBarrier(b)
	p.stats.Releases++
}

func (p *Protocol) acquire(enc gpucore.CommandEncoder, b gpucore.BufferBarrier) {
	if !p.SplitFamilies() {
		return
	}
	b.Buffer = p.buffer
	enc.BufferBarrier(b)
	p.stats.Acquires++
}
