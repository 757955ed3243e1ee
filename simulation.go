// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package nbody

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/nbody/gpucore"
	"github.com/gogpu/nbody/internal/kernel"
	"github.com/gogpu/nbody/internal/queuesync"
	"github.com/gogpu/nbody/particle"
)

// Simulation owns the shared particle buffer and orders the compute and
// graphics work on it frame by frame.
//
// Thread safety: Simulation methods are safe for concurrent use, but frames
// are serialized.
type Simulation struct {
	mu sync.Mutex

	dev       gpucore.Device
	presenter gpucore.Presenter
	opts      options

	count     int
	particles gpucore.BufferID
	proto     *queuesync.Protocol
	compute   *computePass
	render    *renderPass

	frames uint64
	paused bool
	err    error
	closed bool
}

// New generates the initial particles, uploads them and prepares both
// passes on dev. Frames are presented through presenter.
func New(dev gpucore.Device, presenter gpucore.Presenter, opts ...Option) (*Simulation, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if !o.seeded {
		o.particles.Seed = particle.TimeSeed()
	}

	ps, err := particle.Generate(o.particles)
	if err != nil {
		return nil, fmt.Errorf("nbody: %w", err)
	}

	s := &Simulation{
		dev:       dev,
		presenter: presenter,
		opts:      o,
		count:     len(ps),
		paused:    o.paused,
	}
	if err := s.init(ps); err != nil {
		s.destroy()
		return nil, fmt.Errorf("nbody: %w", err)
	}
	track(s)

	log := Logger()
	log.Info("nbody: simulation ready",
		"particles", s.count,
		"attractors", len(o.particles.Attractors),
		"seed", o.particles.Seed,
		"tile", s.compute.tile,
		"workgroups", s.compute.groups)
	if s.proto.SplitFamilies() {
		log.Info("nbody: compute and graphics use different queue families, ownership barriers enabled",
			"graphics", dev.QueueFamily(gpucore.RoleGraphics),
			"compute", dev.QueueFamily(gpucore.RoleCompute))
	} else {
		log.Info("nbody: compute and graphics share a queue family",
			"family", dev.QueueFamily(gpucore.RoleGraphics))
	}
	return s, nil
}

func (s *Simulation) init(ps []particle.Particle) error {
	size := uint64(len(ps)) * particle.Size

	var err error
	s.particles, err = s.dev.CreateBuffer(gpucore.BufferDesc{
		Label: "particles",
		Size:  size,
		Usage: gputypes.BufferUsageVertex | gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create particle buffer: %w", err)
	}

	if s.proto, err = queuesync.New(s.dev, s.particles); err != nil {
		return err
	}
	if err := s.upload(ps, size); err != nil {
		return err
	}
	if err := s.proto.Prime(); err != nil {
		return err
	}

	if s.compute, err = newComputePass(s.dev, s.particles, len(ps)); err != nil {
		return err
	}
	if s.render, err = newRenderPass(s.dev, s.particles, len(ps)); err != nil {
		return err
	}
	return nil
}

// upload copies ps through a staging buffer on the graphics queue and
// hands the particle buffer to compute. It waits for the device to go idle.
func (s *Simulation) upload(ps []particle.Particle, size uint64) error {
	staging, err := s.dev.CreateBuffer(gpucore.BufferDesc{
		Label:       "particles_staging",
		Size:        size,
		Usage:       gputypes.BufferUsageCopySrc | gputypes.BufferUsageMapWrite,
		HostVisible: true,
	})
	if err != nil {
		return fmt.Errorf("create staging buffer: %w", err)
	}
	defer s.dev.DestroyBuffer(staging)

	if err := s.dev.WriteBuffer(staging, 0, particle.Bytes(ps)); err != nil {
		return fmt.Errorf("fill staging buffer: %w", err)
	}

	enc, err := s.dev.BeginCommands(gpucore.RoleGraphics, "upload")
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	enc.CopyBuffer(staging, s.particles, size)
	if err := s.proto.ReleaseUpload(enc); err != nil {
		enc.Discard()
		return fmt.Errorf("upload: %w", err)
	}
	cmd, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if err := s.dev.Submit(gpucore.RoleGraphics, gpucore.SubmitInfo{
		Label:    "upload",
		Commands: []gpucore.CommandBufferID{cmd},
	}); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if err := s.dev.WaitIdle(); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

// Frame advances the simulation by one step and presents the result.
// frameSeconds is the wall time of the previous frame; the step is
// frameSeconds scaled by the time scale, the fixed step if one is set, or
// zero while paused.
//
// A failed frame poisons the simulation: Frame returns an error wrapping
// ErrFrameAborted now and on every later call.
func (s *Simulation) Frame(frameSeconds float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.err != nil {
		return s.err
	}

	start := time.Now()
	before := s.proto.Stats()
	dt := s.step(frameSeconds)

	if err := s.frame(dt); err != nil {
		s.err = fmt.Errorf("%w: frame %d: %w", ErrFrameAborted, s.frames, err)
		Logger().Error("nbody: frame aborted", "frame", s.frames, "err", err)
		s.opts.observer.ObserveAbort(s.err)
		return s.err
	}

	after := s.proto.Stats()
	stats := FrameStats{
		Frame:     s.frames,
		DeltaTime: dt,
		Paused:    s.paused,
		Duration:  time.Since(start),
		Releases:  after.Releases - before.Releases,
		Acquires:  after.Acquires - before.Acquires,
	}
	s.frames++
	s.opts.observer.ObserveFrame(stats)
	return nil
}

func (s *Simulation) step(frameSeconds float32) float32 {
	switch {
	case s.paused:
		return 0
	case s.opts.fixedStep > 0:
		return s.opts.fixedStep
	default:
		return frameSeconds * s.opts.timeScale
	}
}

// frame runs the per-frame sequence: uniforms, compute submit, acquire,
// graphics submit, present.
func (s *Simulation) frame(dt float32) error {
	phys := s.opts.physics
	if err := s.compute.update(kernel.Params{
		DeltaTime:     dt,
		ParticleCount: int32(s.count), //nolint:gosec // bounded by the dispatch limit
		Gravity:       phys.Gravity,
		Power:         phys.Power,
		Soften:        phys.Soften,
	}); err != nil {
		return fmt.Errorf("write compute params: %w", err)
	}
	if err := s.render.update(s.opts.camera.View(s.presenter.Extent())); err != nil {
		return fmt.Errorf("write view params: %w", err)
	}

	if err := s.submit(gpucore.RoleCompute, "compute",
		func(enc gpucore.CommandEncoder) error { return s.compute.record(enc, s.proto) },
		func(cmd gpucore.CommandBufferID) gpucore.SubmitInfo { return s.proto.ComputeSubmit(cmd) },
	); err != nil {
		return err
	}

	f, err := s.presenter.Acquire()
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}

	if err := s.submit(gpucore.RoleGraphics, "graphics",
		func(enc gpucore.CommandEncoder) error { return s.render.record(enc, s.proto, f) },
		func(cmd gpucore.CommandBufferID) gpucore.SubmitInfo { return s.proto.GraphicsSubmit(cmd, f) },
	); err != nil {
		return err
	}

	if err := s.presenter.Present(f); err != nil {
		return fmt.Errorf("present: %w", err)
	}
	Logger().Debug("nbody: frame", "frame", s.frames, "dt", dt, "image", f.Index)
	return nil
}

func (s *Simulation) submit(
	role gpucore.QueueRole,
	label string,
	record func(gpucore.CommandEncoder) error,
	info func(gpucore.CommandBufferID) gpucore.SubmitInfo,
) error {
	start := time.Now()
	enc, err := s.dev.BeginCommands(role, label)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	if err := record(enc); err != nil {
		enc.Discard()
		return fmt.Errorf("record %s: %w", label, err)
	}
	cmd, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("record %s: %w", label, err)
	}
	if err := s.dev.Submit(role, info(cmd)); err != nil {
		return fmt.Errorf("submit %s: %w", label, err)
	}
	s.opts.observer.ObserveSubmit(role, time.Since(start))
	return nil
}

// Run calls Frame with the measured frame time until frames frames have
// run, ctx is done or a frame fails. frames <= 0 runs until ctx is done.
func (s *Simulation) Run(ctx context.Context, frames int) error {
	last := time.Now()
	for n := 0; frames <= 0 || n < frames; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		now := time.Now()
		elapsed := float32(now.Sub(last).Seconds())
		last = now
		if err := s.Frame(elapsed); err != nil {
			return err
		}
	}
	return nil
}

// SetPaused pauses or resumes the simulation. A paused simulation still
// runs both passes and the full handoff with a zero step.
func (s *Simulation) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

// Paused reports whether the simulation is paused.
func (s *Simulation) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// resizer is implemented by presenters that can change their extent.
type resizer interface {
	Resize(width, height uint32) error
}

// Resize waits for the device to go idle and resizes the presenter. The
// next frame's projection uses the new extent.
func (s *Simulation) Resize(width, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r, ok := s.presenter.(resizer)
	if !ok {
		return ErrResizeUnsupported
	}
	if err := s.dev.WaitIdle(); err != nil {
		return fmt.Errorf("nbody: resize: %w", err)
	}
	if err := r.Resize(width, height); err != nil {
		return fmt.Errorf("nbody: resize: %w", err)
	}
	Logger().Info("nbody: resized", "width", width, "height", height)
	return nil
}

// Count returns the number of particles.
func (s *Simulation) Count() int { return s.count }

// Frames returns the number of completed frames.
func (s *Simulation) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Err returns the error that poisoned the simulation, or nil.
func (s *Simulation) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Seed returns the seed of the initial distribution.
func (s *Simulation) Seed() uint64 { return s.opts.particles.Seed }

// Buffer returns the shared particle buffer.
func (s *Simulation) Buffer() gpucore.BufferID { return s.particles }

// SplitFamilies reports whether the queues use different families.
func (s *Simulation) SplitFamilies() bool { return s.proto.SplitFamilies() }

// Ownership returns the handoff state of the particle buffer.
func (s *Simulation) Ownership() queuesync.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proto.State()
}

// BarrierStats returns the ownership barriers recorded so far.
func (s *Simulation) BarrierStats() queuesync.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proto.Stats()
}

// TileSize returns the tile of the Calculate stage.
func (s *Simulation) TileSize() uint32 { return s.compute.tile }

// Close waits for the device to go idle and destroys every resource the
// simulation created. The device and presenter stay open.
func (s *Simulation) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	untrack(s)

	err := s.dev.WaitIdle()
	if err != nil {
		Logger().Warn("nbody: wait idle before teardown failed", "err", err)
	}
	s.destroy()
	if err != nil && !errors.Is(err, gpucore.ErrDeviceClosed) {
		return fmt.Errorf("nbody: close: %w", err)
	}
	return nil
}

// destroy releases resources in reverse creation order. It tolerates a
// partially initialized simulation.
func (s *Simulation) destroy() {
	if s.render != nil {
		s.render.destroy()
	}
	if s.compute != nil {
		s.compute.destroy()
	}
	if s.proto != nil {
		s.proto.Destroy()
	}
	if s.particles != gpucore.InvalidID {
		s.dev.DestroyBuffer(s.particles)
		s.particles = gpucore.InvalidID
	}
}
