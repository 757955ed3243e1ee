// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package nbody

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/nbody/gpucore"
	"github.com/gogpu/nbody/internal/kernel"
	"github.com/gogpu/nbody/internal/queuesync"
	"github.com/gogpu/nbody/internal/shaders"
	"github.com/gogpu/nbody/particle"
)

// computePass owns the compute uniforms and the Calculate and Integrate
// pipelines. Both pipelines bind the particle buffer at 0 and the uniforms
// at 1.
type computePass struct {
	dev       gpucore.Device
	particles gpucore.BufferID
	params    gpucore.BufferID
	calculate gpucore.ComputePipelineID
	integrate gpucore.ComputePipelineID
	groups    uint32
	tile      uint32
}

func newComputePass(dev gpucore.Device, particles gpucore.BufferID, count int) (*computePass, error) {
	limits := dev.Limits()
	c := &computePass{
		dev:       dev,
		particles: particles,
		groups:    kernel.DispatchCount(uint32(count)), //nolint:gosec // count is validated by New
		tile:      kernel.TileSize(limits.MaxComputeSharedMemorySize),
	}
	if limits.MaxComputeWorkgroupsPerDimension > 0 && c.groups > limits.MaxComputeWorkgroupsPerDimension {
		return nil, fmt.Errorf("%w: %d workgroups, limit %d",
			ErrTooManyParticles, c.groups, limits.MaxComputeWorkgroupsPerDimension)
	}

	var err error
	c.params, err = dev.CreateBuffer(gpucore.BufferDesc{
		Label:       "compute_params",
		Size:        kernel.ParamsSize,
		Usage:       gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		HostVisible: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create compute params: %w", err)
	}

	bindings := []gpucore.Binding{
		{Binding: 0, Kind: gpucore.BindingStorage, Buffer: particles, Size: uint64(count) * particle.Size}, //nolint:gosec // count > 0
		{Binding: 1, Kind: gpucore.BindingUniform, Buffer: c.params, Size: kernel.ParamsSize},
	}

	c.calculate, err = dev.CreateComputePipeline(gpucore.ComputePipelineDesc{
		Label:    "calculate",
		Shader:   gpucore.ShaderSource{WGSL: shaders.Calculate(c.tile), EntryPoint: shaders.CalculateEntry},
		Bindings: bindings,
	})
	if err != nil {
		c.destroy()
		return nil, fmt.Errorf("create calculate pipeline: %w", err)
	}

	c.integrate, err = dev.CreateComputePipeline(gpucore.ComputePipelineDesc{
		Label:    "integrate",
		Shader:   gpucore.ShaderSource{WGSL: shaders.Integrate(), EntryPoint: shaders.IntegrateEntry},
		Bindings: bindings,
	})
	if err != nil {
		c.destroy()
		return nil, fmt.Errorf("create integrate pipeline: %w", err)
	}
	return c, nil
}

// update overwrites the uniforms for the next submission.
func (c *computePass) update(p kernel.Params) error {
	return c.dev.WriteBuffer(c.params, 0, p.Bytes())
}

// record writes acquire, Calculate, the stage barrier, Integrate and
// release into enc.
func (c *computePass) record(enc gpucore.CommandEncoder, proto *queuesync.Protocol) error {
	if err := proto.BeginCompute(enc); err != nil {
		return err
	}
	enc.Dispatch(c.calculate, c.groups, 1, 1)
	enc.BufferBarrier(queuesync.StageBarrier(c.particles))
	enc.Dispatch(c.integrate, c.groups, 1, 1)
	return proto.EndCompute(enc)
}

func (c *computePass) destroy() {
	if c.integrate != gpucore.InvalidID {
		c.dev.DestroyComputePipeline(c.integrate)
	}
	if c.calculate != gpucore.InvalidID {
		c.dev.DestroyComputePipeline(c.calculate)
	}
	if c.params != gpucore.InvalidID {
		c.dev.DestroyBuffer(c.params)
	}
	*c = computePass{dev: c.dev}
}
