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

// renderPass draws the particle buffer as additive points.
type renderPass struct {
	dev       gpucore.Device
	particles gpucore.BufferID
	count     uint32
	view      gpucore.BufferID
	pipeline  gpucore.RenderPipelineID
}

func newRenderPass(dev gpucore.Device, particles gpucore.BufferID, count int) (*renderPass, error) {
	r := &renderPass{
		dev:       dev,
		particles: particles,
		count:     uint32(count), //nolint:gosec // count is validated by New
	}

	var err error
	r.view, err = dev.CreateBuffer(gpucore.BufferDesc{
		Label:       "view_params",
		Size:        kernel.ViewSize,
		Usage:       gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		HostVisible: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create view params: %w", err)
	}

	r.pipeline, err = dev.CreateRenderPipeline(gpucore.RenderPipelineDesc{
		Label:              "particles",
		Shader:             gpucore.ShaderSource{WGSL: shaders.Particle(), EntryPoint: shaders.VertexEntry},
		FragmentEntryPoint: shaders.FragmentEntry,
		VertexStride:       particle.Size,
		Attributes: []gpucore.VertexAttribute{
			{Location: 0, Offset: 0},  // position, mass
			{Location: 1, Offset: 16}, // velocity, gradient
		},
		Bindings: []gpucore.Binding{
			{Binding: 0, Kind: gpucore.BindingUniform, Buffer: r.view, Size: kernel.ViewSize},
		},
	})
	if err != nil {
		r.destroy()
		return nil, fmt.Errorf("create particle pipeline: %w", err)
	}
	return r, nil
}

func (r *renderPass) update(v kernel.View) error {
	return r.dev.WriteBuffer(r.view, 0, v.Bytes())
}

// record writes acquire, the draw into f and release into enc.
func (r *renderPass) record(enc gpucore.CommandEncoder, proto *queuesync.Protocol, f gpucore.Frame) error {
	if err := proto.BeginGraphics(enc); err != nil {
		return err
	}
	enc.Draw(r.pipeline, f.Target, r.particles, r.count)
	return proto.EndGraphics(enc)
}

func (r *renderPass) destroy() {
	if r.pipeline != gpucore.InvalidID {
		r.dev.DestroyRenderPipeline(r.pipeline)
	}
	if r.view != gpucore.InvalidID {
		r.dev.DestroyBuffer(r.view)
	}
	*r = renderPass{dev: r.dev}
}
