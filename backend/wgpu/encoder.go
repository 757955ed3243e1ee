//go:build !nogpu

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/nbody/gpucore"
)

// encoder records straight into a HAL command encoder. The first failure
// is kept and reported by Finish.
type encoder struct {
	dev   *Device
	role  gpucore.QueueRole
	enc   hal.CommandEncoder
	label string
	err   error
	done  bool
}

func (e *encoder) ok() bool {
	if e.done {
		if e.err == nil {
			e.err = gpucore.ErrEncoderFinished
		}
		return false
	}
	return e.err == nil
}

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// BufferBarrier records nothing for stage barriers: dispatches are encoded
// one compute pass each and the HAL orders passes.
func (e *encoder) BufferBarrier(b gpucore.BufferBarrier) {
	if !e.ok() {
		return
	}
	if b.IsOwnershipTransfer() {
		e.fail(fmt.Errorf("%w: %d->%d", ErrOwnershipTransfer, b.SrcFamily, b.DstFamily))
	}
}

func (e *encoder) CopyBuffer(src, dst gpucore.BufferID, size uint64) {
	if !e.ok() {
		return
	}
	e.dev.mu.Lock()
	s, sok := e.dev.buffers[src]
	t, tok := e.dev.buffers[dst]
	e.dev.mu.Unlock()
	if !sok || !tok {
		e.fail(fmt.Errorf("copy %d -> %d: %w", src, dst, gpucore.ErrUnknownResource))
		return
	}
	e.enc.CopyBufferToBuffer(s.buf, t.buf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: size},
	})
}

func (e *encoder) Dispatch(pipeline gpucore.ComputePipelineID, x, y, z uint32) {
	if !e.ok() {
		return
	}
	e.dev.mu.Lock()
	cp, found := e.dev.computes[pipeline]
	e.dev.mu.Unlock()
	if !found {
		e.fail(fmt.Errorf("dispatch: pipeline %d: %w", pipeline, gpucore.ErrUnknownResource))
		return
	}
	pass := e.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: cp.label})
	pass.SetPipeline(cp.pipeline)
	pass.SetBindGroup(0, cp.bind.group, nil)
	pass.Dispatch(x, y, z)
	pass.End()
}

func (e *encoder) Draw(pipeline gpucore.RenderPipelineID, tgt gpucore.TargetID, vertices gpucore.BufferID, count uint32) {
	if !e.ok() {
		return
	}
	e.dev.mu.Lock()
	rp, pok := e.dev.renders[pipeline]
	t, tok := e.dev.targets[tgt]
	vb, vok := e.dev.buffers[vertices]
	e.dev.mu.Unlock()
	switch {
	case !pok:
		e.fail(fmt.Errorf("draw: pipeline %d: %w", pipeline, gpucore.ErrUnknownResource))
		return
	case !tok:
		e.fail(fmt.Errorf("draw: target %d: %w", tgt, gpucore.ErrUnknownResource))
		return
	case !vok:
		e.fail(fmt.Errorf("draw: vertices %d: %w", vertices, gpucore.ErrUnknownResource))
		return
	}

	rpass := e.enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: rp.label,
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       t.view,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	})
	rpass.SetPipeline(rp.pipeline)
	rpass.SetBindGroup(0, rp.bind.group, nil)
	rpass.SetVertexBuffer(0, vb.buf, 0)
	rpass.Draw(count, 1, 0, 0)
	rpass.End()
}

func (e *encoder) Finish() (gpucore.CommandBufferID, error) {
	if e.done {
		return gpucore.InvalidID, gpucore.ErrEncoderFinished
	}
	e.done = true
	if e.err != nil {
		e.enc.DiscardEncoding()
		return gpucore.InvalidID, e.err
	}
	buf, err := e.enc.EndEncoding()
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("end encoding %q: %w", e.label, err)
	}

	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	if e.dev.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	id := gpucore.CommandBufferID(e.dev.id())
	e.dev.commands[id] = commandBuffer{role: e.role, buf: buf}
	return id, nil
}

func (e *encoder) Discard() {
	if e.done {
		return
	}
	e.done = true
	e.enc.DiscardEncoding()
}
