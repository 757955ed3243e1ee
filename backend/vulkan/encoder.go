//go:build !nogpu && cgo

package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/gogpu/nbody/gpucore"
)

type encoder struct {
	dev   *Device
	role  gpucore.QueueRole
	label string
	cmd   vk.CommandBuffer
	holds []slotHold
	err   error
	done  bool
}

var _ gpucore.CommandEncoder = (*encoder)(nil)

// BeginCommands allocates a one-time command buffer from the pool of the
// role's queue family.
func (d *Device) BeginCommands(role gpucore.QueueRole, label string) (gpucore.CommandEncoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, gpucore.ErrDeviceClosed
	}
	bufs := make([]vk.CommandBuffer, 1)
	res := vk.AllocateCommandBuffers(d.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.pools[d.families[role]],
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, bufs)
	if err := check(res, "vkAllocateCommandBuffers "+label); err != nil {
		return nil, err
	}
	res = vk.BeginCommandBuffer(bufs[0], &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if err := check(res, "vkBeginCommandBuffer "+label); err != nil {
		vk.FreeCommandBuffers(d.device, d.pools[d.families[role]], 1, bufs)
		return nil, err
	}
	return &encoder{dev: d, role: role, label: label, cmd: bufs[0]}, nil
}

func (e *encoder) ok() bool { return e.err == nil && !e.done }

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = fmt.Errorf("encoder %q: %w", e.label, err)
	}
}

func (e *encoder) buffer(id gpucore.BufferID) (*buffer, bool) {
	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	b, ok := e.dev.buffers[id]
	if !ok {
		e.fail(fmt.Errorf("buffer %d: %w", id, gpucore.ErrUnknownResource))
	}
	return b, ok
}

// BufferBarrier records a buffer memory barrier. Ownership transfers carry
// both family indices; the half recorded depends on which queue runs it.
func (e *encoder) BufferBarrier(b gpucore.BufferBarrier) {
	if !e.ok() {
		return
	}
	buf, ok := e.buffer(b.Buffer)
	if !ok {
		return
	}
	vk.CmdPipelineBarrier(e.cmd,
		stageFlags(b.SrcStage), stageFlags(b.DstStage),
		0, 0, nil,
		1, []vk.BufferMemoryBarrier{{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       accessFlags(b.SrcAccess),
			DstAccessMask:       accessFlags(b.DstAccess),
			SrcQueueFamilyIndex: familyIndex(b.SrcFamily),
			DstQueueFamilyIndex: familyIndex(b.DstFamily),
			Buffer:              buf.buf,
			Offset:              0,
			Size:                vk.DeviceSize(vk.WholeSize),
		}},
		0, nil)
}

// CopyBuffer records a buffer to buffer copy.
func (e *encoder) CopyBuffer(src, dst gpucore.BufferID, size uint64) {
	if !e.ok() {
		return
	}
	s, ok := e.buffer(src)
	if !ok {
		return
	}
	d, ok := e.buffer(dst)
	if !ok {
		return
	}
	if size > s.size || size > d.size {
		e.fail(fmt.Errorf("copy %d bytes from %q (%d) to %q (%d)", size, s.label, s.size, d.label, d.size))
		return
	}
	vk.CmdCopyBuffer(e.cmd, s.buf, d.buf, 1, []vk.BufferCopy{{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      vk.DeviceSize(size),
	}})
}

// bindSet binds the descriptor set of p at the current slot of each of its
// uniform buffers and holds those slots until the submission completes.
func (e *encoder) bindSet(point vk.PipelineBindPoint, p *pipeline) {
	e.dev.mu.Lock()
	offsets := make([]uint32, len(p.uniforms))
	for i, u := range p.uniforms {
		if u.ring == nil {
			continue
		}
		slot := u.ring.hold()
		e.holds = append(e.holds, slotHold{buf: u, slot: slot})
		offsets[i] = uint32(uint64(slot) * u.stride) //nolint:gosec // bounded by the ring size
	}
	e.dev.mu.Unlock()
	vk.CmdBindDescriptorSets(e.cmd, point, p.layout, 0, 1, []vk.DescriptorSet{p.set}, uint32(len(offsets)), offsets)
}

// Dispatch binds the pipeline with its descriptor set and dispatches.
func (e *encoder) Dispatch(id gpucore.ComputePipelineID, x, y, z uint32) {
	if !e.ok() {
		return
	}
	e.dev.mu.Lock()
	p, ok := e.dev.computes[id]
	e.dev.mu.Unlock()
	if !ok {
		e.fail(fmt.Errorf("compute pipeline %d: %w", id, gpucore.ErrUnknownResource))
		return
	}
	vk.CmdBindPipeline(e.cmd, vk.PipelineBindPointCompute, p.pipeline)
	e.bindSet(vk.PipelineBindPointCompute, p)
	vk.CmdDispatch(e.cmd, x, y, z)
}

// Draw records the shared render pass on the target's framebuffer and draws
// count points.
func (e *encoder) Draw(id gpucore.RenderPipelineID, target gpucore.TargetID, vertices gpucore.BufferID, count uint32) {
	if !e.ok() {
		return
	}
	e.dev.mu.Lock()
	p, pok := e.dev.renders[id]
	t, tok := e.dev.targets[target]
	e.dev.mu.Unlock()
	if !pok {
		e.fail(fmt.Errorf("render pipeline %d: %w", id, gpucore.ErrUnknownResource))
		return
	}
	if !tok {
		e.fail(fmt.Errorf("target %d: %w", target, gpucore.ErrUnknownResource))
		return
	}
	vb, ok := e.buffer(vertices)
	if !ok {
		return
	}

	area := vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{Width: t.width, Height: t.height},
	}
	vk.CmdBeginRenderPass(e.cmd, &vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      e.dev.renderPass,
		Framebuffer:     t.framebuffer,
		RenderArea:      area,
		ClearValueCount: 1,
		PClearValues:    []vk.ClearValue{vk.NewClearValue([]float32{0, 0, 0, 1})},
	}, vk.SubpassContentsInline)
	vk.CmdBindPipeline(e.cmd, vk.PipelineBindPointGraphics, p.pipeline)
	vk.CmdSetViewport(e.cmd, 0, 1, []vk.Viewport{{
		X:        0,
		Y:        0,
		Width:    float32(t.width),
		Height:   float32(t.height),
		MinDepth: 0,
		MaxDepth: 1,
	}})
	vk.CmdSetScissor(e.cmd, 0, 1, []vk.Rect2D{area})
	e.bindSet(vk.PipelineBindPointGraphics, p)
	vk.CmdBindVertexBuffers(e.cmd, 0, 1, []vk.Buffer{vb.buf}, []vk.DeviceSize{0})
	vk.CmdDraw(e.cmd, count, 1, 0, 0)
	vk.CmdEndRenderPass(e.cmd)
}

// Finish ends recording. A failed encoder frees its command buffer and
// returns the first recording error.
func (e *encoder) Finish() (gpucore.CommandBufferID, error) {
	if e.done {
		return gpucore.InvalidID, gpucore.ErrEncoderFinished
	}
	e.done = true
	if e.err != nil {
		e.free()
		return gpucore.InvalidID, e.err
	}
	if err := check(vk.EndCommandBuffer(e.cmd), "vkEndCommandBuffer "+e.label); err != nil {
		e.free()
		return gpucore.InvalidID, err
	}

	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	id := gpucore.CommandBufferID(e.dev.id())
	e.dev.commands[id] = commandBuffer{role: e.role, buf: e.cmd, holds: e.holds}
	return id, nil
}

// Discard frees the command buffer without submitting it.
func (e *encoder) Discard() {
	if e.done {
		return
	}
	e.done = true
	e.free()
}

func (e *encoder) free() {
	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	releaseHolds(e.holds)
	e.holds = nil
	if e.dev.closed {
		return
	}
	vk.FreeCommandBuffers(e.dev.device, e.dev.pools[e.dev.families[e.role]], 1, []vk.CommandBuffer{e.cmd})
}
