// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu && cgo

package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/gogpu/nbody/gpucore"
)

// fenceTimeout bounds a blocking fence wait, in nanoseconds.
const fenceTimeout = 5_000_000_000

func stageFlags(s gpucore.Stage) vk.PipelineStageFlags {
	var out vk.PipelineStageFlagBits
	if s&gpucore.StageTopOfPipe != 0 {
		out |= vk.PipelineStageTopOfPipeBit
	}
	if s&gpucore.StageVertexInput != 0 {
		out |= vk.PipelineStageVertexInputBit
	}
	if s&gpucore.StageComputeShader != 0 {
		out |= vk.PipelineStageComputeShaderBit
	}
	if s&gpucore.StageTransfer != 0 {
		out |= vk.PipelineStageTransferBit
	}
	if s&gpucore.StageColorAttachmentOutput != 0 {
		out |= vk.PipelineStageColorAttachmentOutputBit
	}
	if s&gpucore.StageBottomOfPipe != 0 {
		out |= vk.PipelineStageBottomOfPipeBit
	}
	if out == 0 {
		out = vk.PipelineStageTopOfPipeBit
	}
	return vk.PipelineStageFlags(out)
}

func accessFlags(a gpucore.Access) vk.AccessFlags {
	var out vk.AccessFlagBits
	if a&gpucore.AccessShaderRead != 0 {
		out |= vk.AccessShaderReadBit
	}
	if a&gpucore.AccessShaderWrite != 0 {
		out |= vk.AccessShaderWriteBit
	}
	if a&gpucore.AccessVertexAttributeRead != 0 {
		out |= vk.AccessVertexAttributeReadBit
	}
	if a&gpucore.AccessTransferRead != 0 {
		out |= vk.AccessTransferReadBit
	}
	if a&gpucore.AccessTransferWrite != 0 {
		out |= vk.AccessTransferWriteBit
	}
	return vk.AccessFlags(out)
}

func familyIndex(f gpucore.QueueFamily) uint32 {
	if f == gpucore.QueueFamilyIgnored {
		return vk.QueueFamilyIgnored
	}
	return uint32(f)
}

// Submit submits finished command buffers to the role's queue with a fence
// of its own. The command buffers are freed once the fence signals.
func (d *Device) Submit(role gpucore.QueueRole, info gpucore.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrDeviceClosed
	}
	d.reclaimLocked(false)

	bufs := make([]vk.CommandBuffer, 0, len(info.Commands))
	var holds []slotHold
	for _, id := range info.Commands {
		cb, ok := d.commands[id]
		if !ok {
			return fmt.Errorf("submit %q: command buffer %d: %w", info.Label, id, gpucore.ErrUnknownResource)
		}
		if cb.role != role {
			return fmt.Errorf("submit %q: command buffer %d recorded for %s, submitted to %s",
				info.Label, id, cb.role, role)
		}
		bufs = append(bufs, cb.buf)
		holds = append(holds, cb.holds...)
	}
	waits := make([]vk.Semaphore, len(info.Waits))
	stages := make([]vk.PipelineStageFlags, len(info.Waits))
	for i, w := range info.Waits {
		s, ok := d.semaphores[w.Semaphore]
		if !ok {
			return fmt.Errorf("submit %q: wait semaphore %d: %w", info.Label, w.Semaphore, gpucore.ErrUnknownResource)
		}
		waits[i] = s
		stages[i] = stageFlags(w.Stage)
	}
	signals := make([]vk.Semaphore, len(info.Signals))
	for i, id := range info.Signals {
		s, ok := d.semaphores[id]
		if !ok {
			return fmt.Errorf("submit %q: signal semaphore %d: %w", info.Label, id, gpucore.ErrUnknownResource)
		}
		signals[i] = s
	}

	if err := d.submitLocked(role, info.Label, bufs, waits, stages, signals); err != nil {
		return err
	}
	d.inflight[len(d.inflight)-1].holds = holds
	for _, id := range info.Commands {
		delete(d.commands, id)
	}
	return nil
}

// submitLocked issues one vkQueueSubmit and records it as in flight.
func (d *Device) submitLocked(role gpucore.QueueRole, label string, bufs []vk.CommandBuffer,
	waits []vk.Semaphore, stages []vk.PipelineStageFlags, signals []vk.Semaphore) error {
	var fence vk.Fence
	res := vk.CreateFence(d.device, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}, nil, &fence)
	if err := check(res, "vkCreateFence"); err != nil {
		return err
	}

	submit := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(bufs)),
		PCommandBuffers:      bufs,
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}
	res = vk.QueueSubmit(d.queues[role], 1, []vk.SubmitInfo{submit}, fence)
	if err := check(res, "vkQueueSubmit "+label); err != nil {
		vk.DestroyFence(d.device, fence, nil)
		return err
	}
	d.inflight = append(d.inflight, inflight{
		fence:  fence,
		family: d.families[role],
		bufs:   bufs,
	})
	logger.Load().Debug("vulkan: submitted", "label", label, "role", role,
		"commands", len(bufs), "waits", len(waits), "signals", len(signals))
	return nil
}

// reclaimLocked frees the command buffers and fences of finished
// submissions and releases the uniform slots they read. With all set every submission is treated as finished; the
// caller must have waited for the device.
func (d *Device) reclaimLocked(all bool) {
	kept := d.inflight[:0]
	for _, f := range d.inflight {
		if !all && vk.WaitForFences(d.device, 1, []vk.Fence{f.fence}, vk.True, 0) != vk.Success {
			kept = append(kept, f)
			continue
		}
		if len(f.bufs) > 0 {
			vk.FreeCommandBuffers(d.device, d.pools[f.family], uint32(len(f.bufs)), f.bufs)
		}
		vk.DestroyFence(d.device, f.fence, nil)
		releaseHolds(f.holds)
	}
	d.inflight = kept
}

// waitInflightLocked blocks until every submission so far has completed.
func (d *Device) waitInflightLocked() error {
	if len(d.inflight) == 0 {
		return nil
	}
	fences := make([]vk.Fence, len(d.inflight))
	for i, f := range d.inflight {
		fences[i] = f.fence
	}
	res := vk.WaitForFences(d.device, uint32(len(fences)), fences, vk.True, fenceTimeout)
	if err := check(res, "vkWaitForFences"); err != nil {
		return err
	}
	d.reclaimLocked(true)
	return nil
}

func releaseHolds(holds []slotHold) {
	for _, h := range holds {
		h.buf.ring.release(h.slot)
	}
}
