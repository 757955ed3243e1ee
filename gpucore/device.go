// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpucore

import "errors"

// Common device errors.
var (
	// ErrUnknownResource is returned when an ID does not name a live resource.
	ErrUnknownResource = errors.New("gpucore: unknown resource")

	// ErrDeviceClosed is returned by operations on a closed device.
	ErrDeviceClosed = errors.New("gpucore: device closed")

	// ErrEncoderFinished is returned when recording into a finished encoder.
	ErrEncoderFinished = errors.New("gpucore: encoder already finished")
)

// Device abstracts the host GPU framework: one queue per role, resource
// creation, command recording and submission.
//
// Implementations must be safe for use by a single orchestrating goroutine;
// the simulation never calls a Device concurrently.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroying a resource still referenced by pending work is undefined;
//     call WaitIdle first
type Device interface {
	// === Capabilities ===

	// QueueFamily returns the queue family the role's queue belongs to.
	QueueFamily(role QueueRole) QueueFamily

	// Limits returns the device limits.
	Limits() Limits

	// === Resources ===

	// CreateBuffer creates a buffer.
	CreateBuffer(desc BufferDesc) (BufferID, error)

	// WriteBuffer writes host data into a host-visible buffer.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// DestroyBuffer releases a buffer.
	DestroyBuffer(id BufferID)

	// CreateSemaphore creates an unsignaled binary semaphore.
	CreateSemaphore(label string) (SemaphoreID, error)

	// DestroySemaphore releases a semaphore.
	DestroySemaphore(id SemaphoreID)

	// CreateComputePipeline creates a compute pipeline with its bindings.
	CreateComputePipeline(desc ComputePipelineDesc) (ComputePipelineID, error)

	// DestroyComputePipeline releases a compute pipeline.
	DestroyComputePipeline(id ComputePipelineID)

	// CreateRenderPipeline creates a render pipeline with its bindings.
	CreateRenderPipeline(desc RenderPipelineDesc) (RenderPipelineID, error)

	// DestroyRenderPipeline releases a render pipeline.
	DestroyRenderPipeline(id RenderPipelineID)

	// === Commands ===

	// BeginCommands starts recording a command buffer for the role's queue.
	BeginCommands(role QueueRole, label string) (CommandEncoder, error)

	// Submit submits finished command buffers to the role's queue.
	// Submitted command buffers are released by the device.
	Submit(role QueueRole, info SubmitInfo) error

	// WaitIdle blocks until both queues are idle.
	WaitIdle() error

	// Close releases the device. Resources must be destroyed first.
	Close() error
}

// CommandEncoder records commands for one queue.
//
// Recording errors are deferred: they are reported by Finish, and an
// encoder that failed records nothing further.
type CommandEncoder interface {
	// BufferBarrier records a buffer memory barrier.
	BufferBarrier(b BufferBarrier)

	// CopyBuffer copies size bytes from src to dst.
	CopyBuffer(src, dst BufferID, size uint64)

	// Dispatch records a compute dispatch.
	Dispatch(pipeline ComputePipelineID, x, y, z uint32)

	// Draw records a render pass into target that clears to black and
	// draws count points from vertices.
	Draw(pipeline RenderPipelineID, target TargetID, vertices BufferID, count uint32)

	// Finish ends recording.
	Finish() (CommandBufferID, error)

	// Discard abandons recording.
	Discard()
}

// Presenter acquires and presents images. It is the swapchain side of the
// host framework.
type Presenter interface {
	// Acquire returns the next image. Its ImageAvailable semaphore is
	// signaled when the image may be rendered to.
	Acquire() (Frame, error)

	// Present queues the frame for display after RenderComplete is signaled.
	Present(f Frame) error

	// Extent returns the current image size.
	Extent() (width, height uint32)
}
