// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpucore

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Resource IDs
//
// These opaque IDs represent GPU resources. Each device implementation
// maintains a mapping between IDs and actual backend resources.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// SemaphoreID is an opaque handle to a binary GPU semaphore.
type SemaphoreID uint64

// ComputePipelineID is an opaque handle to a compute pipeline together with
// its bound resources.
type ComputePipelineID uint64

// RenderPipelineID is an opaque handle to a render pipeline together with
// its bound resources.
type RenderPipelineID uint64

// CommandBufferID is an opaque handle to a finished command buffer.
type CommandBufferID uint64

// TargetID is an opaque handle to a presentable color target.
type TargetID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// QueueRole names the two queues the simulation submits to.
type QueueRole uint8

const (
	// RoleGraphics is the queue that draws and presents.
	RoleGraphics QueueRole = iota
	// RoleCompute is the queue that runs the simulation dispatches.
	RoleCompute
)

// String returns the role name.
func (r QueueRole) String() string {
	switch r {
	case RoleGraphics:
		return "graphics"
	case RoleCompute:
		return "compute"
	default:
		return fmt.Sprintf("QueueRole(%d)", uint8(r))
	}
}

// QueueFamily identifies the hardware queue family a role resolves to.
type QueueFamily uint32

// QueueFamilyIgnored marks a barrier that does not transfer ownership.
const QueueFamilyIgnored QueueFamily = ^QueueFamily(0)

// Access is a bitmask of memory access types a barrier orders.
type Access uint32

// Access flags.
const (
	AccessNone                Access = 0
	AccessShaderRead          Access = 1 << 0
	AccessShaderWrite         Access = 1 << 1
	AccessVertexAttributeRead Access = 1 << 2
	AccessTransferRead        Access = 1 << 3
	AccessTransferWrite       Access = 1 << 4
)

// Stage is a bitmask of pipeline stages.
type Stage uint32

// Pipeline stages.
const (
	StageTopOfPipe             Stage = 1 << 0
	StageVertexInput           Stage = 1 << 1
	StageComputeShader         Stage = 1 << 2
	StageTransfer              Stage = 1 << 3
	StageColorAttachmentOutput Stage = 1 << 4
	StageBottomOfPipe          Stage = 1 << 5
)

// BufferBarrier orders access to a buffer and, when both families are set
// and differ, transfers its ownership between queue families.
//
// A transfer is recorded twice: a release on the source family's queue and
// an acquire with identical family fields on the destination family's queue.
type BufferBarrier struct {
	Buffer    BufferID
	SrcAccess Access
	DstAccess Access
	SrcFamily QueueFamily
	DstFamily QueueFamily
	SrcStage  Stage
	DstStage  Stage
}

// IsOwnershipTransfer reports whether the barrier moves the buffer between
// queue families.
func (b BufferBarrier) IsOwnershipTransfer() bool {
	return b.SrcFamily != QueueFamilyIgnored &&
		b.DstFamily != QueueFamilyIgnored &&
		b.SrcFamily != b.DstFamily
}

// SemaphoreWait is a semaphore a submission waits on before the given stage.
type SemaphoreWait struct {
	Semaphore SemaphoreID
	Stage     Stage
}

// SubmitInfo describes one queue submission.
type SubmitInfo struct {
	// Label is an optional debug label.
	Label string

	// Commands are executed in order.
	Commands []CommandBufferID

	// Waits must all be signaled before the submission executes; waiting
	// consumes the signal.
	Waits []SemaphoreWait

	// Signals are signaled once the submission completes.
	Signals []SemaphoreID
}

// Limits reports device limits the simulation sizes itself against.
type Limits struct {
	// MaxComputeSharedMemorySize is the workgroup shared memory in bytes.
	MaxComputeSharedMemorySize uint32

	// MaxComputeWorkgroupsPerDimension bounds a single dispatch dimension.
	MaxComputeWorkgroupsPerDimension uint32
}

// DefaultLimits returns conservative limits most devices exceed.
func DefaultLimits() Limits {
	return Limits{
		MaxComputeSharedMemorySize:       16384,
		MaxComputeWorkgroupsPerDimension: 65535,
	}
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	// Label is an optional debug label.
	Label string

	// Size is the size in bytes.
	Size uint64

	// Usage is how the buffer will be used.
	Usage gputypes.BufferUsage

	// HostVisible requests memory the host can write directly (staging and
	// uniform buffers). Device-local otherwise.
	HostVisible bool
}

// BindingKind specifies how a pipeline binds a buffer.
type BindingKind uint8

// Binding kinds.
const (
	BindingUniform BindingKind = iota + 1
	BindingStorage
	BindingReadOnlyStorage
)

// Binding binds a buffer at a binding index of bind group 0.
type Binding struct {
	Binding uint32
	Kind    BindingKind
	Buffer  BufferID
	Size    uint64
}

// ShaderSource is WGSL source and the entry point to run.
type ShaderSource struct {
	WGSL       string
	EntryPoint string
}

// ComputePipelineDesc describes a compute pipeline and its bind group.
type ComputePipelineDesc struct {
	// Label is an optional debug label.
	Label string

	// Shader is the compute shader. Devices without a shader compiler
	// select their kernel by entry point.
	Shader ShaderSource

	// Bindings are the buffers bound to group 0.
	Bindings []Binding
}

// VertexAttribute is one float32x4 attribute of the vertex layout.
type VertexAttribute struct {
	Location uint32
	Offset   uint64
}

// RenderPipelineDesc describes a point-list render pipeline with additive
// blending and its bind group.
type RenderPipelineDesc struct {
	// Label is an optional debug label.
	Label string

	// Shader holds both stages; EntryPoint names the vertex stage.
	Shader ShaderSource

	// FragmentEntryPoint names the fragment stage.
	FragmentEntryPoint string

	// VertexStride is the byte stride of one vertex.
	VertexStride uint64

	// Attributes are the vertex attributes, all float32x4.
	Attributes []VertexAttribute

	// Bindings are the buffers bound to group 0.
	Bindings []Binding
}

// Frame is one acquired presentable image.
type Frame struct {
	// Index is the swapchain image index.
	Index uint32

	// Target is the color target to render into.
	Target TargetID

	// ImageAvailable is signaled when the image may be written.
	ImageAvailable SemaphoreID

	// RenderComplete must be signaled by the graphics submission; presenting
	// waits on it.
	RenderComplete SemaphoreID

	// Width and Height are the target size in pixels.
	Width, Height uint32
}
