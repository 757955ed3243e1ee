// Package gpucore provides the backend-neutral GPU vocabulary of the
// n-body simulation.
//
// The simulation never talks to a graphics API directly. It records work
// through the [Device] and [CommandEncoder] interfaces and acquires images
// through a [Presenter]. Backends in the backend/ tree implement them:
//   - software: CPU execution with strict queue, semaphore and ownership
//     validation
//   - wgpu: gogpu/wgpu HAL (single queue family)
//   - vulkan: goki/vulkan with separate graphics and compute families
//
// # Queues and ownership
//
// Every device exposes two queue roles, [RoleGraphics] and [RoleCompute],
// each resolving to a [QueueFamily]. When the families differ, a buffer is
// exclusively owned by one family at a time and moves between them through
// a release/acquire pair of [BufferBarrier] values. Barriers whose family
// fields are [QueueFamilyIgnored] only order memory within one queue.
//
// # Resource Management
//
// GPU resources are managed via opaque IDs ([BufferID], [SemaphoreID],
// etc.). Devices are responsible for tracking the mapping between IDs and
// actual GPU resources. [InvalidID] is never a live resource.
package gpucore
