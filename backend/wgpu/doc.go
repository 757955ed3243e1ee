// Package wgpu implements gpucore.Device on the gogpu/wgpu HAL.
//
// The HAL exposes one queue, so both roles resolve to queue family 0 and the
// simulation never records an ownership transfer. Binary semaphores are
// tracked on the host: each Submit blocks on a fence until the queue drains,
// which makes submission order the only ordering the GPU has to honor.
//
// Dispatches are encoded one compute pass each. Pass boundaries order the
// Calculate writes before the Integrate reads, so stage barriers record
// nothing.
//
// Color targets are offscreen textures owned by a Presenter. Snapshot reads
// the last presented image back through a staging buffer.
//
// Build with -tags nogpu to leave this backend out.
package wgpu
