// Package vulkan implements gpucore.Device directly on Vulkan through
// goki/vulkan.
//
// It is the one backend where the queue handoff is real: with split families
// the compute role runs on a dedicated compute queue family, buffer
// ownership moves between families through release and acquire barriers,
// and submissions are ordered by binary semaphores on the GPU.
//
// Color targets are offscreen images. Acquire and Present are empty
// submissions that signal the image-available semaphore and wait on the
// render-complete one, so the frame protocol is the same as with a
// swapchain.
//
// WGSL is compiled to SPIR-V with naga. The backend needs cgo and a Vulkan
// loader; build with -tags nogpu to leave it out.
package vulkan
