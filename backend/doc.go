// Package backend provides a pluggable device backend abstraction.
//
// A backend opens a gpucore.Device together with a gpucore.Presenter for
// it. Simulations never depend on a backend package directly.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime:
//
//	import (
//		_ "github.com/gogpu/nbody/backend/software"
//		_ "github.com/gogpu/nbody/backend/vulkan"
//	)
//
// # Backend Selection
//
// Use OpenDefault() to get the best backend that opens on this machine, or
// Open() to request a specific backend by name:
//
//	inst, err := backend.OpenDefault(backend.Options{Width: 1280, Height: 720})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Close()
//
//	sim, err := nbody.New(inst.Device(), inst.Presenter())
//
// # Available Backends
//
//   - "software": CPU device with full synchronization validation (always available)
//   - "wgpu": gogpu/wgpu HAL device, one queue for both roles
//   - "vulkan": goki/vulkan device, dedicated compute family when present
package backend
