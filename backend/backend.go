package backend

import (
	"errors"

	"github.com/gogpu/nbody/gpucore"
)

// Backend name constants.
const (
	// BackendSoftware is the name of the CPU backend.
	BackendSoftware = "software"
	// BackendWGPU is the name of the Pure Go GPU backend (gogpu/wgpu HAL).
	BackendWGPU = "wgpu"
	// BackendVulkan is the name of the direct Vulkan backend (goki/vulkan).
	BackendVulkan = "vulkan"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or no registered backend could be opened.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrNotInitialized is returned when operations are called on a closed
	// instance.
	ErrNotInitialized = errors.New("backend: not initialized")
)

// Options configures a backend instance.
type Options struct {
	// Width and Height are the presentable image size.
	Width, Height uint32

	// Images is the number of presentable images. Zero means 2.
	Images int

	// SplitFamilies asks the backend to place the compute role on its own
	// queue family when the hardware has one. Backends with a single queue
	// ignore it.
	SplitFamilies bool

	// Workers sizes CPU worker pools. Zero means GOMAXPROCS.
	Workers int
}

// Instance is an opened backend: one device and a presenter on it.
//
// Backends must be registered via Register() and are opened via Open() or
// OpenDefault().
type Instance interface {
	// Name returns the backend identifier (e.g., "software", "vulkan").
	Name() string

	// Device returns the device the simulation submits to.
	Device() gpucore.Device

	// Presenter returns the presentation facility for Device.
	Presenter() gpucore.Presenter

	// Close releases the presenter and the device. The device must be idle.
	Close() error
}
