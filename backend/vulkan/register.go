//go:build !nogpu && cgo

package vulkan

import (
	"fmt"

	"github.com/gogpu/nbody/backend"
	"github.com/gogpu/nbody/gpucore"
)

func init() {
	backend.Register(backend.BackendVulkan, func(opts backend.Options) (backend.Instance, error) {
		return Open(opts)
	})
}

// Instance is an opened vulkan backend.
type Instance struct {
	dev       *Device
	presenter *Presenter
}

var _ backend.Instance = (*Instance)(nil)

// Open opens a GPU and an offscreen presenter on it.
func Open(opts backend.Options) (*Instance, error) {
	dev, err := New(Options{SplitFamilies: opts.SplitFamilies})
	if err != nil {
		return nil, err
	}
	presenter, err := NewPresenter(dev, opts.Width, opts.Height, opts.Images)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("vulkan: %w", err)
	}
	return &Instance{dev: dev, presenter: presenter}, nil
}

// Name returns "vulkan".
func (i *Instance) Name() string { return backend.BackendVulkan }

// Device returns the device.
func (i *Instance) Device() gpucore.Device { return i.dev }

// Presenter returns the presenter.
func (i *Instance) Presenter() gpucore.Presenter { return i.presenter }

// Close destroys the presenter and closes the device.
func (i *Instance) Close() error {
	i.presenter.Destroy()
	return i.dev.Close()
}
