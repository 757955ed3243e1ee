//go:build !nogpu

package wgpu

import (
	"fmt"

	"github.com/gogpu/nbody/backend"
	"github.com/gogpu/nbody/gpucore"
)

func init() {
	backend.Register(backend.BackendWGPU, func(opts backend.Options) (backend.Instance, error) {
		return Open(opts)
	})
}

// Instance is an opened wgpu backend.
type Instance struct {
	dev       *Device
	presenter *Presenter
}

var _ backend.Instance = (*Instance)(nil)

// Open opens a GPU and an offscreen presenter. The HAL has a single queue,
// so SplitFamilies has no effect.
func Open(opts backend.Options) (*Instance, error) {
	dev, err := New()
	if err != nil {
		return nil, err
	}
	if opts.SplitFamilies {
		logger.Load().Debug("wgpu: split queue families requested, using one queue")
	}
	presenter, err := NewPresenter(dev, opts.Width, opts.Height, opts.Images)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("wgpu: %w", err)
	}
	return &Instance{dev: dev, presenter: presenter}, nil
}

// Name returns "wgpu".
func (i *Instance) Name() string { return backend.BackendWGPU }

// Device returns the device.
func (i *Instance) Device() gpucore.Device { return i.dev }

// Presenter returns the presenter.
func (i *Instance) Presenter() gpucore.Presenter { return i.presenter }

// Close destroys the presenter and closes the device.
func (i *Instance) Close() error {
	i.presenter.Destroy()
	return i.dev.Close()
}
