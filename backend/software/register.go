package software

import (
	"fmt"

	"github.com/gogpu/nbody/backend"
	"github.com/gogpu/nbody/gpucore"
)

func init() {
	backend.Register(backend.BackendSoftware, func(opts backend.Options) (backend.Instance, error) {
		return Open(opts)
	})
}

// Instance is an opened software backend.
type Instance struct {
	dev       *Device
	presenter *Presenter
}

var _ backend.Instance = (*Instance)(nil)

// Open creates a device and presenter. SplitFamilies puts compute on
// family 1.
func Open(opts backend.Options) (*Instance, error) {
	dopts := Options{Workers: opts.Workers}
	if opts.SplitFamilies {
		dopts.ComputeFamily = 1
	}
	dev := New(dopts)
	presenter, err := NewPresenter(dev, opts.Width, opts.Height, opts.Images)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("software: %w", err)
	}
	return &Instance{dev: dev, presenter: presenter}, nil
}

// Name returns "software".
func (i *Instance) Name() string { return backend.BackendSoftware }

// Device returns the device.
func (i *Instance) Device() gpucore.Device { return i.dev }

// Presenter returns the presenter.
func (i *Instance) Presenter() gpucore.Presenter { return i.presenter }

// SoftwareDevice returns the concrete device, for reading buffers back.
func (i *Instance) SoftwareDevice() *Device { return i.dev }

// Close destroys the presenter and closes the device.
func (i *Instance) Close() error {
	i.presenter.Destroy()
	return i.dev.Close()
}
