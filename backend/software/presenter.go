package software

import (
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/nbody/gpucore"
	"github.com/gogpu/nbody/internal/kernel"
)

// ErrNothingPresented is returned by Snapshot before the first Present.
var ErrNothingPresented = errors.New("software: nothing presented yet")

type swapImage struct {
	target    gpucore.TargetID
	available gpucore.SemaphoreID
	complete  gpucore.SemaphoreID
}

// Presenter is an offscreen swapchain of CPU color targets.
type Presenter struct {
	dev    *Device
	width  uint32
	height uint32
	images []swapImage
	next   uint32

	presented uint64
	last      int
}

var _ gpucore.Presenter = (*Presenter)(nil)

// NewPresenter creates a swapchain of count images on dev.
func NewPresenter(dev *Device, width, height uint32, count int) (*Presenter, error) {
	if count <= 0 {
		count = 2
	}
	p := &Presenter{dev: dev, last: -1}
	if err := p.create(width, height, count); err != nil {
		p.Destroy()
		return nil, err
	}
	return p, nil
}

func (p *Presenter) create(width, height uint32, count int) error {
	p.width, p.height = width, height
	for i := range count {
		available, err := p.dev.CreateSemaphore(fmt.Sprintf("image_available_%d", i))
		if err != nil {
			return err
		}
		complete, err := p.dev.CreateSemaphore(fmt.Sprintf("render_complete_%d", i))
		if err != nil {
			p.dev.DestroySemaphore(available)
			return err
		}
		p.dev.mu.Lock()
		target := gpucore.TargetID(p.dev.id())
		p.dev.targets[target] = kernel.NewTarget(int(width), int(height))
		p.dev.mu.Unlock()
		p.images = append(p.images, swapImage{target: target, available: available, complete: complete})
	}
	return nil
}

// Acquire returns the next image with its available semaphore signaled.
func (p *Presenter) Acquire() (gpucore.Frame, error) {
	idx := p.next
	img := p.images[idx]

	p.dev.mu.Lock()
	err := p.dev.signalLocked(img.available)
	p.dev.mu.Unlock()
	if err != nil {
		return gpucore.Frame{}, fmt.Errorf("acquire image %d: %w", idx, err)
	}

	p.next = (p.next + 1) % uint32(len(p.images)) //nolint:gosec // swapchains are small
	return gpucore.Frame{
		Index:          idx,
		Target:         img.target,
		ImageAvailable: img.available,
		RenderComplete: img.complete,
		Width:          p.width,
		Height:         p.height,
	}, nil
}

// Present consumes the frame's render-complete signal.
func (p *Presenter) Present(f gpucore.Frame) error {
	p.dev.mu.Lock()
	err := p.dev.consumeLocked(f.RenderComplete)
	p.dev.mu.Unlock()
	if err != nil {
		return fmt.Errorf("present image %d: %w", f.Index, err)
	}
	p.presented++
	p.last = int(f.Index)
	return nil
}

// Extent returns the image size.
func (p *Presenter) Extent() (width, height uint32) {
	return p.width, p.height
}

// Presented returns the number of presented frames.
func (p *Presenter) Presented() uint64 {
	return p.presented
}

// Snapshot returns the most recently presented image.
func (p *Presenter) Snapshot() (*image.RGBA, error) {
	if p.last < 0 {
		return nil, ErrNothingPresented
	}
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	t, ok := p.dev.targets[p.images[p.last].target]
	if !ok {
		return nil, fmt.Errorf("snapshot: %w", gpucore.ErrUnknownResource)
	}
	return t.Image(), nil
}

// Resize recreates the images. The device must be idle.
func (p *Presenter) Resize(width, height uint32) error {
	count := max(len(p.images), 2)
	p.Destroy()
	p.next, p.last = 0, -1
	return p.create(width, height, count)
}

// Destroy releases the images and their semaphores.
func (p *Presenter) Destroy() {
	for _, img := range p.images {
		p.dev.DestroySemaphore(img.available)
		p.dev.DestroySemaphore(img.complete)
		p.dev.mu.Lock()
		delete(p.dev.targets, img.target)
		p.dev.mu.Unlock()
	}
	p.images = nil
}
