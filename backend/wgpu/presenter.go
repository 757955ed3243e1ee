//go:build !nogpu

package wgpu

import (
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/nbody/gpucore"
)

// ErrNothingPresented is returned by Snapshot before the first Present.
var ErrNothingPresented = errors.New("wgpu: nothing presented yet")

// copyPitchAlignment is the row alignment of texture-to-buffer copies.
const copyPitchAlignment = 256

type swapImage struct {
	target    gpucore.TargetID
	available gpucore.SemaphoreID
	complete  gpucore.SemaphoreID
}

// Presenter is an offscreen swapchain of color textures.
type Presenter struct {
	dev    *Device
	width  uint32
	height uint32
	images []swapImage
	next   uint32
	last   int
}

var _ gpucore.Presenter = (*Presenter)(nil)

// NewPresenter creates count color targets of the given size on dev.
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
		target, err := p.dev.createTarget(fmt.Sprintf("swap_image_%d", i), width, height)
		if err != nil {
			p.dev.DestroySemaphore(available)
			p.dev.DestroySemaphore(complete)
			return err
		}
		p.images = append(p.images, swapImage{target: target, available: available, complete: complete})
	}
	return nil
}

func (d *Device) createTarget(label string, width, height uint32) (gpucore.TargetID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        d.format,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("create texture %q: %w", label, err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: label + "_view"})
	if err != nil {
		d.device.DestroyTexture(tex)
		return gpucore.InvalidID, fmt.Errorf("create texture view %q: %w", label, err)
	}
	id := gpucore.TargetID(d.id())
	d.targets[id] = &target{tex: tex, view: view, width: width, height: height}
	return id, nil
}

func (d *Device) destroyTarget(id gpucore.TargetID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.targets[id]
	if !ok || d.device == nil {
		return
	}
	d.device.DestroyTextureView(t.view)
	d.device.DestroyTexture(t.tex)
	delete(d.targets, id)
}

// Acquire returns the next image with its available semaphore signaled.
func (p *Presenter) Acquire() (gpucore.Frame, error) {
	idx := p.next
	img := p.images[idx]

	p.dev.mu.Lock()
	err := p.dev.semaphores.signal(img.available)
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
	err := p.dev.semaphores.consume(f.RenderComplete)
	p.dev.mu.Unlock()
	if err != nil {
		return fmt.Errorf("present image %d: %w", f.Index, err)
	}
	p.last = int(f.Index)
	return nil
}

// Extent returns the image size.
func (p *Presenter) Extent() (width, height uint32) {
	return p.width, p.height
}

// Snapshot reads the most recently presented image back to the host.
func (p *Presenter) Snapshot() (*image.RGBA, error) {
	if p.last < 0 {
		return nil, ErrNothingPresented
	}
	return p.dev.readTarget(p.images[p.last].target)
}

func (d *Device) readTarget(id gpucore.TargetID) (*image.RGBA, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, gpucore.ErrDeviceClosed
	}
	t, ok := d.targets[id]
	if !ok {
		return nil, fmt.Errorf("snapshot: target %d: %w", id, gpucore.ErrUnknownResource)
	}

	pitch := alignedPitch(t.width)
	size := uint64(pitch) * uint64(t.height)
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "snapshot_staging",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "snapshot_encoder"})
	if err != nil {
		return nil, fmt.Errorf("snapshot: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding("snapshot"); err != nil {
		return nil, fmt.Errorf("snapshot: begin encoding: %w", err)
	}
	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: t.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})
	enc.CopyTextureToBuffer(t.tex, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: pitch, RowsPerImage: t.height},
		TextureBase:  hal.ImageCopyTexture{Texture: t.tex, MipLevel: 0},
		Size:         hal.Extent3D{Width: t.width, Height: t.height, DepthOrArrayLayers: 1},
	}})
	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: t.tex,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageCopySrc,
			NewUsage: gputypes.TextureUsageRenderAttachment,
		},
	}})
	cb, err := enc.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("snapshot: end encoding: %w", err)
	}
	if err := d.runLocked([]hal.CommandBuffer{cb}); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	raw := make([]byte, size)
	if err := d.queue.ReadBuffer(staging, 0, raw); err != nil {
		return nil, fmt.Errorf("snapshot: readback: %w", err)
	}
	return unpackRows(raw, int(t.width), int(t.height), int(pitch), isBGRA(d.format)), nil
}

// alignedPitch rounds a row of RGBA8 pixels up to the copy alignment.
func alignedPitch(width uint32) uint32 {
	return (width*4 + copyPitchAlignment - 1) &^ (copyPitchAlignment - 1)
}

func isBGRA(f gputypes.TextureFormat) bool {
	return f == gputypes.TextureFormatBGRA8Unorm || f == gputypes.TextureFormatBGRA8UnormSrgb
}

// unpackRows copies pitched rows into an RGBA image, swapping red and blue
// for BGRA sources.
func unpackRows(raw []byte, width, height, pitch int, bgra bool) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		src := raw[y*pitch : y*pitch+width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+width*4]
		copy(dst, src)
		if bgra {
			for i := 0; i < len(dst); i += 4 {
				dst[i], dst[i+2] = dst[i+2], dst[i]
			}
		}
	}
	return img
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
		p.dev.destroyTarget(img.target)
	}
	p.images = nil
}
