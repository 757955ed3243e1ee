//go:build !nogpu && cgo

package vulkan

import (
	"errors"
	"fmt"
	"image"
	"unsafe"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"

	"github.com/gogpu/nbody/gpucore"
)

// ErrNothingPresented is returned by Snapshot before the first Present.
var ErrNothingPresented = errors.New("vulkan: nothing presented yet")

// targetFormat is the color format of every target and of the shared
// render pass.
const targetFormat = vk.FormatR8g8b8a8Unorm

// target is an offscreen color image with its framebuffer.
type target struct {
	image       vk.Image
	mem         vk.DeviceMemory
	view        vk.ImageView
	framebuffer vk.Framebuffer
	width       uint32
	height      uint32
}

var colorRange = vk.ImageSubresourceRange{
	AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
	BaseMipLevel:   0,
	LevelCount:     1,
	BaseArrayLayer: 0,
	LayerCount:     1,
}

func (d *Device) createTarget(width, height uint32) (gpucore.TargetID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}

	t := &target{width: width, height: height}
	res := vk.CreateImage(d.device, &vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        targetFormat,
		Extent:        vk.Extent3D{Width: width, Height: height, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferSrcBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &t.image)
	if err := check(res, "vkCreateImage"); err != nil {
		return gpucore.InvalidID, err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, t.image, &reqs)
	mem, err := d.allocate(reqs, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		d.freeTarget(t)
		return gpucore.InvalidID, fmt.Errorf("target: %w", err)
	}
	t.mem = mem
	vk.BindImageMemory(d.device, t.image, t.mem, 0)

	res = vk.CreateImageView(d.device, &vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            t.image,
		ViewType:         vk.ImageViewType2d,
		Format:           targetFormat,
		SubresourceRange: colorRange,
	}, nil, &t.view)
	if err := check(res, "vkCreateImageView"); err != nil {
		d.freeTarget(t)
		return gpucore.InvalidID, err
	}

	res = vk.CreateFramebuffer(d.device, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      d.renderPass,
		AttachmentCount: 1,
		PAttachments:    []vk.ImageView{t.view},
		Width:           width,
		Height:          height,
		Layers:          1,
	}, nil, &t.framebuffer)
	if err := check(res, "vkCreateFramebuffer"); err != nil {
		d.freeTarget(t)
		return gpucore.InvalidID, err
	}

	id := gpucore.TargetID(d.id())
	d.targets[id] = t
	return id, nil
}

// freeTarget tolerates partial creation.
func (d *Device) freeTarget(t *target) {
	if t.framebuffer != vk.NullFramebuffer {
		vk.DestroyFramebuffer(d.device, t.framebuffer, nil)
	}
	if t.view != vk.NullImageView {
		vk.DestroyImageView(d.device, t.view, nil)
	}
	if t.image != vk.NullImage {
		vk.DestroyImage(d.device, t.image, nil)
	}
	if t.mem != vk.NullDeviceMemory {
		vk.FreeMemory(d.device, t.mem, nil)
	}
}

func (d *Device) destroyTarget(id gpucore.TargetID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.targets[id]; ok && d.device != nil {
		d.freeTarget(t)
		delete(d.targets, id)
	}
}

type swapImage struct {
	target    gpucore.TargetID
	available gpucore.SemaphoreID
	complete  gpucore.SemaphoreID
}

// Presenter is an offscreen swapchain on the graphics queue.
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
		t, err := p.dev.createTarget(width, height)
		if err != nil {
			p.dev.DestroySemaphore(available)
			p.dev.DestroySemaphore(complete)
			return err
		}
		p.images = append(p.images, swapImage{target: t, available: available, complete: complete})
	}
	return nil
}

// Acquire returns the next image. An empty graphics submission signals its
// available semaphore.
func (p *Presenter) Acquire() (gpucore.Frame, error) {
	idx := p.next
	img := p.images[idx]

	d := p.dev
	d.mu.Lock()
	err := d.emptySubmitLocked("acquire", nil, nil, []vk.Semaphore{d.semaphores[img.available]})
	d.mu.Unlock()
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

// Present waits on the frame's render-complete semaphore with an empty
// graphics submission.
func (p *Presenter) Present(f gpucore.Frame) error {
	d := p.dev
	d.mu.Lock()
	err := d.emptySubmitLocked("present",
		[]vk.Semaphore{d.semaphores[f.RenderComplete]},
		[]vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)},
		nil)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("present image %d: %w", f.Index, err)
	}
	p.last = int(f.Index)
	return nil
}

func (d *Device) emptySubmitLocked(label string, waits []vk.Semaphore, stages []vk.PipelineStageFlags, signals []vk.Semaphore) error {
	if d.closed {
		return gpucore.ErrDeviceClosed
	}
	d.reclaimLocked(false)
	return d.submitLocked(gpucore.RoleGraphics, label, nil, waits, stages, signals)
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
	if err := d.waitInflightLocked(); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	size := uint64(t.width) * uint64(t.height) * 4
	staging, err := d.newBuffer("snapshot_staging", size, bufferUsage(gputypes.BufferUsageCopyDst), true)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	defer d.freeBuffer(staging)

	pool := d.pools[d.families[gpucore.RoleGraphics]]
	bufs := make([]vk.CommandBuffer, 1)
	res := vk.AllocateCommandBuffers(d.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, bufs)
	if err := check(res, "vkAllocateCommandBuffers snapshot"); err != nil {
		return nil, err
	}
	cmd := bufs[0]
	vk.BeginCommandBuffer(cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	// The render pass leaves the image in TransferSrcOptimal.
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, 0, nil, 0, nil,
		1, []vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			DstAccessMask:       vk.AccessFlags(vk.AccessTransferReadBit),
			OldLayout:           vk.ImageLayoutTransferSrcOptimal,
			NewLayout:           vk.ImageLayoutTransferSrcOptimal,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               t.image,
			SubresourceRange:    colorRange,
		}})
	vk.CmdCopyImageToBuffer(cmd, t.image, vk.ImageLayoutTransferSrcOptimal, staging.buf, 1, []vk.BufferImageCopy{{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageOffset: vk.Offset3D{X: 0, Y: 0, Z: 0},
		ImageExtent: vk.Extent3D{Width: t.width, Height: t.height, Depth: 1},
	}})
	if err := check(vk.EndCommandBuffer(cmd), "vkEndCommandBuffer snapshot"); err != nil {
		vk.FreeCommandBuffers(d.device, pool, 1, bufs)
		return nil, err
	}
	if err := d.submitLocked(gpucore.RoleGraphics, "snapshot", bufs, nil, nil, nil); err != nil {
		vk.FreeCommandBuffers(d.device, pool, 1, bufs)
		return nil, err
	}
	if err := d.waitInflightLocked(); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, int(t.width), int(t.height)))
	copy(img.Pix, unsafe.Slice((*byte)(staging.mapped), size))
	return img, nil
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
