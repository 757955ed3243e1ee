//go:build !nogpu && cgo

package vulkan

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"

	"github.com/gogpu/nbody/gpucore"
)

func bufferUsage(u gputypes.BufferUsage) vk.BufferUsageFlags {
	var out vk.BufferUsageFlagBits
	if u&gputypes.BufferUsageCopySrc != 0 {
		out |= vk.BufferUsageTransferSrcBit
	}
	if u&gputypes.BufferUsageCopyDst != 0 {
		out |= vk.BufferUsageTransferDstBit
	}
	if u&gputypes.BufferUsageUniform != 0 {
		out |= vk.BufferUsageUniformBufferBit
	}
	if u&gputypes.BufferUsageStorage != 0 {
		out |= vk.BufferUsageStorageBufferBit
	}
	if u&gputypes.BufferUsageVertex != 0 {
		out |= vk.BufferUsageVertexBufferBit
	}
	return vk.BufferUsageFlags(out)
}

// findMemoryType returns the first memory type allowed by typeFilter that
// has all of props.
func (d *Device) findMemoryType(typeFilter uint32, props vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < d.memProps.MemoryTypeCount; i++ {
		d.memProps.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 && d.memProps.MemoryTypes[i].PropertyFlags&props == props {
			return i, nil
		}
	}
	return 0, fmt.Errorf("vulkan: no memory type with properties 0x%x", props)
}

func (d *Device) allocate(reqs vk.MemoryRequirements, props vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	reqs.Deref()
	index, err := d.findMemoryType(reqs.MemoryTypeBits, props)
	if err != nil {
		return vk.NullDeviceMemory, err
	}
	var mem vk.DeviceMemory
	res := vk.AllocateMemory(d.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: index,
	}, nil, &mem)
	if err := check(res, "vkAllocateMemory"); err != nil {
		return vk.NullDeviceMemory, err
	}
	return mem, nil
}

func (d *Device) newBuffer(label string, size uint64, usage vk.BufferUsageFlags, hostVisible bool) (*buffer, error) {
	b := &buffer{label: label, size: size}
	res := vk.CreateBuffer(d.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}, nil, &b.buf)
	if err := check(res, "vkCreateBuffer "+label); err != nil {
		return nil, err
	}

	props := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if hostVisible {
		props = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, b.buf, &reqs)
	mem, err := d.allocate(reqs, props)
	if err != nil {
		vk.DestroyBuffer(d.device, b.buf, nil)
		return nil, fmt.Errorf("buffer %q: %w", label, err)
	}
	b.mem = mem
	vk.BindBufferMemory(d.device, b.buf, b.mem, 0)

	if hostVisible {
		if err := check(vk.MapMemory(d.device, b.mem, 0, vk.DeviceSize(size), 0, &b.mapped), "vkMapMemory "+label); err != nil {
			d.freeBuffer(b)
			return nil, err
		}
	}
	return b, nil
}

func (d *Device) freeBuffer(b *buffer) {
	if b.mapped != nil {
		vk.UnmapMemory(d.device, b.mem)
		b.mapped = nil
	}
	vk.DestroyBuffer(d.device, b.buf, nil)
	vk.FreeMemory(d.device, b.mem, nil)
}

// CreateBuffer creates a buffer. Host-visible buffers stay mapped, and
// host-visible uniform buffers get one slot per frame in flight so the host
// never overwrites uniforms a queue may still read.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	ringed := desc.HostVisible && desc.Usage&gputypes.BufferUsageUniform != 0
	size := desc.Size
	var stride uint64
	if ringed {
		stride = alignUp(desc.Size, d.uniformAlign)
		size = stride * framesInFlight
	}
	b, err := d.newBuffer(desc.Label, size, bufferUsage(desc.Usage), desc.HostVisible)
	if err != nil {
		return gpucore.InvalidID, err
	}
	if ringed {
		b.size = desc.Size
		b.stride = stride
		b.ring = newSlotRing(framesInFlight)
	}
	id := gpucore.BufferID(d.id())
	d.buffers[id] = b
	return id, nil
}

// WriteBuffer copies data into a mapped buffer. Uniform buffers move to
// their next free slot, blocking only when every slot is still read by
// submitted work. Other buffers wait for submissions in flight, which may
// read the previous contents.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrDeviceClosed
	}
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("write buffer %d: %w", id, gpucore.ErrUnknownResource)
	}
	if b.mapped == nil {
		return fmt.Errorf("write buffer %q: %w", b.label, ErrNotHostVisible)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write buffer %q: %d bytes at %d exceed size %d", b.label, len(data), offset, b.size)
	}

	base := uint64(0)
	if b.ring != nil {
		if err := d.nextSlotLocked(b); err != nil {
			return err
		}
		base = uint64(b.ring.cur) * b.stride //nolint:gosec // cur < framesInFlight
	} else if err := d.waitInflightLocked(); err != nil {
		return err
	}
	dst := unsafe.Slice((*byte)(b.mapped), base+b.size)
	copy(dst[base+offset:], data)
	return nil
}

// nextSlotLocked advances b to a slot no pending work reads. It reclaims
// finished submissions first and waits for the device only when the GPU is
// a full ring behind.
func (d *Device) nextSlotLocked(b *buffer) error {
	if b.ring.advance() {
		return nil
	}
	d.reclaimLocked(false)
	if b.ring.advance() {
		return nil
	}
	logger.Load().Debug("vulkan: uniform ring full, waiting", "buffer", b.label)
	if err := d.waitInflightLocked(); err != nil {
		return err
	}
	if !b.ring.advance() {
		return fmt.Errorf("write buffer %q: %w", b.label, ErrSlotsHeld)
	}
	return nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[id]; ok {
		d.freeBuffer(b)
		delete(d.buffers, id)
	}
}
