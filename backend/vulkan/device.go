// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu && cgo

package vulkan

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/gogpu/nbody/gpucore"
	"github.com/gogpu/nbody/internal/logging"
)

// ErrVulkan wraps failing Vulkan results.
var ErrVulkan = errors.New("vulkan: call failed")

// ErrNotHostVisible is returned when writing a device-local buffer.
var ErrNotHostVisible = errors.New("vulkan: buffer is not host visible")

// ErrSlotsHeld is returned when every uniform slot is read by command
// buffers that were recorded but never submitted.
var ErrSlotsHeld = errors.New("vulkan: all uniform slots held by unsubmitted commands")

var logger logging.Holder

// SetLogger sets the logger of the vulkan backend.
func SetLogger(l *slog.Logger) { logger.Store(l) }

var (
	loaderOnce sync.Once
	loaderErr  error
)

func initLoader() error {
	loaderOnce.Do(func() {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			loaderErr = fmt.Errorf("vulkan: load library: %w", err)
			return
		}
		if err := vk.Init(); err != nil {
			loaderErr = fmt.Errorf("vulkan: init loader: %w", err)
		}
	})
	return loaderErr
}

func check(res vk.Result, op string) error {
	if res != vk.Success {
		return fmt.Errorf("%w: %s: result %d", ErrVulkan, op, res)
	}
	return nil
}

func cstr(s string) string { return s + "\x00" }

// cname trims a fixed-size C string.
func cname(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Options configures a Device.
type Options struct {
	// SplitFamilies puts the compute role on a compute-only queue family
	// when the GPU has one.
	SplitFamilies bool
}

type buffer struct {
	label  string
	buf    vk.Buffer
	mem    vk.DeviceMemory
	size   uint64
	mapped unsafe.Pointer

	// ring is set on host-written uniform buffers, which hold one slot of
	// stride bytes per frame in flight.
	ring   *slotRing
	stride uint64
}

// slotHold is a uniform slot read by a recorded command buffer.
type slotHold struct {
	buf  *buffer
	slot int
}

type commandBuffer struct {
	role  gpucore.QueueRole
	buf   vk.CommandBuffer
	holds []slotHold
}

// inflight is a submission whose command buffers and uniform slots are
// released once its fence signals.
type inflight struct {
	fence  vk.Fence
	family gpucore.QueueFamily
	bufs   []vk.CommandBuffer
	holds  []slotHold
}

// Device implements gpucore.Device on a Vulkan logical device with one
// queue per role.
type Device struct {
	mu sync.Mutex

	instance vk.Instance
	physical vk.PhysicalDevice
	device   vk.Device
	memProps vk.PhysicalDeviceMemoryProperties
	limits   gpucore.Limits
	name     string

	// uniformAlign is the minimum dynamic uniform offset alignment.
	uniformAlign uint64

	families [2]gpucore.QueueFamily
	queues   [2]vk.Queue
	pools    map[gpucore.QueueFamily]vk.CommandPool

	// renderPass is shared by every render pipeline and target.
	renderPass vk.RenderPass

	nextID     uint64
	buffers    map[gpucore.BufferID]*buffer
	semaphores map[gpucore.SemaphoreID]vk.Semaphore
	computes   map[gpucore.ComputePipelineID]*pipeline
	renders    map[gpucore.RenderPipelineID]*pipeline
	commands   map[gpucore.CommandBufferID]commandBuffer
	targets    map[gpucore.TargetID]*target
	inflight   []inflight

	closed bool
}

var _ gpucore.Device = (*Device)(nil)

// New creates an instance and a logical device on the first GPU with a
// graphics queue.
func New(opts Options) (*Device, error) {
	if err := initLoader(); err != nil {
		return nil, err
	}
	d := &Device{
		pools:      make(map[gpucore.QueueFamily]vk.CommandPool),
		buffers:    make(map[gpucore.BufferID]*buffer),
		semaphores: make(map[gpucore.SemaphoreID]vk.Semaphore),
		computes:   make(map[gpucore.ComputePipelineID]*pipeline),
		renders:    make(map[gpucore.RenderPipelineID]*pipeline),
		commands:   make(map[gpucore.CommandBufferID]commandBuffer),
		targets:    make(map[gpucore.TargetID]*target),
	}
	if err := d.init(opts); err != nil {
		d.destroy()
		return nil, err
	}
	logger.Load().Info("vulkan: device created",
		"gpu", d.name,
		"graphicsFamily", d.families[gpucore.RoleGraphics],
		"computeFamily", d.families[gpucore.RoleCompute])
	return d, nil
}

func (d *Device) init(opts Options) error {
	if err := d.createInstance(); err != nil {
		return err
	}
	graphics, compute, err := d.selectPhysical(opts.SplitFamilies)
	if err != nil {
		return err
	}
	if err := d.createDevice(graphics, compute); err != nil {
		return err
	}
	for _, fam := range d.uniqueFamilies() {
		var pool vk.CommandPool
		res := vk.CreateCommandPool(d.device, &vk.CommandPoolCreateInfo{
			SType:            vk.StructureTypeCommandPoolCreateInfo,
			QueueFamilyIndex: uint32(fam),
			Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		}, nil, &pool)
		if err := check(res, "vkCreateCommandPool"); err != nil {
			return err
		}
		d.pools[fam] = pool
	}
	return d.createRenderPass()
}

func (d *Device) createInstance() error {
	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   cstr("nbody"),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        cstr("nbody"),
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.MakeVersion(1, 1, 0),
	}
	var instance vk.Instance
	res := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &appInfo,
	}, nil, &instance)
	if err := check(res, "vkCreateInstance"); err != nil {
		return err
	}
	d.instance = instance
	vk.InitInstance(instance)
	return nil
}

// selectPhysical takes the first GPU with a graphics queue family and reads
// its limits and memory types.
func (d *Device) selectPhysical(split bool) (graphics, compute uint32, err error) {
	var count uint32
	vk.EnumeratePhysicalDevices(d.instance, &count, nil)
	if count == 0 {
		return 0, 0, fmt.Errorf("vulkan: no Vulkan-capable GPUs found")
	}
	devices := make([]vk.PhysicalDevice, count)
	vk.EnumeratePhysicalDevices(d.instance, &count, devices)

	for _, pd := range devices {
		var n uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(pd, &n, nil)
		props := make([]vk.QueueFamilyProperties, n)
		vk.GetPhysicalDeviceQueueFamilyProperties(pd, &n, props)
		caps := make([]familyCaps, n)
		for i := range props {
			props[i].Deref()
			caps[i] = familyCaps{
				graphics: props[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0,
				compute:  props[i].QueueFlags&vk.QueueFlags(vk.QueueComputeBit) != 0,
				queues:   props[i].QueueCount,
			}
		}
		graphics, compute, err = pickFamilies(caps, split)
		if err != nil {
			continue
		}

		d.physical = pd
		var dp vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &dp)
		dp.Deref()
		dp.Limits.Deref()
		d.name = cname(dp.DeviceName[:])
		d.limits = gpucore.Limits{
			MaxComputeSharedMemorySize:       dp.Limits.MaxComputeSharedMemorySize,
			MaxComputeWorkgroupsPerDimension: dp.Limits.MaxComputeWorkGroupCount[0],
		}
		d.uniformAlign = uint64(dp.Limits.MinUniformBufferOffsetAlignment)
		if d.uniformAlign == 0 {
			d.uniformAlign = defaultUniformAlign
		}
		vk.GetPhysicalDeviceMemoryProperties(pd, &d.memProps)
		d.memProps.Deref()
		return graphics, compute, nil
	}
	return 0, 0, ErrNoGraphicsQueue
}

func (d *Device) createDevice(graphics, compute uint32) error {
	infos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: graphics,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}
	if compute != graphics {
		infos = append(infos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: compute,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	var device vk.Device
	res := vk.CreateDevice(d.physical, &vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: uint32(len(infos)),
		PQueueCreateInfos:    infos,
	}, nil, &device)
	if err := check(res, "vkCreateDevice"); err != nil {
		return err
	}
	d.device = device

	d.families[gpucore.RoleGraphics] = gpucore.QueueFamily(graphics)
	d.families[gpucore.RoleCompute] = gpucore.QueueFamily(compute)
	for role, fam := range d.families {
		var q vk.Queue
		vk.GetDeviceQueue(device, uint32(fam), 0, &q)
		d.queues[role] = q
	}
	return nil
}

func (d *Device) uniqueFamilies() []gpucore.QueueFamily {
	g, c := d.families[gpucore.RoleGraphics], d.families[gpucore.RoleCompute]
	if g == c {
		return []gpucore.QueueFamily{g}
	}
	return []gpucore.QueueFamily{g, c}
}

func (d *Device) createRenderPass() error {
	color := vk.AttachmentDescription{
		Format:         targetFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutTransferSrcOptimal,
	}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vk.AttachmentReference{{
			Attachment: 0,
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}},
	}
	var rp vk.RenderPass
	res := vk.CreateRenderPass(d.device, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.AttachmentDescription{color},
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
	}, nil, &rp)
	if err := check(res, "vkCreateRenderPass"); err != nil {
		return err
	}
	d.renderPass = rp
	return nil
}

// SetLogger implements the logger propagation hook of the nbody package.
func (d *Device) SetLogger(l *slog.Logger) { SetLogger(l) }

// QueueFamily returns the family of role.
func (d *Device) QueueFamily(role gpucore.QueueRole) gpucore.QueueFamily {
	return d.families[role]
}

// Limits returns the physical device limits.
func (d *Device) Limits() gpucore.Limits { return d.limits }

// Name returns the GPU name.
func (d *Device) Name() string { return d.name }

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

// CreateSemaphore creates a binary semaphore.
func (d *Device) CreateSemaphore(label string) (gpucore.SemaphoreID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	var s vk.Semaphore
	res := vk.CreateSemaphore(d.device, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &s)
	if err := check(res, "vkCreateSemaphore "+label); err != nil {
		return gpucore.InvalidID, err
	}
	id := gpucore.SemaphoreID(d.id())
	d.semaphores[id] = s
	return id, nil
}

// DestroySemaphore releases a semaphore.
func (d *Device) DestroySemaphore(id gpucore.SemaphoreID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.semaphores[id]; ok {
		vk.DestroySemaphore(d.device, s, nil)
		delete(d.semaphores, id)
	}
}

// WaitIdle waits for both queues and releases finished command buffers.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrDeviceClosed
	}
	return d.waitIdleLocked()
}

func (d *Device) waitIdleLocked() error {
	if err := check(vk.DeviceWaitIdle(d.device), "vkDeviceWaitIdle"); err != nil {
		return err
	}
	d.reclaimLocked(true)
	return nil
}

// Close waits for the device and destroys it.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.device != nil {
		vk.DeviceWaitIdle(d.device)
		d.reclaimLocked(true)
	}
	if n := len(d.buffers) + len(d.computes) + len(d.renders) + len(d.targets) + len(d.semaphores); n > 0 {
		logger.Load().Warn("vulkan: device closed with live resources", "count", n)
	}
	d.destroy()
	return nil
}

// destroy releases device-level objects. It tolerates partial init.
func (d *Device) destroy() {
	if d.device != nil {
		for _, cb := range d.commands {
			vk.FreeCommandBuffers(d.device, d.pools[d.families[cb.role]], 1, []vk.CommandBuffer{cb.buf})
		}
		d.commands = map[gpucore.CommandBufferID]commandBuffer{}
		if d.renderPass != vk.NullRenderPass {
			vk.DestroyRenderPass(d.device, d.renderPass, nil)
		}
		for fam, pool := range d.pools {
			vk.DestroyCommandPool(d.device, pool, nil)
			delete(d.pools, fam)
		}
		vk.DestroyDevice(d.device, nil)
		d.device = nil
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
}
