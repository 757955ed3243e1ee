// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package wgpu

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/nbody/gpucore"
	"github.com/gogpu/nbody/internal/logging"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// fenceTimeout bounds a single submission.
const fenceTimeout = 5 * time.Second

var logger logging.Holder

// SetLogger sets the logger of the wgpu backend.
func SetLogger(l *slog.Logger) { logger.Store(l) }

type buffer struct {
	label string
	buf   hal.Buffer
	size  uint64
}

type bindings struct {
	layout     hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	group      hal.BindGroup
}

type computePipeline struct {
	label    string
	shader   hal.ShaderModule
	bind     bindings
	pipeline hal.ComputePipeline
}

type renderPipeline struct {
	label    string
	shader   hal.ShaderModule
	bind     bindings
	pipeline hal.RenderPipeline
}

type commandBuffer struct {
	role gpucore.QueueRole
	buf  hal.CommandBuffer
}

// pending is a submission whose command buffers are freed once its fence
// signals.
type pending struct {
	fence hal.Fence
	cbs   []hal.CommandBuffer
}

type target struct {
	tex    hal.Texture
	view   hal.TextureView
	width  uint32
	height uint32
}

// Device implements gpucore.Device on a HAL device and its queue.
type Device struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	external bool
	format   gputypes.TextureFormat
	limits   gpucore.Limits

	nextID     uint64
	buffers    map[gpucore.BufferID]*buffer
	semaphores semaphores
	computes   map[gpucore.ComputePipelineID]*computePipeline
	renders    map[gpucore.RenderPipelineID]*renderPipeline
	commands   map[gpucore.CommandBufferID]commandBuffer
	targets    map[gpucore.TargetID]*target
	inflight   []pending

	submits uint64
	closed  bool
}

var _ gpucore.Device = (*Device)(nil)

func newDevice(device hal.Device, queue hal.Queue, lim gputypes.Limits, format gputypes.TextureFormat) *Device {
	return &Device{
		device:     device,
		queue:      queue,
		format:     format,
		limits:     convertLimits(lim),
		buffers:    make(map[gpucore.BufferID]*buffer),
		semaphores: make(semaphores),
		computes:   make(map[gpucore.ComputePipelineID]*computePipeline),
		renders:    make(map[gpucore.RenderPipelineID]*renderPipeline),
		commands:   make(map[gpucore.CommandBufferID]commandBuffer),
		targets:    make(map[gpucore.TargetID]*target),
	}
}

func convertLimits(l gputypes.Limits) gpucore.Limits {
	out := gpucore.DefaultLimits()
	if l.MaxComputeWorkgroupStorageSize > 0 {
		out.MaxComputeSharedMemorySize = l.MaxComputeWorkgroupStorageSize
	}
	if l.MaxComputeWorkgroupsPerDimension > 0 {
		out.MaxComputeWorkgroupsPerDimension = l.MaxComputeWorkgroupsPerDimension
	}
	return out
}

// New opens the first discrete or integrated GPU, or the first adapter when
// there is neither.
func New() (*Device, error) {
	be, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("wgpu: vulkan HAL backend not available")
	}
	instance, err := be.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	limits := gputypes.DefaultLimits()
	open, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	d := newDevice(open.Device, open.Queue, limits, gputypes.TextureFormatRGBA8Unorm)
	d.instance = instance
	logger.Load().Info("wgpu: device opened", "adapter", selected.Info.Name)
	return d, nil
}

// NewFromProvider wraps the device of a host framework. The provider must
// also expose HalDevice() and HalQueue(). Color targets use the provider's
// surface format, and Close leaves the shared device alive.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}

	d := newDevice(device, queue, gputypes.DefaultLimits(), provider.SurfaceFormat())
	d.external = true
	return d, nil
}

// SetLogger implements the logger propagation hook of the nbody package.
func (d *Device) SetLogger(l *slog.Logger) { SetLogger(l) }

// QueueFamily returns 0 for both roles.
func (d *Device) QueueFamily(gpucore.QueueRole) gpucore.QueueFamily { return 0 }

// Limits returns the limits the device was opened with.
func (d *Device) Limits() gpucore.Limits { return d.limits }

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

// CreateBuffer creates a buffer. Host-visible buffers are written through
// the queue, so they take CopyDst in place of MapWrite.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: bufferUsage(desc),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("create buffer %q: %w", desc.Label, err)
	}
	id := gpucore.BufferID(d.id())
	d.buffers[id] = &buffer{label: desc.Label, buf: buf, size: desc.Size}
	return id, nil
}

func bufferUsage(desc gpucore.BufferDesc) gputypes.BufferUsage {
	if !desc.HostVisible {
		return desc.Usage
	}
	return desc.Usage&^gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopyDst
}

// WriteBuffer writes data through the queue.
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
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write buffer %q: %d bytes at %d exceed size %d", b.label, len(data), offset, b.size)
	}
	d.queue.WriteBuffer(b.buf, offset, data)
	return nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.buffers[id]; ok {
		d.device.DestroyBuffer(b.buf)
		delete(d.buffers, id)
	}
}

// CreateSemaphore creates an unsignaled semaphore.
func (d *Device) CreateSemaphore(label string) (gpucore.SemaphoreID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	id := gpucore.SemaphoreID(d.id())
	d.semaphores[id] = &semaphore{label: label}
	return id, nil
}

// DestroySemaphore releases a semaphore.
func (d *Device) DestroySemaphore(id gpucore.SemaphoreID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.semaphores, id)
}

// createBindings builds the bind group layout, pipeline layout and bind
// group for bs, visible to stages.
func (d *Device) createBindings(label string, bs []gpucore.Binding, stages gputypes.ShaderStage) (bindings, error) {
	var out bindings
	layoutEntries := make([]gputypes.BindGroupLayoutEntry, 0, len(bs))
	groupEntries := make([]gputypes.BindGroupEntry, 0, len(bs))
	for _, b := range bs {
		buf, ok := d.buffers[b.Buffer]
		if !ok {
			return out, fmt.Errorf("binding %d: buffer %d: %w", b.Binding, b.Buffer, gpucore.ErrUnknownResource)
		}
		layoutEntries = append(layoutEntries, gputypes.BindGroupLayoutEntry{
			Binding:    b.Binding,
			Visibility: stages,
			Buffer:     &gputypes.BufferBindingLayout{Type: bindingType(b.Kind)},
		})
		groupEntries = append(groupEntries, gputypes.BindGroupEntry{
			Binding: b.Binding,
			Resource: gputypes.BufferBinding{
				Buffer: buf.buf.NativeHandle(),
				Offset: 0,
				Size:   b.Size,
			},
		})
	}

	var err error
	out.layout, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label + "_bind_layout",
		Entries: layoutEntries,
	})
	if err != nil {
		return out, fmt.Errorf("create bind group layout: %w", err)
	}
	out.pipeLayout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{out.layout},
	})
	if err != nil {
		d.destroyBindings(out)
		return bindings{}, fmt.Errorf("create pipeline layout: %w", err)
	}
	out.group, err = d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   label + "_bind",
		Layout:  out.layout,
		Entries: groupEntries,
	})
	if err != nil {
		d.destroyBindings(out)
		return bindings{}, fmt.Errorf("create bind group: %w", err)
	}
	return out, nil
}

func (d *Device) destroyBindings(b bindings) {
	if b.group != nil {
		d.device.DestroyBindGroup(b.group)
	}
	if b.pipeLayout != nil {
		d.device.DestroyPipelineLayout(b.pipeLayout)
	}
	if b.layout != nil {
		d.device.DestroyBindGroupLayout(b.layout)
	}
}

func bindingType(k gpucore.BindingKind) gputypes.BufferBindingType {
	switch k {
	case gpucore.BindingUniform:
		return gputypes.BufferBindingTypeUniform
	case gpucore.BindingReadOnlyStorage:
		return gputypes.BufferBindingTypeReadOnlyStorage
	default:
		return gputypes.BufferBindingTypeStorage
	}
}

// CreateComputePipeline compiles the WGSL source and binds the buffers.
func (d *Device) CreateComputePipeline(desc gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}

	cp := &computePipeline{label: desc.Label}
	var err error
	cp.shader, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{WGSL: desc.Shader.WGSL},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("compile %q shader: %w", desc.Label, err)
	}
	cp.bind, err = d.createBindings(desc.Label, desc.Bindings, gputypes.ShaderStageCompute)
	if err != nil {
		d.destroyCompute(cp)
		return gpucore.InvalidID, fmt.Errorf("pipeline %q: %w", desc.Label, err)
	}
	cp.pipeline, err = d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  cp.bind.pipeLayout,
		Compute: hal.ComputeState{Module: cp.shader, EntryPoint: desc.Shader.EntryPoint},
	})
	if err != nil {
		d.destroyCompute(cp)
		return gpucore.InvalidID, fmt.Errorf("create compute pipeline %q: %w", desc.Label, err)
	}

	id := gpucore.ComputePipelineID(d.id())
	d.computes[id] = cp
	return id, nil
}

func (d *Device) destroyCompute(cp *computePipeline) {
	if cp.pipeline != nil {
		d.device.DestroyComputePipeline(cp.pipeline)
	}
	d.destroyBindings(cp.bind)
	if cp.shader != nil {
		d.device.DestroyShaderModule(cp.shader)
	}
}

// DestroyComputePipeline releases a compute pipeline.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cp, ok := d.computes[id]; ok {
		d.destroyCompute(cp)
		delete(d.computes, id)
	}
}

// additiveBlend adds source to destination in both color and alpha.
func additiveBlend() gputypes.BlendState {
	add := gputypes.BlendComponent{
		SrcFactor: gputypes.BlendFactorOne,
		DstFactor: gputypes.BlendFactorOne,
		Operation: gputypes.BlendOperationAdd,
	}
	return gputypes.BlendState{Color: add, Alpha: add}
}

func vertexLayout(desc gpucore.RenderPipelineDesc) []gputypes.VertexBufferLayout {
	attrs := make([]gputypes.VertexAttribute, len(desc.Attributes))
	for i, a := range desc.Attributes {
		attrs[i] = gputypes.VertexAttribute{
			Format:         gputypes.VertexFormatFloat32x4,
			Offset:         a.Offset,
			ShaderLocation: a.Location,
		}
	}
	return []gputypes.VertexBufferLayout{{
		ArrayStride: desc.VertexStride,
		StepMode:    gputypes.VertexStepModeVertex,
		Attributes:  attrs,
	}}
}

// CreateRenderPipeline compiles a point-list pipeline with additive blending
// into the device's target format.
func (d *Device) CreateRenderPipeline(desc gpucore.RenderPipelineDesc) (gpucore.RenderPipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}

	rp := &renderPipeline{label: desc.Label}
	var err error
	rp.shader, err = d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label,
		Source: hal.ShaderSource{WGSL: desc.Shader.WGSL},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("compile %q shader: %w", desc.Label, err)
	}
	rp.bind, err = d.createBindings(desc.Label, desc.Bindings, gputypes.ShaderStageVertex|gputypes.ShaderStageFragment)
	if err != nil {
		d.destroyRender(rp)
		return gpucore.InvalidID, fmt.Errorf("pipeline %q: %w", desc.Label, err)
	}

	blend := additiveBlend()
	rp.pipeline, err = d.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: rp.bind.pipeLayout,
		Vertex: hal.VertexState{
			Module:     rp.shader,
			EntryPoint: desc.Shader.EntryPoint,
			Buffers:    vertexLayout(desc),
		},
		Fragment: &hal.FragmentState{
			Module:     rp.shader,
			EntryPoint: desc.FragmentEntryPoint,
			Targets: []gputypes.ColorTargetState{{
				Format:    d.format,
				Blend:     &blend,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyPointList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		d.destroyRender(rp)
		return gpucore.InvalidID, fmt.Errorf("create render pipeline %q: %w", desc.Label, err)
	}

	id := gpucore.RenderPipelineID(d.id())
	d.renders[id] = rp
	return id, nil
}

func (d *Device) destroyRender(rp *renderPipeline) {
	if rp.pipeline != nil {
		d.device.DestroyRenderPipeline(rp.pipeline)
	}
	d.destroyBindings(rp.bind)
	if rp.shader != nil {
		d.device.DestroyShaderModule(rp.shader)
	}
}

// DestroyRenderPipeline releases a render pipeline.
func (d *Device) DestroyRenderPipeline(id gpucore.RenderPipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rp, ok := d.renders[id]; ok {
		d.destroyRender(rp)
		delete(d.renders, id)
	}
}

// BeginCommands starts a HAL command encoder for role.
func (d *Device) BeginCommands(role gpucore.QueueRole, label string) (gpucore.CommandEncoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, gpucore.ErrDeviceClosed
	}
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label + "_encoder"})
	if err != nil {
		return nil, fmt.Errorf("create command encoder: %w", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}
	return &encoder{dev: d, role: role, enc: enc, label: label}, nil
}

// Submit consumes the waits, queues the command buffers and signals.
// Waits that are not signaled fail the submission instead of deadlocking
// the queue. Submit does not wait for the GPU; command buffers are freed
// once their fence signals.
func (d *Device) Submit(role gpucore.QueueRole, info gpucore.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrDeviceClosed
	}
	d.reclaimLocked()

	cbs := make([]hal.CommandBuffer, 0, len(info.Commands))
	for _, id := range info.Commands {
		cb, ok := d.commands[id]
		if !ok {
			return fmt.Errorf("submit %q: command buffer %d: %w", info.Label, id, gpucore.ErrUnknownResource)
		}
		if cb.role != role {
			return fmt.Errorf("submit %q: %w: recorded for %s, submitted to %s", info.Label, ErrRoleMismatch, cb.role, role)
		}
		cbs = append(cbs, cb.buf)
	}

	waits := make([]gpucore.SemaphoreID, len(info.Waits))
	for i, w := range info.Waits {
		waits[i] = w.Semaphore
	}
	for _, id := range info.Signals {
		if _, ok := d.semaphores[id]; !ok {
			return fmt.Errorf("submit %q: signal %d: %w", info.Label, id, gpucore.ErrUnknownResource)
		}
	}
	if err := d.semaphores.consume(waits...); err != nil {
		return fmt.Errorf("submit %q: %w", info.Label, err)
	}

	for _, id := range info.Commands {
		delete(d.commands, id)
	}
	if err := d.submitLocked(cbs); err != nil {
		return fmt.Errorf("submit %q: %w", info.Label, err)
	}

	for _, id := range info.Signals {
		if err := d.semaphores.signal(id); err != nil {
			return fmt.Errorf("submit %q: %w", info.Label, err)
		}
	}
	d.submits++
	logger.Load().Debug("wgpu: submitted", "role", role, "label", info.Label,
		"commands", len(cbs), "inflight", len(d.inflight))
	return nil
}

// submitLocked queues cbs with a fence of their own and records them as in
// flight. The device owns cbs from here on, even on error.
func (d *Device) submitLocked(cbs []hal.CommandBuffer) error {
	if len(cbs) == 0 {
		return nil
	}
	fence, err := d.device.CreateFence()
	if err != nil {
		freeAll(d.device, cbs)
		return fmt.Errorf("create fence: %w", err)
	}
	if err := d.queue.Submit(cbs, fence, 1); err != nil {
		freeAll(d.device, cbs)
		d.device.DestroyFence(fence)
		return fmt.Errorf("queue submit: %w", err)
	}
	d.inflight = append(d.inflight, pending{fence: fence, cbs: cbs})
	return nil
}

// reclaimLocked frees the command buffers of finished submissions without
// blocking.
func (d *Device) reclaimLocked() {
	finished, running := reap(d.inflight, func(p pending) bool {
		ok, err := d.device.Wait(p.fence, 1, 0)
		return err == nil && ok
	})
	d.inflight = running
	for _, p := range finished {
		d.release(p)
	}
}

func (d *Device) release(p pending) {
	freeAll(d.device, p.cbs)
	d.device.DestroyFence(p.fence)
}

func freeAll(dev hal.Device, cbs []hal.CommandBuffer) {
	for _, cb := range cbs {
		dev.FreeCommandBuffer(cb)
	}
}

// waitInflightLocked blocks until every submission so far has finished.
func (d *Device) waitInflightLocked() error {
	for len(d.inflight) > 0 {
		p := d.inflight[0]
		ok, err := d.device.Wait(p.fence, 1, fenceTimeout)
		if err != nil {
			return fmt.Errorf("wait for GPU: %w", err)
		}
		if !ok {
			return fmt.Errorf("wait for GPU: timeout after %v", fenceTimeout)
		}
		d.inflight = d.inflight[1:]
		d.release(p)
	}
	return nil
}

// runLocked submits cbs and waits for everything queued so far, for host
// readback.
func (d *Device) runLocked(cbs []hal.CommandBuffer) error {
	if err := d.submitLocked(cbs); err != nil {
		return err
	}
	return d.waitInflightLocked()
}

// WaitIdle blocks until every submission has finished.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrDeviceClosed
	}
	return d.waitInflightLocked()
}

// Close releases leftover command buffers and the device, unless the device
// came from a provider.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.waitInflightLocked(); err != nil {
		logger.Load().Warn("wgpu: close with work in flight", "err", err)
	}
	for id, cb := range d.commands {
		d.device.FreeCommandBuffer(cb.buf)
		delete(d.commands, id)
	}
	if n := len(d.buffers) + len(d.computes) + len(d.renders) + len(d.targets); n > 0 {
		logger.Load().Warn("wgpu: device closed with live resources", "count", n)
	}
	if d.external {
		d.device, d.queue = nil, nil
		return nil
	}
	d.device.Destroy()
	if d.instance != nil {
		d.instance.Destroy()
	}
	d.device, d.queue, d.instance = nil, nil, nil
	logger.Load().Info("wgpu: device closed", "submits", d.submits)
	return nil
}
