// Package software implements gpucore.Device on the CPU.
//
// Each role gets a queue of its own, optionally in its own queue family.
// Submissions execute synchronously at Submit time, which makes every
// synchronization mistake observable:
//   - waiting on a semaphore nobody signaled fails with
//     ErrSemaphoreNotSignaled instead of hanging
//   - signaling a semaphore that is still signaled fails with
//     ErrSemaphoreAlreadySignaled
//   - touching a buffer from a queue family that does not own it fails with
//     ErrOwnershipViolation
//
// Compute dispatches run the kernel package on a worker pool; draws
// rasterize points into float color targets owned by a Presenter.
package software

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/nbody/gpucore"
	"github.com/gogpu/nbody/internal/kernel"
	"github.com/gogpu/nbody/internal/logging"
	"github.com/gogpu/nbody/internal/parallel"
	"github.com/gogpu/nbody/internal/shaders"
)

// Validation errors.
var (
	ErrSemaphoreNotSignaled     = errors.New("software: wait on unsignaled semaphore")
	ErrSemaphoreAlreadySignaled = errors.New("software: signal of signaled semaphore")
	ErrOwnershipViolation       = errors.New("software: buffer used by a queue family that does not own it")
	ErrUnsupportedShader        = errors.New("software: no kernel for shader entry point")
	ErrNotHostVisible           = errors.New("software: buffer is not host visible")
	ErrOutOfRange               = errors.New("software: access out of buffer range")
	ErrRoleMismatch             = errors.New("software: command buffer submitted to another queue")
)

var logger logging.Holder

// SetLogger sets the logger of the software backend.
func SetLogger(l *slog.Logger) { logger.Store(l) }

// Options configures a Device.
type Options struct {
	// GraphicsFamily and ComputeFamily are the queue families of the two
	// roles. Equal values model a device with one universal family.
	GraphicsFamily gpucore.QueueFamily
	ComputeFamily  gpucore.QueueFamily

	// Limits are the reported device limits. Zero means DefaultLimits.
	Limits gpucore.Limits

	// Workers is the size of the dispatch pool. Zero means GOMAXPROCS.
	Workers int
}

// Submission is one executed queue submission.
type Submission struct {
	Seq      int
	Role     gpucore.QueueRole
	Family   gpucore.QueueFamily
	Label    string
	Commands int
	Waits    []gpucore.SemaphoreID
	Signals  []gpucore.SemaphoreID
}

// BarrierRecord is one executed ownership-transfer barrier.
type BarrierRecord struct {
	Seq     int
	Role    gpucore.QueueRole
	Barrier gpucore.BufferBarrier
}

type buffer struct {
	label       string
	data        []byte
	usage       gputypes.BufferUsage
	hostVisible bool

	// owner is the family holding the buffer, QueueFamilyIgnored before
	// first use and while a transfer is pending.
	owner   gpucore.QueueFamily
	pending *transfer
}

type transfer struct {
	from, to gpucore.QueueFamily
}

type computePipeline struct {
	label    string
	entry    string
	bindings []gpucore.Binding
}

type renderPipeline struct {
	label    string
	stride   uint64
	bindings []gpucore.Binding
}

type commandBuffer struct {
	role  gpucore.QueueRole
	label string
	ops   []op
}

// op is one recorded command, executed on the queue of family.
type op func(x *execution) error

type execution struct {
	dev    *Device
	role   gpucore.QueueRole
	family gpucore.QueueFamily
	seq    int

	// scratch, when set, takes ownership changes in place of the buffers
	// and suppresses every other side effect, so a submission can be
	// checked before it runs.
	scratch map[*buffer]ownership
}

// ownership is the transfer state of a buffer.
type ownership struct {
	owner   gpucore.QueueFamily
	pending *transfer
}

func (x *execution) dry() bool { return x.scratch != nil }

func (x *execution) state(b *buffer) ownership {
	if s, ok := x.scratch[b]; ok {
		return s
	}
	return ownership{owner: b.owner, pending: b.pending}
}

func (x *execution) setState(b *buffer, s ownership) {
	if x.dry() {
		x.scratch[b] = s
		return
	}
	b.owner, b.pending = s.owner, s.pending
}

// Device is a CPU implementation of gpucore.Device.
type Device struct {
	mu sync.Mutex

	opts   Options
	pool   *parallel.WorkerPool
	kernel *kernel.Kernel

	nextID     uint64
	buffers    map[gpucore.BufferID]*buffer
	semaphores map[gpucore.SemaphoreID]*semaphore
	computes   map[gpucore.ComputePipelineID]*computePipeline
	renders    map[gpucore.RenderPipelineID]*renderPipeline
	commands   map[gpucore.CommandBufferID]*commandBuffer
	targets    map[gpucore.TargetID]*kernel.Target

	submissions   []Submission
	barriers      []BarrierRecord
	stageBarriers int
	closed        bool
}

type semaphore struct {
	label    string
	signaled bool
}

var _ gpucore.Device = (*Device)(nil)

// New creates a device.
func New(opts Options) *Device {
	if opts.Limits == (gpucore.Limits{}) {
		opts.Limits = gpucore.DefaultLimits()
	}
	pool := parallel.NewWorkerPool(opts.Workers)
	d := &Device{
		opts:       opts,
		pool:       pool,
		kernel:     kernel.New(pool, kernel.TileSize(opts.Limits.MaxComputeSharedMemorySize)),
		buffers:    make(map[gpucore.BufferID]*buffer),
		semaphores: make(map[gpucore.SemaphoreID]*semaphore),
		computes:   make(map[gpucore.ComputePipelineID]*computePipeline),
		renders:    make(map[gpucore.RenderPipelineID]*renderPipeline),
		commands:   make(map[gpucore.CommandBufferID]*commandBuffer),
		targets:    make(map[gpucore.TargetID]*kernel.Target),
	}
	logger.Load().Info("software: device created",
		"graphicsFamily", opts.GraphicsFamily,
		"computeFamily", opts.ComputeFamily,
		"workers", pool.Workers(),
		"tile", d.kernel.TileSize())
	return d
}

// SetLogger implements the logger propagation hook of the nbody package.
func (d *Device) SetLogger(l *slog.Logger) { SetLogger(l) }

// QueueFamily returns the family of role.
func (d *Device) QueueFamily(role gpucore.QueueRole) gpucore.QueueFamily {
	if role == gpucore.RoleCompute {
		return d.opts.ComputeFamily
	}
	return d.opts.GraphicsFamily
}

// Limits returns the configured limits.
func (d *Device) Limits() gpucore.Limits {
	return d.opts.Limits
}

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

// CreateBuffer creates a zero-filled buffer.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	id := gpucore.BufferID(d.id())
	d.buffers[id] = &buffer{
		label:       desc.Label,
		data:        make([]byte, desc.Size),
		usage:       desc.Usage,
		hostVisible: desc.HostVisible,
		owner:       gpucore.QueueFamilyIgnored,
	}
	logger.Load().Debug("software: buffer created", "label", desc.Label, "size", desc.Size)
	return id, nil
}

// WriteBuffer copies data into a host-visible buffer.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("write buffer %d: %w", id, gpucore.ErrUnknownResource)
	}
	if !b.hostVisible {
		return fmt.Errorf("write buffer %q: %w", b.label, ErrNotHostVisible)
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("write buffer %q: %w", b.label, ErrOutOfRange)
	}
	copy(b.data[offset:], data)
	return nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
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

// CreateComputePipeline binds the kernel named by the shader entry point.
func (d *Device) CreateComputePipeline(desc gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	switch desc.Shader.EntryPoint {
	case shaders.CalculateEntry, shaders.IntegrateEntry:
	default:
		return gpucore.InvalidID, fmt.Errorf("%w: %q", ErrUnsupportedShader, desc.Shader.EntryPoint)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	if err := d.checkBindings(desc.Bindings); err != nil {
		return gpucore.InvalidID, fmt.Errorf("create compute pipeline %q: %w", desc.Label, err)
	}
	id := gpucore.ComputePipelineID(d.id())
	d.computes[id] = &computePipeline{
		label:    desc.Label,
		entry:    desc.Shader.EntryPoint,
		bindings: append([]gpucore.Binding(nil), desc.Bindings...),
	}
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.computes, id)
}

// CreateRenderPipeline creates a point renderer. The vertex layout must be
// the particle layout.
func (d *Device) CreateRenderPipeline(desc gpucore.RenderPipelineDesc) (gpucore.RenderPipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	if err := d.checkBindings(desc.Bindings); err != nil {
		return gpucore.InvalidID, fmt.Errorf("create render pipeline %q: %w", desc.Label, err)
	}
	id := gpucore.RenderPipelineID(d.id())
	d.renders[id] = &renderPipeline{
		label:    desc.Label,
		stride:   desc.VertexStride,
		bindings: append([]gpucore.Binding(nil), desc.Bindings...),
	}
	return id, nil
}

// DestroyRenderPipeline releases a render pipeline.
func (d *Device) DestroyRenderPipeline(id gpucore.RenderPipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.renders, id)
}

func (d *Device) checkBindings(bs []gpucore.Binding) error {
	for _, b := range bs {
		if _, ok := d.buffers[b.Buffer]; !ok {
			return fmt.Errorf("binding %d: %w", b.Binding, gpucore.ErrUnknownResource)
		}
	}
	return nil
}

// BeginCommands starts recording for role.
func (d *Device) BeginCommands(role gpucore.QueueRole, label string) (gpucore.CommandEncoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, gpucore.ErrDeviceClosed
	}
	return &encoder{dev: d, cb: &commandBuffer{role: role, label: label}}, nil
}

// Submit executes info on role's queue. The submission is checked in full
// first, so a rejected one leaves semaphores, buffer contents and ownership
// as they were.
func (d *Device) Submit(role gpucore.QueueRole, info gpucore.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrDeviceClosed
	}

	cbs := make([]*commandBuffer, 0, len(info.Commands))
	for _, id := range info.Commands {
		cb, ok := d.commands[id]
		if !ok {
			return fmt.Errorf("submit %q: command buffer %d: %w", info.Label, id, gpucore.ErrUnknownResource)
		}
		if cb.role != role {
			return fmt.Errorf("submit %q: %w: recorded for %s, submitted to %s", info.Label, ErrRoleMismatch, cb.role, role)
		}
		cbs = append(cbs, cb)
	}

	waits := make([]gpucore.SemaphoreID, 0, len(info.Waits))
	for _, w := range info.Waits {
		s, ok := d.semaphores[w.Semaphore]
		if !ok {
			return d.reject(info, fmt.Errorf("submit %q: wait %d: %w", info.Label, w.Semaphore, gpucore.ErrUnknownResource))
		}
		if !s.signaled {
			return d.reject(info, fmt.Errorf("submit %q: %w: %q", info.Label, ErrSemaphoreNotSignaled, s.label))
		}
		waits = append(waits, w.Semaphore)
	}
	for _, id := range info.Signals {
		s, ok := d.semaphores[id]
		if !ok {
			return d.reject(info, fmt.Errorf("submit %q: signal %d: %w", info.Label, id, gpucore.ErrUnknownResource))
		}
		if s.signaled && !slices.Contains(waits, id) {
			return d.reject(info, fmt.Errorf("submit %q: %w: %q", info.Label, ErrSemaphoreAlreadySignaled, s.label))
		}
	}

	// Check every op against scratch ownership before anything changes.
	x := &execution{dev: d, role: role, family: d.QueueFamily(role), seq: len(d.submissions)}
	check := *x
	check.scratch = make(map[*buffer]ownership)
	if err := runOps(&check, cbs); err != nil {
		return d.reject(info, fmt.Errorf("submit %q: %w", info.Label, err))
	}

	for _, id := range waits {
		d.semaphores[id].signaled = false
	}
	for _, id := range info.Commands {
		delete(d.commands, id)
	}
	if err := runOps(x, cbs); err != nil {
		return fmt.Errorf("submit %q: %w", info.Label, err)
	}
	for _, id := range info.Signals {
		if err := d.signalLocked(id); err != nil {
			return fmt.Errorf("submit %q: %w", info.Label, err)
		}
	}

	d.submissions = append(d.submissions, Submission{
		Seq:      x.seq,
		Role:     role,
		Family:   x.family,
		Label:    info.Label,
		Commands: len(cbs),
		Waits:    waits,
		Signals:  append([]gpucore.SemaphoreID(nil), info.Signals...),
	})
	logger.Load().Debug("software: submitted", "role", role, "label", info.Label, "commands", len(cbs))
	return nil
}

// reject releases the command buffers of a submission that failed its
// checks and returns err. No semaphore, buffer or ownership state changes.
func (d *Device) reject(info gpucore.SubmitInfo, err error) error {
	for _, id := range info.Commands {
		delete(d.commands, id)
	}
	return err
}

func runOps(x *execution, cbs []*commandBuffer) error {
	for _, cb := range cbs {
		for _, o := range cb.ops {
			if err := o(x); err != nil {
				return fmt.Errorf("%s: %w", cb.label, err)
			}
		}
	}
	return nil
}

func (d *Device) signalLocked(id gpucore.SemaphoreID) error {
	s, ok := d.semaphores[id]
	if !ok {
		return fmt.Errorf("signal %d: %w", id, gpucore.ErrUnknownResource)
	}
	if s.signaled {
		return fmt.Errorf("%w: %q", ErrSemaphoreAlreadySignaled, s.label)
	}
	s.signaled = true
	return nil
}

func (d *Device) consumeLocked(id gpucore.SemaphoreID) error {
	s, ok := d.semaphores[id]
	if !ok {
		return fmt.Errorf("wait %d: %w", id, gpucore.ErrUnknownResource)
	}
	if !s.signaled {
		return fmt.Errorf("%w: %q", ErrSemaphoreNotSignaled, s.label)
	}
	s.signaled = false
	return nil
}

// WaitIdle returns immediately: submissions complete inside Submit.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.ErrDeviceClosed
	}
	return nil
}

// Close stops the dispatch pool. Resources still alive are logged.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.pool.Close()
	if n := d.liveLocked(); n > 0 {
		logger.Load().Warn("software: device closed with live resources", "count", n)
	}
	return nil
}

// Live returns the number of resources not yet destroyed.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveLocked()
}

func (d *Device) liveLocked() int {
	return len(d.buffers) + len(d.semaphores) + len(d.computes) +
		len(d.renders) + len(d.commands) + len(d.targets)
}

// Submissions returns the executed submissions in order.
func (d *Device) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Submission(nil), d.submissions...)
}

// OwnershipBarriers returns the executed ownership-transfer barriers.
func (d *Device) OwnershipBarriers() []BarrierRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]BarrierRecord(nil), d.barriers...)
}

// StageBarriers returns the number of executed barriers that only ordered
// memory within a queue.
func (d *Device) StageBarriers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stageBarriers
}

// ReadBuffer returns a copy of a buffer's contents.
func (d *Device) ReadBuffer(id gpucore.BufferID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("read buffer %d: %w", id, gpucore.ErrUnknownResource)
	}
	return append([]byte(nil), b.data...), nil
}

// Owner returns the family owning a buffer and whether a transfer is
// pending.
func (d *Device) Owner(id gpucore.BufferID) (gpucore.QueueFamily, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return 0, false, fmt.Errorf("owner %d: %w", id, gpucore.ErrUnknownResource)
	}
	return b.owner, b.pending != nil, nil
}
