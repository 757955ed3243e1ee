package software

import (
	"fmt"

	"github.com/gogpu/nbody/gpucore"
	"github.com/gogpu/nbody/internal/kernel"
	"github.com/gogpu/nbody/internal/shaders"
	"github.com/gogpu/nbody/particle"
)

// encoder records ops into a command buffer.
type encoder struct {
	dev  *Device
	cb   *commandBuffer
	err  error
	done bool
}

func (e *encoder) record(o op) {
	if e.done {
		if e.err == nil {
			e.err = gpucore.ErrEncoderFinished
		}
		return
	}
	if e.err != nil {
		return
	}
	e.cb.ops = append(e.cb.ops, o)
}

func (e *encoder) BufferBarrier(b gpucore.BufferBarrier) {
	e.record(func(x *execution) error { return x.barrier(b) })
}

func (e *encoder) CopyBuffer(src, dst gpucore.BufferID, size uint64) {
	e.record(func(x *execution) error { return x.copy(src, dst, size) })
}

func (e *encoder) Dispatch(pipeline gpucore.ComputePipelineID, groupsX, _, _ uint32) {
	e.record(func(x *execution) error { return x.dispatch(pipeline, groupsX) })
}

func (e *encoder) Draw(pipeline gpucore.RenderPipelineID, target gpucore.TargetID, vertices gpucore.BufferID, count uint32) {
	e.record(func(x *execution) error { return x.draw(pipeline, target, vertices, count) })
}

func (e *encoder) Finish() (gpucore.CommandBufferID, error) {
	if e.done {
		return gpucore.InvalidID, gpucore.ErrEncoderFinished
	}
	e.done = true
	if e.err != nil {
		return gpucore.InvalidID, e.err
	}

	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	if e.dev.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}
	id := gpucore.CommandBufferID(e.dev.id())
	e.dev.commands[id] = e.cb
	return id, nil
}

func (e *encoder) Discard() {
	e.done = true
	e.cb = nil
}

// use checks that the executing family may access the buffer and claims
// it on first use.
func (x *execution) use(id gpucore.BufferID) (*buffer, error) {
	b, ok := x.dev.buffers[id]
	if !ok {
		return nil, fmt.Errorf("buffer %d: %w", id, gpucore.ErrUnknownResource)
	}
	st := x.state(b)
	switch {
	case st.pending != nil:
		return nil, fmt.Errorf("%w: %q used by family %d during transfer %d->%d",
			ErrOwnershipViolation, b.label, x.family, st.pending.from, st.pending.to)
	case st.owner == gpucore.QueueFamilyIgnored:
		x.setState(b, ownership{owner: x.family})
	case st.owner != x.family:
		return nil, fmt.Errorf("%w: %q owned by family %d, used by family %d",
			ErrOwnershipViolation, b.label, st.owner, x.family)
	}
	return b, nil
}

func (x *execution) barrier(bb gpucore.BufferBarrier) error {
	if !bb.IsOwnershipTransfer() {
		if _, ok := x.dev.buffers[bb.Buffer]; !ok {
			return fmt.Errorf("barrier: buffer %d: %w", bb.Buffer, gpucore.ErrUnknownResource)
		}
		if !x.dry() {
			x.dev.stageBarriers++
		}
		return nil
	}

	b, ok := x.dev.buffers[bb.Buffer]
	if !ok {
		return fmt.Errorf("barrier: buffer %d: %w", bb.Buffer, gpucore.ErrUnknownResource)
	}

	st := x.state(b)
	switch x.family {
	case bb.SrcFamily:
		// release
		if st.pending != nil || (st.owner != x.family && st.owner != gpucore.QueueFamilyIgnored) {
			return fmt.Errorf("%w: release of %q by family %d, owner %d",
				ErrOwnershipViolation, b.label, x.family, st.owner)
		}
		x.setState(b, ownership{
			owner:   gpucore.QueueFamilyIgnored,
			pending: &transfer{from: bb.SrcFamily, to: bb.DstFamily},
		})
	case bb.DstFamily:
		// acquire
		if st.pending == nil || st.pending.from != bb.SrcFamily || st.pending.to != bb.DstFamily {
			return fmt.Errorf("%w: acquire of %q by family %d without matching release",
				ErrOwnershipViolation, b.label, x.family)
		}
		x.setState(b, ownership{owner: x.family})
	default:
		return fmt.Errorf("%w: barrier %d->%d recorded on family %d",
			ErrOwnershipViolation, bb.SrcFamily, bb.DstFamily, x.family)
	}

	if !x.dry() {
		x.dev.barriers = append(x.dev.barriers, BarrierRecord{Seq: x.seq, Role: x.role, Barrier: bb})
	}
	return nil
}

func (x *execution) copy(src, dst gpucore.BufferID, size uint64) error {
	s, err := x.use(src)
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	d, err := x.use(dst)
	if err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if size > uint64(len(s.data)) || size > uint64(len(d.data)) {
		return fmt.Errorf("copy %q -> %q: %w", s.label, d.label, ErrOutOfRange)
	}
	if x.dry() {
		return nil
	}
	copy(d.data[:size], s.data[:size])
	return nil
}

func (x *execution) dispatch(id gpucore.ComputePipelineID, groups uint32) error {
	cp, ok := x.dev.computes[id]
	if !ok {
		return fmt.Errorf("dispatch: pipeline %d: %w", id, gpucore.ErrUnknownResource)
	}

	var (
		storage *buffer
		params  kernel.Params
	)
	for _, bind := range cp.bindings {
		b, err := x.use(bind.Buffer)
		if err != nil {
			return fmt.Errorf("dispatch %q: %w", cp.label, err)
		}
		switch bind.Kind {
		case gpucore.BindingUniform:
			if params, err = kernel.DecodeParams(b.data); err != nil {
				return fmt.Errorf("dispatch %q: %w", cp.label, err)
			}
		case gpucore.BindingStorage, gpucore.BindingReadOnlyStorage:
			storage = b
		}
	}
	if storage == nil {
		return fmt.Errorf("dispatch %q: no storage binding: %w", cp.label, gpucore.ErrUnknownResource)
	}
	if x.dry() {
		return nil
	}

	ps, err := particle.FromBytes(storage.data[:len(storage.data)/particle.Size*particle.Size])
	if err != nil {
		return fmt.Errorf("dispatch %q: %w", cp.label, err)
	}

	// Invocations beyond the dispatched groups do not run.
	if covered := int64(groups) * kernel.WorkgroupSize; covered < int64(params.ParticleCount) {
		params.ParticleCount = int32(covered) //nolint:gosec // covered < ParticleCount
	}

	switch cp.entry {
	case shaders.CalculateEntry:
		x.dev.kernel.Calculate(ps, params)
	case shaders.IntegrateEntry:
		x.dev.kernel.Integrate(ps, params)
	}

	for i := range ps {
		ps[i].Put(storage.data[i*particle.Size:])
	}
	return nil
}

func (x *execution) draw(id gpucore.RenderPipelineID, target gpucore.TargetID, vertices gpucore.BufferID, count uint32) error {
	rp, ok := x.dev.renders[id]
	if !ok {
		return fmt.Errorf("draw: pipeline %d: %w", id, gpucore.ErrUnknownResource)
	}
	t, ok := x.dev.targets[target]
	if !ok {
		return fmt.Errorf("draw: target %d: %w", target, gpucore.ErrUnknownResource)
	}
	if rp.stride != particle.Size {
		return fmt.Errorf("draw %q: vertex stride %d: %w", rp.label, rp.stride, ErrUnsupportedShader)
	}

	var view kernel.View
	for _, bind := range rp.bindings {
		b, err := x.use(bind.Buffer)
		if err != nil {
			return fmt.Errorf("draw %q: %w", rp.label, err)
		}
		if bind.Kind == gpucore.BindingUniform {
			if view, err = kernel.DecodeView(b.data); err != nil {
				return fmt.Errorf("draw %q: %w", rp.label, err)
			}
		}
	}

	vb, err := x.use(vertices)
	if err != nil {
		return fmt.Errorf("draw %q: %w", rp.label, err)
	}
	if x.dry() {
		return nil
	}
	n := min(int(count), len(vb.data)/particle.Size)
	ps, err := particle.FromBytes(vb.data[:n*particle.Size])
	if err != nil {
		return fmt.Errorf("draw %q: %w", rp.label, err)
	}

	t.Clear()
	kernel.DrawPoints(t, ps, view, n)
	return nil
}
