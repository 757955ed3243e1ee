package software

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/nbody/gpucore"
	"github.com/gogpu/nbody/internal/kernel"
	"github.com/gogpu/nbody/internal/shaders"
	"github.com/gogpu/nbody/particle"
)

func newSplitDevice(t *testing.T) *Device {
	t.Helper()
	d := New(Options{GraphicsFamily: 0, ComputeFamily: 1, Workers: 2})
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func mustBuffer(t *testing.T, d *Device, size uint64, host bool) gpucore.BufferID {
	t.Helper()
	id, err := d.CreateBuffer(gpucore.BufferDesc{
		Label:       "test",
		Size:        size,
		Usage:       gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc,
		HostVisible: host,
	})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	return id
}

func record(t *testing.T, d *Device, role gpucore.QueueRole, fn func(gpucore.CommandEncoder)) gpucore.CommandBufferID {
	t.Helper()
	enc, err := d.BeginCommands(role, "test")
	if err != nil {
		t.Fatalf("BeginCommands() error = %v", err)
	}
	fn(enc)
	cb, err := enc.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	return cb
}

// =============================================================================
// Semaphore Tests
// =============================================================================

func TestSubmitWaitOnUnsignaled(t *testing.T) {
	d := newSplitDevice(t)
	s, _ := d.CreateSemaphore("s")

	err := d.Submit(gpucore.RoleCompute, gpucore.SubmitInfo{
		Waits: []gpucore.SemaphoreWait{{Semaphore: s, Stage: gpucore.StageComputeShader}},
	})
	if !errors.Is(err, ErrSemaphoreNotSignaled) {
		t.Errorf("Submit() error = %v, want %v", err, ErrSemaphoreNotSignaled)
	}
}

func TestSubmitSignalTwice(t *testing.T) {
	d := newSplitDevice(t)
	s, _ := d.CreateSemaphore("s")
	info := gpucore.SubmitInfo{Signals: []gpucore.SemaphoreID{s}}

	if err := d.Submit(gpucore.RoleGraphics, info); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if err := d.Submit(gpucore.RoleGraphics, info); !errors.Is(err, ErrSemaphoreAlreadySignaled) {
		t.Errorf("second Submit() error = %v, want %v", err, ErrSemaphoreAlreadySignaled)
	}
}

func TestSubmitConsumesWait(t *testing.T) {
	d := newSplitDevice(t)
	s, _ := d.CreateSemaphore("s")

	if err := d.Submit(gpucore.RoleGraphics, gpucore.SubmitInfo{Signals: []gpucore.SemaphoreID{s}}); err != nil {
		t.Fatalf("signal Submit() error = %v", err)
	}
	wait := gpucore.SubmitInfo{Waits: []gpucore.SemaphoreWait{{Semaphore: s}}}
	if err := d.Submit(gpucore.RoleCompute, wait); err != nil {
		t.Fatalf("wait Submit() error = %v", err)
	}
	if err := d.Submit(gpucore.RoleCompute, wait); !errors.Is(err, ErrSemaphoreNotSignaled) {
		t.Errorf("second wait error = %v, want %v", err, ErrSemaphoreNotSignaled)
	}

	subs := d.Submissions()
	if len(subs) != 2 || subs[1].Role != gpucore.RoleCompute || subs[1].Family != 1 {
		t.Errorf("Submissions() = %+v", subs)
	}
}

// =============================================================================
// Ownership Tests
// =============================================================================

func TestOwnershipTransfer(t *testing.T) {
	d := newSplitDevice(t)
	src := mustBuffer(t, d, 64, true)
	dst := mustBuffer(t, d, 64, false)

	release := gpucore.BufferBarrier{Buffer: dst, SrcFamily: 0, DstFamily: 1}

	up := record(t, d, gpucore.RoleGraphics, func(e gpucore.CommandEncoder) {
		e.CopyBuffer(src, dst, 64)
		e.BufferBarrier(release)
	})
	if err := d.Submit(gpucore.RoleGraphics, gpucore.SubmitInfo{Commands: []gpucore.CommandBufferID{up}}); err != nil {
		t.Fatalf("upload Submit() error = %v", err)
	}
	if owner, pending, _ := d.Owner(dst); owner != gpucore.QueueFamilyIgnored || !pending {
		t.Fatalf("after release owner = %d pending = %v, want ignored/pending", owner, pending)
	}

	acq := record(t, d, gpucore.RoleCompute, func(e gpucore.CommandEncoder) {
		e.BufferBarrier(release)
	})
	if err := d.Submit(gpucore.RoleCompute, gpucore.SubmitInfo{Commands: []gpucore.CommandBufferID{acq}}); err != nil {
		t.Fatalf("acquire Submit() error = %v", err)
	}
	if owner, pending, _ := d.Owner(dst); owner != 1 || pending {
		t.Errorf("after acquire owner = %d pending = %v, want 1/false", owner, pending)
	}
	if n := len(d.OwnershipBarriers()); n != 2 {
		t.Errorf("OwnershipBarriers() len = %d, want 2", n)
	}
}

func TestOwnershipViolations(t *testing.T) {
	tests := []struct {
		name string
		run  func(t *testing.T, d *Device, buf gpucore.BufferID) error
	}{
		{
			name: "use by non-owner",
			run: func(t *testing.T, d *Device, buf gpucore.BufferID) error {
				other := mustBuffer(t, d, 32, true)
				g := record(t, d, gpucore.RoleGraphics, func(e gpucore.CommandEncoder) { e.CopyBuffer(other, buf, 32) })
				if err := d.Submit(gpucore.RoleGraphics, gpucore.SubmitInfo{Commands: []gpucore.CommandBufferID{g}}); err != nil {
					t.Fatalf("graphics Submit() error = %v", err)
				}
				c := record(t, d, gpucore.RoleCompute, func(e gpucore.CommandEncoder) { e.CopyBuffer(other, buf, 32) })
				return d.Submit(gpucore.RoleCompute, gpucore.SubmitInfo{Commands: []gpucore.CommandBufferID{c}})
			},
		},
		{
			name: "acquire without release",
			run: func(t *testing.T, d *Device, buf gpucore.BufferID) error {
				c := record(t, d, gpucore.RoleCompute, func(e gpucore.CommandEncoder) {
					e.BufferBarrier(gpucore.BufferBarrier{Buffer: buf, SrcFamily: 0, DstFamily: 1})
				})
				return d.Submit(gpucore.RoleCompute, gpucore.SubmitInfo{Commands: []gpucore.CommandBufferID{c}})
			},
		},
		{
			name: "use during transfer",
			run: func(t *testing.T, d *Device, buf gpucore.BufferID) error {
				g := record(t, d, gpucore.RoleGraphics, func(e gpucore.CommandEncoder) {
					e.BufferBarrier(gpucore.BufferBarrier{Buffer: buf, SrcFamily: 0, DstFamily: 1})
				})
				if err := d.Submit(gpucore.RoleGraphics, gpucore.SubmitInfo{Commands: []gpucore.CommandBufferID{g}}); err != nil {
					t.Fatalf("release Submit() error = %v", err)
				}
				src := mustBuffer(t, d, 32, true)
				c := record(t, d, gpucore.RoleCompute, func(e gpucore.CommandEncoder) { e.CopyBuffer(src, buf, 32) })
				return d.Submit(gpucore.RoleCompute, gpucore.SubmitInfo{Commands: []gpucore.CommandBufferID{c}})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newSplitDevice(t)
			buf := mustBuffer(t, d, 32, false)
			if err := tt.run(t, d, buf); !errors.Is(err, ErrOwnershipViolation) {
				t.Errorf("error = %v, want %v", err, ErrOwnershipViolation)
			}
		})
	}
}

func TestSharedFamilyNeedsNoBarriers(t *testing.T) {
	d := New(Options{Workers: 1})
	defer d.Close()

	src := mustBuffer(t, d, 32, true)
	dst := mustBuffer(t, d, 32, false)
	for _, role := range []gpucore.QueueRole{gpucore.RoleGraphics, gpucore.RoleCompute, gpucore.RoleGraphics} {
		cb := record(t, d, role, func(e gpucore.CommandEncoder) { e.CopyBuffer(src, dst, 32) })
		if err := d.Submit(role, gpucore.SubmitInfo{Commands: []gpucore.CommandBufferID{cb}}); err != nil {
			t.Fatalf("Submit(%s) error = %v", role, err)
		}
	}
}

func TestRejectedSubmitChangesNothing(t *testing.T) {
	d := newSplitDevice(t)
	src := mustBuffer(t, d, 32, true)
	dst := mustBuffer(t, d, 32, false)
	other := mustBuffer(t, d, 32, false)
	if err := d.WriteBuffer(src, 0, bytes.Repeat([]byte{7}, 32)); err != nil {
		t.Fatal(err)
	}
	ready, _ := d.CreateSemaphore("ready")
	done, _ := d.CreateSemaphore("done")
	if err := d.Submit(gpucore.RoleCompute, gpucore.SubmitInfo{Signals: []gpucore.SemaphoreID{ready}}); err != nil {
		t.Fatal(err)
	}

	// A valid copy and release, then an acquire with no matching release.
	cb := record(t, d, gpucore.RoleCompute, func(e gpucore.CommandEncoder) {
		e.CopyBuffer(src, dst, 32)
		e.BufferBarrier(gpucore.BufferBarrier{Buffer: dst, SrcFamily: 1, DstFamily: 0})
		e.BufferBarrier(gpucore.BufferBarrier{Buffer: other, SrcFamily: 0, DstFamily: 1})
	})
	err := d.Submit(gpucore.RoleCompute, gpucore.SubmitInfo{
		Commands: []gpucore.CommandBufferID{cb},
		Waits:    []gpucore.SemaphoreWait{{Semaphore: ready, Stage: gpucore.StageComputeShader}},
		Signals:  []gpucore.SemaphoreID{done},
	})
	if !errors.Is(err, ErrOwnershipViolation) {
		t.Fatalf("Submit() error = %v, want %v", err, ErrOwnershipViolation)
	}

	if !d.semaphores[ready].signaled {
		t.Error("wait consumed by a rejected submission")
	}
	if d.semaphores[done].signaled {
		t.Error("signal raised by a rejected submission")
	}
	data, err := d.ReadBuffer(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, make([]byte, 32)) {
		t.Errorf("dst = %v, want untouched zeros", data)
	}
	for _, id := range []gpucore.BufferID{src, dst, other} {
		if owner, pending, _ := d.Owner(id); owner != gpucore.QueueFamilyIgnored || pending {
			t.Errorf("buffer %d owner = %d pending = %v, want unclaimed", id, owner, pending)
		}
	}
	if n := len(d.OwnershipBarriers()); n != 0 {
		t.Errorf("OwnershipBarriers() len = %d, want 0", n)
	}
	if n := len(d.Submissions()); n != 1 {
		t.Errorf("Submissions() len = %d, want 1", n)
	}
	if n := len(d.commands); n != 0 {
		t.Errorf("%d command buffers left after rejection", n)
	}
}

func TestSubmitRejectsSignaledSignal(t *testing.T) {
	d := newSplitDevice(t)
	s, _ := d.CreateSemaphore("s")
	w, _ := d.CreateSemaphore("w")
	if err := d.Submit(gpucore.RoleGraphics, gpucore.SubmitInfo{Signals: []gpucore.SemaphoreID{s, w}}); err != nil {
		t.Fatal(err)
	}
	err := d.Submit(gpucore.RoleCompute, gpucore.SubmitInfo{
		Waits:   []gpucore.SemaphoreWait{{Semaphore: w}},
		Signals: []gpucore.SemaphoreID{s},
	})
	if !errors.Is(err, ErrSemaphoreAlreadySignaled) {
		t.Fatalf("Submit() error = %v, want %v", err, ErrSemaphoreAlreadySignaled)
	}
	if !d.semaphores[w].signaled {
		t.Error("wait consumed before the signal check failed")
	}
}

func TestStageBarrierCounted(t *testing.T) {
	d := newSplitDevice(t)
	buf := mustBuffer(t, d, 32, false)

	cb := record(t, d, gpucore.RoleCompute, func(e gpucore.CommandEncoder) {
		e.BufferBarrier(gpucore.BufferBarrier{
			Buffer:    buf,
			SrcFamily: gpucore.QueueFamilyIgnored,
			DstFamily: gpucore.QueueFamilyIgnored,
		})
	})
	if err := d.Submit(gpucore.RoleCompute, gpucore.SubmitInfo{Commands: []gpucore.CommandBufferID{cb}}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if d.StageBarriers() != 1 || len(d.OwnershipBarriers()) != 0 {
		t.Errorf("stage = %d ownership = %d, want 1 and 0", d.StageBarriers(), len(d.OwnershipBarriers()))
	}
}

// =============================================================================
// Command Tests
// =============================================================================

func TestSubmitRoleMismatch(t *testing.T) {
	d := newSplitDevice(t)
	cb := record(t, d, gpucore.RoleGraphics, func(gpucore.CommandEncoder) {})
	err := d.Submit(gpucore.RoleCompute, gpucore.SubmitInfo{Commands: []gpucore.CommandBufferID{cb}})
	if !errors.Is(err, ErrRoleMismatch) {
		t.Errorf("Submit() error = %v, want %v", err, ErrRoleMismatch)
	}
}

func TestEncoderFinishTwice(t *testing.T) {
	d := newSplitDevice(t)
	enc, _ := d.BeginCommands(gpucore.RoleCompute, "x")
	if _, err := enc.Finish(); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if _, err := enc.Finish(); !errors.Is(err, gpucore.ErrEncoderFinished) {
		t.Errorf("second Finish() error = %v, want %v", err, gpucore.ErrEncoderFinished)
	}
}

func TestWriteBufferRequiresHostVisible(t *testing.T) {
	d := newSplitDevice(t)
	buf := mustBuffer(t, d, 16, false)
	if err := d.WriteBuffer(buf, 0, make([]byte, 4)); !errors.Is(err, ErrNotHostVisible) {
		t.Errorf("WriteBuffer() error = %v, want %v", err, ErrNotHostVisible)
	}
	host := mustBuffer(t, d, 16, true)
	if err := d.WriteBuffer(host, 8, make([]byte, 16)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("WriteBuffer() error = %v, want %v", err, ErrOutOfRange)
	}
}

func TestDispatchRunsKernel(t *testing.T) {
	d := New(Options{Workers: 2})
	defer d.Close()

	ps := []particle.Particle{{Mass: 1, Vel: [3]float32{1, 2, 3}}}
	buf := mustBuffer(t, d, particle.Size, true)
	if err := d.WriteBuffer(buf, 0, particle.Bytes(ps)); err != nil {
		t.Fatal(err)
	}
	params := mustBuffer(t, d, kernel.ParamsSize, true)
	if err := d.WriteBuffer(params, 0, kernel.Params{DeltaTime: 2, ParticleCount: 1}.Bytes()); err != nil {
		t.Fatal(err)
	}

	pipe, err := d.CreateComputePipeline(gpucore.ComputePipelineDesc{
		Shader: gpucore.ShaderSource{EntryPoint: shaders.IntegrateEntry},
		Bindings: []gpucore.Binding{
			{Binding: 0, Kind: gpucore.BindingStorage, Buffer: buf},
			{Binding: 1, Kind: gpucore.BindingUniform, Buffer: params},
		},
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline() error = %v", err)
	}

	cb := record(t, d, gpucore.RoleCompute, func(e gpucore.CommandEncoder) { e.Dispatch(pipe, 1, 1, 1) })
	if err := d.Submit(gpucore.RoleCompute, gpucore.SubmitInfo{Commands: []gpucore.CommandBufferID{cb}}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	raw, _ := d.ReadBuffer(buf)
	if got := particle.Get(raw).Pos; got != [3]float32{2, 4, 6} {
		t.Errorf("pos = %v, want [2 4 6]", got)
	}
}

func TestCreateComputePipelineUnknownEntry(t *testing.T) {
	d := newSplitDevice(t)
	_, err := d.CreateComputePipeline(gpucore.ComputePipelineDesc{Shader: gpucore.ShaderSource{EntryPoint: "main"}})
	if !errors.Is(err, ErrUnsupportedShader) {
		t.Errorf("error = %v, want %v", err, ErrUnsupportedShader)
	}
}

// =============================================================================
// Presenter Tests
// =============================================================================

func TestPresenterSemaphores(t *testing.T) {
	d := newSplitDevice(t)
	p, err := NewPresenter(d, 8, 8, 2)
	if err != nil {
		t.Fatalf("NewPresenter() error = %v", err)
	}
	defer p.Destroy()

	f, err := p.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := p.Present(f); !errors.Is(err, ErrSemaphoreNotSignaled) {
		t.Errorf("Present() before render error = %v, want %v", err, ErrSemaphoreNotSignaled)
	}

	err = d.Submit(gpucore.RoleGraphics, gpucore.SubmitInfo{
		Waits:   []gpucore.SemaphoreWait{{Semaphore: f.ImageAvailable}},
		Signals: []gpucore.SemaphoreID{f.RenderComplete},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := p.Present(f); err != nil {
		t.Fatalf("Present() error = %v", err)
	}
	if p.Presented() != 1 {
		t.Errorf("Presented() = %d, want 1", p.Presented())
	}
	if img, err := p.Snapshot(); err != nil || img.Bounds().Dx() != 8 {
		t.Errorf("Snapshot() = %v, %v", img, err)
	}
}
