package main

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/nbody"
	"github.com/gogpu/nbody/backend"
	"github.com/gogpu/nbody/backend/software"
)

func newTestRun(t *testing.T) (backend.Instance, *nbody.Simulation) {
	t.Helper()
	inst, err := backend.Open(backend.BackendSoftware, backend.Options{Width: 32, Height: 24})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sim, err := nbody.New(inst.Device(), inst.Presenter(),
		nbody.WithBenchmark(),
		nbody.WithAttractors([]mgl32.Vec3{{2, 0, 0}, {-2, 0, 0}}),
		nbody.WithParticlesPerAttractor(64),
		nbody.WithFixedStep(0.016),
	)
	if err != nil {
		inst.Close()
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		sim.Close()
		inst.Close()
	})
	return inst, sim
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestServeRunsFrames(t *testing.T) {
	_, sim := newTestRun(t)
	if err := serve(context.Background(), quiet(), sim, 3, "", prometheus.NewRegistry()); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if got := sim.Frames(); got != 3 {
		t.Errorf("frames = %d, want 3", got)
	}
}

func TestServeCanceled(t *testing.T) {
	_, sim := newTestRun(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := serve(ctx, quiet(), sim, 0, "", prometheus.NewRegistry()); err != nil {
		t.Errorf("canceled run: got %v, want nil", err)
	}
}

func TestReporter(t *testing.T) {
	inst, sim := newTestRun(t)
	rep, err := newReporter(inst, sim, 2)
	if err != nil {
		t.Fatalf("newReporter: %v", err)
	}
	if rep.perGroup != 64 {
		t.Errorf("perGroup = %d, want 64", rep.perGroup)
	}
	if len(rep.initial) != sim.Count() {
		t.Errorf("initial = %d particles, want %d", len(rep.initial), sim.Count())
	}
	if err := sim.Run(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	rep.log(quiet())
}

func TestSnapshotFromSoftware(t *testing.T) {
	inst, sim := newTestRun(t)
	if err := sim.Run(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if _, ok := inst.Presenter().(*software.Presenter); !ok {
		t.Fatal("software presenter expected")
	}
	if err := writeSnapshot(inst.Presenter(), t.TempDir()+"/frame.png", 16); err != nil {
		t.Errorf("writeSnapshot: %v", err)
	}
}
