package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gogpu/nbody"
	"github.com/gogpu/nbody/backend/software"
	"github.com/gogpu/nbody/gpucore"
)

func TestObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := New(reg)

	o.ObserveSubmit(gpucore.RoleCompute, time.Millisecond)
	o.ObserveSubmit(gpucore.RoleGraphics, time.Millisecond)
	o.ObserveSubmit(gpucore.RoleGraphics, time.Millisecond)
	o.ObserveFrame(nbody.FrameStats{DeltaTime: 0.016, Duration: time.Millisecond, Releases: 2, Acquires: 2})
	o.ObserveFrame(nbody.FrameStats{Paused: true, Releases: 2, Acquires: 2})
	o.ObserveAbort(errors.New("boom"))

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"frames", o.frames, 2},
		{"paused", o.paused, 1},
		{"aborts", o.aborts, 1},
		{"step", o.deltaTime, 0},
		{"compute submits", o.submits.WithLabelValues("compute"), 1},
		{"graphics submits", o.submits.WithLabelValues("graphics"), 2},
		{"releases", o.barriers.WithLabelValues("release"), 4},
		{"acquires", o.barriers.WithLabelValues("acquire"), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	if n := testutil.CollectAndCount(o.frameTime); n != 1 {
		t.Errorf("frame histogram collected %d series, want 1", n)
	}
}

func TestObserverWithSimulation(t *testing.T) {
	dev := software.New(software.Options{ComputeFamily: 1, Workers: 1})
	defer dev.Close()
	presenter, err := software.NewPresenter(dev, 16, 16, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer presenter.Destroy()

	o := New(prometheus.NewRegistry())
	sim, err := nbody.New(dev, presenter,
		nbody.WithBenchmark(),
		nbody.WithParticlesPerAttractor(64),
		nbody.WithObserver(o),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer sim.Close()

	for range 3 {
		if err := sim.Frame(0.016); err != nil {
			t.Fatal(err)
		}
	}

	if got := testutil.ToFloat64(o.frames); got != 3 {
		t.Errorf("frames = %v, want 3", got)
	}
	if got := testutil.ToFloat64(o.submits.WithLabelValues("compute")); got != 3 {
		t.Errorf("compute submits = %v, want 3", got)
	}
	if got := testutil.ToFloat64(o.barriers.WithLabelValues("release")); got != 6 {
		t.Errorf("releases = %v, want 6", got)
	}
}
