// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Command nbody runs the N-body simulation on a device backend and serves
// its metrics.
//
// Usage:
//
//	nbody [-config scenario.toml] [-backend software|wgpu|vulkan] [-frames N]
//	      [-metrics :9090] [-snapshot out.png] [-report]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/nbody"
	"github.com/gogpu/nbody/backend"
	_ "github.com/gogpu/nbody/backend/vulkan"
	_ "github.com/gogpu/nbody/backend/wgpu"
	"github.com/gogpu/nbody/internal/metrics"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "TOML scenario file")
		backendName = flag.String("backend", "", "device backend (default: best available)")
		frames      = flag.Int("frames", -1, "frames to run, 0 until interrupted (default: from config)")
		split       = flag.Bool("split", false, "put compute on its own queue family when possible")
		seed        = flag.Int64("seed", -1, "particle seed (default: time, or 0 with -benchmark)")
		benchmark   = flag.Bool("benchmark", false, "fixed seed")
		metricsAddr = flag.String("metrics", "", "serve Prometheus metrics on this address")
		snapshot    = flag.String("snapshot", "", "write the last presented image (.png, .bmp, .tif)")
		snapWidth   = flag.Int("snapshot-width", 0, "scale the snapshot to this width")
		report      = flag.Bool("report", false, "log attractor group separation at exit (software backend)")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	nbody.SetLogger(log)

	cfg := nbody.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = nbody.LoadConfigFile(*configPath); err != nil {
			log.Error("load config", "err", err)
			return 2
		}
	}
	if *backendName != "" {
		cfg.Backend = *backendName
	}
	if *frames >= 0 {
		cfg.Frames = *frames
	}
	if *split {
		cfg.SplitFamilies = true
	}
	if *benchmark {
		cfg.Benchmark = true
	}
	if *seed >= 0 {
		s := uint64(*seed)
		cfg.Seed = &s
	}
	if err := cfg.Validate(); err != nil {
		log.Error("config", "err", err)
		return 2
	}

	opts := backend.Options{
		Width:         cfg.Width,
		Height:        cfg.Height,
		SplitFamilies: cfg.SplitFamilies,
	}
	var (
		inst backend.Instance
		err  error
	)
	if cfg.Backend != "" {
		inst, err = backend.Open(cfg.Backend, opts)
	} else {
		inst, err = backend.OpenDefault(opts)
	}
	if err != nil {
		log.Error("open backend", "err", err, "available", backend.Available())
		return 1
	}
	defer inst.Close()
	log.Info("backend opened", "name", inst.Name())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	simOpts := append(cfg.Options(), nbody.WithObserver(metrics.New(reg)))
	sim, err := nbody.New(inst.Device(), inst.Presenter(), simOpts...)
	if err != nil {
		log.Error("create simulation", "err", err)
		return 1
	}
	defer sim.Close()
	log.Info("simulation ready",
		"particles", sim.Count(),
		"seed", sim.Seed(),
		"tile", sim.TileSize(),
		"splitFamilies", sim.SplitFamilies())

	var rep *reporter
	if *report {
		if rep, err = newReporter(inst, sim, len(cfg.Attractors)); err != nil {
			log.Warn("report disabled", "err", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := serve(ctx, log, sim, cfg.Frames, *metricsAddr, reg); err != nil {
		log.Error("simulation stopped", "err", err, "frames", sim.Frames(),
			"aborted", errors.Is(err, nbody.ErrFrameAborted))
		return 1
	}
	elapsed := time.Since(start)
	fps := 0.0
	if elapsed > 0 {
		fps = float64(sim.Frames()) / elapsed.Seconds()
	}
	stats := sim.BarrierStats()
	log.Info("done",
		"frames", sim.Frames(),
		"elapsed", elapsed.Round(time.Millisecond),
		"fps", fmt.Sprintf("%.1f", fps),
		"releases", stats.Releases,
		"acquires", stats.Acquires)

	if rep != nil {
		rep.log(log)
	}
	if *snapshot != "" {
		if err := writeSnapshot(inst.Presenter(), *snapshot, *snapWidth); err != nil {
			log.Error("snapshot", "err", err)
			return 1
		}
		log.Info("snapshot written", "path", *snapshot)
	}
	return 0
}

// serve runs the simulation and, when addr is set, the metrics server until
// the simulation returns. A canceled context is a clean stop.
func serve(ctx context.Context, log *slog.Logger, sim *nbody.Simulation, frames int, addr string, reg *prometheus.Registry) error {
	g, ctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(ctx)

	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdown, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			return srv.Shutdown(shutdown)
		})
	}

	g.Go(func() error {
		defer cancel()
		err := sim.Run(runCtx, frames)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}
