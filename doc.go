// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package nbody runs a gravitational N-body particle system on a GPU and
// draws it as additive points.
//
// # Overview
//
// Every frame runs two compute dispatches over one shared particle buffer,
// Calculate (tiled all-pairs forces, velocity update) and Integrate (Euler
// position update), separated by a same-queue barrier. The graphics queue
// then reads the same buffer as vertex data. The two queues are ordered by
// a pair of semaphores; when they belong to different queue families the
// buffer is also released and acquired explicitly on every handoff.
//
// # Quick Start
//
//	dev := software.New(software.Options{})
//	presenter, _ := software.NewPresenter(dev, 1280, 720, 2)
//
//	sim, err := nbody.New(dev, presenter, nbody.WithBenchmark())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sim.Close()
//
//	if err := sim.Run(ctx, 600); err != nil {
//	    log.Fatal(err)
//	}
//
// # Devices
//
// The simulation talks to the GPU through gpucore.Device and presents
// through gpucore.Presenter. Backends live under backend/:
//
//   - backend/software: CPU device that validates every semaphore wait and
//     ownership transfer
//   - backend/wgpu: gogpu/wgpu HAL device with a single queue
//   - backend/vulkan: Vulkan device that uses a dedicated compute queue
//     family when one exists
//
// # Failure
//
// Any failure while recording or submitting a frame poisons the
// Simulation: Frame returns an error wrapping ErrFrameAborted and no later
// frame runs. Synchronization is never skipped.
//
// # Logging
//
// nbody logs through log/slog and is silent by default; see SetLogger.
package nbody
