// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package kernel

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/nbody/internal/parallel"
	"github.com/gogpu/nbody/particle"
)

// Kernel runs the compute stages with one pool task per workgroup.
type Kernel struct {
	pool *parallel.WorkerPool
	tile int
}

// New returns a kernel that caches tileSize particles per tile.
func New(pool *parallel.WorkerPool, tileSize uint32) *Kernel {
	return &Kernel{pool: pool, tile: int(max(tileSize, 1))}
}

// TileSize returns the shared cache size in particles.
func (k *Kernel) TileSize() int {
	return k.tile
}

// Calculate updates velocities and gradients from the all-pairs force sum.
// Positions are read only.
func (k *Kernel) Calculate(ps []particle.Particle, p Params) {
	n := activeCount(ps, p)
	k.pool.Dispatch(int(DispatchCount(uint32(n))), func(group int) { //nolint:gosec // n fits the buffer
		k.calculateGroup(ps, n, group, p)
	})
}

// calculateGroup is one workgroup: it walks the particle set tile by tile,
// loading each tile into a local cache once and reusing it for every
// invocation of the group.
func (k *Kernel) calculateGroup(ps []particle.Particle, n, group int, p Params) {
	first := group * WorkgroupSize
	last := min(first+WorkgroupSize, n)
	if first >= last {
		return
	}

	shared := make([]mgl32.Vec4, k.tile)
	var acc [WorkgroupSize]mgl32.Vec3
	soft2 := p.Soften * p.Soften

	for base := 0; base < n; base += k.tile {
		for j := range shared {
			if idx := base + j; idx < n {
				shared[j] = ps[idx].Pos.Vec4(ps[idx].Mass)
			} else {
				shared[j] = mgl32.Vec4{}
			}
		}

		for i := first; i < last; i++ {
			pos := ps[i].Pos
			a := acc[i-first]
			for j, other := range shared {
				if base+j == i || other[3] == 0 {
					continue
				}
				d := other.Vec3().Sub(pos)
				a = a.Add(d.Mul(other[3] * invPow(d.Dot(d)+soft2, p.Power)))
			}
			acc[i-first] = a
		}
	}

	for i := first; i < last; i++ {
		ps[i].Vel = ps[i].Vel.Add(acc[i-first].Mul(p.Gravity * p.DeltaTime))
		ps[i].Gradient = wrapGradient(ps[i].Gradient + GradientRate*p.DeltaTime)
	}
}

// Integrate advances positions by one Euler step. Velocities are read only.
func (k *Kernel) Integrate(ps []particle.Particle, p Params) {
	n := activeCount(ps, p)
	k.pool.Dispatch(int(DispatchCount(uint32(n))), func(group int) { //nolint:gosec // n fits the buffer
		first := group * WorkgroupSize
		for i := first; i < min(first+WorkgroupSize, n); i++ {
			ps[i].Pos = ps[i].Pos.Add(ps[i].Vel.Mul(p.DeltaTime))
		}
	})
}

// activeCount bounds the uniform particle count by the buffer length.
func activeCount(ps []particle.Particle, p Params) int {
	return max(0, min(int(p.ParticleCount), len(ps)))
}

// invPow returns x^-power with fast paths for the common exponents.
func invPow(x, power float32) float32 {
	switch power {
	case 0.75:
		s := math.Sqrt(float64(x))
		return float32(1 / (s * math.Sqrt(s)))
	case 1.5:
		return float32(1 / (float64(x) * math.Sqrt(float64(x))))
	default:
		return float32(math.Pow(float64(x), -float64(power)))
	}
}

func wrapGradient(g float32) float32 {
	if g >= 1 {
		g -= float32(math.Floor(float64(g)))
	}
	return g
}
