// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package particle defines the particle wire layout shared by the host and
// the shaders, and generates the initial attractor distribution.
package particle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Size is the size in bytes of one encoded particle.
const Size = 32

// ErrShortBuffer is returned when decoding from a buffer that is not a
// whole number of particles.
var ErrShortBuffer = errors.New("particle: buffer length is not a multiple of particle size")

// Particle is one simulated body.
//
// Layout (little-endian float32, two 16-byte groups):
//
//	offset  0: pos.x pos.y pos.z mass
//	offset 16: vel.x vel.y vel.z gradient
type Particle struct {
	Pos      mgl32.Vec3
	Mass     float32
	Vel      mgl32.Vec3
	Gradient float32
}

// Put encodes p into b, which must hold at least Size bytes.
func (p Particle) Put(b []byte) {
	_ = b[Size-1]
	putF32(b[0:], p.Pos[0])
	putF32(b[4:], p.Pos[1])
	putF32(b[8:], p.Pos[2])
	putF32(b[12:], p.Mass)
	putF32(b[16:], p.Vel[0])
	putF32(b[20:], p.Vel[1])
	putF32(b[24:], p.Vel[2])
	putF32(b[28:], p.Gradient)
}

// Get decodes one particle from the first Size bytes of b.
func Get(b []byte) Particle {
	_ = b[Size-1]
	return Particle{
		Pos:      mgl32.Vec3{f32(b[0:]), f32(b[4:]), f32(b[8:])},
		Mass:     f32(b[12:]),
		Vel:      mgl32.Vec3{f32(b[16:]), f32(b[20:]), f32(b[24:])},
		Gradient: f32(b[28:]),
	}
}

// Bytes encodes ps into a new buffer of len(ps)*Size bytes.
func Bytes(ps []Particle) []byte {
	b := make([]byte, len(ps)*Size)
	for i := range ps {
		ps[i].Put(b[i*Size:])
	}
	return b
}

// FromBytes decodes a buffer produced by Bytes.
func FromBytes(b []byte) ([]Particle, error) {
	if len(b)%Size != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(b))
	}
	ps := make([]Particle, len(b)/Size)
	for i := range ps {
		ps[i] = Get(b[i*Size:])
	}
	return ps, nil
}

func putF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
