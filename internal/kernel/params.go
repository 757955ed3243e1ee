// Package kernel is the CPU reference of the simulation shaders: the tiled
// all-pairs Calculate stage, the Euler Integrate stage and the additive
// point renderer. The software device executes dispatches and draws with it.
package kernel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Dispatch geometry.
const (
	// WorkgroupSize is the number of invocations per workgroup.
	WorkgroupSize = 256

	// MaxTileSize caps the shared cache of the Calculate stage.
	MaxTileSize = 1024

	// sharedBytesPerParticle is the shared cache footprint of one cached
	// position and mass.
	sharedBytesPerParticle = 16
)

// Uniform block sizes.
const (
	ParamsSize = 32
	ViewSize   = 144
)

// Simulation defaults.
const (
	DefaultGravity = 0.002
	DefaultPower   = 0.75
	DefaultSoften  = 0.05

	// GradientRate advances each particle's gradient per unit of time.
	GradientRate = 0.1
)

// ErrUniformSize is returned when a uniform buffer is too small.
var ErrUniformSize = errors.New("kernel: uniform buffer too small")

// TileSize returns the Calculate tile for a device with the given shared
// memory limit in bytes: min(MaxTileSize, sharedMem/16), at least 1.
func TileSize(sharedMem uint32) uint32 {
	return max(1, min(MaxTileSize, sharedMem/sharedBytesPerParticle))
}

// DispatchCount returns the number of workgroups covering n particles.
func DispatchCount(n uint32) uint32 {
	return (n + WorkgroupSize - 1) / WorkgroupSize
}

// Params is the per-frame compute uniform block.
//
// Layout: deltaT f32, particleCount i32, gravity f32, power f32, soften f32,
// then 12 bytes of padding.
type Params struct {
	DeltaTime     float32
	ParticleCount int32
	Gravity       float32
	Power         float32
	Soften        float32
}

// Bytes encodes the uniform block.
func (p Params) Bytes() []byte {
	b := make([]byte, ParamsSize)
	putF32(b[0:], p.DeltaTime)
	binary.LittleEndian.PutUint32(b[4:], uint32(p.ParticleCount)) //nolint:gosec // two's complement is the wire format
	putF32(b[8:], p.Gravity)
	putF32(b[12:], p.Power)
	putF32(b[16:], p.Soften)
	return b
}

// DecodeParams decodes a uniform block produced by Params.Bytes.
func DecodeParams(b []byte) (Params, error) {
	if len(b) < ParamsSize {
		return Params{}, fmt.Errorf("%w: params %d < %d", ErrUniformSize, len(b), ParamsSize)
	}
	return Params{
		DeltaTime:     f32(b[0:]),
		ParticleCount: int32(binary.LittleEndian.Uint32(b[4:])), //nolint:gosec // two's complement is the wire format
		Gravity:       f32(b[8:]),
		Power:         f32(b[12:]),
		Soften:        f32(b[16:]),
	}, nil
}

// View is the per-frame render uniform block.
//
// Layout: projection mat4, view mat4 (column-major), screenDim vec2, then 8
// bytes of padding.
type View struct {
	Projection mgl32.Mat4
	View       mgl32.Mat4
	ScreenDim  mgl32.Vec2
}

// Bytes encodes the uniform block.
func (v View) Bytes() []byte {
	b := make([]byte, ViewSize)
	for i, f := range v.Projection {
		putF32(b[i*4:], f)
	}
	for i, f := range v.View {
		putF32(b[64+i*4:], f)
	}
	putF32(b[128:], v.ScreenDim[0])
	putF32(b[132:], v.ScreenDim[1])
	return b
}

// DecodeView decodes a uniform block produced by View.Bytes.
func DecodeView(b []byte) (View, error) {
	if len(b) < ViewSize {
		return View{}, fmt.Errorf("%w: view %d < %d", ErrUniformSize, len(b), ViewSize)
	}
	var v View
	for i := range v.Projection {
		v.Projection[i] = f32(b[i*4:])
	}
	for i := range v.View {
		v.View[i] = f32(b[64+i*4:])
	}
	v.ScreenDim = mgl32.Vec2{f32(b[128:]), f32(b[132:])}
	return v, nil
}

func putF32(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
