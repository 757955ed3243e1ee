// Package shaders holds the WGSL sources of the simulation and compiles
// them for backends that consume SPIR-V.
package shaders

import (
	_ "embed"
	"strconv"
	"strings"
)

// Entry points.
const (
	CalculateEntry = "calculate"
	IntegrateEntry = "integrate"
	VertexEntry    = "vs_main"
	FragmentEntry  = "fs_main"
)

//go:embed calculate.wgsl
var calculateSource string

//go:embed integrate.wgsl
var integrateSource string

//go:embed particle.wgsl
var particleSource string

const tilePlaceholder = "{{TILE_SIZE}}"

// Calculate returns the Calculate stage specialized for the given tile
// size. The tile size sizes the workgroup cache, so it must be a
// compile-time constant of the module.
func Calculate(tileSize uint32) string {
	return strings.ReplaceAll(calculateSource, tilePlaceholder, strconv.FormatUint(uint64(tileSize), 10))
}

// Integrate returns the Integrate stage.
func Integrate() string {
	return integrateSource
}

// Particle returns the point render shader.
func Particle() string {
	return particleSource
}
