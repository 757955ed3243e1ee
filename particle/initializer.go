package particle

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/exp/rand"
)

// Distribution constants.
const (
	// DefaultPerAttractor is the number of particles per attractor group.
	DefaultPerAttractor = 4 * 1024

	// ConstrainedPerAttractor is the group size for low-end devices.
	ConstrainedPerAttractor = 3 * 1024

	// HeavyMass is the mass of each group's center particle.
	HeavyMass = 90000

	// MinMass and MaxMass bound the uniformly drawn mass of ordinary
	// particles.
	MinMass = 0.5
	MaxMass = 75

	// Spread scales the Gaussian position offset around an attractor.
	Spread = 0.75

	// FlattenRadius is the offset length that normalizes the vertical
	// attenuation. Offsets longer than FlattenRadius*sqrt(2) lie in the
	// attractor's horizontal plane.
	FlattenRadius = 2 * Spread

	// CenterScale places the heavy center relative to its attractor.
	CenterScale = 1.5

	// VerticalJitter scales the z component of the random velocity.
	VerticalJitter = 0.025
)

// Initializer errors.
var (
	// ErrNoAttractors is returned when the configuration has no attractors.
	ErrNoAttractors = errors.New("particle: no attractors")

	// ErrEmptyGroup is returned when a group would hold no particles.
	ErrEmptyGroup = errors.New("particle: particles per attractor must be positive")
)

// angularAxis is the rotation axis of even groups; odd groups spin the
// other way.
var angularAxis = mgl32.Vec3{0.5, 1.5, 0.5}

// DefaultAttractors returns the six default attractor positions.
func DefaultAttractors() []mgl32.Vec3 {
	return []mgl32.Vec3{
		{5, 0, 0},
		{-5, 0, 0},
		{0, 0, 5},
		{0, 0, -5},
		{0, 4, 0},
		{0, -8, 0},
	}
}

// TimeSeed returns a seed derived from the wall clock, for non-benchmark
// runs.
func TimeSeed() uint64 {
	return uint64(time.Now().UnixNano()) //nolint:gosec // any bit pattern is a valid seed
}

// Config describes an initial distribution.
type Config struct {
	// Attractors are the fixed group centers.
	Attractors []mgl32.Vec3

	// PerAttractor is the number of particles in each group.
	PerAttractor int

	// Seed seeds the Gaussian source. Equal seeds give identical output.
	Seed uint64
}

// DefaultConfig returns the default attractors with DefaultPerAttractor
// particles each and seed 0.
func DefaultConfig() Config {
	return Config{
		Attractors:   DefaultAttractors(),
		PerAttractor: DefaultPerAttractor,
	}
}

// Count returns the total number of particles the configuration produces.
func (c Config) Count() int {
	return len(c.Attractors) * c.PerAttractor
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Attractors) == 0 {
		return ErrNoAttractors
	}
	if c.PerAttractor <= 0 {
		return fmt.Errorf("%w: %d", ErrEmptyGroup, c.PerAttractor)
	}
	return nil
}

// Generate produces Count particles grouped by attractor. Group g occupies
// indices [g*PerAttractor, (g+1)*PerAttractor); its first particle is the
// heavy center.
func Generate(cfg Config) ([]Particle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	groups := len(cfg.Attractors)
	out := make([]Particle, 0, cfg.Count())

	for g, attractor := range cfg.Attractors {
		gradient := float32(g) / float32(groups)

		out = append(out, Particle{
			Pos:      attractor.Mul(CenterScale),
			Mass:     HeavyMass,
			Gradient: gradient,
		})

		angular := angularAxis
		if g%2 != 0 {
			angular = angular.Mul(-1)
		}

		for range cfg.PerAttractor - 1 {
			out = append(out, scatter(rng, attractor, angular, gradient))
		}
	}
	return out, nil
}

// scatter draws one ordinary particle of a group.
func scatter(rng *rand.Rand, attractor, angular mgl32.Vec3, gradient float32) Particle {
	offset := flatten(normal3(rng).Mul(Spread))
	pos := attractor.Add(offset)

	jitter := normal3(rng)
	jitter[2] *= VerticalJitter
	vel := offset.Cross(angular).Add(jitter)

	mass := MinMass + rng.Float32()*(MaxMass-MinMass)

	return Particle{
		Pos:      pos,
		Mass:     mass,
		Vel:      vel,
		Gradient: gradient,
	}
}

// flatten scales the vertical component of offset by 2-l², where l is the
// offset length over FlattenRadius. Near offsets keep a thick core and far
// ones settle into the plane, which gives each group its disk.
func flatten(offset mgl32.Vec3) mgl32.Vec3 {
	l := offset.Len() / FlattenRadius
	offset[1] *= max(2-l*l, 0)
	return offset
}

func normal3(rng *rand.Rand) mgl32.Vec3 {
	return mgl32.Vec3{
		float32(rng.NormFloat64()),
		float32(rng.NormFloat64()),
		float32(rng.NormFloat64()),
	}
}
