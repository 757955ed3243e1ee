// Package diag measures how attractor groups evolve: where each group's
// cloud sits relative to its heavy center, and how that compares with a
// baseline that moves particles the same distance in random directions.
package diag

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"github.com/gogpu/nbody/particle"
)

var (
	// ErrGroupSize is returned when the particles do not split into groups
	// of a center plus at least one cloud particle.
	ErrGroupSize = errors.New("diag: particle count is not a multiple of the group size")

	// ErrLengthMismatch is returned when two snapshots differ in length.
	ErrLengthMismatch = errors.New("diag: snapshots differ in length")
)

// Group summarizes one attractor group.
type Group struct {
	Index int

	// Center is the position of the heavy center particle.
	Center r3.Vec

	// Centroid is the mass-weighted centroid of the other particles.
	Centroid r3.Vec

	// Mass is the total mass of the other particles.
	Mass float64
}

// Separation returns the distance from the cloud centroid to the center.
func (g Group) Separation() float64 {
	return r3.Norm(r3.Sub(g.Centroid, g.Center))
}

// Groups splits ps into groups of perGroup particles, each starting with
// its heavy center.
func Groups(ps []particle.Particle, perGroup int) ([]Group, error) {
	if err := checkGroups(len(ps), perGroup); err != nil {
		return nil, err
	}

	groups := make([]Group, 0, len(ps)/perGroup)
	for g := 0; g*perGroup < len(ps); g++ {
		members := ps[g*perGroup : (g+1)*perGroup]
		var sum r3.Vec
		var mass float64
		for _, p := range members[1:] {
			m := float64(p.Mass)
			sum = r3.Add(sum, r3.Scale(m, vec(p)))
			mass += m
		}
		groups = append(groups, Group{
			Index:    g,
			Center:   vec(members[0]),
			Centroid: r3.Scale(1/mass, sum),
			Mass:     mass,
		})
	}
	return groups, nil
}

// Separations returns the separation of every group with its mean and
// standard deviation.
func Separations(groups []Group) (seps []float64, mean, std float64) {
	seps = make([]float64, len(groups))
	for i, g := range groups {
		seps[i] = g.Separation()
	}
	if len(seps) < 2 {
		if len(seps) == 1 {
			mean = seps[0]
		}
		return seps, mean, 0
	}
	mean, std = stat.MeanStdDev(seps, nil)
	return seps, mean, std
}

// Perturb returns the static baseline for a run from initial to final:
// every cloud particle of initial moved by its own displacement in final,
// but in a random direction. Heavy centers stay where they started.
func Perturb(initial, final []particle.Particle, perGroup int, seed uint64) ([]particle.Particle, error) {
	if len(initial) != len(final) {
		return nil, fmt.Errorf("%w: %d and %d", ErrLengthMismatch, len(initial), len(final))
	}
	if err := checkGroups(len(initial), perGroup); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	out := append([]particle.Particle(nil), initial...)
	for i := range out {
		if i%perGroup == 0 {
			continue
		}
		dist := r3.Norm(r3.Sub(vec(final[i]), vec(initial[i])))
		moved := r3.Add(vec(initial[i]), r3.Scale(dist, direction(rng)))
		out[i].Pos[0] = float32(moved.X)
		out[i].Pos[1] = float32(moved.Y)
		out[i].Pos[2] = float32(moved.Z)
	}
	return out, nil
}

func checkGroups(n, perGroup int) error {
	if perGroup < 2 || n == 0 || n%perGroup != 0 {
		return fmt.Errorf("%w: %d particles, group size %d", ErrGroupSize, n, perGroup)
	}
	return nil
}

func vec(p particle.Particle) r3.Vec {
	return r3.Vec{X: float64(p.Pos[0]), Y: float64(p.Pos[1]), Z: float64(p.Pos[2])}
}

// direction returns a uniformly distributed unit vector.
func direction(rng *rand.Rand) r3.Vec {
	for {
		v := r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		if n := r3.Norm(v); n > 1e-9 && !math.IsInf(n, 0) {
			return r3.Scale(1/n, v)
		}
	}
}
