package nbody

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/nbody/internal/kernel"
	"github.com/gogpu/nbody/particle"
)

// DefaultTimeScale converts frame seconds into simulation time.
const DefaultTimeScale = 0.05

// Physics holds the force law constants.
type Physics struct {
	// Gravity scales the accumulated acceleration.
	Gravity float32

	// Power is the exponent applied to the softened squared distance.
	Power float32

	// Soften is added, squared, to every squared distance.
	Soften float32
}

// DefaultPhysics returns gravity 0.002, power 0.75 and soften 0.05.
func DefaultPhysics() Physics {
	return Physics{
		Gravity: kernel.DefaultGravity,
		Power:   kernel.DefaultPower,
		Soften:  kernel.DefaultSoften,
	}
}

// Option configures a Simulation during creation.
//
// Example:
//
//	sim, err := nbody.New(dev, presenter,
//	    nbody.WithBenchmark(),
//	    nbody.WithParticlesPerAttractor(particle.ConstrainedPerAttractor),
//	)
type Option func(*options)

type options struct {
	particles particle.Config
	seeded    bool
	physics   Physics
	timeScale float32
	fixedStep float32
	camera    Camera
	observer  Observer
	paused    bool
}

func defaultOptions() options {
	return options{
		particles: particle.DefaultConfig(),
		physics:   DefaultPhysics(),
		timeScale: DefaultTimeScale,
		camera:    DefaultCamera(),
		observer:  nopObserver{},
	}
}

// WithSeed sets the seed of the initial distribution.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.particles.Seed = seed
		o.seeded = true
	}
}

// WithBenchmark makes the initial distribution reproducible by using seed 0.
// Without it or WithSeed, the seed is taken from the clock.
func WithBenchmark() Option {
	return WithSeed(0)
}

// WithAttractors replaces the default attractor points.
func WithAttractors(points []mgl32.Vec3) Option {
	return func(o *options) {
		o.particles.Attractors = append([]mgl32.Vec3(nil), points...)
	}
}

// WithParticlesPerAttractor sets the size of each attractor group.
func WithParticlesPerAttractor(n int) Option {
	return func(o *options) {
		o.particles.PerAttractor = n
	}
}

// WithPhysics sets the force law constants.
func WithPhysics(p Physics) Option {
	return func(o *options) {
		o.physics = p
	}
}

// WithTimeScale sets the factor applied to frame seconds.
func WithTimeScale(s float32) Option {
	return func(o *options) {
		o.timeScale = s
	}
}

// WithFixedStep makes every running frame advance by dt regardless of the
// frame time passed to Frame. Zero restores scaled frame time.
func WithFixedStep(dt float32) Option {
	return func(o *options) {
		o.fixedStep = dt
	}
}

// WithCamera sets the camera.
func WithCamera(c Camera) Option {
	return func(o *options) {
		o.camera = c
	}
}

// WithObserver receives frame and submission events. nil disables events.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs == nil {
			obs = nopObserver{}
		}
		o.observer = obs
	}
}

// WithPaused starts the simulation paused.
func WithPaused(paused bool) Option {
	return func(o *options) {
		o.paused = paused
	}
}
