package nbody

import (
	"fmt"
	"io"
	"os"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pelletier/go-toml/v2"

	"github.com/gogpu/nbody/particle"
)

// Config is a scenario loaded from TOML. Zero fields keep their defaults
// after DefaultConfig.
//
// Example file:
//
//	backend = "software"
//	frames = 600
//	benchmark = true
//	particles_per_attractor = 3072
//	attractors = [[5.0, 0.0, 0.0], [-5.0, 0.0, 0.0]]
//
//	[physics]
//	gravity = 0.002
//	power = 0.75
//	soften = 0.05
type Config struct {
	// Backend names the device backend; empty selects the best available.
	Backend string `toml:"backend"`

	// Frames is the number of frames to run; 0 runs until interrupted.
	Frames int `toml:"frames"`

	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`

	// SplitFamilies asks backends that can choose to put compute on its own
	// queue family.
	SplitFamilies bool `toml:"split_families"`

	// Benchmark fixes the seed at 0 unless Seed is set.
	Benchmark bool    `toml:"benchmark"`
	Seed      *uint64 `toml:"seed,omitempty"`

	ParticlesPerAttractor int          `toml:"particles_per_attractor"`
	Attractors            [][3]float32 `toml:"attractors"`

	Physics   PhysicsConfig `toml:"physics"`
	TimeScale float32       `toml:"time_scale"`
	FixedStep float32       `toml:"fixed_step"`
	Paused    bool          `toml:"paused"`

	Camera CameraConfig `toml:"camera"`
}

// PhysicsConfig is the [physics] table.
type PhysicsConfig struct {
	Gravity float32 `toml:"gravity"`
	Power   float32 `toml:"power"`
	Soften  float32 `toml:"soften"`
}

// CameraConfig is the [camera] table.
type CameraConfig struct {
	FovY        float32    `toml:"fov_y"`
	Near        float32    `toml:"near"`
	Far         float32    `toml:"far"`
	Rotation    [3]float32 `toml:"rotation"`
	Translation [3]float32 `toml:"translation"`
}

// DefaultConfig returns the configuration of a default run.
func DefaultConfig() Config {
	phys := DefaultPhysics()
	cam := DefaultCamera()
	cfg := Config{
		Width:                 1280,
		Height:                720,
		ParticlesPerAttractor: particle.DefaultPerAttractor,
		Physics:               PhysicsConfig{Gravity: phys.Gravity, Power: phys.Power, Soften: phys.Soften},
		TimeScale:             DefaultTimeScale,
		Camera: CameraConfig{
			FovY:        cam.FovY,
			Near:        cam.Near,
			Far:         cam.Far,
			Rotation:    cam.Rotation,
			Translation: cam.Translation,
		},
	}
	for _, a := range particle.DefaultAttractors() {
		cfg.Attractors = append(cfg.Attractors, a)
	}
	return cfg
}

// LoadConfig decodes TOML from r over DefaultConfig. Unknown keys are
// rejected.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	defaults := cfg.Attractors
	cfg.Attractors = nil
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("nbody: decode config: %w", err)
	}
	if cfg.Attractors == nil {
		cfg.Attractors = defaults
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads a TOML scenario file.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("nbody: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case len(c.Attractors) == 0:
		return fmt.Errorf("%w: no attractors", ErrInvalidConfig)
	case c.ParticlesPerAttractor <= 0:
		return fmt.Errorf("%w: particles_per_attractor %d", ErrInvalidConfig, c.ParticlesPerAttractor)
	case c.Width == 0 || c.Height == 0:
		return fmt.Errorf("%w: extent %dx%d", ErrInvalidConfig, c.Width, c.Height)
	case c.Frames < 0:
		return fmt.Errorf("%w: frames %d", ErrInvalidConfig, c.Frames)
	case c.Physics.Power <= 0:
		return fmt.Errorf("%w: power %g", ErrInvalidConfig, c.Physics.Power)
	case c.Physics.Soften < 0:
		return fmt.Errorf("%w: soften %g", ErrInvalidConfig, c.Physics.Soften)
	case c.TimeScale < 0 || c.FixedStep < 0:
		return fmt.Errorf("%w: negative time step", ErrInvalidConfig)
	case c.Camera.Near <= 0 || c.Camera.Far <= c.Camera.Near:
		return fmt.Errorf("%w: clip planes %g..%g", ErrInvalidConfig, c.Camera.Near, c.Camera.Far)
	}
	return nil
}

// Options converts the configuration into simulation options.
func (c Config) Options() []Option {
	attractors := make([]mgl32.Vec3, len(c.Attractors))
	for i, a := range c.Attractors {
		attractors[i] = a
	}

	opts := []Option{
		WithAttractors(attractors),
		WithParticlesPerAttractor(c.ParticlesPerAttractor),
		WithPhysics(Physics(c.Physics)),
		WithTimeScale(c.TimeScale),
		WithFixedStep(c.FixedStep),
		WithPaused(c.Paused),
		WithCamera(Camera{
			FovY:        c.Camera.FovY,
			Near:        c.Camera.Near,
			Far:         c.Camera.Far,
			Rotation:    c.Camera.Rotation,
			Translation: c.Camera.Translation,
		}),
	}
	switch {
	case c.Seed != nil:
		opts = append(opts, WithSeed(*c.Seed))
	case c.Benchmark:
		opts = append(opts, WithBenchmark())
	}
	return opts
}
