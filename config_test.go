package nbody

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/nbody/particle"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(cfg.Attractors) != 6 {
		t.Errorf("attractors = %d, want 6", len(cfg.Attractors))
	}
	if cfg.ParticlesPerAttractor != particle.DefaultPerAttractor {
		t.Errorf("particles_per_attractor = %d, want %d", cfg.ParticlesPerAttractor, particle.DefaultPerAttractor)
	}
}

func TestLoadConfig(t *testing.T) {
	const doc = `
backend = "software"
frames = 120
benchmark = true
particles_per_attractor = 1024
attractors = [[1.0, 2.0, 3.0], [-1.0, 0.5, 0.0]]
split_families = true

[physics]
gravity = 0.004
power = 1.5
soften = 0.1
`
	cfg, err := LoadConfig(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Backend != "software" || cfg.Frames != 120 || !cfg.Benchmark || !cfg.SplitFamilies {
		t.Errorf("top-level keys not decoded: %+v", cfg)
	}
	if cfg.ParticlesPerAttractor != 1024 {
		t.Errorf("particles_per_attractor = %d", cfg.ParticlesPerAttractor)
	}
	if len(cfg.Attractors) != 2 || cfg.Attractors[0] != [3]float32{1, 2, 3} || cfg.Attractors[1] != [3]float32{-1, 0.5, 0} {
		t.Errorf("attractors = %v", cfg.Attractors)
	}
	if cfg.Physics != (PhysicsConfig{Gravity: 0.004, Power: 1.5, Soften: 0.1}) {
		t.Errorf("physics = %+v", cfg.Physics)
	}

	// Keys not in the file keep their defaults.
	def := DefaultConfig()
	if cfg.Width != def.Width || cfg.Height != def.Height || cfg.TimeScale != def.TimeScale || cfg.Camera != def.Camera {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadConfigKeepsDefaultAttractors(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader("frames = 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Attractors) != len(particle.DefaultAttractors()) {
		t.Errorf("attractors = %v, want the defaults", cfg.Attractors)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		invalid bool
	}{
		{"unknown key", "colour = 1\n", false},
		{"bad syntax", "frames = \n", false},
		{"no particles", "particles_per_attractor = -1\n", true},
		{"zero power", "[physics]\npower = 0.0\n", true},
		{"negative frames", "frames = -3\n", true},
		{"inverted clip", "[camera]\nnear = 10.0\nfar = 1.0\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(strings.NewReader(tt.doc))
			if err == nil {
				t.Fatal("LoadConfig succeeded, want error")
			}
			if got := errors.Is(err, ErrInvalidConfig); got != tt.invalid {
				t.Errorf("errors.Is(err, ErrInvalidConfig) = %v, want %v (err: %v)", got, tt.invalid, err)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.toml")
	if err := os.WriteFile(path, []byte("seed = 42\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Seed == nil || *cfg.Seed != 42 {
		t.Errorf("seed = %v, want 42", cfg.Seed)
	}

	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v, want os.ErrNotExist", err)
	}
}

func TestConfigOptions(t *testing.T) {
	seed := uint64(7)
	cfg := DefaultConfig()
	cfg.Attractors = [][3]float32{{1, 0, 0}}
	cfg.ParticlesPerAttractor = 10
	cfg.FixedStep = 0.02
	cfg.Paused = true
	cfg.Benchmark = true
	cfg.Seed = &seed

	o := defaultOptions()
	for _, opt := range cfg.Options() {
		opt(&o)
	}

	if !o.seeded || o.particles.Seed != 7 {
		t.Errorf("seed = %d (seeded %v), want explicit 7 over benchmark", o.particles.Seed, o.seeded)
	}
	if len(o.particles.Attractors) != 1 || o.particles.Attractors[0] != (mgl32.Vec3{1, 0, 0}) {
		t.Errorf("attractors = %v", o.particles.Attractors)
	}
	if o.particles.PerAttractor != 10 || o.fixedStep != 0.02 || !o.paused {
		t.Errorf("options = %+v", o)
	}
	if o.physics != DefaultPhysics() || o.camera != DefaultCamera() {
		t.Errorf("physics or camera changed: %+v %+v", o.physics, o.camera)
	}

	cfg.Seed = nil
	o = defaultOptions()
	for _, opt := range cfg.Options() {
		opt(&o)
	}
	if !o.seeded || o.particles.Seed != 0 {
		t.Errorf("benchmark seed = %d (seeded %v), want 0", o.particles.Seed, o.seeded)
	}
}
