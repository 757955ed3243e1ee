package nbody

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func project(c Camera, w, h uint32, p mgl32.Vec3) (ndc mgl32.Vec3, visible bool) {
	v := c.View(w, h)
	clip := v.Projection.Mul4(v.View).Mul4x1(p.Vec4(1))
	if clip[3] <= 0 {
		return mgl32.Vec3{}, false
	}
	return clip.Vec3().Mul(1 / clip[3]), true
}

func TestCameraProjection(t *testing.T) {
	straight := Camera{FovY: 60, Near: 0.1, Far: 512, Translation: mgl32.Vec3{0, 0, -14}}

	tests := []struct {
		name    string
		cam     Camera
		point   mgl32.Vec3
		visible bool
		check   func(t *testing.T, ndc mgl32.Vec3)
	}{
		{
			name: "origin at center", cam: straight, point: mgl32.Vec3{}, visible: true,
			check: func(t *testing.T, ndc mgl32.Vec3) {
				if math.Abs(float64(ndc[0])) > 1e-5 || math.Abs(float64(ndc[1])) > 1e-5 {
					t.Errorf("ndc = %v, want center", ndc)
				}
				if ndc[2] <= 0 || ndc[2] >= 1 {
					t.Errorf("depth %v outside (0, 1)", ndc[2])
				}
			},
		},
		{
			name: "up is negative y", cam: straight, point: mgl32.Vec3{0, 2, 0}, visible: true,
			check: func(t *testing.T, ndc mgl32.Vec3) {
				if ndc[1] >= 0 {
					t.Errorf("ndc y = %v, want negative for a point above the origin", ndc[1])
				}
			},
		},
		{
			name: "behind the camera", cam: straight, point: mgl32.Vec3{0, 0, 20}, visible: false,
		},
		{
			name: "default camera frames the origin", cam: DefaultCamera(), point: mgl32.Vec3{}, visible: true,
			check: func(t *testing.T, ndc mgl32.Vec3) {
				if math.Abs(float64(ndc[0])) > 1e-5 || math.Abs(float64(ndc[1])) > 1e-5 {
					t.Errorf("ndc = %v, want center", ndc)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ndc, visible := project(tt.cam, 1280, 720, tt.point)
			if visible != tt.visible {
				t.Fatalf("visible = %v, want %v", visible, tt.visible)
			}
			if tt.check != nil {
				tt.check(t, ndc)
			}
		})
	}
}

func TestCameraView(t *testing.T) {
	v := DefaultCamera().View(640, 480)
	if v.ScreenDim != (mgl32.Vec2{640, 480}) {
		t.Errorf("ScreenDim = %v, want 640x480", v.ScreenDim)
	}

	// A zero extent must not produce a degenerate projection.
	p := DefaultCamera().Projection(0, 0)
	for i, x := range p {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			t.Fatalf("Projection(0, 0)[%d] = %v", i, x)
		}
	}
}
