package kernel

import (
	"image"
	"image/color"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/nbody/particle"
)

// pointIntensity scales the gradient color of a single point.
const pointIntensity = 0.35

// Target is a float RGBA color target accumulating additive draws.
type Target struct {
	Width, Height int
	Pix           []float32
}

// NewTarget returns a cleared target.
func NewTarget(width, height int) *Target {
	return &Target{Width: width, Height: height, Pix: make([]float32, width*height*4)}
}

// Clear resets every pixel to opaque black.
func (t *Target) Clear() {
	for i := 0; i < len(t.Pix); i += 4 {
		t.Pix[i], t.Pix[i+1], t.Pix[i+2], t.Pix[i+3] = 0, 0, 0, 1
	}
}

// Image converts the target to 8-bit RGBA, saturating each channel.
func (t *Target) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	for y := range t.Height {
		for x := range t.Width {
			o := (y*t.Width + x) * 4
			img.SetRGBA(x, y, color.RGBA{
				R: unorm8(t.Pix[o]),
				G: unorm8(t.Pix[o+1]),
				B: unorm8(t.Pix[o+2]),
				A: unorm8(t.Pix[o+3]),
			})
		}
	}
	return img
}

// GradientColor maps a gradient index in [0,1) to a color ramp.
func GradientColor(g float32) mgl32.Vec3 {
	phase := 2 * math.Pi * float64(g)
	return mgl32.Vec3{
		float32(0.5 + 0.5*math.Cos(phase)),
		float32(0.5 + 0.5*math.Cos(phase-2*math.Pi/3)),
		float32(0.5 + 0.5*math.Cos(phase-4*math.Pi/3)),
	}
}

// DrawPoints draws the first count particles as one-pixel points with
// additive blending: color one+one, alpha srcAlpha+dstAlpha. It returns the
// number of points that landed inside the target.
func DrawPoints(t *Target, ps []particle.Particle, v View, count int) int {
	mvp := v.Projection.Mul4(v.View)
	drawn := 0
	for _, p := range ps[:min(count, len(ps))] {
		clip := mvp.Mul4x1(p.Pos.Vec4(1))
		if clip[3] <= 0 {
			continue
		}
		ndc := clip.Vec3().Mul(1 / clip[3])
		if ndc[0] < -1 || ndc[0] > 1 || ndc[1] < -1 || ndc[1] > 1 || ndc[2] < 0 || ndc[2] > 1 {
			continue
		}

		x := int((ndc[0]*0.5 + 0.5) * float32(t.Width))
		y := int((ndc[1]*0.5 + 0.5) * float32(t.Height))
		if x >= t.Width || y >= t.Height {
			continue
		}

		c := GradientColor(p.Gradient).Mul(pointIntensity)
		o := (y*t.Width + x) * 4
		t.Pix[o] += c[0]
		t.Pix[o+1] += c[1]
		t.Pix[o+2] += c[2]
		t.Pix[o+3] = pointIntensity*pointIntensity + t.Pix[o+3]*t.Pix[o+3]
		drawn++
	}
	return drawn
}

func unorm8(v float32) uint8 {
	return uint8(math.Round(float64(max(0, min(1, v))) * 255))
}
