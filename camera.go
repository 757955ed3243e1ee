package nbody

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/nbody/internal/kernel"
)

// clipCorrection maps OpenGL clip space to the device's: y points down and
// depth spans [0, 1].
var clipCorrection = mgl32.Mat4{
	1, 0, 0, 0,
	0, -1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

// Camera is a fixed perspective camera looking at the origin.
type Camera struct {
	// FovY is the vertical field of view in degrees.
	FovY float32

	// Near and Far are the clip plane distances.
	Near, Far float32

	// Rotation is applied about x, then y, then z, in degrees.
	Rotation mgl32.Vec3

	// Translation is applied after rotation.
	Translation mgl32.Vec3
}

// DefaultCamera returns the camera that frames the default attractors.
func DefaultCamera() Camera {
	return Camera{
		FovY:        60,
		Near:        0.1,
		Far:         512,
		Rotation:    mgl32.Vec3{-26, 75, 0},
		Translation: mgl32.Vec3{0, 0, -14},
	}
}

// Projection returns the projection matrix for a width x height viewport.
func (c Camera) Projection(width, height uint32) mgl32.Mat4 {
	aspect := float32(1)
	if width > 0 && height > 0 {
		aspect = float32(width) / float32(height)
	}
	return clipCorrection.Mul4(mgl32.Perspective(mgl32.DegToRad(c.FovY), aspect, c.Near, c.Far))
}

// ViewMatrix returns the world-to-camera matrix.
func (c Camera) ViewMatrix() mgl32.Mat4 {
	rot := mgl32.HomogRotate3DX(mgl32.DegToRad(c.Rotation[0])).
		Mul4(mgl32.HomogRotate3DY(mgl32.DegToRad(c.Rotation[1]))).
		Mul4(mgl32.HomogRotate3DZ(mgl32.DegToRad(c.Rotation[2])))
	return mgl32.Translate3D(c.Translation[0], c.Translation[1], c.Translation[2]).Mul4(rot)
}

// View returns the view parameters for a width x height viewport.
func (c Camera) View(width, height uint32) kernel.View {
	return kernel.View{
		Projection: c.Projection(width, height),
		View:       c.ViewMatrix(),
		ScreenDim:  mgl32.Vec2{float32(width), float32(height)},
	}
}
