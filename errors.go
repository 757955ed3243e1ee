package nbody

import "errors"

// Simulation errors.
var (
	// ErrFrameAborted wraps the failure that aborted a frame. Once a frame
	// aborts, every later call to Frame returns the same error.
	ErrFrameAborted = errors.New("nbody: frame aborted")

	// ErrClosed is returned by operations on a closed Simulation.
	ErrClosed = errors.New("nbody: simulation closed")

	// ErrTooManyParticles is returned when a dispatch would exceed the
	// device's workgroup limit.
	ErrTooManyParticles = errors.New("nbody: particle count exceeds device dispatch limit")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("nbody: invalid config")

	// ErrResizeUnsupported is returned by Resize when the presenter cannot
	// change its extent.
	ErrResizeUnsupported = errors.New("nbody: presenter does not support resize")
)
