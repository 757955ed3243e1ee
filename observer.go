package nbody

import (
	"time"

	"github.com/gogpu/nbody/gpucore"
)

// FrameStats describes one completed frame.
type FrameStats struct {
	// Frame is the zero-based frame number.
	Frame uint64

	// DeltaTime is the simulation step the compute pass used.
	DeltaTime float32

	// Paused reports whether the step was clamped to zero.
	Paused bool

	// Duration is the host time spent recording, submitting and presenting.
	Duration time.Duration

	// Releases and Acquires count the ownership barriers recorded this
	// frame. Both are zero when the queues share a family.
	Releases, Acquires uint64
}

// Observer receives simulation events. Calls happen on the goroutine that
// runs Frame.
type Observer interface {
	// ObserveSubmit is called after each successful queue submission.
	ObserveSubmit(role gpucore.QueueRole, d time.Duration)

	// ObserveFrame is called after each presented frame.
	ObserveFrame(FrameStats)

	// ObserveAbort is called once, with the error that poisoned the
	// simulation.
	ObserveAbort(err error)
}

type nopObserver struct{}

func (nopObserver) ObserveSubmit(gpucore.QueueRole, time.Duration) {}
func (nopObserver) ObserveFrame(FrameStats)                        {}
func (nopObserver) ObserveAbort(error)                             {}
