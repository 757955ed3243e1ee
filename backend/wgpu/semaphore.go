package wgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/nbody/gpucore"
)

// Validation errors.
var (
	ErrSemaphoreNotSignaled     = errors.New("wgpu: wait on unsignaled semaphore")
	ErrSemaphoreAlreadySignaled = errors.New("wgpu: signal of signaled semaphore")
	ErrOwnershipTransfer        = errors.New("wgpu: single queue family cannot transfer buffer ownership")
	ErrRoleMismatch             = errors.New("wgpu: command buffer submitted to another queue")
)

type semaphore struct {
	label    string
	signaled bool
}

// semaphores emulates binary semaphores for a single queue that runs
// submissions in order, so a signal at submit time precedes every later
// wait on the GPU timeline.
type semaphores map[gpucore.SemaphoreID]*semaphore

func (s semaphores) signal(id gpucore.SemaphoreID) error {
	sem, ok := s[id]
	if !ok {
		return fmt.Errorf("signal %d: %w", id, gpucore.ErrUnknownResource)
	}
	if sem.signaled {
		return fmt.Errorf("%w: %q", ErrSemaphoreAlreadySignaled, sem.label)
	}
	sem.signaled = true
	return nil
}

// consume checks every wait before clearing any of them.
func (s semaphores) consume(ids ...gpucore.SemaphoreID) error {
	for _, id := range ids {
		sem, ok := s[id]
		if !ok {
			return fmt.Errorf("wait %d: %w", id, gpucore.ErrUnknownResource)
		}
		if !sem.signaled {
			return fmt.Errorf("%w: %q", ErrSemaphoreNotSignaled, sem.label)
		}
	}
	for _, id := range ids {
		s[id].signaled = false
	}
	return nil
}
