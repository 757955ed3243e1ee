package vulkan

import "errors"

// ErrNoGraphicsQueue is returned when a GPU has no graphics queue family.
var ErrNoGraphicsQueue = errors.New("vulkan: no graphics queue family")

// familyCaps is what family selection needs to know about a queue family.
type familyCaps struct {
	graphics bool
	compute  bool
	queues   uint32
}

// pickFamilies returns the graphics family and the compute family. With
// split set, compute prefers a family without graphics support; without a
// dedicated one, or without split, compute shares the graphics family.
func pickFamilies(caps []familyCaps, split bool) (graphics, compute uint32, err error) {
	found := false
	for i, c := range caps {
		if c.graphics && c.compute && c.queues > 0 {
			graphics, found = uint32(i), true //nolint:gosec // family counts are small
			break
		}
	}
	if !found {
		return 0, 0, ErrNoGraphicsQueue
	}
	compute = graphics
	if !split {
		return graphics, compute, nil
	}
	for i, c := range caps {
		if c.compute && !c.graphics && c.queues > 0 {
			return graphics, uint32(i), nil //nolint:gosec // family counts are small
		}
	}
	return graphics, compute, nil
}
