package vulkan

// framesInFlight is the number of slots in each host-written uniform buffer.
const framesInFlight = 3

// defaultUniformAlign is the largest minUniformBufferOffsetAlignment a
// conforming device may report.
const defaultUniformAlign = 256

// slotRing tracks which slot of a uniform buffer the host writes next and
// how many recorded command buffers still read each slot.
type slotRing struct {
	cur  int
	busy []int
}

func newSlotRing(n int) *slotRing {
	return &slotRing{busy: make([]int, n)}
}

// advance moves to the next slot unless recorded work still reads it.
func (r *slotRing) advance() bool {
	next := (r.cur + 1) % len(r.busy)
	if r.busy[next] > 0 {
		return false
	}
	r.cur = next
	return true
}

// hold marks the current slot as read by one more command buffer.
func (r *slotRing) hold() int {
	r.busy[r.cur]++
	return r.cur
}

func (r *slotRing) release(slot int) {
	if r.busy[slot] > 0 {
		r.busy[slot]--
	}
}

// alignUp rounds n up to a multiple of align.
func alignUp(n, align uint64) uint64 {
	if align == 0 || n%align == 0 {
		return n
	}
	return (n/align + 1) * align
}
