package vulkan

import "testing"

func TestSlotRingRotates(t *testing.T) {
	r := newSlotRing(framesInFlight)
	for i := 1; i <= 2*framesInFlight; i++ {
		if !r.advance() {
			t.Fatalf("advance %d blocked with no holds", i)
		}
		if want := i % framesInFlight; r.cur != want {
			t.Fatalf("after %d advances cur = %d, want %d", i, r.cur, want)
		}
	}
}

func TestSlotRingSkipsHeldSlots(t *testing.T) {
	r := newSlotRing(3)

	// One frame per slot: write, record a read, move on.
	held := make([]int, 0, 3)
	held = append(held, r.hold())
	for range 2 {
		if !r.advance() {
			t.Fatal("advance blocked before the ring filled")
		}
		held = append(held, r.hold())
	}
	if r.advance() {
		t.Fatalf("advance into slot %d succeeded while it is read", r.cur)
	}

	r.release(held[0])
	if !r.advance() {
		t.Fatal("advance blocked after the oldest slot was released")
	}
	if r.cur != held[0] {
		t.Errorf("cur = %d, want %d", r.cur, held[0])
	}
}

func TestSlotRingReleaseIsBounded(t *testing.T) {
	r := newSlotRing(2)
	r.release(1)
	if r.busy[1] != 0 {
		t.Errorf("busy[1] = %d after spurious release, want 0", r.busy[1])
	}
	r.hold()
	r.hold()
	r.release(0)
	if r.busy[0] != 1 {
		t.Errorf("busy[0] = %d, want 1", r.busy[0])
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct {
		n, align, want uint64
	}{
		{0, 256, 0},
		{1, 256, 256},
		{32, 256, 256},
		{256, 256, 256},
		{257, 64, 320},
		{48, 0, 48},
	}
	for _, tt := range tests {
		if got := alignUp(tt.n, tt.align); got != tt.want {
			t.Errorf("alignUp(%d, %d) = %d, want %d", tt.n, tt.align, got, tt.want)
		}
	}
}
