package queuesync

import (
	"errors"
	"testing"

	"github.com/gogpu/nbody/gpucore"
)

func TestHandoffCycle(t *testing.T) {
	h := NewHandoff()
	if got, want := h.State(), OwnedBy(gpucore.RoleGraphics); got != want {
		t.Fatalf("initial State() = %v, want %v", got, want)
	}

	steps := []struct {
		name string
		fn   func() error
		want State
	}{
		{"upload release", h.EndGraphics, TransferringTo(gpucore.RoleGraphics, gpucore.RoleCompute)},
		{"compute acquire", h.BeginCompute, OwnedBy(gpucore.RoleCompute)},
		{"compute release", h.EndCompute, TransferringTo(gpucore.RoleCompute, gpucore.RoleGraphics)},
		{"graphics acquire", h.BeginGraphics, OwnedBy(gpucore.RoleGraphics)},
		{"graphics release", h.EndGraphics, TransferringTo(gpucore.RoleGraphics, gpucore.RoleCompute)},
		{"next compute acquire", h.BeginCompute, OwnedBy(gpucore.RoleCompute)},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			t.Fatalf("%s: error = %v", s.name, err)
		}
		if got := h.State(); got != s.want {
			t.Fatalf("%s: State() = %v, want %v", s.name, got, s.want)
		}
	}
}

func TestHandoffRejectsOutOfOrder(t *testing.T) {
	tests := []struct {
		name  string
		setup []func(*Handoff) error
		step  func(*Handoff) error
	}{
		{"compute before upload release", nil, (*Handoff).BeginCompute},
		{"graphics acquire while owned", nil, (*Handoff).BeginGraphics},
		{"end compute while graphics owns", nil, (*Handoff).EndCompute},
		{"double release", []func(*Handoff) error{(*Handoff).EndGraphics}, (*Handoff).EndGraphics},
		{"graphics acquire of compute-bound transfer", []func(*Handoff) error{(*Handoff).EndGraphics}, (*Handoff).BeginGraphics},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandoff()
			for _, s := range tt.setup {
				if err := s(h); err != nil {
					t.Fatalf("setup error = %v", err)
				}
			}
			before := h.State()
			if err := tt.step(h); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("error = %v, want %v", err, ErrInvalidTransition)
			}
			if h.State() != before {
				t.Errorf("State() changed to %v on rejected transition", h.State())
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{OwnedBy(gpucore.RoleCompute), "OwnedBy(compute)"},
		{TransferringTo(gpucore.RoleGraphics, gpucore.RoleCompute), "Transferring(graphics->compute)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
