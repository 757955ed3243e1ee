package gpucore

import "testing"

func TestIsOwnershipTransfer(t *testing.T) {
	tests := []struct {
		name     string
		src, dst QueueFamily
		want     bool
	}{
		{"distinct families", 0, 1, true},
		{"reverse", 2, 0, true},
		{"same family", 1, 1, false},
		{"ignored source", QueueFamilyIgnored, 1, false},
		{"ignored destination", 0, QueueFamilyIgnored, false},
		{"both ignored", QueueFamilyIgnored, QueueFamilyIgnored, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := BufferBarrier{SrcFamily: tt.src, DstFamily: tt.dst}
			if got := b.IsOwnershipTransfer(); got != tt.want {
				t.Errorf("IsOwnershipTransfer() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueueRoleString(t *testing.T) {
	tests := []struct {
		role QueueRole
		want string
	}{
		{RoleGraphics, "graphics"},
		{RoleCompute, "compute"},
		{QueueRole(7), "QueueRole(7)"},
	}
	for _, tt := range tests {
		if got := tt.role.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestDefaultLimits(t *testing.T) {
	l := DefaultLimits()
	// Room for a 256-particle tile of vec4<f32>.
	if l.MaxComputeSharedMemorySize < 256*16 {
		t.Errorf("shared memory %d too small for a 256 tile", l.MaxComputeSharedMemorySize)
	}
	if l.MaxComputeWorkgroupsPerDimension == 0 {
		t.Error("zero workgroups per dimension")
	}
}
