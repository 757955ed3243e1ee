//go:build !nogpu

package wgpu

import (
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/nbody/backend"
	"github.com/gogpu/nbody/gpucore"
)

// ===== Limits =====

func TestConvertLimits(t *testing.T) {
	tests := []struct {
		name string
		in   gputypes.Limits
		want gpucore.Limits
	}{
		{"zero falls back", gputypes.Limits{}, gpucore.DefaultLimits()},
		{
			"copied",
			gputypes.Limits{MaxComputeWorkgroupStorageSize: 32768, MaxComputeWorkgroupsPerDimension: 1024},
			gpucore.Limits{MaxComputeSharedMemorySize: 32768, MaxComputeWorkgroupsPerDimension: 1024},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := convertLimits(tt.in); got != tt.want {
				t.Errorf("convertLimits() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// ===== Descriptors =====

func TestBufferUsage(t *testing.T) {
	staging := gpucore.BufferDesc{
		Usage:       gputypes.BufferUsageCopySrc | gputypes.BufferUsageMapWrite,
		HostVisible: true,
	}
	got := bufferUsage(staging)
	if got&gputypes.BufferUsageMapWrite != 0 {
		t.Error("host-visible buffer kept MapWrite")
	}
	if got&gputypes.BufferUsageCopyDst == 0 {
		t.Error("host-visible buffer lacks CopyDst")
	}
	if got&gputypes.BufferUsageCopySrc == 0 {
		t.Error("CopySrc dropped")
	}

	local := gpucore.BufferDesc{Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageVertex}
	if got := bufferUsage(local); got != local.Usage {
		t.Errorf("device-local usage = %v, want %v", got, local.Usage)
	}
}

func TestBindingType(t *testing.T) {
	tests := []struct {
		kind gpucore.BindingKind
		want gputypes.BufferBindingType
	}{
		{gpucore.BindingUniform, gputypes.BufferBindingTypeUniform},
		{gpucore.BindingStorage, gputypes.BufferBindingTypeStorage},
		{gpucore.BindingReadOnlyStorage, gputypes.BufferBindingTypeReadOnlyStorage},
	}
	for _, tt := range tests {
		if got := bindingType(tt.kind); got != tt.want {
			t.Errorf("bindingType(%d) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestVertexLayout(t *testing.T) {
	layouts := vertexLayout(gpucore.RenderPipelineDesc{
		VertexStride: 32,
		Attributes:   []gpucore.VertexAttribute{{Location: 0, Offset: 0}, {Location: 1, Offset: 16}},
	})
	if len(layouts) != 1 {
		t.Fatalf("got %d layouts, want 1", len(layouts))
	}
	l := layouts[0]
	if l.ArrayStride != 32 || len(l.Attributes) != 2 {
		t.Fatalf("layout = %+v", l)
	}
	if a := l.Attributes[1]; a.ShaderLocation != 1 || a.Offset != 16 || a.Format != gputypes.VertexFormatFloat32x4 {
		t.Errorf("attribute 1 = %+v", a)
	}
}

func TestAdditiveBlend(t *testing.T) {
	b := additiveBlend()
	for _, c := range []gputypes.BlendComponent{b.Color, b.Alpha} {
		if c.SrcFactor != gputypes.BlendFactorOne || c.DstFactor != gputypes.BlendFactorOne ||
			c.Operation != gputypes.BlendOperationAdd {
			t.Errorf("component = %+v, want one + one", c)
		}
	}
}

// ===== Readback =====

func TestAlignedPitch(t *testing.T) {
	tests := []struct {
		width uint32
		want  uint32
	}{
		{1, 256},
		{64, 256},
		{65, 512},
		{1280, 5120},
	}
	for _, tt := range tests {
		if got := alignedPitch(tt.width); got != tt.want {
			t.Errorf("alignedPitch(%d) = %d, want %d", tt.width, got, tt.want)
		}
	}
}

func TestUnpackRows(t *testing.T) {
	const w, h, pitch = 2, 2, 256
	raw := make([]byte, pitch*h)
	copy(raw[0:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	copy(raw[pitch:], []byte{9, 10, 11, 12, 13, 14, 15, 16})

	img := unpackRows(raw, w, h, pitch, false)
	if got := img.Pix[img.Stride : img.Stride+4]; got[0] != 9 || got[2] != 11 {
		t.Errorf("row 1 = %v", got)
	}

	swapped := unpackRows(raw, w, h, pitch, true)
	if got := swapped.Pix[0:4]; got[0] != 3 || got[1] != 2 || got[2] != 1 || got[3] != 4 {
		t.Errorf("bgra pixel = %v, want [3 2 1 4]", got)
	}
}

// ===== Registration =====

func TestRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.BackendWGPU) {
		t.Error("wgpu backend not registered")
	}
}
