//go:build !nogpu && cgo

package vulkan

import (
	"testing"

	"github.com/gogpu/gputypes"
	vk "github.com/goki/vulkan"

	"github.com/gogpu/nbody/backend"
	"github.com/gogpu/nbody/gpucore"
)

// ===== Flag conversion =====

func TestStageFlags(t *testing.T) {
	tests := []struct {
		in   gpucore.Stage
		want vk.PipelineStageFlagBits
	}{
		{0, vk.PipelineStageTopOfPipeBit},
		{gpucore.StageComputeShader, vk.PipelineStageComputeShaderBit},
		{gpucore.StageVertexInput, vk.PipelineStageVertexInputBit},
		{gpucore.StageTransfer | gpucore.StageComputeShader,
			vk.PipelineStageTransferBit | vk.PipelineStageComputeShaderBit},
		{gpucore.StageColorAttachmentOutput, vk.PipelineStageColorAttachmentOutputBit},
		{gpucore.StageBottomOfPipe, vk.PipelineStageBottomOfPipeBit},
	}
	for _, tt := range tests {
		if got := stageFlags(tt.in); got != vk.PipelineStageFlags(tt.want) {
			t.Errorf("stageFlags(%b) = %b, want %b", tt.in, got, tt.want)
		}
	}
}

func TestAccessFlags(t *testing.T) {
	tests := []struct {
		in   gpucore.Access
		want vk.AccessFlagBits
	}{
		{gpucore.AccessNone, 0},
		{gpucore.AccessShaderRead | gpucore.AccessShaderWrite, vk.AccessShaderReadBit | vk.AccessShaderWriteBit},
		{gpucore.AccessVertexAttributeRead, vk.AccessVertexAttributeReadBit},
		{gpucore.AccessTransferWrite, vk.AccessTransferWriteBit},
		{gpucore.AccessTransferRead, vk.AccessTransferReadBit},
	}
	for _, tt := range tests {
		if got := accessFlags(tt.in); got != vk.AccessFlags(tt.want) {
			t.Errorf("accessFlags(%b) = %b, want %b", tt.in, got, tt.want)
		}
	}
}

func TestFamilyIndex(t *testing.T) {
	if got := familyIndex(gpucore.QueueFamilyIgnored); got != vk.QueueFamilyIgnored {
		t.Errorf("ignored family = %d, want %d", got, uint32(vk.QueueFamilyIgnored))
	}
	if got := familyIndex(3); got != 3 {
		t.Errorf("family 3 = %d", got)
	}
}

func TestBufferUsage(t *testing.T) {
	got := bufferUsage(gputypes.BufferUsageStorage | gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst)
	want := vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit | vk.BufferUsageVertexBufferBit | vk.BufferUsageTransferDstBit)
	if got != want {
		t.Errorf("bufferUsage = %b, want %b", got, want)
	}
	if got := bufferUsage(gputypes.BufferUsageUniform); got != vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit) {
		t.Errorf("uniform usage = %b", got)
	}
}

func TestDescriptorType(t *testing.T) {
	tests := []struct {
		kind gpucore.BindingKind
		want vk.DescriptorType
	}{
		{gpucore.BindingUniform, vk.DescriptorTypeUniformBufferDynamic},
		{gpucore.BindingStorage, vk.DescriptorTypeStorageBuffer},
		{gpucore.BindingReadOnlyStorage, vk.DescriptorTypeStorageBuffer},
	}
	for _, tt := range tests {
		if got := descriptorType(tt.kind); got != tt.want {
			t.Errorf("descriptorType(%d) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestAdditiveAttachment(t *testing.T) {
	a := additiveAttachment()
	if a.BlendEnable != vk.True {
		t.Fatal("blending disabled")
	}
	if a.SrcColorBlendFactor != vk.BlendFactorOne || a.DstColorBlendFactor != vk.BlendFactorOne ||
		a.ColorBlendOp != vk.BlendOpAdd {
		t.Errorf("color blend = %+v", a)
	}
}

func TestRegistered(t *testing.T) {
	found := false
	for _, name := range backend.Available() {
		if name == backend.BackendVulkan {
			found = true
		}
	}
	if !found {
		t.Error("vulkan backend not registered")
	}
}
