//go:build !nogpu && cgo

package vulkan

import (
	"cmp"
	"fmt"
	"slices"

	vk "github.com/goki/vulkan"

	"github.com/gogpu/nbody/gpucore"
	"github.com/gogpu/nbody/internal/shaders"
)

// pipeline is a compute or graphics pipeline with the one descriptor set
// its bindings live in.
type pipeline struct {
	label     string
	module    vk.ShaderModule
	setLayout vk.DescriptorSetLayout
	layout    vk.PipelineLayout
	pool      vk.DescriptorPool
	set       vk.DescriptorSet
	pipeline  vk.Pipeline

	// uniforms are the dynamic uniform buffers in binding order, which is
	// the order of the dynamic offsets at bind time.
	uniforms []*buffer
}

// descriptorType maps uniforms to dynamic uniform buffers so the slot a
// command buffer reads is chosen when it binds the set.
func descriptorType(k gpucore.BindingKind) vk.DescriptorType {
	if k == gpucore.BindingUniform {
		return vk.DescriptorTypeUniformBufferDynamic
	}
	return vk.DescriptorTypeStorageBuffer
}

func (d *Device) createModule(label, wgsl string) (vk.ShaderModule, error) {
	words, err := shaders.CompileSPIRV(wgsl)
	if err != nil {
		return vk.NullShaderModule, fmt.Errorf("%s: %w", label, err)
	}
	var module vk.ShaderModule
	res := vk.CreateShaderModule(d.device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(words) * 4),
		PCode:    words,
	}, nil, &module)
	if err := check(res, "vkCreateShaderModule "+label); err != nil {
		return vk.NullShaderModule, err
	}
	return module, nil
}

// createDescriptors builds the set layout, pipeline layout and the written
// descriptor set for bs.
func (d *Device) createDescriptors(p *pipeline, bs []gpucore.Binding, stages vk.ShaderStageFlagBits) error {
	bs = slices.Clone(bs)
	slices.SortFunc(bs, func(a, b gpucore.Binding) int { return cmp.Compare(a.Binding, b.Binding) })

	layoutBindings := make([]vk.DescriptorSetLayoutBinding, len(bs))
	counts := map[vk.DescriptorType]uint32{}
	for i, b := range bs {
		if _, ok := d.buffers[b.Buffer]; !ok {
			return fmt.Errorf("binding %d: buffer %d: %w", b.Binding, b.Buffer, gpucore.ErrUnknownResource)
		}
		t := descriptorType(b.Kind)
		layoutBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  t,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(stages),
		}
		counts[t]++
	}

	res := vk.CreateDescriptorSetLayout(d.device, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(layoutBindings)),
		PBindings:    layoutBindings,
	}, nil, &p.setLayout)
	if err := check(res, "vkCreateDescriptorSetLayout"); err != nil {
		return err
	}

	res = vk.CreatePipelineLayout(d.device, &vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{p.setLayout},
	}, nil, &p.layout)
	if err := check(res, "vkCreatePipelineLayout"); err != nil {
		return err
	}

	sizes := make([]vk.DescriptorPoolSize, 0, len(counts))
	for t, n := range counts {
		sizes = append(sizes, vk.DescriptorPoolSize{Type: t, DescriptorCount: n})
	}
	res = vk.CreateDescriptorPool(d.device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       1,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &p.pool)
	if err := check(res, "vkCreateDescriptorPool"); err != nil {
		return err
	}

	res = vk.AllocateDescriptorSets(d.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{p.setLayout},
	}, &p.set)
	if err := check(res, "vkAllocateDescriptorSets"); err != nil {
		return err
	}

	writes := make([]vk.WriteDescriptorSet, len(bs))
	for i, b := range bs {
		size := vk.DeviceSize(vk.WholeSize)
		if b.Size > 0 {
			size = vk.DeviceSize(b.Size)
		}
		if b.Kind == gpucore.BindingUniform {
			// Dynamic ranges must be explicit.
			ub := d.buffers[b.Buffer]
			if b.Size == 0 {
				size = vk.DeviceSize(ub.size)
			}
			p.uniforms = append(p.uniforms, ub)
		}
		writes[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          p.set,
			DstBinding:      b.Binding,
			DescriptorCount: 1,
			DescriptorType:  descriptorType(b.Kind),
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: d.buffers[b.Buffer].buf,
				Offset: 0,
				Range:  size,
			}},
		}
	}
	vk.UpdateDescriptorSets(d.device, uint32(len(writes)), writes, 0, nil)
	return nil
}

// destroyPipeline releases p. It tolerates partial creation.
func (d *Device) destroyPipeline(p *pipeline) {
	if p.pipeline != vk.NullPipeline {
		vk.DestroyPipeline(d.device, p.pipeline, nil)
	}
	if p.pool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(d.device, p.pool, nil)
	}
	if p.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(d.device, p.layout, nil)
	}
	if p.setLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(d.device, p.setLayout, nil)
	}
	if p.module != vk.NullShaderModule {
		vk.DestroyShaderModule(d.device, p.module, nil)
	}
}

// CreateComputePipeline compiles the shader to SPIR-V and builds the
// pipeline.
func (d *Device) CreateComputePipeline(desc gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}

	p := &pipeline{label: desc.Label}
	var err error
	if p.module, err = d.createModule(desc.Label, desc.Shader.WGSL); err != nil {
		return gpucore.InvalidID, err
	}
	if err := d.createDescriptors(p, desc.Bindings, vk.ShaderStageComputeBit); err != nil {
		d.destroyPipeline(p)
		return gpucore.InvalidID, fmt.Errorf("pipeline %q: %w", desc.Label, err)
	}

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateComputePipelines(d.device, vk.PipelineCache(vk.NullHandle), 1, []vk.ComputePipelineCreateInfo{{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Layout: p.layout,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: p.module,
			PName:  cstr(desc.Shader.EntryPoint),
		},
	}}, nil, pipelines)
	if err := check(res, "vkCreateComputePipelines "+desc.Label); err != nil {
		d.destroyPipeline(p)
		return gpucore.InvalidID, err
	}
	p.pipeline = pipelines[0]

	id := gpucore.ComputePipelineID(d.id())
	d.computes[id] = p
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.computes[id]; ok {
		d.destroyPipeline(p)
		delete(d.computes, id)
	}
}

// CreateRenderPipeline builds a point-list pipeline with additive blending
// on the shared render pass. Viewport and scissor are dynamic.
func (d *Device) CreateRenderPipeline(desc gpucore.RenderPipelineDesc) (gpucore.RenderPipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrDeviceClosed
	}

	p := &pipeline{label: desc.Label}
	var err error
	if p.module, err = d.createModule(desc.Label, desc.Shader.WGSL); err != nil {
		return gpucore.InvalidID, err
	}
	if err := d.createDescriptors(p, desc.Bindings, vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit); err != nil {
		d.destroyPipeline(p)
		return gpucore.InvalidID, fmt.Errorf("pipeline %q: %w", desc.Label, err)
	}

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: p.module,
			PName:  cstr(desc.Shader.EntryPoint),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: p.module,
			PName:  cstr(desc.FragmentEntryPoint),
		},
	}

	attrs := make([]vk.VertexInputAttributeDescription, len(desc.Attributes))
	for i, a := range desc.Attributes {
		attrs[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  0,
			Format:   vk.FormatR32g32b32a32Sfloat,
			Offset:   uint32(a.Offset), //nolint:gosec // attribute offsets are small
		}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                         vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions: []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    uint32(desc.VertexStride), //nolint:gosec // stride is small
			InputRate: vk.VertexInputRateVertex,
		}},
		VertexAttributeDescriptionCount: uint32(len(attrs)),
		PVertexAttributeDescriptions:    attrs,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyPointList,
		PrimitiveRestartEnable: vk.False,
	}
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		CullMode:    vk.CullModeFlags(vk.CullModeNone),
		FrontFace:   vk.FrontFaceCounterClockwise,
		LineWidth:   1.0,
	}
	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}
	blend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{additiveAttachment()},
	}
	dynamicStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	dynamic := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(d.device, vk.PipelineCache(vk.NullHandle), 1, []vk.GraphicsPipelineCreateInfo{{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisample,
		PColorBlendState:    &blend,
		PDynamicState:       &dynamic,
		Layout:              p.layout,
		RenderPass:          d.renderPass,
		Subpass:             0,
	}}, nil, pipelines)
	if err := check(res, "vkCreateGraphicsPipelines "+desc.Label); err != nil {
		d.destroyPipeline(p)
		return gpucore.InvalidID, err
	}
	p.pipeline = pipelines[0]

	id := gpucore.RenderPipelineID(d.id())
	d.renders[id] = p
	return id, nil
}

// additiveAttachment adds source to destination: one + one in color and
// alpha.
func additiveAttachment() vk.PipelineColorBlendAttachmentState {
	return vk.PipelineColorBlendAttachmentState{
		BlendEnable:         vk.True,
		SrcColorBlendFactor: vk.BlendFactorOne,
		DstColorBlendFactor: vk.BlendFactorOne,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorOne,
		DstAlphaBlendFactor: vk.BlendFactorOne,
		AlphaBlendOp:        vk.BlendOpAdd,
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit),
	}
}

// DestroyRenderPipeline releases a render pipeline.
func (d *Device) DestroyRenderPipeline(id gpucore.RenderPipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.renders[id]; ok {
		d.destroyPipeline(p)
		delete(d.renders, id)
	}
}
