// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package shaders

import (
	"fmt"

	"github.com/gogpu/naga"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// CompileSPIRV compiles WGSL source to SPIR-V words. Modules are cached by
// source; callers must not modify the returned slice.
func CompileSPIRV(wgsl string) ([]uint32, error) {
	return modules.getOrCompile(wgsl, compile)
}

func compile(wgsl string) ([]uint32, error) {
	raw, err := naga.Compile(wgsl)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	if len(raw) < 4 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("compile shader: malformed SPIR-V (%d bytes)", len(raw))
	}

	// SPIR-V is little-endian 32-bit words
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = uint32(raw[i*4]) |
			uint32(raw[i*4+1])<<8 |
			uint32(raw[i*4+2])<<16 |
			uint32(raw[i*4+3])<<24
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("compile shader: bad SPIR-V magic 0x%08X", words[0])
	}
	return words, nil
}
