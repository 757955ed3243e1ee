package shaders

import (
	"errors"
	"testing"
)

func TestModuleCache(t *testing.T) {
	calls := map[string]int{}
	compile := func(src string) ([]uint32, error) {
		calls[src]++
		if src == "bad" {
			return nil, errors.New("syntax error")
		}
		return []uint32{spirvMagic, uint32(len(src))}, nil
	}
	c := newModuleCache(2)

	for range 3 {
		words, err := c.getOrCompile("a", compile)
		if err != nil {
			t.Fatal(err)
		}
		if words[1] != 1 {
			t.Errorf("words = %v", words)
		}
	}
	if calls["a"] != 1 {
		t.Errorf("compiled %q %d times, want 1", "a", calls["a"])
	}

	// Errors are not cached.
	for range 2 {
		if _, err := c.getOrCompile("bad", compile); err == nil {
			t.Fatal("expected compile error")
		}
	}
	if calls["bad"] != 2 {
		t.Errorf("failing source compiled %d times, want 2", calls["bad"])
	}
	if c.len() != 1 {
		t.Errorf("len = %d, want 1", c.len())
	}

	// The third source evicts "a", the least recently used.
	if _, err := c.getOrCompile("bb", compile); err != nil {
		t.Fatal(err)
	}
	if _, err := c.getOrCompile("ccc", compile); err != nil {
		t.Fatal(err)
	}
	if c.len() != 2 {
		t.Errorf("len = %d, want 2", c.len())
	}
	if _, err := c.getOrCompile("a", compile); err != nil {
		t.Fatal(err)
	}
	if calls["a"] != 2 {
		t.Errorf("evicted source compiled %d times, want 2", calls["a"])
	}
	if _, err := c.getOrCompile("ccc", compile); err != nil {
		t.Fatal(err)
	}
	if calls["ccc"] != 1 {
		t.Errorf("cached source recompiled %d times", calls["ccc"])
	}
}
