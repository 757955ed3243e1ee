package shaders

import "sync"

// maxModules bounds the compiled module cache. A simulation compiles three
// sources; the rest of the room is for other tile sizes.
const maxModules = 16

var modules = newModuleCache(maxModules)

// moduleCache keeps compiled SPIR-V by WGSL source and evicts the least
// recently used module past its limit.
type moduleCache struct {
	mu      sync.Mutex
	entries map[string]*module
	limit   int
	tick    int64
}

type module struct {
	words []uint32
	atime int64
}

func newModuleCache(limit int) *moduleCache {
	return &moduleCache{entries: make(map[string]*module), limit: limit}
}

// getOrCompile returns the cached module for src or compiles it. Compile
// errors are not cached. The compiler runs under the lock, so concurrent
// callers compile a source once.
func (c *moduleCache) getOrCompile(src string, compile func(string) ([]uint32, error)) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	if m, ok := c.entries[src]; ok {
		m.atime = c.tick
		return m.words, nil
	}
	words, err := compile(src)
	if err != nil {
		return nil, err
	}
	c.entries[src] = &module{words: words, atime: c.tick}
	if len(c.entries) > c.limit {
		c.evictOldest()
	}
	return words, nil
}

// evictOldest drops the least recently used entry. Caller holds c.mu.
func (c *moduleCache) evictOldest() {
	var (
		oldest string
		atime  int64 = -1
	)
	for src, m := range c.entries {
		if atime < 0 || m.atime < atime {
			oldest, atime = src, m.atime
		}
	}
	delete(c.entries, oldest)
}

func (c *moduleCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
