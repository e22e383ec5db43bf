package engine

import (
	"fmt"
	"sync"

	"github.com/devicelab-dev/xpath-healer/pkg/core"
)

// cacheKey identifies one evaluation under one context.
type cacheKey struct {
	StateID    string
	Platform   core.Platform
	Expression string
}

func (k cacheKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.StateID, k.Platform, k.Expression)
}

// cache maps cacheKey to immutable result snapshots. Entries are stamped
// with the context generation they were computed under; a write for a stale
// generation is discarded so a slow evaluation cannot repopulate a cache
// that SetContext already cleared.
type cache struct {
	mu         sync.RWMutex
	generation uint64
	entries    map[cacheKey]core.EvaluationResult
}

func newCache() *cache {
	return &cache{entries: make(map[cacheKey]core.EvaluationResult)}
}

func (c *cache) get(k cacheKey) (core.EvaluationResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.entries[k]
	if !ok {
		return core.EvaluationResult{}, false
	}
	return res.Clone(), true
}

func (c *cache) put(gen uint64, k cacheKey, res core.EvaluationResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.entries[k] = res.Clone()
	return true
}

func (c *cache) invalidate(k cacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, k)
}

// reset clears every entry and starts a new generation.
func (c *cache) reset() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries = make(map[cacheKey]core.EvaluationResult)
	return c.generation
}

func (c *cache) currentGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

func (c *cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
