package main

import (
	"context"
	"sync"

	"github.com/CTAG07/Logogen/pkg/markov"
	"github.com/CTAG07/Logogen/pkg/store"
)

// modelLoader is the part of the store the cache reads through.
type modelLoader interface {
	LoadModel(ctx context.Context, name string) (*markov.Model, store.ModelInfo, error)
}

type cachedModel struct {
	model *markov.Model
	info  store.ModelInfo
}

// ModelCache keeps loaded models in memory so that generation requests do not
// hit the database. Models are immutable, so a cached model can be handed to
// any number of concurrent generators.
//
// Every Put and Invalidate bumps a per-name generation. A load only fills the
// cache if the generation it started under is still current, so a model that
// was deleted or replaced mid-load is never cached.
type ModelCache struct {
	mu      sync.RWMutex
	loader  modelLoader
	entries map[string]cachedModel
	gens    map[string]uint64
}

// NewModelCache creates an empty cache reading from loader on misses.
func NewModelCache(loader modelLoader) *ModelCache {
	return &ModelCache{
		loader:  loader,
		entries: make(map[string]cachedModel),
		gens:    make(map[string]uint64),
	}
}

// Get returns the named model, loading it on a cache miss. Errors from the
// loader (store.ErrModelNotFound, markov.ErrMissingArtifact) are returned as is.
func (c *ModelCache) Get(ctx context.Context, name string) (*markov.Model, store.ModelInfo, error) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	gen := c.gens[name]
	c.mu.RUnlock()
	if ok {
		return entry.model, entry.info, nil
	}

	m, info, err := c.loader.LoadModel(ctx, name)
	if err != nil {
		return nil, store.ModelInfo{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[name] != gen {
		// Replaced or removed while loading: serve what was read, cache nothing.
		if existing, ok := c.entries[name]; ok {
			return existing.model, existing.info, nil
		}
		return m, info, nil
	}
	if existing, ok := c.entries[name]; ok {
		return existing.model, existing.info, nil
	}
	c.entries[name] = cachedModel{model: m, info: info}
	return m, info, nil
}

// Put stores a freshly saved model, replacing any cached copy.
func (c *ModelCache) Put(name string, m *markov.Model, info store.ModelInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[name]++
	c.entries[name] = cachedModel{model: m, info: info}
}

// Invalidate drops the named model from the cache.
func (c *ModelCache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[name]++
	delete(c.entries, name)
}

// Len returns the number of cached models.
func (c *ModelCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
