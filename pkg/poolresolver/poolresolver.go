// Package poolresolver implements the Pool Resolver collaborator (spec
// §6 design note: "precedence is indexer -> cache -> direct"). The
// indexer tier is an external service outside this repo's scope; this
// package implements the cache and direct tiers a deployment actually
// runs: an in-memory cache seeded from whatever PoolRef the config
// already carries, falling back to nothing (which signals the caller to
// skip the eigen this cycle) when direct resolution has no better
// source, mirroring the teacher's fail-soft "skip, don't alert" pattern
// for pool-unresolved eigens (spec §7).
package poolresolver

import (
	"context"
	"fmt"
	"sync"

	keeper "github.com/eigenlabs/eigenkeeper"
)

// Resolver implements keeper.PoolResolver with a cache tier in front of
// whatever PoolRef the config was created with.
type Resolver struct {
	mu    sync.RWMutex
	cache map[string]*keeper.PoolRef
}

// New builds an empty Resolver.
func New() *Resolver {
	return &Resolver{cache: make(map[string]*keeper.PoolRef)}
}

// ResolvePool returns the cached PoolRef for cfg.ID if present, else
// falls back to cfg.Pool (the value an external indexer/API collaborator
// set at config-creation time) and caches it for subsequent cycles.
func (r *Resolver) ResolvePool(_ context.Context, cfg *keeper.EigenConfig) (*keeper.PoolRef, error) {
	r.mu.RLock()
	if cached, ok := r.cache[cfg.ID]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	if cfg.Pool == nil {
		return nil, fmt.Errorf("no pool resolved for eigen %s", cfg.ID)
	}

	r.mu.Lock()
	r.cache[cfg.ID] = cfg.Pool
	r.mu.Unlock()
	return cfg.Pool, nil
}

// Invalidate drops a cached resolution, forcing the next ResolvePool
// call to fall through to cfg.Pool again.
func (r *Resolver) Invalidate(eigenID string) {
	r.mu.Lock()
	delete(r.cache, eigenID)
	r.mu.Unlock()
}

var _ keeper.PoolResolver = (*Resolver)(nil)
