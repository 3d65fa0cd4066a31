package artifact

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CachingResolver memoizes successful resolutions of another Resolver.
// Concurrent lookups of the same coordinate share one underlying call, which
// no single caller's cancellation can abort.
// Failures are not cached, so a later environment retries them.
type CachingResolver struct {
	next  Resolver
	group singleflight.Group

	mu    sync.RWMutex
	cache map[Coordinate]Resolved
}

// NewCachingResolver wraps next with a concurrency-safe cache.
func NewCachingResolver(next Resolver) *CachingResolver {
	return &CachingResolver{
		next:  next,
		cache: make(map[Coordinate]Resolved),
	}
}

// Resolve implements Resolver.
func (r *CachingResolver) Resolve(ctx context.Context, c Coordinate) (Resolved, error) {
	r.mu.RLock()
	res, ok := r.cache[c]
	r.mu.RUnlock()
	if ok {
		return res, nil
	}

	// The shared lookup runs detached from any one caller's deadline; each
	// caller stops waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(c.String(), func() (interface{}, error) {
		res, err := r.next.Resolve(shared, c)
		if err != nil {
			return Resolved{}, err
		}
		r.mu.Lock()
		r.cache[c] = res
		r.mu.Unlock()
		return res, nil
	})
	select {
	case <-ctx.Done():
		return Resolved{}, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return Resolved{}, out.Err
		}
		return out.Val.(Resolved), nil
	}
}

// Len returns the number of cached coordinates.
func (r *CachingResolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

var _ Resolver = (*CachingResolver)(nil)
