package archive

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/seek-ret/fwbundle/internal/remote"
)

// BuildFunc builds the index of an archive URL.
type BuildFunc func(ctx context.Context, archiveURL string) (*Index, error)

// Cache memoizes archive indexes per URL. Concurrent requests for a URL share a
// single build; a failed build leaves no entry so the next request starts over.
// Successful builds are kept for the life of the cache.
type Cache struct {
	build   BuildFunc
	metrics *cacheMetrics

	mu      sync.Mutex
	indexes map[string]*Index
	group   singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithBuildFunc replaces the default build, which opens the URL and reads its directory.
func WithBuildFunc(build BuildFunc) CacheOption {
	return func(c *Cache) {
		c.build = build
	}
}

// WithRegisterer registers the cache metrics with the given registerer.
func WithRegisterer(registerer prometheus.Registerer) CacheOption {
	return func(c *Cache) {
		c.metrics.register(registerer)
	}
}

// NewCache returns an empty cache opening archives through opener.
func NewCache(opener remote.Opener, opts ...CacheOption) *Cache {
	c := &Cache{
		indexes: make(map[string]*Index),
	}
	c.metrics = newCacheMetrics(c)
	c.build = func(ctx context.Context, archiveURL string) (*Index, error) {
		reader, err := opener.Open(archiveURL)
		if err != nil {
			return nil, err
		}
		return Build(ctx, archiveURL, reader)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the index of the archive, building it if needed. Callers that
// arrive while a build is in flight wait for it and receive the same index or error.
func (c *Cache) Get(ctx context.Context, archiveURL string) (*Index, error) {
	if index, ok := c.lookup(archiveURL); ok {
		c.metrics.requests.WithLabelValues("hit").Inc()
		return index, nil
	}

	value, err, shared := c.group.Do(archiveURL, func() (interface{}, error) {
		if index, ok := c.lookup(archiveURL); ok {
			return index, nil
		}

		// The build runs to completion for every waiter, whoever started it.
		index, err := c.build(context.WithoutCancel(ctx), archiveURL)
		if err != nil {
			c.metrics.builds.WithLabelValues("error").Inc()
			return nil, err
		}
		c.metrics.builds.WithLabelValues("ok").Inc()

		c.mu.Lock()
		c.indexes[archiveURL] = index
		c.mu.Unlock()
		return index, nil
	})
	if shared {
		c.metrics.requests.WithLabelValues("shared").Inc()
	} else {
		c.metrics.requests.WithLabelValues("miss").Inc()
	}
	if err != nil {
		return nil, err
	}
	return value.(*Index), nil
}

// contains reports whether a built index is cached for the URL.
func (c *Cache) contains(archiveURL string) bool {
	_, ok := c.lookup(archiveURL)
	return ok
}

// Len returns the number of cached indexes. It backs the fwbundle_index_cache_entries gauge.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.indexes)
}

// Forget drops the cached index of the URL.
func (c *Cache) Forget(archiveURL string) {
	c.mu.Lock()
	delete(c.indexes, archiveURL)
	c.mu.Unlock()
}

func (c *Cache) lookup(archiveURL string) (*Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	index, ok := c.indexes[archiveURL]
	return index, ok
}
