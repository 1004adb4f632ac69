// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-credstore.
//
// go-credstore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package keystore

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jeremyhahn/go-credstore/pkg/logging"
	"github.com/jeremyhahn/go-credstore/pkg/metrics"
)

// BuildFunc produces a value and reports whether it may be cached.
type BuildFunc[T any] func(ctx context.Context) (value T, cacheable bool, err error)

// Cache is a process-wide single-value cache whose population is
// conditional on the built value.
type Cache[T any] struct {
	name   string
	logger *logging.Logger

	mu     sync.Mutex
	value  T
	cached bool

	group singleflight.Group
}

// NewCache returns an empty cache. name appears in log records.
func NewCache[T any](name string, logger *logging.Logger) *Cache[T] {
	return &Cache[T]{
		name:   name,
		logger: logging.OrDefault(logger),
	}
}

// buildKey is the single flight key; reads and refreshes share one build.
const buildKey = "build"

// flight is the result shared with callers that joined a build.
type flight[T any] struct {
	value T
	fresh bool
}

// GetOrBuild returns the cached value unless refresh is set. Otherwise it
// runs build once across concurrent callers and keeps the result only when
// build reports it cacheable. A successful non-cacheable build clears any
// previous value; a failed build leaves the cache untouched.
//
// A caller that joined another caller's build builds again with its own
// ctx and build when the shared build was cancelled while its own ctx is
// live, or when it asked for a refresh and the shared call returned the
// cached value.
func (c *Cache[T]) GetOrBuild(ctx context.Context, build BuildFunc[T], refresh bool) (T, error) {
	if !refresh {
		if v, ok := c.Peek(); ok {
			c.logger.Debug("cache hit", "cache", c.name)
			metrics.RecordCache(metrics.CacheHit)
			return v, nil
		}
	}
	c.logger.Debug("cache miss", "cache", c.name, "refresh", refresh)
	metrics.RecordCache(metrics.CacheMiss)

	for {
		led := false
		res, err, _ := c.group.Do(buildKey, func() (any, error) {
			led = true
			if !refresh {
				if v, ok := c.Peek(); ok {
					return flight[T]{value: v}, nil
				}
			}
			v, cacheable, err := build(ctx)
			if err != nil {
				return nil, err
			}
			c.store(v, cacheable)
			return flight[T]{value: v, fresh: true}, nil
		})
		if !led && ctx.Err() == nil {
			if err != nil && IsCancelled(err) {
				c.logger.Debug("shared build cancelled, rebuilding", "cache", c.name)
				continue
			}
			if err == nil && refresh && !res.(flight[T]).fresh {
				continue
			}
		}
		if err != nil {
			var zero T
			return zero, err
		}
		return res.(flight[T]).value, nil
	}
}

func (c *Cache[T]) store(v T, cacheable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cacheable {
		c.value = v
		c.cached = true
		metrics.RecordCache(metrics.CacheStore)
		return
	}
	var zero T
	c.value = zero
	c.cached = false
	c.logger.Debug("cache skip", "cache", c.name)
	metrics.RecordCache(metrics.CacheSkip)
}

// Peek returns the cached value without building.
func (c *Cache[T]) Peek() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.cached
}

// Invalidate drops the cached value.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value = zero
	c.cached = false
}
