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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-credstore/pkg/logging"
)

func TestCache_StoresCacheableValue(t *testing.T) {
	c := NewCache[string]("test", logging.Discard())
	var builds atomic.Int32
	build := func(context.Context) (string, bool, error) {
		builds.Add(1)
		return "view", true, nil
	}

	v, err := c.GetOrBuild(context.Background(), build, false)
	require.NoError(t, err)
	assert.Equal(t, "view", v)

	v, err = c.GetOrBuild(context.Background(), build, false)
	require.NoError(t, err)
	assert.Equal(t, "view", v)
	assert.EqualValues(t, 1, builds.Load())
}

func TestCache_SkipsNonCacheableValue(t *testing.T) {
	c := NewCache[int]("test", logging.Discard())
	var builds atomic.Int32
	build := func(context.Context) (int, bool, error) {
		return int(builds.Add(1)), false, nil
	}

	v1, err := c.GetOrBuild(context.Background(), build, false)
	require.NoError(t, err)
	v2, err := c.GetOrBuild(context.Background(), build, false)
	require.NoError(t, err)

	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)
	_, cached := c.Peek()
	assert.False(t, cached)
}

func TestCache_RefreshRebuilds(t *testing.T) {
	c := NewCache[int]("test", logging.Discard())
	var builds atomic.Int32
	build := func(context.Context) (int, bool, error) {
		return int(builds.Add(1)), true, nil
	}

	_, err := c.GetOrBuild(context.Background(), build, false)
	require.NoError(t, err)
	v, err := c.GetOrBuild(context.Background(), build, true)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	cached, ok := c.Peek()
	assert.True(t, ok)
	assert.Equal(t, 2, cached)
}

func TestCache_ErrorLeavesCacheUntouched(t *testing.T) {
	c := NewCache[string]("test", logging.Discard())
	_, err := c.GetOrBuild(context.Background(), func(context.Context) (string, bool, error) {
		return "first", true, nil
	}, false)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = c.GetOrBuild(context.Background(), func(context.Context) (string, bool, error) {
		return "", true, boom
	}, true)
	assert.ErrorIs(t, err, boom)

	v, ok := c.Peek()
	assert.True(t, ok)
	assert.Equal(t, "first", v)
}

func TestCache_ConcurrentBuildsOnce(t *testing.T) {
	c := NewCache[string]("test", logging.Discard())
	var builds atomic.Int32
	release := make(chan struct{})
	build := func(context.Context) (string, bool, error) {
		builds.Add(1)
		<-release
		return "shared", true, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrBuild(context.Background(), build, false)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, builds.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r)
	}
}

func TestCache_RefreshJoinsFirstBuild(t *testing.T) {
	c := NewCache[string]("test", logging.Discard())
	var builds atomic.Int32
	release := make(chan struct{})
	build := func(context.Context) (string, bool, error) {
		builds.Add(1)
		<-release
		return "view", true, nil
	}

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i, refresh := range []bool{false, true} {
		wg.Add(1)
		go func(i int, refresh bool) {
			defer wg.Done()
			v, err := c.GetOrBuild(context.Background(), build, refresh)
			assert.NoError(t, err)
			results[i] = v
		}(i, refresh)
		time.Sleep(20 * time.Millisecond)
	}

	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, builds.Load())
	assert.Equal(t, []string{"view", "view"}, results)
}

func TestCache_CancelledBuildDoesNotLeakToOtherCallers(t *testing.T) {
	c := NewCache[string]("test", logging.Discard())

	started := make(chan struct{})
	first := func(ctx context.Context) (string, bool, error) {
		close(started)
		<-ctx.Done()
		return "", false, Cancelled(ctx.Err())
	}
	var ownBuilds atomic.Int32
	second := func(context.Context) (string, bool, error) {
		ownBuilds.Add(1)
		return "second", true, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.GetOrBuild(ctx, first, false)
		firstErr <- err
	}()
	<-started

	type result struct {
		v   string
		err error
	}
	secondRes := make(chan result, 1)
	go func() {
		v, err := c.GetOrBuild(context.Background(), second, false)
		secondRes <- result{v, err}
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	assert.True(t, IsCancelled(<-firstErr))
	r := <-secondRes
	require.NoError(t, r.err)
	assert.Equal(t, "second", r.v)
	assert.EqualValues(t, 1, ownBuilds.Load())

	v, ok := c.Peek()
	assert.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestCache_OwnCancellationIsReturned(t *testing.T) {
	c := NewCache[string]("test", logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetOrBuild(ctx, func(ctx context.Context) (string, bool, error) {
		return "", false, Cancelled(ctx.Err())
	}, false)
	assert.True(t, IsCancelled(err))
	_, ok := c.Peek()
	assert.False(t, ok)
}

func TestCache_Invalidate(t *testing.T) {
	c := NewCache[string]("test", nil)
	_, err := c.GetOrBuild(context.Background(), func(context.Context) (string, bool, error) {
		return "v", true, nil
	}, false)
	require.NoError(t, err)

	c.Invalidate()
	_, ok := c.Peek()
	assert.False(t, ok)
}
