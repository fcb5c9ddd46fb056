// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGetPut(t *testing.T) {
	c := NewQueryCache(10, time.Minute)

	c.Put("messages:list:abc", []string{"m1", "m2"}, "messages")

	v, ok := c.Get("messages:list:abc")
	require.True(t, ok)
	assert.Equal(t, []string{"m1", "m2"}, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCacheExpiry(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	c.PutTTL("k", "v", 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCacheInvalidateByPrefix(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	c.Put("messages:1", "a")
	c.Put("messages:2", "b")
	c.Put("entities:1", "c")

	removed := c.Invalidate("messages:")
	assert.Equal(t, 2, removed)

	_, ok := c.Get("entities:1")
	assert.True(t, ok)
}

func TestCacheInvalidateByTag(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	c.Put("conv:list:page1", "a", "messages", "conversations")
	c.Put("search:xyz", "b", "messages")
	c.Put("graph:neighbors:e1", "c", "entities")

	c.Invalidate("messages")

	_, ok := c.Get("conv:list:page1")
	assert.False(t, ok)
	_, ok = c.Get("search:xyz")
	assert.False(t, ok)
	_, ok = c.Get("graph:neighbors:e1")
	assert.True(t, ok)
}

func TestCacheEvictsOldestExpiring(t *testing.T) {
	c := NewQueryCache(3, time.Minute)
	c.PutTTL("short", "a", 10*time.Second)
	c.PutTTL("medium", "b", time.Minute)
	c.PutTTL("long", "c", time.Hour)

	c.Put("new", "d")

	_, ok := c.Get("short")
	assert.False(t, ok, "entry expiring soonest should have been evicted")
	_, ok = c.Get("new")
	assert.True(t, ok)
}

func TestCacheClear(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
	}
	c.Clear()
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCacheGetOrLoadReadThrough(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	ctx := context.Background()

	loads := 0
	load := func() (interface{}, error) {
		loads++
		return "row", nil
	}

	v, err := c.GetOrLoad(ctx, "conversations:id:c1", load, "conversations")
	require.NoError(t, err)
	assert.Equal(t, "row", v)

	v, err = c.GetOrLoad(ctx, "conversations:id:c1", load, "conversations")
	require.NoError(t, err)
	assert.Equal(t, "row", v)
	assert.Equal(t, 1, loads, "second call must be a cache hit")

	c.Invalidate("conversations")
	_, err = c.GetOrLoad(ctx, "conversations:id:c1", load, "conversations")
	require.NoError(t, err)
	assert.Equal(t, 2, loads, "invalidation must force a reload")
}

func TestCacheGetOrLoadCollapsesConcurrentMisses(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	ctx := context.Background()

	var loads atomic.Int64
	release := make(chan struct{})
	load := func() (interface{}, error) {
		loads.Add(1)
		<-release
		return "row", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(ctx, "hot", load)
			assert.NoError(t, err)
			assert.Equal(t, "row", v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), loads.Load())
}

func TestCacheGetOrLoadDoesNotCacheErrors(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	ctx := context.Background()

	loads := 0
	boom := errors.New("store unavailable")
	load := func() (interface{}, error) {
		loads++
		if loads == 1 {
			return nil, boom
		}
		return "row", nil
	}

	_, err := c.GetOrLoad(ctx, "k", load)
	require.ErrorIs(t, err, boom)

	v, err := c.GetOrLoad(ctx, "k", load)
	require.NoError(t, err)
	assert.Equal(t, "row", v)
	assert.Equal(t, 2, loads)
}
