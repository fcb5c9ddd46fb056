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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlightGroupCollapsesConcurrentCalls(t *testing.T) {
	g := NewFlightGroup()

	var executions atomic.Int64
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]interface{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := g.Do(context.Background(), "query:abc", func() (interface{}, error) {
				executions.Add(1)
				<-release
				return "result", nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Let all goroutines reach Do before releasing the leader.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), executions.Load())
	for _, v := range results {
		assert.Equal(t, "result", v)
	}
}

func TestFlightGroupDistinctFingerprints(t *testing.T) {
	g := NewFlightGroup()

	v1, shared, err := g.Do(context.Background(), "a", func() (interface{}, error) { return 1, nil })
	require.NoError(t, err)
	assert.False(t, shared)
	assert.Equal(t, 1, v1)

	v2, _, err := g.Do(context.Background(), "b", func() (interface{}, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, v2)
}

func TestFlightGroupWaiterHonorsContext(t *testing.T) {
	g := NewFlightGroup()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _, _ = g.Do(context.Background(), "slow", func() (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, shared, err := g.Do(ctx, "slow", func() (interface{}, error) { return nil, nil })
	assert.True(t, shared)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
