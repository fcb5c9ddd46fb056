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
)

// flightCall is one in-flight computation shared by concurrent callers.
type flightCall struct {
	done  chan struct{}
	value interface{}
	err   error
}

// FlightGroup collapses concurrent executions for the same fingerprint
// into one underlying call. QueryCache.GetOrLoad runs its fill path
// through a group so a stampede of misses issues a single query.
type FlightGroup struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

// NewFlightGroup creates an empty group.
func NewFlightGroup() *FlightGroup {
	return &FlightGroup{calls: make(map[string]*flightCall)}
}

// Do executes fn once per fingerprint among concurrent callers; the rest
// wait for the result. Waiters honor their own context: a cancelled waiter
// returns early while the leader's call keeps running for the others.
func (g *FlightGroup) Do(ctx context.Context, fingerprint string, fn func() (interface{}, error)) (interface{}, bool, error) {
	g.mu.Lock()
	if call, ok := g.calls[fingerprint]; ok {
		g.mu.Unlock()
		select {
		case <-call.done:
			return call.value, true, call.err
		case <-ctx.Done():
			return nil, true, ctx.Err()
		}
	}

	call := &flightCall{done: make(chan struct{})}
	g.calls[fingerprint] = call
	g.mu.Unlock()

	call.value, call.err = fn()

	g.mu.Lock()
	delete(g.calls, fingerprint)
	g.mu.Unlock()
	close(call.done)

	return call.value, false, call.err
}
