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
	"database/sql"
	"sync"
	"time"

	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/recallerr"
)

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MinConnections int // warmed at startup (default 2)
	MaxConnections int // hard cap (default 10)
}

// PoolStats is a snapshot of pool accounting.
type PoolStats struct {
	Total           int   `json:"total"`
	Active          int   `json:"active"`
	Idle            int   `json:"idle"`
	PendingRequests int   `json:"pendingRequests"`
	Acquired        int64 `json:"acquired"`
	Timeouts        int64 `json:"timeouts"`
}

// waiter is a parked Acquire call. Waiters are served in FIFO order; an
// abandoned waiter (context cancelled) is skipped during handoff.
type waiter struct {
	ch        chan *sql.Conn
	abandoned bool
}

// ConnectionPool is a bounded pool of connections over the shared Store
// handle. Each tool execution acquires one connection for the duration of
// its work; waiters queue FIFO and honor their context deadline.
type ConnectionPool struct {
	db     *sql.DB
	cfg    PoolConfig
	tracer observability.Tracer

	mu       sync.Mutex
	idle     []*sql.Conn
	waiters  []*waiter
	total    int
	active   int
	acquired int64
	timeouts int64
	shutdown bool
}

// NewConnectionPool creates a pool and warms MinConnections connections.
func NewConnectionPool(store *Store, cfg PoolConfig, tracer observability.Tracer) (*ConnectionPool, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if cfg.MinConnections <= 0 {
		cfg.MinConnections = 2
	}
	if cfg.MinConnections > cfg.MaxConnections {
		cfg.MinConnections = cfg.MaxConnections
	}

	p := &ConnectionPool{db: store.DB(), cfg: cfg, tracer: tracer}

	warmCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < cfg.MinConnections; i++ {
		conn, err := p.db.Conn(warmCtx)
		if err != nil {
			p.closeIdleLocked()
			return nil, recallerr.Wrap(recallerr.KindStoreUnavailable, "warm pool connection", err)
		}
		p.idle = append(p.idle, conn)
		p.total++
	}
	return p, nil
}

// Acquire takes a connection, waiting FIFO when the pool is saturated.
// Fails with PoolExhausted when ctx's deadline elapses before acquisition,
// Cancelled on plain cancellation, and PoolShutdown after Shutdown().
func (p *ConnectionPool) Acquire(ctx context.Context) (*sql.Conn, error) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, recallerr.New(recallerr.KindPoolShutdown, "connection pool is shut down")
	}

	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.active++
		p.acquired++
		p.mu.Unlock()
		return conn, nil
	}

	if p.total < p.cfg.MaxConnections {
		p.total++
		p.active++
		p.acquired++
		p.mu.Unlock()
		conn, err := p.db.Conn(ctx)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.active--
			p.mu.Unlock()
			if ctx.Err() != nil {
				return nil, p.ctxError(ctx)
			}
			return nil, recallerr.Wrap(recallerr.KindStoreUnavailable, "open pool connection", err)
		}
		return conn, nil
	}

	// Saturated: park in FIFO order.
	w := &waiter{ch: make(chan *sql.Conn, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case conn := <-w.ch:
		if conn == nil {
			// Channel closed by Shutdown.
			return nil, recallerr.New(recallerr.KindPoolShutdown, "connection pool is shut down")
		}
		return conn, nil
	case <-ctx.Done():
		p.mu.Lock()
		w.abandoned = true
		// A connection may have been handed off concurrently.
		select {
		case conn := <-w.ch:
			if conn != nil {
				p.mu.Unlock()
				return conn, nil
			}
		default:
		}
		if ctx.Err() == context.DeadlineExceeded {
			p.timeouts++
		}
		p.mu.Unlock()
		return nil, p.ctxError(ctx)
	}
}

func (p *ConnectionPool) ctxError(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return recallerr.Wrap(recallerr.KindPoolExhausted, "timed out waiting for connection", ctx.Err())
	}
	return recallerr.Wrap(recallerr.KindCancelled, "acquire cancelled", ctx.Err())
}

// Release returns a connection. A pending waiter receives it directly;
// otherwise it goes back to the idle list.
func (p *ConnectionPool) Release(conn *sql.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.shutdown {
		p.active--
		p.total--
		_ = conn.Close()
		return
	}

	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		if w.abandoned {
			continue
		}
		p.acquired++
		w.ch <- conn
		return
	}

	p.active--
	p.idle = append(p.idle, conn)
}

// WithConnection acquires a connection, runs fn, and releases on every
// exit path including panic and cancellation.
func (p *ConnectionPool) WithConnection(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)
	return fn(conn)
}

// WithTransaction acquires a connection, opens a transaction, and commits
// if fn succeeds. Rollback and release are guaranteed on every exit path.
func (p *ConnectionPool) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return p.WithConnection(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return recallerr.Wrap(recallerr.KindStoreUnavailable, "begin transaction", err)
		}
		defer tx.Rollback() //nolint:errcheck

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Stats returns a snapshot of pool accounting.
func (p *ConnectionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	pending := 0
	for _, w := range p.waiters {
		if !w.abandoned {
			pending++
		}
	}
	return PoolStats{
		Total:           p.total,
		Active:          p.active,
		Idle:            len(p.idle),
		PendingRequests: pending,
		Acquired:        p.acquired,
		Timeouts:        p.timeouts,
	}
}

// Shutdown closes idle connections and fails pending waiters. In-flight
// connections are closed as they are released.
func (p *ConnectionPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return
	}
	p.shutdown = true
	for _, w := range p.waiters {
		if !w.abandoned {
			close(w.ch)
		}
	}
	p.waiters = nil
	p.closeIdleLocked()
}

func (p *ConnectionPool) closeIdleLocked() {
	for _, conn := range p.idle {
		_ = conn.Close()
		p.total--
	}
	p.idle = nil
}
