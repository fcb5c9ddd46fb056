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

// Package storage owns the single-file SQLite database behind recall: the
// Store wrapper (pragmas, transactions, maintenance), the bounded
// connection pool, the tag-invalidated query cache, and the single-flight
// group that collapses concurrent cache misses.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/teradata-labs/recall/internal/sqlitedriver" // registers "sqlite3" driver
	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/recallerr"
)

// Config holds database configuration including optional encryption.
type Config struct {
	// Path to the SQLite database file.
	Path string

	// ReadOnly opens the database without applying migrations or writes.
	ReadOnly bool

	// CacheSizeKB is the page-cache size passed to PRAGMA cache_size.
	// Zero means the 2000 KB default.
	CacheSizeKB int

	// BusyTimeoutMs is the lock-contention wait. Zero means 5000.
	BusyTimeoutMs int

	// MmapSizeBytes is the memory-mapped region size. Zero means 256 MiB.
	MmapSizeBytes int64

	// EncryptDatabase enables SQLCipher encryption at rest.
	// Requires a key via EncryptionKey or the RECALL_DB_KEY env var.
	EncryptDatabase bool
	EncryptionKey   string
}

// Store wraps the single database file. All repositories share one Store;
// concurrency is mediated by WAL mode plus the ConnectionPool.
type Store struct {
	db     *sql.DB
	cfg    Config
	tracer observability.Tracer
}

// Open opens the database file, creating its directory if needed, applies
// the standard pragmas, and verifies connectivity. Fails with
// StoreUnavailable when the connection cannot be established.
func Open(cfg Config, tracer observability.Tracer) (*Store, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if cfg.Path == "" {
		cfg.Path = "./conversations.db"
	}
	if cfg.CacheSizeKB <= 0 {
		cfg.CacheSizeKB = 2000
	}
	if cfg.BusyTimeoutMs <= 0 {
		cfg.BusyTimeoutMs = 5000
	}
	if cfg.MmapSizeBytes <= 0 {
		cfg.MmapSizeBytes = 256 << 20
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, recallerr.Wrap(recallerr.KindStoreUnavailable, "create database directory", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, recallerr.Wrap(recallerr.KindStoreUnavailable, "open database", err)
	}

	if cfg.EncryptDatabase {
		key := cfg.EncryptionKey
		if key == "" {
			key = os.Getenv("RECALL_DB_KEY")
		}
		if key == "" {
			db.Close()
			return nil, recallerr.New(recallerr.KindStoreUnavailable,
				"encryption enabled but no key provided (set EncryptionKey or RECALL_DB_KEY)")
		}
		// Must be the first statement after open.
		if _, err := db.Exec(fmt.Sprintf("PRAGMA key = '%s'", key)); err != nil {
			db.Close()
			return nil, recallerr.Wrap(recallerr.KindStoreUnavailable, "set encryption key", err)
		}
	}

	s := &Store{db: db, cfg: cfg, tracer: tracer}
	if err := s.applyPragmas(); err != nil {
		db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		if cfg.EncryptDatabase {
			return nil, recallerr.Wrap(recallerr.KindStoreUnavailable,
				"verify encryption key (wrong key or corrupted database)", err)
		}
		return nil, recallerr.Wrap(recallerr.KindStoreUnavailable, "ping database", err)
	}

	return s, nil
}

// applyPragmas configures WAL journaling, foreign keys, and cache tuning.
func (s *Store) applyPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		fmt.Sprintf("PRAGMA busy_timeout=%d", s.cfg.BusyTimeoutMs),
		fmt.Sprintf("PRAGMA mmap_size=%d", s.cfg.MmapSizeBytes),
		// Negative cache_size means KB instead of pages.
		fmt.Sprintf("PRAGMA cache_size=-%d", s.cfg.CacheSizeKB),
	}
	if s.cfg.ReadOnly {
		pragmas = append(pragmas, "PRAGMA query_only=ON")
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return recallerr.Wrap(recallerr.KindStoreUnavailable, "apply pragma "+p, err)
		}
	}
	return nil
}

// DB exposes the underlying handle for the pool and the migrator.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.cfg.Path
}

// ReadOnly reports whether the store was opened read-only.
// Read-only mode disables migrations.
func (s *Store) ReadOnly() bool {
	return s.cfg.ReadOnly
}

// Exec runs a statement.
func (s *Store) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, span := s.tracer.StartSpan(ctx, "store.exec")
	defer s.tracer.EndSpan(span)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("exec: %w", err)
	}
	return res, nil
}

// Query runs a query returning rows. The caller owns rows.Close().
func (s *Store) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	ctx, span := s.tracer.StartSpan(ctx, "store.query")
	defer s.tracer.EndSpan(span)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

// QueryRow runs a single-row query.
func (s *Store) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// Tx runs fn inside a transaction. The transaction is rolled back on error
// or panic and committed otherwise; the connection is released on every
// exit path.
func (s *Store) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx, span := s.tracer.StartSpan(ctx, "store.tx")
	defer s.tracer.EndSpan(span)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return recallerr.Wrap(recallerr.KindStoreUnavailable, "begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		span.RecordError(err)
		return err
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Checkpoint truncates the WAL into the main database file.
func (s *Store) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// Analyze refreshes the query planner statistics.
func (s *Store) Analyze(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	return nil
}

// Vacuum rebuilds the database file, reclaiming free pages.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// SchemaVersion reads the recorded schema version. The authoritative copy
// lives in persistence_state; schema_migrations is the fallback for
// databases mid-migration. Returns 0 for a fresh file.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var tableCount int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='persistence_state'",
	).Scan(&tableCount); err != nil {
		return 0, fmt.Errorf("check persistence_state table: %w", err)
	}
	if tableCount > 0 {
		var v sql.NullInt64
		err := s.db.QueryRowContext(ctx,
			"SELECT CAST(value AS INTEGER) FROM persistence_state WHERE key = 'schema_version'",
		).Scan(&v)
		if err == nil && v.Valid {
			return int(v.Int64), nil
		}
		if err != nil && err != sql.ErrNoRows {
			return 0, fmt.Errorf("read schema_version: %w", err)
		}
	}

	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'",
	).Scan(&tableCount); err != nil {
		return 0, fmt.Errorf("check schema_migrations table: %w", err)
	}
	if tableCount == 0 {
		return 0, nil
	}
	var version int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations",
	).Scan(&version); err != nil {
		return 0, fmt.Errorf("read max migration version: %w", err)
	}
	return version, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
