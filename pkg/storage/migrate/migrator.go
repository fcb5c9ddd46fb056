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

// Package migrate owns the versioned schema. Migrations are embedded SQL
// file pairs named NNNNNN_description.up.sql / .down.sql, validated at
// load time and applied each inside its own transaction.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/recallerr"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migration is a single schema step.
type Migration struct {
	Version     int
	Description string
	UpSQL       string
	DownSQL     string
}

// Migrator applies and rolls back schema migrations. A sync.Mutex prevents
// concurrent migration execution within the process; cross-process safety
// comes from SQLite's write lock plus busy_timeout.
type Migrator struct {
	db         *sql.DB
	tracer     observability.Tracer
	migrations []Migration
	mu         sync.Mutex
}

// NewMigrator loads and validates the embedded migrations. Validation
// fails before any database work: versions must be unique and contiguous
// from 1, and every migration needs a description and non-empty up SQL.
func NewMigrator(db *sql.DB, tracer observability.Tracer) (*Migrator, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	if err := validateMigrations(migrations); err != nil {
		return nil, err
	}

	return &Migrator{db: db, tracer: tracer, migrations: migrations}, nil
}

// LatestVersion returns the highest built-in migration version.
func (m *Migrator) LatestVersion() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// MigrateUp applies all pending migrations. Fails with SchemaTooNew when
// the database records a version this binary does not know about.
func (m *Migrator) MigrateUp(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := m.tracer.StartSpan(ctx, "migrator.migrate_up")
	defer m.tracer.EndSpan(span)

	if err := m.bootstrapIfNeeded(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	if err := m.ensureMigrationsTable(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttribute("current_version", current)

	if latest := m.LatestVersion(); current > latest {
		err := recallerr.Newf(recallerr.KindSchemaTooNew,
			"database schema version %d exceeds supported version %d", current, latest)
		span.RecordError(err)
		return err
	}

	applied := 0
	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}
		if err := m.applyMigration(ctx, migration); err != nil {
			span.RecordError(err)
			return fmt.Errorf("migration %d (%s) failed: %w",
				migration.Version, migration.Description, err)
		}
		applied++
	}
	span.SetAttribute("migrations_applied", applied)
	return nil
}

// RollbackTo applies down migrations in descending order until the
// recorded version equals target.
func (m *Migrator) RollbackTo(ctx context.Context, target int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, span := m.tracer.StartSpan(ctx, "migrator.rollback_to")
	defer m.tracer.EndSpan(span)

	if target < 0 {
		return recallerr.Validation("target", "rollback target must be >= 0")
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttribute("current_version", current)
	span.SetAttribute("target_version", target)

	rolled := 0
	for i := len(m.migrations) - 1; i >= 0; i-- {
		migration := m.migrations[i]
		if migration.Version > current || migration.Version <= target {
			continue
		}
		if err := m.rollbackMigration(ctx, migration); err != nil {
			span.RecordError(err)
			return fmt.Errorf("rollback of migration %d failed: %w", migration.Version, err)
		}
		rolled++
	}
	span.SetAttribute("migrations_rolled_back", rolled)
	return nil
}

// MigrateDown rolls back the given number of steps.
func (m *Migrator) MigrateDown(ctx context.Context, steps int) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	target := current - steps
	if target < 0 {
		target = 0
	}
	return m.RollbackTo(ctx, target)
}

// CurrentVersion returns the highest applied migration version, 0 for a
// fresh database.
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var tableCount int
	if err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'",
	).Scan(&tableCount); err != nil {
		return 0, fmt.Errorf("check for schema_migrations table: %w", err)
	}
	if tableCount == 0 {
		return 0, nil
	}

	var version int
	if err := m.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations",
	).Scan(&version); err != nil {
		return 0, fmt.Errorf("get current migration version: %w", err)
	}
	return version, nil
}

// PendingMigrations lists the migrations not yet applied.
func (m *Migrator) PendingMigrations(ctx context.Context) ([]Migration, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, migration := range m.migrations {
		if migration.Version > current {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
			description TEXT
		)
	`)
	return err
}

func (m *Migrator) applyMigration(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, migration.UpSQL); err != nil {
		return fmt.Errorf("execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?) ON CONFLICT (version) DO NOTHING",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("record migration version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

func (m *Migrator) rollbackMigration(ctx context.Context, migration Migration) error {
	if migration.DownSQL == "" {
		return fmt.Errorf("no down migration for version %d", migration.Version)
	}

	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, migration.DownSQL); err != nil {
		return fmt.Errorf("execute rollback SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM schema_migrations WHERE version = ?", migration.Version,
	); err != nil {
		return fmt.Errorf("remove migration version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollback: %w", err)
	}
	return nil
}

// bootstrapIfNeeded adopts a pre-migration database. If the conversations
// table exists but schema_migrations does not, version 1 is seeded without
// re-running migration 1, preserving existing data.
func (m *Migrator) bootstrapIfNeeded(ctx context.Context) error {
	var conversationsCount int
	if err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='conversations'",
	).Scan(&conversationsCount); err != nil {
		return fmt.Errorf("check for conversations table: %w", err)
	}

	var migrationsCount int
	if err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'",
	).Scan(&migrationsCount); err != nil {
		return fmt.Errorf("check for schema_migrations table: %w", err)
	}

	if conversationsCount > 0 && migrationsCount == 0 {
		if err := m.ensureMigrationsTable(ctx); err != nil {
			return fmt.Errorf("create schema_migrations during bootstrap: %w", err)
		}
		if _, err := m.db.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES (1, 'core_tables (bootstrapped)')",
		); err != nil {
			return fmt.Errorf("seed bootstrap version: %w", err)
		}
	}
	return nil
}

// validateMigrations checks the loaded set before any database work:
// versions unique and contiguous from 1, non-empty up SQL and description.
func validateMigrations(migrations []Migration) error {
	for i, migration := range migrations {
		expected := i + 1
		if migration.Version != expected {
			return fmt.Errorf("invalid migration set: missing version %d", expected)
		}
		if strings.TrimSpace(migration.UpSQL) == "" {
			return fmt.Errorf("migration %d has empty up SQL", migration.Version)
		}
		if migration.Description == "" {
			return fmt.Errorf("migration %d has empty description", migration.Version)
		}
	}
	return nil
}

// loadMigrations reads the embedded SQL files and pairs up/down by version.
func loadMigrations() ([]Migration, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	upFiles := make(map[int]string)
	downFiles := make(map[int]string)
	descriptions := make(map[int]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		// Filename: 000001_description.up.sql or 000001_description.down.sql
		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		if _, seen := upFiles[version]; seen && strings.HasSuffix(parts[1], ".up.sql") {
			return nil, fmt.Errorf("duplicate migration version %d", version)
		}

		content, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", name, err)
		}

		remainder := parts[1]
		if desc, ok := strings.CutSuffix(remainder, ".up.sql"); ok {
			descriptions[version] = desc
			upFiles[version] = string(content)
		} else if strings.HasSuffix(remainder, ".down.sql") {
			downFiles[version] = string(content)
		}
	}

	var versions []int
	for v := range upFiles {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	migrations := make([]Migration, 0, len(versions))
	for _, v := range versions {
		migrations = append(migrations, Migration{
			Version:     v,
			Description: descriptions[v],
			UpSQL:       upFiles[v],
			DownSQL:     downFiles[v],
		})
	}
	return migrations, nil
}
