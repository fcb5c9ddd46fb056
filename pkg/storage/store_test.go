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
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "test.db")
	s, err := Open(Config{Path: path}, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, path, s.Path())
}

func TestOpenAppliesWAL(t *testing.T) {
	s := openTestStore(t)

	var mode string
	err := s.QueryRow(context.Background(), "PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

func TestOpenForeignKeysOn(t *testing.T) {
	s := openTestStore(t)

	var fk int
	err := s.QueryRow(context.Background(), "PRAGMA foreign_keys").Scan(&fk)
	require.NoError(t, err)
	assert.Equal(t, 1, fk)
}

func TestExecAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	_, err = s.Exec(ctx, "INSERT INTO t (name) VALUES (?)", "alpha")
	require.NoError(t, err)

	var name string
	err = s.QueryRow(ctx, "SELECT name FROM t WHERE id = 1").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "alpha", name)
}

func TestTxCommitsOnSuccess(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	err = s.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO t (id) VALUES (1)")
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, s.QueryRow(ctx, "SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO t (id) VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, s.QueryRow(ctx, "SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSchemaVersionFreshDatabase(t *testing.T) {
	s := openTestStore(t)

	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestSchemaVersionFromPersistenceState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Exec(ctx, "CREATE TABLE persistence_state (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at INTEGER NOT NULL DEFAULT 0)")
	require.NoError(t, err)
	_, err = s.Exec(ctx, "INSERT INTO persistence_state (key, value) VALUES ('schema_version', '7')")
	require.NoError(t, err)

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCheckpointAndAnalyze(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	require.NoError(t, s.Checkpoint(ctx))
	require.NoError(t, s.Analyze(ctx))
	require.NoError(t, s.Vacuum(ctx))
}

func TestBackupProducesVerifiedArchive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Exec(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	_, err = s.Exec(ctx, "INSERT INTO t (v) VALUES ('payload')")
	require.NoError(t, err)

	path, err := s.Backup()
	require.NoError(t, err)
	assert.Contains(t, path, ".backup.")
	assert.Contains(t, path, ".gz")
	assert.FileExists(t, path)
}
