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
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Backup creates a safe online backup using VACUUM INTO and compresses it
// with gzip. VACUUM INTO produces a clean, defragmented copy while
// allowing concurrent reads on the source. The backup file is named with a
// timestamp suffix (e.g., "conversations.db.backup.20260824T153000.gz").
// On failure, any partially written file is removed before returning.
func (s *Store) Backup() (backupPath string, err error) {
	raw := s.cfg.Path + ".backup." + time.Now().Format("20060102T150405")
	backupPath = raw + ".gz"

	if _, err := s.db.Exec("VACUUM INTO ?", raw); err != nil {
		_ = os.Remove(raw) // best-effort cleanup
		return "", fmt.Errorf("backup: vacuum into %q: %w", raw, err)
	}
	defer func() { _ = os.Remove(raw) }()

	if err := verifyBackup(raw); err != nil {
		return "", fmt.Errorf("backup: verification failed for %q: %w", raw, err)
	}

	if err := compressFile(raw, backupPath); err != nil {
		_ = os.Remove(backupPath)
		return "", fmt.Errorf("backup: compress %q: %w", raw, err)
	}
	return backupPath, nil
}

// verifyBackup opens a database file and runs PRAGMA integrity_check to
// confirm the file is a valid, uncorrupted SQLite database.
func verifyBackup(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("verify backup: open %q: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("verify backup: integrity check on %q: %w", path, err)
	}
	if result != "ok" {
		return fmt.Errorf("verify backup: integrity check failed on %q: %s", path, result)
	}
	return nil
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		_ = gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Close()
}
