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
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/recall/pkg/storage"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a compressed backup of the database",
	Long:  `Write a gzip-compressed snapshot of the database next to the database file. Safe to run while a server holds the database.`,
	RunE:  runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)
}

func runBackup(_ *cobra.Command, _ []string) error {
	store, err := storage.Open(cfg.StorageConfig(), nil)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	path, err := store.Backup()
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("backup written but unreadable: %w", err)
	}

	fmt.Printf("Backup written: %s (%d bytes)\n", path, info.Size())
	return nil
}
