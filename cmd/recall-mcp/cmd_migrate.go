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
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/recall/pkg/storage"
	"github.com/teradata-labs/recall/pkg/storage/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long:  `Apply, roll back, and inspect schema migrations without starting the server.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	Long:  `Roll back the most recent migration, or more with --steps.`,
	RunE:  runMigrateDown,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE:  runMigrateStatus,
}

var migrateSteps int

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)

	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "number of migrations to roll back")
}

// openMigrator opens the configured database and returns a migrator over
// it. The caller closes the store.
func openMigrator() (*storage.Store, *migrate.Migrator, error) {
	store, err := storage.Open(cfg.StorageConfig(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	m, err := migrate.NewMigrator(store.DB(), nil)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("load migrations: %w", err)
	}
	return store, m, nil
}

func runMigrateUp(_ *cobra.Command, _ []string) error {
	store, m, err := openMigrator()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	before, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if err := m.MigrateUp(ctx); err != nil {
		return err
	}
	after, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if after == before {
		fmt.Printf("Schema already at version %d, nothing to apply.\n", after)
	} else {
		fmt.Printf("Migrated %d -> %d.\n", before, after)
	}
	return nil
}

func runMigrateDown(_ *cobra.Command, _ []string) error {
	if migrateSteps < 1 {
		fmt.Fprintln(os.Stderr, "--steps must be at least 1")
		os.Exit(exitStartup)
	}

	store, m, err := openMigrator()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	before, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if before == 0 {
		fmt.Println("Schema is empty, nothing to roll back.")
		return nil
	}
	if err := m.MigrateDown(ctx, migrateSteps); err != nil {
		return err
	}
	after, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Rolled back %d -> %d.\n", before, after)
	return nil
}

func runMigrateStatus(_ *cobra.Command, _ []string) error {
	store, m, err := openMigrator()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	pending, err := m.PendingMigrations(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Database: %s\n", store.Path())
	fmt.Printf("Schema version: %d (latest: %d)\n", current, m.LatestVersion())
	if len(pending) == 0 {
		fmt.Println("Up to date.")
		return nil
	}
	fmt.Printf("Pending migrations (%d):\n", len(pending))
	for _, p := range pending {
		fmt.Printf("  %3d  %s\n", p.Version, p.Description)
	}
	return nil
}
