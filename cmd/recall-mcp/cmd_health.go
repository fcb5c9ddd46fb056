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
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/recall/pkg/storage"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database health",
	Long:  `Open the configured database read-only, run a probe query, and report the schema version. Exits 0 when healthy, 1 otherwise.`,
	Run:   runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(_ *cobra.Command, _ []string) {
	scfg := cfg.StorageConfig()
	scfg.ReadOnly = true

	store, err := storage.Open(scfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unhealthy: open failed: %v\n", err)
		os.Exit(exitStartup)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var one int
	if err := store.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		fmt.Fprintf(os.Stderr, "unhealthy: probe failed: %v\n", err)
		os.Exit(exitStartup)
	}

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unhealthy: schema check failed: %v\n", err)
		os.Exit(exitStartup)
	}

	fmt.Printf("healthy: %s (schema version %d)\n", store.Path(), version)
	os.Exit(exitOK)
}
