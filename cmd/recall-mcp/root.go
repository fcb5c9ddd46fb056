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
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/recall/internal/version"
	"github.com/teradata-labs/recall/pkg/config"
)

// Exit codes: 0 clean shutdown, 1 startup failure (bad flags, config,
// database open, migration), 2 unrecoverable runtime error.
const (
	exitOK      = 0
	exitStartup = 1
	exitRuntime = 2
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "recall-mcp",
	Short:   "Persistent conversation memory over the Model Context Protocol",
	Long:    `recall-mcp serves conversation memory tools (save, search, summarize, knowledge graph, analytics) to MCP clients over stdio, backed by a single SQLite file.`,
	Version: version.Get(),
	RunE:    runServe,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitStartup)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $RECALL_DATA_DIR/recall.yaml)")

	rootCmd.Flags().Bool("health-check", false, "check database health and exit (0 healthy, 1 otherwise)")

	defaultDBPath := filepath.Join(config.GetDataDir(), "conversations.db")
	rootCmd.PersistentFlags().String("db", defaultDBPath, "SQLite database path")

	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
	rootCmd.PersistentFlags().String("log-file", "", "log file path (default: stderr)")

	rootCmd.PersistentFlags().Bool("knowledge-graph", true, "enable entity extraction and the knowledge graph")
	rootCmd.PersistentFlags().Bool("analytics", true, "enable conversation analytics")
	rootCmd.PersistentFlags().Bool("vector-search", true, "enable embedding-based semantic search")

	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = viper.BindPFlag("features.knowledge_graph", rootCmd.PersistentFlags().Lookup("knowledge-graph"))
	_ = viper.BindPFlag("features.analytics", rootCmd.PersistentFlags().Lookup("analytics"))
	_ = viper.BindPFlag("features.vector_search", rootCmd.PersistentFlags().Lookup("vector-search"))
}

// initConfig loads configuration once per invocation. Failures here are
// startup failures and exit with code 1.
func initConfig() {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(exitStartup)
	}
	cfg = loaded
}
