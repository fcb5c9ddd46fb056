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
	"golang.org/x/term"

	"github.com/teradata-labs/recall/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration and secrets",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate an example configuration file",
	Long:  `Write an example recall.yaml to the data directory.`,
	Run:   runConfigInit,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [key-name]",
	Short: "Save a secret to the system keyring",
	Long: `Save a secret to the system keyring (Keychain on macOS, Credential
Manager on Windows, Secret Service on Linux). The value is read from the
terminal without echo.

Run 'recall-mcp config list-keys' to see available key names.`,
	Args: cobra.ExactArgs(1),
	Run:  runConfigSetKey,
}

var configGetKeyCmd = &cobra.Command{
	Use:   "get-key [key-name]",
	Short: "Show a masked secret from the system keyring",
	Args:  cobra.ExactArgs(1),
	Run:   runConfigGetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key [key-name]",
	Short: "Delete a secret from the system keyring",
	Args:  cobra.ExactArgs(1),
	Run:   runConfigDeleteKey,
}

var configListKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List the secret keys the keyring can hold",
	Run:   runConfigListKeys,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Display the configuration merged from flags, file, environment, and defaults. Secrets are masked.`,
	Run:   runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configGetKeyCmd)
	configCmd.AddCommand(configDeleteKeyCmd)
	configCmd.AddCommand(configListKeysCmd)
	configCmd.AddCommand(configShowCmd)
}

const exampleConfig = `# recall-mcp configuration
# Generated by: recall-mcp config init

database:
  # path: ~/.recall/conversations.db
  cache_size_kb: 2000
  busy_timeout_ms: 5000
  # encrypt: false  # key via 'recall-mcp config set-key db_encryption_key'
  pool:
    min_connections: 2
    max_connections: 10
  query_cache:
    max_entries: 500
    ttl_ms: 300000

features:
  pool: true
  query_cache: true
  vector_search: true
  knowledge_graph: true
  analytics: true

search:
  semantic_weight: 0.6
  fts_weight: 0.4

context:
  default_max_tokens: 4000

llm:
  anthropic_model: claude-sonnet-4-5-20250929
  # anthropic_api_key: via keyring ('recall-mcp config set-key anthropic_api_key')
  bedrock_region: us-west-2
  bedrock_model_id: us.anthropic.claude-sonnet-4-5-20250929-v1:0
  allow_local_embedder: true

tools:
  timeout_ms: 30000

maintenance:
  enabled: true
  checkpoint_spec: "0 * * * *"
  prune_spec: "*/10 * * * *"
  analyze_spec: "30 3 * * *"
  metrics_retention_hours: 168

logging:
  level: info
  format: json
  # file: ~/.recall/recall.log
`

func runConfigInit(_ *cobra.Command, _ []string) {
	dir := config.GetDataDir()
	path := filepath.Join(dir, config.DefaultConfigFileName+".yaml")

	if err := os.MkdirAll(dir, 0750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating data directory: %v\n", err)
		os.Exit(exitRuntime)
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config file already exists: %s\n", path)
		fmt.Print("Overwrite? (y/N): ")
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return
		}
	}

	if err := os.WriteFile(path, []byte(exampleConfig), 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config file: %v\n", err)
		os.Exit(exitRuntime)
	}

	fmt.Printf("Config file created: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Save your Anthropic API key (optional, enables LLM summaries):")
	fmt.Println("   recall-mcp config set-key anthropic_api_key")
	fmt.Println("2. Point your MCP client at the recall-mcp binary.")
}

func runConfigSetKey(_ *cobra.Command, args []string) {
	keyName := args[0]

	available := config.ListAvailableSecretKeys()
	valid := false
	for _, k := range available {
		if k == keyName {
			valid = true
			break
		}
	}
	if !valid {
		fmt.Fprintf(os.Stderr, "Invalid key name: %s\n", keyName)
		fmt.Fprintln(os.Stderr, "Available keys:")
		for _, k := range available {
			fmt.Fprintf(os.Stderr, "  - %s\n", k)
		}
		os.Exit(exitStartup)
	}

	fmt.Printf("Enter %s (input hidden): ", keyName)
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(exitRuntime)
	}

	secret := string(secretBytes)
	if secret == "" {
		fmt.Fprintln(os.Stderr, "Secret cannot be empty")
		os.Exit(exitStartup)
	}

	if err := config.SaveSecretToKeyring(keyName, secret); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving to keyring: %v\n", err)
		os.Exit(exitRuntime)
	}

	fmt.Printf("Saved %s to system keyring\n", keyName)
}

func runConfigGetKey(_ *cobra.Command, args []string) {
	keyName := args[0]

	secret, err := config.GetSecretFromKeyring(keyName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error retrieving key: %v\n", err)
		fmt.Fprintf(os.Stderr, "Set it with: recall-mcp config set-key %s\n", keyName)
		os.Exit(exitRuntime)
	}

	fmt.Printf("%s: %s\n", keyName, maskSecret(secret))
}

func runConfigDeleteKey(_ *cobra.Command, args []string) {
	keyName := args[0]

	if err := config.DeleteSecretFromKeyring(keyName); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting key: %v\n", err)
		os.Exit(exitRuntime)
	}

	fmt.Printf("Deleted %s from system keyring\n", keyName)
}

func runConfigListKeys(_ *cobra.Command, _ []string) {
	fmt.Println("Available secret keys:")
	for _, key := range config.ListAvailableSecretKeys() {
		fmt.Printf("  - %s\n", key)
	}
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  recall-mcp config set-key <key-name>")
	fmt.Println("  recall-mcp config get-key <key-name>")
	fmt.Println("  recall-mcp config delete-key <key-name>")
}

func runConfigShow(_ *cobra.Command, _ []string) {
	fmt.Println("Database:")
	fmt.Printf("  Path: %s\n", cfg.Database.Path)
	fmt.Printf("  Encrypted: %t\n", cfg.Database.Encrypt)
	fmt.Printf("  Pool: %d-%d connections\n", cfg.Database.Pool.MinConnections, cfg.Database.Pool.MaxConnections)
	fmt.Printf("  Query cache: %d entries, %dms TTL\n", cfg.Database.Cache.MaxEntries, cfg.Database.Cache.TTLMs)
	fmt.Println()

	fmt.Println("Features:")
	fmt.Printf("  Connection pool: %t\n", cfg.Features.Pool)
	fmt.Printf("  Query cache: %t\n", cfg.Features.QueryCache)
	fmt.Printf("  Vector search: %t\n", cfg.Features.VectorSearch)
	fmt.Printf("  Knowledge graph: %t\n", cfg.Features.KnowledgeGraph)
	fmt.Printf("  Analytics: %t\n", cfg.Features.Analytics)
	fmt.Println()

	fmt.Println("LLM:")
	fmt.Printf("  Anthropic model: %s\n", cfg.LLM.AnthropicModel)
	if cfg.LLM.AnthropicAPIKey != "" {
		fmt.Printf("  Anthropic API key: %s\n", maskSecret(cfg.LLM.AnthropicAPIKey))
	} else {
		fmt.Printf("  Anthropic API key: (not set)\n")
	}
	fmt.Printf("  Bedrock region: %s\n", cfg.LLM.BedrockRegion)
	fmt.Printf("  Bedrock model: %s\n", cfg.LLM.BedrockModelID)
	fmt.Printf("  Local embedder fallback: %t\n", cfg.LLM.AllowLocalEmbedder)
	fmt.Println()

	fmt.Println("Search:")
	fmt.Printf("  Semantic weight: %.2f\n", cfg.Search.SemanticWeight)
	fmt.Printf("  FTS weight: %.2f\n", cfg.Search.FTSWeight)
	fmt.Println()

	fmt.Println("Maintenance:")
	fmt.Printf("  Enabled: %t\n", cfg.Maintenance.Enabled)
	if cfg.Maintenance.Enabled {
		fmt.Printf("  Checkpoint: %s\n", cfg.Maintenance.CheckpointSpec)
		fmt.Printf("  Prune: %s\n", cfg.Maintenance.PruneSpec)
		fmt.Printf("  Analyze: %s\n", cfg.Maintenance.AnalyzeSpec)
		fmt.Printf("  Metrics retention: %dh\n", cfg.Maintenance.MetricsRetentionHours)
	}
	fmt.Println()

	fmt.Println("Logging:")
	fmt.Printf("  Level: %s\n", cfg.Logging.Level)
	fmt.Printf("  Format: %s\n", cfg.Logging.Format)
	if cfg.Logging.File != "" {
		fmt.Printf("  File: %s\n", cfg.Logging.File)
	}
}

// maskSecret masks a secret for display.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
