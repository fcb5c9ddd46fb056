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

// Package config loads the server configuration from file, environment,
// and keyring, in that ascending priority order below CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"

	"github.com/teradata-labs/recall/pkg/storage"
)

const (
	// ServiceName keys the system keyring entries. Shared with the llm
	// package so provider keys and config secrets live under one service.
	ServiceName = "recall-mcp"
	// DefaultConfigFileName is the config file base name (recall.yaml).
	DefaultConfigFileName = "recall"
)

// Config holds all configuration for the recall MCP server.
// Priority: CLI flags > config file > env vars > defaults.
type Config struct {
	// DataDir is computed from RECALL_DATA_DIR or ~/.recall and is not
	// loaded from the config file.
	DataDir string `mapstructure:"-"`

	Database    DatabaseConfig    `mapstructure:"database"`
	Features    FeaturesConfig    `mapstructure:"features"`
	Search      SearchConfig      `mapstructure:"search"`
	Context     ContextConfig     `mapstructure:"context"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Tools       ToolsConfig       `mapstructure:"tools"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// DatabaseConfig holds the SQLite substrate settings.
type DatabaseConfig struct {
	// Path to the database file. Overridable via RECALL_DATABASE_PATH,
	// or the legacy PERSISTENCE_DB_PATH alias.
	Path string `mapstructure:"path"`

	CacheSizeKB   int   `mapstructure:"cache_size_kb"`
	BusyTimeoutMs int   `mapstructure:"busy_timeout_ms"`
	MmapSizeBytes int64 `mapstructure:"mmap_size_bytes"`

	// Encrypt enables SQLCipher encryption at rest. The key comes from
	// the RECALL_DB_KEY env var or the keyring, never from this file.
	Encrypt bool `mapstructure:"encrypt"`

	Pool  PoolConfig       `mapstructure:"pool"`
	Cache QueryCacheConfig `mapstructure:"query_cache"`
}

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MinConnections int `mapstructure:"min_connections"`
	MaxConnections int `mapstructure:"max_connections"`
}

// QueryCacheConfig sizes the read-query cache.
type QueryCacheConfig struct {
	MaxEntries int `mapstructure:"max_entries"`
	TTLMs      int `mapstructure:"ttl_ms"`
}

// FeaturesConfig toggles optional subsystems. Disabled subsystems are
// not wired and their tools are not registered.
type FeaturesConfig struct {
	Pool           bool `mapstructure:"pool"`
	QueryCache     bool `mapstructure:"query_cache"`
	VectorSearch   bool `mapstructure:"vector_search"`
	KnowledgeGraph bool `mapstructure:"knowledge_graph"`
	Analytics      bool `mapstructure:"analytics"`
}

// SearchConfig holds retrieval tuning.
type SearchConfig struct {
	SemanticWeight   float64 `mapstructure:"semantic_weight"`
	FTSWeight        float64 `mapstructure:"fts_weight"`
	MinSemanticScore float64 `mapstructure:"min_semantic_score"`
}

// ContextConfig holds assembler tuning.
type ContextConfig struct {
	DefaultMaxTokens int `mapstructure:"default_max_tokens"`
	CacheTTLMs       int `mapstructure:"cache_ttl_ms"`
}

// LLMConfig holds external provider credentials. Keys are filled from
// CLI/env/keyring only, never from the config file.
type LLMConfig struct {
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	AnthropicModel  string `mapstructure:"anthropic_model"`

	BedrockRegion  string `mapstructure:"bedrock_region"`
	BedrockModelID string `mapstructure:"bedrock_model_id"`

	// AllowLocalEmbedder permits the deterministic local embedder when
	// no external embedding provider is configured.
	AllowLocalEmbedder bool `mapstructure:"allow_local_embedder"`
}

// ToolsConfig bounds tool execution.
type ToolsConfig struct {
	TimeoutMs int `mapstructure:"timeout_ms"`
}

// MaintenanceConfig drives the background cron jobs.
type MaintenanceConfig struct {
	// Enabled starts the cron scheduler with the jobs below.
	Enabled bool `mapstructure:"enabled"`

	// CheckpointSpec truncates the WAL (cron spec, default hourly).
	CheckpointSpec string `mapstructure:"checkpoint_spec"`

	// PruneSpec prunes stale search metrics and context cache entries
	// (default every 10 minutes).
	PruneSpec string `mapstructure:"prune_spec"`

	// AnalyzeSpec refreshes the query planner statistics (default daily).
	AnalyzeSpec string `mapstructure:"analyze_spec"`

	// MetricsRetention bounds search metric age before pruning.
	MetricsRetentionHours int `mapstructure:"metrics_retention_hours"`
}

// LoggingConfig holds logging configuration. Output defaults to stderr:
// stdout carries the MCP protocol and must stay clean.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
	File   string `mapstructure:"file"`   // optional log file path
}

// Load reads configuration with proper priority:
// 1. Command line flags (highest, applied by the caller)
// 2. Config file
// 3. Environment variables (RECALL_ prefix)
// 4. Defaults (lowest)
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(GetDataDir())
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/recall/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// No config file; defaults + env + flags.
	}

	viper.SetEnvPrefix("RECALL")
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.DataDir = GetDataDir()

	if p := os.Getenv("RECALL_DATABASE_PATH"); p != "" {
		cfg.Database.Path = expandPath(p)
	} else if p := os.Getenv("PERSISTENCE_DB_PATH"); p != "" {
		// Legacy alias kept for existing deployments.
		cfg.Database.Path = expandPath(p)
	}

	// Keyring is best effort: absent entries are not an error, the user
	// can supply secrets via env instead.
	_ = loadSecretsFromKeyring(&cfg)

	return &cfg, nil
}

func setDefaults() {
	defaultDBPath := filepath.Join(GetDataDir(), "conversations.db")
	viper.SetDefault("database.path", defaultDBPath)
	viper.SetDefault("database.cache_size_kb", 2000)
	viper.SetDefault("database.busy_timeout_ms", 5000)
	viper.SetDefault("database.mmap_size_bytes", 256*1024*1024)
	viper.SetDefault("database.encrypt", false)
	viper.SetDefault("database.pool.min_connections", 2)
	viper.SetDefault("database.pool.max_connections", 10)
	viper.SetDefault("database.query_cache.max_entries", 500)
	viper.SetDefault("database.query_cache.ttl_ms", 300000)

	viper.SetDefault("features.pool", true)
	viper.SetDefault("features.query_cache", true)
	viper.SetDefault("features.vector_search", true)
	viper.SetDefault("features.knowledge_graph", true)
	viper.SetDefault("features.analytics", true)

	viper.SetDefault("search.semantic_weight", 0.6)
	viper.SetDefault("search.fts_weight", 0.4)
	viper.SetDefault("search.min_semantic_score", 0.0)

	viper.SetDefault("context.default_max_tokens", 4000)
	viper.SetDefault("context.cache_ttl_ms", 300000)

	viper.SetDefault("llm.anthropic_model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("llm.bedrock_region", "us-west-2")
	viper.SetDefault("llm.bedrock_model_id", "us.anthropic.claude-sonnet-4-5-20250929-v1:0")
	viper.SetDefault("llm.allow_local_embedder", true)

	viper.SetDefault("tools.timeout_ms", 30000)

	viper.SetDefault("maintenance.enabled", true)
	viper.SetDefault("maintenance.checkpoint_spec", "0 * * * *")
	viper.SetDefault("maintenance.prune_spec", "*/10 * * * *")
	viper.SetDefault("maintenance.analyze_spec", "30 3 * * *")
	viper.SetDefault("maintenance.metrics_retention_hours", 24*7)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Validate checks invariants the rest of the process relies on.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Pool.MinConnections < 0 ||
		(c.Database.Pool.MaxConnections > 0 && c.Database.Pool.MinConnections > c.Database.Pool.MaxConnections) {
		return fmt.Errorf("invalid pool sizing: min=%d max=%d",
			c.Database.Pool.MinConnections, c.Database.Pool.MaxConnections)
	}
	if w := c.Search.SemanticWeight + c.Search.FTSWeight; w < 0.999 || w > 1.001 {
		return fmt.Errorf("search weights must sum to 1, got %.3f", w)
	}
	if c.Tools.TimeoutMs <= 0 {
		return fmt.Errorf("tools.timeout_ms must be positive")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported logging.format: %s", c.Logging.Format)
	}
	return nil
}

// StorageConfig translates the database section for storage.Open.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Path:            c.Database.Path,
		CacheSizeKB:     c.Database.CacheSizeKB,
		BusyTimeoutMs:   c.Database.BusyTimeoutMs,
		MmapSizeBytes:   c.Database.MmapSizeBytes,
		EncryptDatabase: c.Database.Encrypt,
	}
}

// PoolConfig translates the pool section for storage.NewPool.
func (c *Config) PoolConfig() storage.PoolConfig {
	return storage.PoolConfig{
		MinConnections: c.Database.Pool.MinConnections,
		MaxConnections: c.Database.Pool.MaxConnections,
	}
}

// QueryCacheTTL returns the cache TTL as a duration.
func (c *Config) QueryCacheTTL() time.Duration {
	return time.Duration(c.Database.Cache.TTLMs) * time.Millisecond
}

// ToolTimeout returns the per-tool execution bound.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Tools.TimeoutMs) * time.Millisecond
}

// SecretMapping defines how a keyring entry lands in the config.
type SecretMapping struct {
	KeyringKey string
	Setter     func(*Config, string)
	IsSet      func(*Config) bool
}

// GetSecretMappings returns all keyring-backed secrets.
func GetSecretMappings() []SecretMapping {
	return []SecretMapping{
		{
			KeyringKey: "anthropic_api_key",
			Setter:     func(c *Config, val string) { c.LLM.AnthropicAPIKey = val },
			IsSet:      func(c *Config) bool { return c.LLM.AnthropicAPIKey != "" },
		},
		{
			KeyringKey: "db_encryption_key",
			Setter: func(c *Config, val string) {
				if os.Getenv("RECALL_DB_KEY") == "" {
					os.Setenv("RECALL_DB_KEY", val)
				}
			},
			IsSet: func(c *Config) bool { return os.Getenv("RECALL_DB_KEY") != "" },
		},
	}
}

func loadSecretsFromKeyring(cfg *Config) error {
	for _, mapping := range GetSecretMappings() {
		if mapping.IsSet(cfg) {
			continue
		}
		value, err := GetSecretFromKeyring(mapping.KeyringKey)
		if err == nil && value != "" {
			mapping.Setter(cfg, value)
		}
	}
	return nil
}

// GetSecretFromKeyring retrieves a secret from the system keyring.
func GetSecretFromKeyring(key string) (string, error) {
	return keyring.Get(ServiceName, key)
}

// SaveSecretToKeyring saves a secret to the system keyring.
func SaveSecretToKeyring(key, value string) error {
	return keyring.Set(ServiceName, key, value)
}

// DeleteSecretFromKeyring removes a secret from the system keyring.
func DeleteSecretFromKeyring(key string) error {
	return keyring.Delete(ServiceName, key)
}

// ListAvailableSecretKeys returns the keyring keys the server understands.
func ListAvailableSecretKeys() []string {
	mappings := GetSecretMappings()
	keys := make([]string, len(mappings))
	for i, mapping := range mappings {
		keys[i] = mapping.KeyringKey
	}
	return keys
}
