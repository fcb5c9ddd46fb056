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
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/recall/internal/version"
	"github.com/teradata-labs/recall/pkg/analytics"
	"github.com/teradata-labs/recall/pkg/assembler"
	"github.com/teradata-labs/recall/pkg/config"
	"github.com/teradata-labs/recall/pkg/knowledge"
	"github.com/teradata-labs/recall/pkg/llm"
	"github.com/teradata-labs/recall/pkg/mcp/server"
	"github.com/teradata-labs/recall/pkg/mcp/transport"
	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/search"
	"github.com/teradata-labs/recall/pkg/storage"
	"github.com/teradata-labs/recall/pkg/storage/migrate"
	"github.com/teradata-labs/recall/pkg/tools"
)

const serverName = "recall-mcp"

// lazyEmbedder resolves the embedding provider from the llm_providers
// table on every call, so configure_llm_provider takes effect without a
// restart. The factory caches nothing heavier than an HTTP client.
type lazyEmbedder struct {
	factory    *llm.Factory
	allowLocal bool
}

func (l *lazyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := l.factory.Embedder(ctx, l.allowLocal)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

func runServe(cmd *cobra.Command, args []string) error {
	if check, _ := cmd.Flags().GetBool("health-check"); check {
		runHealth(cmd, args)
		return nil
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		os.Exit(exitStartup)
	}

	// Logging must never touch stdout: that is the MCP transport.
	logger, err := config.BuildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(exitStartup)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting recall-mcp",
		zap.String("version", version.Get()),
		zap.String("db", cfg.Database.Path))

	if cfg.LLM.AnthropicAPIKey != "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
		os.Setenv("ANTHROPIC_API_KEY", cfg.LLM.AnthropicAPIKey)
	}

	store, err := storage.Open(cfg.StorageConfig(), nil)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		os.Exit(exitStartup)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	migrator, err := migrate.NewMigrator(store.DB(), nil)
	if err != nil {
		logger.Error("failed to load migrations", zap.Error(err))
		os.Exit(exitStartup)
	}
	if err := migrator.MigrateUp(ctx); err != nil {
		logger.Error("migration failed", zap.Error(err))
		os.Exit(exitStartup)
	}

	var pool *storage.ConnectionPool
	if cfg.Features.Pool {
		pool, err = storage.NewConnectionPool(store, cfg.PoolConfig(), nil)
		if err != nil {
			logger.Error("failed to warm connection pool", zap.Error(err))
			os.Exit(exitStartup)
		}
		defer pool.Shutdown()
	}

	var cache *storage.QueryCache
	if cfg.Features.QueryCache {
		cache = storage.NewQueryCache(cfg.Database.Cache.MaxEntries, cfg.QueryCacheTTL())
	}

	convs := memory.NewConversationRepository(store, cache, nil)
	messages := memory.NewMessageRepository(store, cache, nil)
	summaries := memory.NewSummaryRepository(store, cache, nil)
	providers := memory.NewProviderRepository(store, nil)
	entities := memory.NewEntityRepository(store, cache, nil)
	graph := memory.NewGraphRepository(store, cache, nil)
	analyticsRepo := memory.NewAnalyticsRepository(store, cache, nil)

	factory := llm.NewFactory(providers, logger)

	fts := search.NewFTSIndex(store, nil)
	if err := fts.Backfill(ctx); err != nil {
		logger.Warn("fts backfill failed", zap.Error(err))
	}

	var vectors search.VectorIndex
	var embedder search.Embedder
	if cfg.Features.VectorSearch {
		vectors = search.NewSQLiteVectorIndex(store, nil)
		embedder = &lazyEmbedder{factory: factory, allowLocal: cfg.LLM.AllowLocalEmbedder}
	}
	engine := search.NewEngine(store, fts, vectors, embedder, messages, nil)

	contextCache := assembler.NewContextCache(store, time.Duration(cfg.Context.CacheTTLMs)*time.Millisecond)
	asm := assembler.New(convs, messages, summaries, entities, graph, engine, contextCache, nil)

	deps := tools.Deps{
		Store:     store,
		Convs:     convs,
		Messages:  messages,
		Summaries: summaries,
		Providers: providers,
		Entities:  entities,
		Graph:     graph,
		Analytics: analyticsRepo,
		Search:    engine,
		Assembler: asm,
		LLM:       factory,
		Logger:    logger,
	}

	if cfg.Features.KnowledgeGraph {
		svc := knowledge.NewService(entities, graph, nil, nil, logger, nil)
		messages.Subscribe(svc.Listener())
		deps.Knowledge = svc
		deps.Conflicts = knowledge.NewConflictScanner(messages, entities, 0, nil)
	}
	if vectors != nil {
		messages.Subscribe(search.NewIndexListener(messages, vectors, embedder, logger))
	}
	if cfg.Features.Analytics {
		deps.Analyzer = analytics.NewAnalyzer(convs, messages, entities, analyticsRepo, logger, nil)
	}

	registry := tools.NewRegistry(store, cfg.ToolTimeout(), logger, nil)
	if pool != nil {
		registry.UsePool(pool)
	}
	tools.RegisterAll(registry, deps)
	logger.Info("tools registered", zap.Int("count", len(registry.Names())))

	mcpServer := server.New(serverName, version.Get(), logger,
		server.WithToolProvider(registry),
		server.WithResourceProvider(tools.NewConversationResources(convs, messages)),
	)

	maintenance, err := startMaintenance(ctx, cfg, store, engine, contextCache, entities, pool, logger)
	if err != nil {
		logger.Error("failed to start maintenance jobs", zap.Error(err))
		os.Exit(exitStartup)
	}
	if maintenance != nil {
		defer maintenance.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	stdio := transport.NewStdio(os.Stdin, os.Stdout)
	logger.Info("mcp server ready on stdio")
	if err := mcpServer.Serve(ctx, stdio); err != nil {
		if ctx.Err() != nil {
			logger.Info("server stopped")
			return nil
		}
		logger.Error("server error", zap.Error(err))
		os.Exit(exitRuntime)
	}
	return nil
}

// startMaintenance schedules the retention and upkeep jobs. Returns nil
// when maintenance is disabled.
func startMaintenance(ctx context.Context, cfg *config.Config, store *storage.Store,
	engine *search.Engine, contextCache *assembler.ContextCache,
	entities *memory.EntityRepository, pool *storage.ConnectionPool,
	logger *zap.Logger) (*cron.Cron, error) {
	if !cfg.Maintenance.Enabled {
		return nil, nil
	}

	c := cron.New()

	_, err := c.AddFunc(cfg.Maintenance.CheckpointSpec, func() {
		if err := store.Checkpoint(ctx); err != nil {
			logger.Warn("wal checkpoint failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint schedule: %w", err)
	}

	retention := time.Duration(cfg.Maintenance.MetricsRetentionHours) * time.Hour
	_, err = c.AddFunc(cfg.Maintenance.PruneSpec, func() {
		cutoff := time.Now().Add(-retention).UnixMilli()
		if n, err := engine.PruneMetrics(ctx, cutoff); err != nil {
			logger.Warn("metric prune failed", zap.Error(err))
		} else if n > 0 {
			logger.Debug("pruned search metrics", zap.Int64("rows", n))
		}
		if n, err := contextCache.PruneStale(ctx, cutoff); err != nil {
			logger.Warn("context cache prune failed", zap.Error(err))
		} else if n > 0 {
			logger.Debug("pruned context cache", zap.Int64("rows", n))
		}
		if n, err := entities.GarbageCollect(ctx); err != nil {
			logger.Warn("entity garbage collection failed", zap.Error(err))
		} else if n > 0 {
			logger.Debug("collected orphaned entities", zap.Int64("rows", n))
		}
		if pool != nil {
			stats := pool.Stats()
			logger.Debug("pool stats",
				zap.Int("total", stats.Total),
				zap.Int("active", stats.Active),
				zap.Int64("timeouts", stats.Timeouts))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("prune schedule: %w", err)
	}

	_, err = c.AddFunc(cfg.Maintenance.AnalyzeSpec, func() {
		if err := store.Analyze(ctx); err != nil {
			logger.Warn("analyze failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("analyze schedule: %w", err)
	}

	c.Start()
	logger.Info("maintenance jobs scheduled",
		zap.String("checkpoint", cfg.Maintenance.CheckpointSpec),
		zap.String("prune", cfg.Maintenance.PruneSpec),
		zap.String("analyze", cfg.Maintenance.AnalyzeSpec))
	return c, nil
}
