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
package llm

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/recallerr"
)

// Factory builds providers from llm_providers rows, walking active rows
// in priority order and falling back to the local implementations when
// no external provider can be constructed.
type Factory struct {
	providers *memory.ProviderRepository
	logger    *zap.Logger
}

// NewFactory wires the factory.
func NewFactory(providers *memory.ProviderRepository, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{providers: providers, logger: logger}
}

// Summarizer returns the highest-priority working summarizer. The local
// fallback always succeeds.
func (f *Factory) Summarizer(ctx context.Context) (Summarizer, error) {
	active, err := f.providers.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for i := range active {
		cfg := &active[i]
		s, err := f.buildSummarizer(cfg)
		if err != nil {
			f.logger.Warn("summarizer provider unavailable",
				zap.String("provider", cfg.Name), zap.Error(err))
			continue
		}
		if s != nil {
			return s, nil
		}
	}
	return LocalSummarizer{}, nil
}

// Embedder returns the highest-priority working embedder, or nil when
// embeddings are disabled outright. Callers run FTS-only in that case.
func (f *Factory) Embedder(ctx context.Context, allowLocal bool) (Embedder, error) {
	active, err := f.providers.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for i := range active {
		cfg := &active[i]
		e, err := f.buildEmbedder(ctx, cfg)
		if err != nil {
			f.logger.Warn("embedding provider unavailable",
				zap.String("provider", cfg.Name), zap.Error(err))
			continue
		}
		if e != nil {
			return e, nil
		}
	}
	if allowLocal {
		return LocalEmbedder{}, nil
	}
	return nil, recallerr.New(recallerr.KindExternalProviderUnavailable,
		"no embedding provider available")
}

// buildSummarizer maps a provider row to an implementation; nil means
// the row does not offer summarization.
func (f *Factory) buildSummarizer(cfg *memory.ProviderConfig) (Summarizer, error) {
	switch {
	case strings.Contains(cfg.Name, "anthropic") || strings.HasPrefix(cfg.ModelName, "claude"):
		return NewAnthropicSummarizer(cfg)
	case cfg.Kind == memory.ProviderLocal:
		return LocalSummarizer{}, nil
	default:
		return nil, nil
	}
}

// buildEmbedder maps a provider row to an implementation; nil means the
// row does not offer embeddings.
func (f *Factory) buildEmbedder(ctx context.Context, cfg *memory.ProviderConfig) (Embedder, error) {
	switch {
	case strings.Contains(cfg.Name, "bedrock") || strings.Contains(cfg.ModelName, "titan"):
		return NewTitanEmbedder(ctx, cfg)
	case cfg.Kind == memory.ProviderLocal:
		return LocalEmbedder{}, nil
	default:
		return nil, nil
	}
}
