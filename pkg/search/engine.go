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
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/recallerr"
	"github.com/teradata-labs/recall/pkg/storage"
	"github.com/teradata-labs/recall/pkg/validation"
)

// Strategy selects how candidates are ranked.
type Strategy string

const (
	StrategyFTS      Strategy = "fts"
	StrategySemantic Strategy = "semantic"
	StrategyHybrid   Strategy = "hybrid"
	StrategyAuto     Strategy = "auto"
)

// Default hybrid fusion weights.
const (
	DefaultSemanticWeight = 0.6
	DefaultFTSWeight      = 0.4
)

// Embedder turns text into a dense vector. Implemented by pkg/llm.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options shapes a search call. Zero weights select the defaults.
type Options struct {
	Strategy         Strategy
	SemanticWeight   float64
	FTSWeight        float64
	Filter           FTSFilter
	Limit            int
	Offset           int
	MinSemanticScore float64
	MatchType        MatchType
}

// Result is one ranked message.
type Result struct {
	Message       memory.Message `json:"message"`
	Score         float64        `json:"score"`
	FTSScore      float64        `json:"ftsScore"`
	SemanticScore float64        `json:"semanticScore"`
}

// Response carries the ranked results plus fallback bookkeeping.
type Response struct {
	Results        []Result `json:"results"`
	Strategy       Strategy `json:"strategy"`
	FallbackUsed   bool     `json:"fallbackUsed"`
	FallbackReason string   `json:"fallbackReason,omitempty"`
	DurationMs     float64  `json:"durationMs"`
}

// Engine selects and fuses retrieval strategies. A nil vector index or
// embedder puts the engine in FTS-only mode; semantic requests then fail
// and hybrid requests fall back with a machine-readable reason.
type Engine struct {
	store    *storage.Store
	fts      *FTSIndex
	vectors  VectorIndex
	embedder Embedder
	messages *memory.MessageRepository
	tracer   observability.Tracer
}

// NewEngine wires the search engine. vectors and embedder may be nil.
func NewEngine(store *storage.Store, fts *FTSIndex, vectors VectorIndex, embedder Embedder,
	messages *memory.MessageRepository, tracer observability.Tracer) *Engine {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Engine{
		store: store, fts: fts, vectors: vectors, embedder: embedder,
		messages: messages, tracer: tracer,
	}
}

// VectorAvailable reports whether semantic retrieval can run.
func (e *Engine) VectorAvailable() bool {
	return e.vectors != nil && e.embedder != nil
}

// Search ranks messages for a query under the selected strategy. Every
// call records a search_metrics row.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	ctx, span := e.tracer.StartSpan(ctx, "search.search",
		observability.WithAttribute(observability.AttrQuery, query),
		observability.WithAttribute(observability.AttrStrategy, string(opts.Strategy)))
	defer e.tracer.EndSpan(span)

	if err := validation.NonEmpty("query", query, 1024); err != nil {
		return nil, err
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyAuto
	}
	if opts.SemanticWeight == 0 && opts.FTSWeight == 0 {
		opts.SemanticWeight = DefaultSemanticWeight
		opts.FTSWeight = DefaultFTSWeight
	}
	if opts.SemanticWeight < 0 || opts.SemanticWeight > 1 ||
		opts.FTSWeight < 0 || opts.FTSWeight > 1 {
		return nil, recallerr.Validation("weights", "weights must be in [0, 1]")
	}
	if diff := opts.SemanticWeight + opts.FTSWeight - 1; diff > 1e-9 || diff < -1e-9 {
		return nil, recallerr.Validation("weights", "semantic and fts weights must sum to 1")
	}
	limit, err := validation.Limit(opts.Limit)
	if err != nil {
		return nil, err
	}
	opts.Limit = limit
	if err := validation.Offset(opts.Offset); err != nil {
		return nil, err
	}

	strategy := opts.Strategy
	if strategy == StrategyAuto {
		strategy = e.chooseStrategy(query)
		span.SetAttribute("auto_strategy", string(strategy))
	}

	start := time.Now()
	resp, err := e.run(ctx, query, strategy, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	resp.DurationMs = float64(time.Since(start).Microseconds()) / 1000

	e.recordMetric(ctx, query, resp)
	span.SetAttribute("results", len(resp.Results))
	return resp, nil
}

// chooseStrategy implements the auto rule: fts for short or symbolic
// queries, hybrid when vectors are available, fts otherwise.
func (e *Engine) chooseStrategy(query string) Strategy {
	words := strings.Fields(query)
	if len(words) <= 2 || isSymbolic(query) {
		return StrategyFTS
	}
	if e.VectorAvailable() {
		return StrategyHybrid
	}
	return StrategyFTS
}

func isSymbolic(query string) bool {
	for _, r := range query {
		if unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func (e *Engine) run(ctx context.Context, query string, strategy Strategy, opts Options) (*Response, error) {
	switch strategy {
	case StrategyFTS:
		results, err := e.ftsSearch(ctx, query, opts)
		if err != nil {
			return nil, err
		}
		return &Response{Results: results, Strategy: StrategyFTS}, nil

	case StrategySemantic:
		if !e.VectorAvailable() {
			return nil, recallerr.New(recallerr.KindExternalProviderUnavailable,
				"semantic search requires a configured vector index and embedder")
		}
		results, err := e.semanticSearch(ctx, query, opts)
		if err != nil {
			// Embedder failure falls back to FTS with bookkeeping.
			ftsResults, ftsErr := e.ftsSearch(ctx, query, opts)
			if ftsErr != nil {
				return nil, err
			}
			return &Response{
				Results:        ftsResults,
				Strategy:       StrategyFTS,
				FallbackUsed:   true,
				FallbackReason: "embedder_failed: " + err.Error(),
			}, nil
		}
		return &Response{Results: results, Strategy: StrategySemantic}, nil

	case StrategyHybrid:
		return e.hybridSearch(ctx, query, opts)

	default:
		return nil, recallerr.Validation("strategy", "strategy must be one of fts, semantic, hybrid, auto")
	}
}

// ftsSearch runs full-text retrieval and normalizes bm25 ranks into
// [0,1] scores over the candidate set (best rank maps to 1).
func (e *Engine) ftsSearch(ctx context.Context, query string, opts Options) ([]Result, error) {
	// Over-fetch so offset and fusion have material to work with.
	hits, err := e.fts.Search(ctx, query, opts.MatchType, opts.Filter, opts.Limit+opts.Offset+validation.DefaultLimit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	best, worst := hits[0].Rank, hits[0].Rank
	for _, h := range hits {
		if h.Rank < best {
			best = h.Rank
		}
		if h.Rank > worst {
			worst = h.Rank
		}
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		score := 1.0
		if worst != best {
			score = (worst - h.Rank) / (worst - best)
		}
		msg, err := e.messages.FindByID(ctx, h.MessageID)
		if err != nil {
			continue
		}
		results = append(results, Result{Message: *msg, Score: score, FTSScore: score})
	}
	return e.paginate(sortResults(results), opts), nil
}

func (e *Engine) semanticSearch(ctx context.Context, query string, opts Options) ([]Result, error) {
	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, recallerr.Wrap(recallerr.KindExternalProviderUnavailable, "embed query", err)
	}
	hits, err := e.vectors.Search(ctx, vector, opts.Limit+opts.Offset+validation.DefaultLimit, "message")
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < opts.MinSemanticScore {
			continue
		}
		msg, err := e.messages.FindByID(ctx, h.ID)
		if err != nil {
			continue
		}
		if !passesFilter(msg, opts.Filter) {
			continue
		}
		results = append(results, Result{Message: *msg, Score: h.Similarity, SemanticScore: h.Similarity})
	}
	return e.paginate(sortResults(results), opts), nil
}

// hybridSearch fuses FTS and semantic scores. Candidates present in only
// one set get 0 for the missing score. When the vector side is
// unavailable or fails, FTS results are returned with fallback set.
func (e *Engine) hybridSearch(ctx context.Context, query string, opts Options) (*Response, error) {
	ftsOpts := opts
	ftsOpts.Offset = 0
	ftsResults, ftsErr := e.ftsSearch(ctx, query, ftsOpts)

	if !e.VectorAvailable() {
		if ftsErr != nil {
			return nil, ftsErr
		}
		return &Response{
			Results:        e.paginate(ftsResults, opts),
			Strategy:       StrategyFTS,
			FallbackUsed:   true,
			FallbackReason: "vector_index_unavailable",
		}, nil
	}

	semResults, semErr := e.semanticSearch(ctx, query, ftsOpts)
	if semErr != nil {
		if ftsErr != nil {
			return nil, ftsErr
		}
		return &Response{
			Results:        e.paginate(ftsResults, opts),
			Strategy:       StrategyFTS,
			FallbackUsed:   true,
			FallbackReason: "embedder_failed: " + semErr.Error(),
		}, nil
	}
	if ftsErr != nil {
		return &Response{
			Results:        e.paginate(semResults, opts),
			Strategy:       StrategySemantic,
			FallbackUsed:   true,
			FallbackReason: "fts_failed: " + ftsErr.Error(),
		}, nil
	}

	merged := make(map[string]*Result, len(ftsResults)+len(semResults))
	for i := range ftsResults {
		r := ftsResults[i]
		merged[r.Message.ID] = &Result{Message: r.Message, FTSScore: r.FTSScore}
	}
	for i := range semResults {
		r := semResults[i]
		if m, ok := merged[r.Message.ID]; ok {
			m.SemanticScore = r.SemanticScore
		} else {
			merged[r.Message.ID] = &Result{Message: r.Message, SemanticScore: r.SemanticScore}
		}
	}

	results := make([]Result, 0, len(merged))
	for _, r := range merged {
		r.Score = opts.SemanticWeight*r.SemanticScore + opts.FTSWeight*r.FTSScore
		results = append(results, *r)
	}
	return &Response{
		Results:  e.paginate(sortResults(results), opts),
		Strategy: StrategyHybrid,
	}, nil
}

// sortResults orders by score desc, then newer createdAt, then smaller id.
func sortResults(results []Result) []Result {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Message.CreatedAt != results[j].Message.CreatedAt {
			return results[i].Message.CreatedAt > results[j].Message.CreatedAt
		}
		return results[i].Message.ID < results[j].Message.ID
	})
	return results
}

func (e *Engine) paginate(results []Result, opts Options) []Result {
	if opts.Offset >= len(results) {
		return nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

func passesFilter(msg *memory.Message, f FTSFilter) bool {
	if len(f.ConversationIDs) > 0 {
		found := false
		for _, id := range f.ConversationIDs {
			if id == msg.ConversationID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.StartMs > 0 && msg.CreatedAt < f.StartMs {
		return false
	}
	if f.EndMs > 0 && msg.CreatedAt > f.EndMs {
		return false
	}
	return true
}

// recordMetric appends a search_metrics row. Failures are logged to the
// span only; metrics never fail a search.
func (e *Engine) recordMetric(ctx context.Context, query string, resp *Response) {
	_, err := e.store.Exec(ctx, `
		INSERT INTO search_metrics (query_text, strategy, result_count, duration_ms, fallback_used, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		query, string(resp.Strategy), len(resp.Results), resp.DurationMs,
		boolToInt(resp.FallbackUsed), time.Now().UnixMilli())
	if err != nil {
		_, span := e.tracer.StartSpan(ctx, "search.record_metric")
		span.RecordError(fmt.Errorf("record search metric: %w", err))
		e.tracer.EndSpan(span)
	}
}

// PruneMetrics deletes search_metrics rows older than the cutoff. Wired
// to the retention cron in serve mode.
func (e *Engine) PruneMetrics(ctx context.Context, olderThanMs int64) (int64, error) {
	res, err := e.store.Exec(ctx, "DELETE FROM search_metrics WHERE timestamp < ?", olderThanMs)
	if err != nil {
		return 0, fmt.Errorf("prune search metrics: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
