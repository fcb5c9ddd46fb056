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

// Package search implements full-text, vector, and hybrid retrieval over
// message content. The FTS5 shadow table is maintained by triggers; this
// package only reads it.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/recallerr"
	"github.com/teradata-labs/recall/pkg/storage"
	"github.com/teradata-labs/recall/pkg/validation"
)

// MatchType selects how a query string maps to FTS5 MATCH syntax.
type MatchType string

const (
	// MatchFuzzy ORs the query terms so any term can match.
	MatchFuzzy MatchType = "fuzzy"
	// MatchExact quotes the query as a phrase.
	MatchExact MatchType = "exact"
	// MatchPrefix appends * to each term.
	MatchPrefix MatchType = "prefix"
)

// FTSHit is one full-text match. Rank is bm25 output: smaller is better.
type FTSHit struct {
	MessageID string
	Rank      float64
}

// FTSFilter scopes a full-text search.
type FTSFilter struct {
	ConversationIDs []string
	StartMs         int64
	EndMs           int64
}

// FTSIndex reads the messages_fts shadow table with BM25 ranking.
type FTSIndex struct {
	store  *storage.Store
	tracer observability.Tracer
}

// NewFTSIndex wires the index over the shared store.
func NewFTSIndex(store *storage.Store, tracer observability.Tracer) *FTSIndex {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &FTSIndex{store: store, tracer: tracer}
}

// Search runs an FTS5 MATCH query and returns hits ordered by ascending
// bm25 rank. Soft-deleted conversations are excluded.
func (f *FTSIndex) Search(ctx context.Context, query string, match MatchType, filter FTSFilter, limit int) ([]FTSHit, error) {
	ctx, span := f.tracer.StartSpan(ctx, "fts.search",
		observability.WithAttribute(observability.AttrQuery, query))
	defer f.tracer.EndSpan(span)

	if err := validation.NonEmpty("query", query, 1024); err != nil {
		return nil, err
	}
	limit, err := validation.Limit(limit)
	if err != nil {
		return nil, err
	}

	matchQuery, err := toMatchQuery(query, match)
	if err != nil {
		return nil, err
	}
	span.SetAttribute("fts_query", matchQuery)

	var sb strings.Builder
	// bm25() requires the actual table name, not an alias.
	sb.WriteString(`
		SELECT m.id, bm25(messages_fts) AS rank
		FROM messages_fts
		JOIN messages m ON m.rowid = messages_fts.rowid
		JOIN conversations c ON c.id = m.conversation_id AND c.deleted_at IS NULL
		WHERE messages_fts MATCH ?`)
	args := []interface{}{matchQuery}

	if len(filter.ConversationIDs) > 0 {
		sb.WriteString(" AND m.conversation_id IN (")
		for i, id := range filter.ConversationIDs {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("?")
			args = append(args, id)
		}
		sb.WriteString(")")
	}
	if filter.StartMs > 0 {
		sb.WriteString(" AND m.created_at >= ?")
		args = append(args, filter.StartMs)
	}
	if filter.EndMs > 0 {
		sb.WriteString(" AND m.created_at <= ?")
		args = append(args, filter.EndMs)
	}
	sb.WriteString(" ORDER BY rank LIMIT ?")
	args = append(args, limit)

	rows, err := f.store.Query(ctx, sb.String(), args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var hits []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.MessageID, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan fts hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fts hits: %w", err)
	}
	span.SetAttribute("results", len(hits))
	return hits, nil
}

// Optimize merges the FTS5 segment b-tree.
func (f *FTSIndex) Optimize(ctx context.Context) error {
	ctx, span := f.tracer.StartSpan(ctx, "fts.optimize")
	defer f.tracer.EndSpan(span)

	if _, err := f.store.Exec(ctx,
		"INSERT INTO messages_fts(messages_fts) VALUES ('optimize')"); err != nil {
		span.RecordError(err)
		return fmt.Errorf("fts optimize: %w", err)
	}
	return nil
}

// Backfill reindexes every message. Used at startup when the shadow table
// is empty but messages exist (a database restored without its index).
func (f *FTSIndex) Backfill(ctx context.Context) error {
	ctx, span := f.tracer.StartSpan(ctx, "fts.backfill")
	defer f.tracer.EndSpan(span)

	var indexed, total int
	if err := f.store.QueryRow(ctx, "SELECT COUNT(*) FROM messages_fts").Scan(&indexed); err != nil {
		return fmt.Errorf("count indexed rows: %w", err)
	}
	if err := f.store.QueryRow(ctx, "SELECT COUNT(*) FROM messages").Scan(&total); err != nil {
		return fmt.Errorf("count messages: %w", err)
	}
	if indexed > 0 || total == 0 {
		return nil
	}

	if _, err := f.store.Exec(ctx,
		"INSERT INTO messages_fts(rowid, content) SELECT rowid, content FROM messages"); err != nil {
		span.RecordError(err)
		return fmt.Errorf("fts backfill: %w", err)
	}
	span.SetAttribute("backfilled", total)
	return nil
}

// toMatchQuery converts a natural-language query into FTS5 MATCH syntax.
// Fuzzy ORs the terms ("SQL database" -> "SQL OR database"), exact quotes
// the whole query as a phrase, prefix appends * per term. Embedded quotes
// are stripped so user input cannot change the query structure.
func toMatchQuery(query string, match MatchType) (string, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(query), `"`, " ")
	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return "", recallerr.Validation("query", "query must contain at least one term")
	}

	switch match {
	case MatchExact:
		return `"` + strings.Join(words, " ") + `"`, nil
	case MatchPrefix:
		prefixed := make([]string, len(words))
		for i, w := range words {
			prefixed[i] = `"` + w + `"*`
		}
		return strings.Join(prefixed, " OR "), nil
	case MatchFuzzy, "":
		if len(words) == 1 {
			return `"` + words[0] + `"`, nil
		}
		quoted := make([]string, len(words))
		for i, w := range words {
			quoted[i] = `"` + w + `"`
		}
		return strings.Join(quoted, " OR "), nil
	default:
		return "", recallerr.Validation("matchType", "matchType must be one of fuzzy, exact, prefix")
	}
}
