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
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/recallerr"
	"github.com/teradata-labs/recall/pkg/storage"
	"github.com/teradata-labs/recall/pkg/validation"
)

// SummaryRepository stores generated conversation summaries. Superseded
// rows for the same (conversation, level) are kept; LatestFor picks by
// generatedAt.
type SummaryRepository struct {
	store  *storage.Store
	cache  *storage.QueryCache
	tracer observability.Tracer
}

// NewSummaryRepository wires a repository over the shared store.
func NewSummaryRepository(store *storage.Store, cache *storage.QueryCache, tracer observability.Tracer) *SummaryRepository {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &SummaryRepository{store: store, cache: cache, tracer: tracer}
}

// Upsert inserts a summary row.
func (r *SummaryRepository) Upsert(ctx context.Context, s *Summary) error {
	ctx, span := r.tracer.StartSpan(ctx, "summaries.upsert",
		observability.WithAttribute(observability.AttrConversation, s.ConversationID))
	defer r.tracer.EndSpan(span)

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if err := validation.ID("conversationId", s.ConversationID); err != nil {
		return err
	}
	if !ValidSummaryLevel(s.Level) {
		return recallerr.Validation("level", "level must be one of brief, standard, detailed, full")
	}
	if s.Text == "" {
		return recallerr.Validation("text", "summary text must not be empty")
	}
	if s.TokenCount < 0 {
		return recallerr.Validation("tokenCount", "tokenCount must be >= 0")
	}
	if s.MessageCount < 1 {
		return recallerr.Validation("messageCount", "messageCount must be >= 1")
	}
	if s.MessageCount > 1 && s.StartMessageID != "" && s.StartMessageID == s.EndMessageID {
		return recallerr.Validation("endMessageId",
			"multi-message summary must span distinct start and end messages")
	}
	if s.GeneratedAt == 0 {
		s.GeneratedAt = time.Now().UnixMilli()
	}

	_, err := r.store.Exec(ctx, `
		INSERT INTO conversation_summaries
			(id, conversation_id, level, text, token_count, provider, model,
			 generated_at, message_count, start_message_id, end_message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ConversationID, string(s.Level), s.Text, s.TokenCount,
		s.Provider, s.Model, s.GeneratedAt, s.MessageCount,
		nullString(s.StartMessageID), nullString(s.EndMessageID))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert summary: %w", err)
	}
	if r.cache != nil {
		r.cache.Invalidate("summaries")
	}
	return nil
}

// LatestFor returns the most recent summary at the given level.
func (r *SummaryRepository) LatestFor(ctx context.Context, conversationID string, level SummaryLevel) (*Summary, error) {
	ctx, span := r.tracer.StartSpan(ctx, "summaries.latest_for")
	defer r.tracer.EndSpan(span)

	if err := validation.ID("conversationId", conversationID); err != nil {
		return nil, err
	}
	if !ValidSummaryLevel(level) {
		return nil, recallerr.Validation("level", "level must be one of brief, standard, detailed, full")
	}

	s, err := scanSummary(r.store.QueryRow(ctx, `
		SELECT id, conversation_id, level, text, token_count, provider, model,
		       generated_at, message_count, start_message_id, end_message_id
		FROM conversation_summaries
		WHERE conversation_id = ? AND level = ?
		ORDER BY generated_at DESC LIMIT 1`,
		conversationID, string(level)))
	if err == sql.ErrNoRows {
		return nil, recallerr.NotFound("summary", conversationID+"/"+string(level))
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("find latest summary: %w", err)
	}
	return s, nil
}

// ListFor returns all summaries for a conversation, newest first.
func (r *SummaryRepository) ListFor(ctx context.Context, conversationID string) ([]Summary, error) {
	ctx, span := r.tracer.StartSpan(ctx, "summaries.list_for")
	defer r.tracer.EndSpan(span)

	if err := validation.ID("conversationId", conversationID); err != nil {
		return nil, err
	}

	rows, err := r.store.Query(ctx, `
		SELECT id, conversation_id, level, text, token_count, provider, model,
		       generated_at, message_count, start_message_id, end_message_id
		FROM conversation_summaries
		WHERE conversation_id = ?
		ORDER BY generated_at DESC`, conversationID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var items []Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		items = append(items, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return items, nil
}

func scanSummary(row rowScanner) (*Summary, error) {
	var s Summary
	var level string
	var start, end sql.NullString
	if err := row.Scan(&s.ID, &s.ConversationID, &level, &s.Text, &s.TokenCount,
		&s.Provider, &s.Model, &s.GeneratedAt, &s.MessageCount, &start, &end); err != nil {
		return nil, err
	}
	s.Level = SummaryLevel(level)
	s.StartMessageID = start.String
	s.EndMessageID = end.String
	return &s, nil
}
