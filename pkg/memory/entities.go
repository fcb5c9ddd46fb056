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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/recallerr"
	"github.com/teradata-labs/recall/pkg/storage"
	"github.com/teradata-labs/recall/pkg/validation"
)

// NormalizeEntityName lowercases and collapses internal whitespace,
// producing the uniqueness key shared with the extractor.
func NormalizeEntityName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// EntityRepository provides typed access to entities and their mentions.
type EntityRepository struct {
	store  *storage.Store
	cache  *storage.QueryCache
	tracer observability.Tracer
}

// NewEntityRepository wires a repository over the shared store.
func NewEntityRepository(store *storage.Store, cache *storage.QueryCache, tracer observability.Tracer) *EntityRepository {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &EntityRepository{store: store, cache: cache, tracer: tracer}
}

// UpsertByNormalized inserts an entity keyed by (normalizedName, type) or
// returns the existing row's id. On match the stored confidence is raised
// to the max of old and new.
func (r *EntityRepository) UpsertByNormalized(ctx context.Context, e *Entity) (string, error) {
	ctx, span := r.tracer.StartSpan(ctx, "entities.upsert_by_normalized",
		observability.WithAttribute(observability.AttrEntity, e.Name))
	defer r.tracer.EndSpan(span)

	if e.Name == "" {
		return "", recallerr.Validation("name", "entity name must not be empty")
	}
	if e.NormalizedName == "" {
		e.NormalizedName = NormalizeEntityName(e.Name)
	}
	if err := validation.Enum("type", string(e.Type),
		"person", "organization", "product", "technical",
		"location", "concept", "event", "decision"); err != nil {
		return "", err
	}
	if err := validation.UnitInterval("confidenceScore", e.ConfidenceScore); err != nil {
		return "", err
	}
	now := time.Now().UnixMilli()
	if e.FirstSeenAt == 0 {
		e.FirstSeenAt = now
	}
	if e.LastMentionedAt == 0 {
		e.LastMentionedAt = now
	}
	if len(e.Metadata) == 0 {
		e.Metadata = json.RawMessage("{}")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	var id string
	err := r.store.Tx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM entities WHERE normalized_name = ? AND type = ?",
			e.NormalizedName, string(e.Type)).Scan(&id)
		if err == nil {
			_, err := tx.ExecContext(ctx, `
				UPDATE entities
				SET confidence_score = MAX(confidence_score, ?), last_mentioned_at = MAX(last_mentioned_at, ?)
				WHERE id = ?`,
				e.ConfidenceScore, e.LastMentionedAt, id)
			if err != nil {
				return fmt.Errorf("refresh entity: %w", err)
			}
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("lookup entity: %w", err)
		}

		id = e.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entities
				(id, name, normalized_name, type, confidence_score, mention_count,
				 first_seen_at, last_mentioned_at, metadata)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
			id, e.Name, e.NormalizedName, string(e.Type), e.ConfidenceScore,
			e.FirstSeenAt, e.LastMentionedAt, string(e.Metadata))
		if err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	r.invalidate()
	return id, nil
}

// FindByID returns one entity.
func (r *EntityRepository) FindByID(ctx context.Context, id string) (*Entity, error) {
	ctx, span := r.tracer.StartSpan(ctx, "entities.find_by_id")
	defer r.tracer.EndSpan(span)

	if err := validation.ID("entityId", id); err != nil {
		return nil, err
	}
	e, err := scanEntity(r.store.QueryRow(ctx, entitySelect+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, recallerr.NotFound("entity", id)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("find entity: %w", err)
	}
	return e, nil
}

// FindByName matches entities whose normalized name equals the normalized
// input, any type.
func (r *EntityRepository) FindByName(ctx context.Context, name string) ([]Entity, error) {
	ctx, span := r.tracer.StartSpan(ctx, "entities.find_by_name")
	defer r.tracer.EndSpan(span)

	if name == "" {
		return nil, recallerr.Validation("name", "entity name must not be empty")
	}
	rows, err := r.store.Query(ctx,
		entitySelect+" WHERE normalized_name = ? ORDER BY mention_count DESC",
		NormalizeEntityName(name))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("find entities by name: %w", err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// ListAll returns entities ordered by mention count, bounded by limit.
// Used for fuzzy name resolution.
func (r *EntityRepository) ListAll(ctx context.Context, limit int) ([]Entity, error) {
	ctx, span := r.tracer.StartSpan(ctx, "entities.list_all")
	defer r.tracer.EndSpan(span)

	limit, err := validation.Limit(limit)
	if err != nil {
		return nil, err
	}
	rows, err := r.store.Query(ctx,
		entitySelect+" ORDER BY mention_count DESC, last_mentioned_at DESC LIMIT ?", limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// RecordMention inserts a mention if its (entity, message, startOffset)
// key is new, and only then increments the entity's mention count. This
// keeps graph ingestion idempotent per message.
func (r *EntityRepository) RecordMention(ctx context.Context, m *EntityMention) (bool, error) {
	ctx, span := r.tracer.StartSpan(ctx, "entities.record_mention")
	defer r.tracer.EndSpan(span)

	if err := validation.ID("entityId", m.EntityID); err != nil {
		return false, err
	}
	if err := validation.ID("messageId", m.MessageID); err != nil {
		return false, err
	}
	if m.StartOffset < 0 || m.EndOffset <= m.StartOffset {
		return false, recallerr.Validation("endOffset", "mention span must be non-empty")
	}
	if err := validation.UnitInterval("confidence", m.Confidence); err != nil {
		return false, err
	}

	inserted := false
	err := r.store.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO entity_mentions (entity_id, message_id, start_offset, end_offset, method, confidence)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (entity_id, message_id, start_offset) DO NOTHING`,
			m.EntityID, m.MessageID, m.StartOffset, m.EndOffset, string(m.Method), m.Confidence)
		if err != nil {
			return fmt.Errorf("insert mention: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return nil
		}
		inserted = true
		_, err = tx.ExecContext(ctx, `
			UPDATE entities SET mention_count = mention_count + 1, last_mentioned_at = MAX(last_mentioned_at, ?)
			WHERE id = ?`,
			time.Now().UnixMilli(), m.EntityID)
		if err != nil {
			return fmt.Errorf("increment mention count: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if inserted {
		r.invalidate()
	}
	return inserted, nil
}

// MentionsForMessage lists the mentions recorded against a message.
func (r *EntityRepository) MentionsForMessage(ctx context.Context, messageID string) ([]EntityMention, error) {
	ctx, span := r.tracer.StartSpan(ctx, "entities.mentions_for_message")
	defer r.tracer.EndSpan(span)

	if err := validation.ID("messageId", messageID); err != nil {
		return nil, err
	}
	rows, err := r.store.Query(ctx, `
		SELECT entity_id, message_id, start_offset, end_offset, method, confidence
		FROM entity_mentions WHERE message_id = ? ORDER BY start_offset`, messageID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list mentions: %w", err)
	}
	defer rows.Close()

	var items []EntityMention
	for rows.Next() {
		var m EntityMention
		var method string
		if err := rows.Scan(&m.EntityID, &m.MessageID, &m.StartOffset, &m.EndOffset,
			&method, &m.Confidence); err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		m.Method = MentionMethod(method)
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mentions: %w", err)
	}
	return items, nil
}

// MentionHistory returns entity mentions joined to their messages within
// a time range, newest first.
func (r *EntityRepository) MentionHistory(ctx context.Context, entityID string, startMs, endMs int64, limit int) ([]Message, error) {
	ctx, span := r.tracer.StartSpan(ctx, "entities.mention_history",
		observability.WithAttribute(observability.AttrEntity, entityID))
	defer r.tracer.EndSpan(span)

	if err := validation.ID("entityId", entityID); err != nil {
		return nil, err
	}
	if err := validation.DateRange(startMs, endMs); err != nil {
		return nil, err
	}
	limit, err := validation.Limit(limit)
	if err != nil {
		return nil, err
	}
	if endMs == 0 {
		endMs = time.Now().UnixMilli()
	}

	rows, err := r.store.Query(ctx, `
		SELECT m.id, m.conversation_id, m.role, m.content, m.created_at,
		       m.parent_message_id, m.metadata, m.embedding
		FROM entity_mentions em
		JOIN messages m ON m.id = em.message_id
		WHERE em.entity_id = ? AND m.created_at >= ? AND m.created_at <= ?
		ORDER BY m.created_at DESC LIMIT ?`,
		entityID, startMs, endMs, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("entity mention history: %w", err)
	}
	defer rows.Close()
	return collectMessages(rows)
}

// GarbageCollect removes entities that no longer have any mentions.
func (r *EntityRepository) GarbageCollect(ctx context.Context) (int64, error) {
	ctx, span := r.tracer.StartSpan(ctx, "entities.garbage_collect")
	defer r.tracer.EndSpan(span)

	res, err := r.store.Exec(ctx, `
		DELETE FROM entities WHERE id NOT IN (SELECT DISTINCT entity_id FROM entity_mentions)`)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("garbage collect entities: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.invalidate()
	}
	return n, nil
}

func (r *EntityRepository) invalidate() {
	if r.cache != nil {
		r.cache.Invalidate("entities")
	}
}

const entitySelect = `
	SELECT id, name, normalized_name, type, confidence_score, mention_count,
	       first_seen_at, last_mentioned_at, metadata
	FROM entities`

func scanEntity(row rowScanner) (*Entity, error) {
	var e Entity
	var typ, metadata string
	if err := row.Scan(&e.ID, &e.Name, &e.NormalizedName, &typ, &e.ConfidenceScore,
		&e.MentionCount, &e.FirstSeenAt, &e.LastMentionedAt, &metadata); err != nil {
		return nil, err
	}
	e.Type = EntityType(typ)
	e.Metadata = json.RawMessage(metadata)
	return &e, nil
}

func collectEntities(rows *sql.Rows) ([]Entity, error) {
	var items []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		items = append(items, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return items, nil
}
