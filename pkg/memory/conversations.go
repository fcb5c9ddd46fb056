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
	"time"

	"github.com/google/uuid"

	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/recallerr"
	"github.com/teradata-labs/recall/pkg/storage"
	"github.com/teradata-labs/recall/pkg/validation"
)

// ConversationRepository provides typed access to the conversations table.
// Soft-deleted conversations are excluded from all listings; FindByID
// returns them only when includeDeleted is set.
type ConversationRepository struct {
	store  *storage.Store
	cache  *storage.QueryCache
	tracer observability.Tracer
}

// NewConversationRepository wires a repository over the shared store.
func NewConversationRepository(store *storage.Store, cache *storage.QueryCache, tracer observability.Tracer) *ConversationRepository {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &ConversationRepository{store: store, cache: cache, tracer: tracer}
}

// Create inserts a conversation. A zero ID gets a generated UUID; zero
// timestamps default to now. CreatedAt may be client-provided but must
// not exceed UpdatedAt.
func (r *ConversationRepository) Create(ctx context.Context, c *Conversation) error {
	ctx, span := r.tracer.StartSpan(ctx, "conversations.create")
	defer r.tracer.EndSpan(span)

	now := time.Now().UnixMilli()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := validation.ID("id", c.ID); err != nil {
		return err
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	if c.UpdatedAt == 0 {
		c.UpdatedAt = c.CreatedAt
	}
	if c.CreatedAt > c.UpdatedAt {
		return recallerr.Validation("createdAt", "createdAt must not exceed updatedAt")
	}
	if len(c.Metadata) == 0 {
		c.Metadata = json.RawMessage("{}")
	}

	_, err := r.store.Exec(ctx, `
		INSERT INTO conversations (id, created_at, updated_at, title, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.CreatedAt, c.UpdatedAt, nullString(c.Title), string(c.Metadata))
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return recallerr.Newf(recallerr.KindConflict, "conversation %q already exists", c.ID)
		}
		return fmt.Errorf("create conversation: %w", err)
	}
	r.invalidate()
	return nil
}

// FindByID returns one conversation. Soft-deleted rows surface only when
// includeDeleted is true. Hits serve from the query cache; misses load
// under single-flight so concurrent lookups issue one query.
func (r *ConversationRepository) FindByID(ctx context.Context, id string, includeDeleted bool) (*Conversation, error) {
	ctx, span := r.tracer.StartSpan(ctx, "conversations.find_by_id")
	defer r.tracer.EndSpan(span)

	if err := validation.ID("conversationId", id); err != nil {
		return nil, err
	}

	load := func() (interface{}, error) {
		query := `SELECT id, created_at, updated_at, title, metadata, deleted_at
			FROM conversations WHERE id = ?`
		if !includeDeleted {
			query += " AND deleted_at IS NULL"
		}

		c, err := scanConversation(r.store.QueryRow(ctx, query, id))
		if err == sql.ErrNoRows {
			return nil, recallerr.NotFound("conversation", id)
		}
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("find conversation: %w", err)
		}
		return c, nil
	}

	if r.cache == nil {
		v, err := load()
		if err != nil {
			return nil, err
		}
		return v.(*Conversation), nil
	}

	key := fmt.Sprintf("conversations:id:%s:%t", id, includeDeleted)
	v, err := r.cache.GetOrLoad(ctx, key, load, "conversations")
	if err != nil {
		return nil, err
	}
	c := *(v.(*Conversation))
	return &c, nil
}

// FindByDateRange pages conversations whose createdAt falls in
// [startMs, endMs], newest first.
func (r *ConversationRepository) FindByDateRange(ctx context.Context, startMs, endMs int64, limit, offset int) (*Page[Conversation], error) {
	ctx, span := r.tracer.StartSpan(ctx, "conversations.find_by_date_range")
	defer r.tracer.EndSpan(span)

	if err := validation.DateRange(startMs, endMs); err != nil {
		return nil, err
	}
	limit, err := validation.Limit(limit)
	if err != nil {
		return nil, err
	}
	if err := validation.Offset(offset); err != nil {
		return nil, err
	}
	if endMs == 0 {
		endMs = time.Now().UnixMilli()
	}

	var total int
	if err := r.store.QueryRow(ctx, `
		SELECT COUNT(*) FROM conversations
		WHERE deleted_at IS NULL AND created_at >= ? AND created_at <= ?`,
		startMs, endMs).Scan(&total); err != nil {
		return nil, fmt.Errorf("count conversations: %w", err)
	}

	rows, err := r.store.Query(ctx, `
		SELECT id, created_at, updated_at, title, metadata, deleted_at
		FROM conversations
		WHERE deleted_at IS NULL AND created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		startMs, endMs, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list conversations by date: %w", err)
	}
	defer rows.Close()

	items, err := collectConversations(rows)
	if err != nil {
		return nil, err
	}
	return &Page[Conversation]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// FindAll pages all live conversations ordered by the given column.
// orderBy is one of created_at, updated_at, title; dir is asc or desc.
func (r *ConversationRepository) FindAll(ctx context.Context, limit, offset int, orderBy, dir string) (*Page[Conversation], error) {
	ctx, span := r.tracer.StartSpan(ctx, "conversations.find_all")
	defer r.tracer.EndSpan(span)

	limit, err := validation.Limit(limit)
	if err != nil {
		return nil, err
	}
	if err := validation.Offset(offset); err != nil {
		return nil, err
	}
	if orderBy == "" {
		orderBy = "updated_at"
	}
	// Column names cannot be bound parameters; allow-list them.
	if err := validation.Enum("orderBy", orderBy, "created_at", "updated_at", "title"); err != nil {
		return nil, err
	}
	if dir == "" {
		dir = "desc"
	}
	if err := validation.Enum("dir", dir, "asc", "desc"); err != nil {
		return nil, err
	}

	var total int
	if err := r.store.QueryRow(ctx,
		"SELECT COUNT(*) FROM conversations WHERE deleted_at IS NULL").Scan(&total); err != nil {
		return nil, fmt.Errorf("count conversations: %w", err)
	}

	rows, err := r.store.Query(ctx, fmt.Sprintf(`
		SELECT id, created_at, updated_at, title, metadata, deleted_at
		FROM conversations WHERE deleted_at IS NULL
		ORDER BY %s %s LIMIT ? OFFSET ?`, orderBy, dir),
		limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items, err := collectConversations(rows)
	if err != nil {
		return nil, err
	}
	return &Page[Conversation]{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// UpdateMetadata replaces the metadata JSON object.
func (r *ConversationRepository) UpdateMetadata(ctx context.Context, id string, metadata json.RawMessage) error {
	ctx, span := r.tracer.StartSpan(ctx, "conversations.update_metadata")
	defer r.tracer.EndSpan(span)

	if err := validation.ID("conversationId", id); err != nil {
		return err
	}
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}
	if !json.Valid(metadata) {
		return recallerr.Validation("metadata", "metadata must be a valid JSON object")
	}

	res, err := r.store.Exec(ctx, `
		UPDATE conversations SET metadata = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		string(metadata), time.Now().UnixMilli(), id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("update conversation metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return recallerr.NotFound("conversation", id)
	}
	r.invalidate()
	return nil
}

// UpdateTitle sets the conversation title.
func (r *ConversationRepository) UpdateTitle(ctx context.Context, id, title string) error {
	ctx, span := r.tracer.StartSpan(ctx, "conversations.update_title")
	defer r.tracer.EndSpan(span)

	if err := validation.ID("conversationId", id); err != nil {
		return err
	}
	res, err := r.store.Exec(ctx, `
		UPDATE conversations SET title = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		nullString(title), time.Now().UnixMilli(), id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("update conversation title: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return recallerr.NotFound("conversation", id)
	}
	r.invalidate()
	return nil
}

// Delete removes a conversation. permanent=false marks deleted_at and
// retains rows; permanent=true cascade-deletes child messages, summaries,
// and mentions through foreign keys.
func (r *ConversationRepository) Delete(ctx context.Context, id string, permanent bool) error {
	ctx, span := r.tracer.StartSpan(ctx, "conversations.delete")
	defer r.tracer.EndSpan(span)
	span.SetAttribute("permanent", permanent)

	if err := validation.ID("conversationId", id); err != nil {
		return err
	}

	var res sql.Result
	var err error
	if permanent {
		res, err = r.store.Exec(ctx, "DELETE FROM conversations WHERE id = ?", id)
	} else {
		res, err = r.store.Exec(ctx,
			"UPDATE conversations SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
			time.Now().UnixMilli(), id)
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return recallerr.NotFound("conversation", id)
	}
	r.invalidate()
	if r.cache != nil {
		r.cache.Invalidate("messages")
		r.cache.Invalidate("summaries")
	}
	return nil
}

func (r *ConversationRepository) invalidate() {
	if r.cache != nil {
		r.cache.Invalidate("conversations")
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var title sql.NullString
	var metadata string
	var deletedAt sql.NullInt64
	if err := row.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt, &title, &metadata, &deletedAt); err != nil {
		return nil, err
	}
	c.Title = title.String
	c.Metadata = json.RawMessage(metadata)
	if deletedAt.Valid {
		v := deletedAt.Int64
		c.DeletedAt = &v
	}
	return &c, nil
}

func collectConversations(rows *sql.Rows) ([]Conversation, error) {
	var items []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return items, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
