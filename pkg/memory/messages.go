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

// MaxContentLength bounds message content size.
const MaxContentLength = 1 << 20

// MessageListener observes successful message writes. The knowledge-graph
// service subscribes here; listener failures never roll back the write.
type MessageListener func(ctx context.Context, msg *Message)

// MessageQuery shapes FindByConversationID. BeforeID/AfterID are key-set
// cursors that stay stable under concurrent insertion.
type MessageQuery struct {
	Limit    int
	BeforeID string
	AfterID  string
}

// MessageRepository provides typed access to the messages table. The FTS
// shadow table is maintained by database triggers, never written here.
type MessageRepository struct {
	store     *storage.Store
	cache     *storage.QueryCache
	tracer    observability.Tracer
	listeners []MessageListener
}

// NewMessageRepository wires a repository over the shared store.
func NewMessageRepository(store *storage.Store, cache *storage.QueryCache, tracer observability.Tracer) *MessageRepository {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &MessageRepository{store: store, cache: cache, tracer: tracer}
}

// Subscribe registers a listener for successful writes. Not safe to call
// concurrently with Create; register everything at composition time.
func (r *MessageRepository) Subscribe(l MessageListener) {
	r.listeners = append(r.listeners, l)
}

// Create inserts a message. Rejects orphans (unknown conversation),
// self-parents, and parents from another conversation. On success the
// insert trigger indexes content into FTS and listeners are notified.
func (r *MessageRepository) Create(ctx context.Context, m *Message) error {
	ctx, span := r.tracer.StartSpan(ctx, "messages.create",
		observability.WithAttribute(observability.AttrConversation, m.ConversationID))
	defer r.tracer.EndSpan(span)

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := validation.ID("id", m.ID); err != nil {
		return err
	}
	if err := validation.ID("conversationId", m.ConversationID); err != nil {
		return err
	}
	if !ValidRole(m.Role) {
		return recallerr.Validation("role", "role must be one of user, assistant, system")
	}
	if err := validation.NonEmpty("content", m.Content, MaxContentLength); err != nil {
		return err
	}
	if m.ParentMessageID == m.ID && m.ParentMessageID != "" {
		return recallerr.Validation("parentMessageId", "message cannot be its own parent")
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
	if len(m.Metadata) == 0 {
		m.Metadata = json.RawMessage("{}")
	}

	err := r.store.Tx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM conversations WHERE id = ? AND deleted_at IS NULL",
			m.ConversationID).Scan(&exists); err != nil {
			return fmt.Errorf("check conversation: %w", err)
		}
		if exists == 0 {
			return recallerr.NotFound("conversation", m.ConversationID)
		}

		if m.ParentMessageID != "" {
			var parentConv string
			err := tx.QueryRowContext(ctx,
				"SELECT conversation_id FROM messages WHERE id = ?",
				m.ParentMessageID).Scan(&parentConv)
			if err == sql.ErrNoRows {
				return recallerr.NotFound("message", m.ParentMessageID)
			}
			if err != nil {
				return fmt.Errorf("check parent message: %w", err)
			}
			if parentConv != m.ConversationID {
				return recallerr.Validation("parentMessageId",
					"parent message belongs to a different conversation")
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, content, created_at, parent_message_id, metadata, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.ConversationID, string(m.Role), m.Content, m.CreatedAt,
			nullString(m.ParentMessageID), string(m.Metadata), m.Embedding)
		if err != nil {
			if isUniqueViolation(err) {
				return recallerr.Newf(recallerr.KindConflict, "message %q already exists", m.ID)
			}
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	r.invalidate()
	for _, l := range r.listeners {
		l(ctx, m)
	}
	return nil
}

// FindByID returns one message. Hits serve from the query cache; misses
// load under single-flight so concurrent lookups issue one query.
func (r *MessageRepository) FindByID(ctx context.Context, id string) (*Message, error) {
	ctx, span := r.tracer.StartSpan(ctx, "messages.find_by_id")
	defer r.tracer.EndSpan(span)

	if err := validation.ID("messageId", id); err != nil {
		return nil, err
	}

	load := func() (interface{}, error) {
		m, err := scanMessage(r.store.QueryRow(ctx, `
			SELECT id, conversation_id, role, content, created_at, parent_message_id, metadata, embedding
			FROM messages WHERE id = ?`, id))
		if err == sql.ErrNoRows {
			return nil, recallerr.NotFound("message", id)
		}
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("find message: %w", err)
		}
		return m, nil
	}

	if r.cache == nil {
		v, err := load()
		if err != nil {
			return nil, err
		}
		return v.(*Message), nil
	}

	v, err := r.cache.GetOrLoad(ctx, "messages:id:"+id, load, "messages")
	if err != nil {
		return nil, err
	}
	m := *(v.(*Message))
	return &m, nil
}

// FindByConversationID returns messages in createdAt ascending order.
// BeforeID/AfterID anchor key-set pagination on (created_at, id) of the
// named message.
func (r *MessageRepository) FindByConversationID(ctx context.Context, conversationID string, q MessageQuery) ([]Message, error) {
	ctx, span := r.tracer.StartSpan(ctx, "messages.find_by_conversation",
		observability.WithAttribute(observability.AttrConversation, conversationID))
	defer r.tracer.EndSpan(span)

	if err := validation.ID("conversationId", conversationID); err != nil {
		return nil, err
	}
	limit, err := validation.Limit(q.Limit)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, conversation_id, role, content, created_at, parent_message_id, metadata, embedding
		FROM messages WHERE conversation_id = ?`)
	args := []interface{}{conversationID}

	if q.AfterID != "" {
		anchor, err := r.cursorAnchor(ctx, q.AfterID)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" AND (created_at > ? OR (created_at = ? AND id > ?))")
		args = append(args, anchor.createdAt, anchor.createdAt, q.AfterID)
	}
	if q.BeforeID != "" {
		anchor, err := r.cursorAnchor(ctx, q.BeforeID)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" AND (created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, anchor.createdAt, anchor.createdAt, q.BeforeID)
	}

	sb.WriteString(" ORDER BY created_at ASC, id ASC LIMIT ?")
	args = append(args, limit)

	rows, err := r.store.Query(ctx, sb.String(), args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

type cursorAnchor struct {
	createdAt int64
}

func (r *MessageRepository) cursorAnchor(ctx context.Context, id string) (cursorAnchor, error) {
	var a cursorAnchor
	err := r.store.QueryRow(ctx, "SELECT created_at FROM messages WHERE id = ?", id).Scan(&a.createdAt)
	if err == sql.ErrNoRows {
		return a, recallerr.NotFound("message", id)
	}
	if err != nil {
		return a, fmt.Errorf("resolve pagination cursor: %w", err)
	}
	return a, nil
}

// Count returns the number of messages in a conversation.
func (r *MessageRepository) Count(ctx context.Context, conversationID string) (int, error) {
	ctx, span := r.tracer.StartSpan(ctx, "messages.count")
	defer r.tracer.EndSpan(span)

	if err := validation.ID("conversationId", conversationID); err != nil {
		return 0, err
	}
	var n int
	if err := r.store.QueryRow(ctx,
		"SELECT COUNT(*) FROM messages WHERE conversation_id = ?", conversationID).Scan(&n); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// DeleteByConversation removes every message in a conversation. The FTS
// delete trigger and mention cascades follow.
func (r *MessageRepository) DeleteByConversation(ctx context.Context, conversationID string) (int64, error) {
	ctx, span := r.tracer.StartSpan(ctx, "messages.delete_by_conversation")
	defer r.tracer.EndSpan(span)

	if err := validation.ID("conversationId", conversationID); err != nil {
		return 0, err
	}
	res, err := r.store.Exec(ctx, "DELETE FROM messages WHERE conversation_id = ?", conversationID)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	n, _ := res.RowsAffected()
	r.invalidate()
	return n, nil
}

// SetEmbedding stores the embedding blob on a message row.
func (r *MessageRepository) SetEmbedding(ctx context.Context, messageID string, embedding []byte) error {
	ctx, span := r.tracer.StartSpan(ctx, "messages.set_embedding")
	defer r.tracer.EndSpan(span)

	if err := validation.ID("messageId", messageID); err != nil {
		return err
	}
	res, err := r.store.Exec(ctx, "UPDATE messages SET embedding = ? WHERE id = ?", embedding, messageID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("set embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return recallerr.NotFound("message", messageID)
	}
	r.invalidate()
	return nil
}

func (r *MessageRepository) invalidate() {
	if r.cache != nil {
		r.cache.Invalidate("messages")
		r.cache.Invalidate("conversations")
	}
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var role string
	var parent sql.NullString
	var metadata string
	if err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.CreatedAt,
		&parent, &metadata, &m.Embedding); err != nil {
		return nil, err
	}
	m.Role = Role(role)
	m.ParentMessageID = parent.String
	m.Metadata = json.RawMessage(metadata)
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	var items []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

// isUniqueViolation matches the constraint error text of both SQLite
// drivers.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
