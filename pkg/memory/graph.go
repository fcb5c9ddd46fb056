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

// Neighbor is one adjacent entity in the graph.
type Neighbor struct {
	Entity       Entity       `json:"entity"`
	Relationship Relationship `json:"relationship"`
	Outgoing     bool         `json:"outgoing"`
}

// Path is one BFS walk through the graph; EntityIDs includes the origin.
type Path struct {
	EntityIDs []string `json:"entityIds"`
	Types     []string `json:"relationshipTypes"`
	Strength  float64  `json:"minStrength"`
}

// GraphRepository provides typed access to entity_relationships and graph
// traversal. The graph is cyclic; traversal carries an explicit visited
// set so no path re-enters an entity.
type GraphRepository struct {
	store  *storage.Store
	cache  *storage.QueryCache
	tracer observability.Tracer
}

// NewGraphRepository wires a repository over the shared store.
func NewGraphRepository(store *storage.Store, cache *storage.QueryCache, tracer observability.Tracer) *GraphRepository {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &GraphRepository{store: store, cache: cache, tracer: tracer}
}

// UpsertRelationship merges a detection into the edge keyed by
// (source, target, type): strength takes the max, mentionCount increments,
// contextMessageIds append in insertion order without duplicates, and
// semanticWeight becomes the running average of detection confidences.
func (r *GraphRepository) UpsertRelationship(ctx context.Context, rel *Relationship) error {
	ctx, span := r.tracer.StartSpan(ctx, "graph.upsert_relationship")
	defer r.tracer.EndSpan(span)

	if err := validation.ID("sourceEntityId", rel.SourceEntityID); err != nil {
		return err
	}
	if err := validation.ID("targetEntityId", rel.TargetEntityID); err != nil {
		return err
	}
	if rel.SourceEntityID == rel.TargetEntityID {
		return recallerr.Validation("targetEntityId", "relationship cannot be self-referential")
	}
	if !validRelationshipType(rel.Type) {
		return recallerr.Validation("relationshipType", "unknown relationship type")
	}
	if err := validation.UnitInterval("strength", rel.Strength); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	if rel.FirstMentionedAt == 0 {
		rel.FirstMentionedAt = now
	}
	if rel.LastMentionedAt == 0 {
		rel.LastMentionedAt = now
	}
	if rel.SemanticWeight == 0 {
		rel.SemanticWeight = rel.Strength
	}

	err := r.store.Tx(ctx, func(tx *sql.Tx) error {
		var existing Relationship
		var contextIDs string
		err := tx.QueryRowContext(ctx, `
			SELECT id, strength, semantic_weight, mention_count, context_message_ids
			FROM entity_relationships
			WHERE source_entity_id = ? AND target_entity_id = ? AND relationship_type = ?`,
			rel.SourceEntityID, rel.TargetEntityID, string(rel.Type)).
			Scan(&existing.ID, &existing.Strength, &existing.SemanticWeight,
				&existing.MentionCount, &contextIDs)

		if err == sql.ErrNoRows {
			if rel.ID == "" {
				rel.ID = uuid.NewString()
			}
			ids, err := json.Marshal(rel.ContextMessageIDs)
			if err != nil {
				return fmt.Errorf("marshal context ids: %w", err)
			}
			rel.MentionCount = 1
			_, err = tx.ExecContext(ctx, `
				INSERT INTO entity_relationships
					(id, source_entity_id, target_entity_id, relationship_type,
					 strength, semantic_weight, mention_count,
					 first_mentioned_at, last_mentioned_at, context_message_ids)
				VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
				rel.ID, rel.SourceEntityID, rel.TargetEntityID, string(rel.Type),
				rel.Strength, rel.SemanticWeight, rel.FirstMentionedAt,
				rel.LastMentionedAt, string(ids))
			if err != nil {
				return fmt.Errorf("insert relationship: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup relationship: %w", err)
		}

		var merged []string
		if err := json.Unmarshal([]byte(contextIDs), &merged); err != nil {
			merged = nil
		}
		seen := make(map[string]bool, len(merged))
		for _, id := range merged {
			seen[id] = true
		}
		for _, id := range rel.ContextMessageIDs {
			if !seen[id] {
				merged = append(merged, id)
				seen[id] = true
			}
		}
		mergedJSON, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("marshal context ids: %w", err)
		}

		strength := existing.Strength
		if rel.Strength > strength {
			strength = rel.Strength
		}
		n := float64(existing.MentionCount)
		semanticWeight := (existing.SemanticWeight*n + rel.SemanticWeight) / (n + 1)

		_, err = tx.ExecContext(ctx, `
			UPDATE entity_relationships
			SET strength = ?, semantic_weight = ?, mention_count = mention_count + 1,
			    last_mentioned_at = MAX(last_mentioned_at, ?), context_message_ids = ?
			WHERE id = ?`,
			strength, semanticWeight, rel.LastMentionedAt, string(mergedJSON), existing.ID)
		if err != nil {
			return fmt.Errorf("merge relationship: %w", err)
		}
		rel.ID = existing.ID
		rel.MentionCount = existing.MentionCount + 1
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if r.cache != nil {
		r.cache.Invalidate("relationships")
	}
	return nil
}

// FindRelationship returns the edge for (source, target, type).
func (r *GraphRepository) FindRelationship(ctx context.Context, sourceID, targetID string, typ RelationshipType) (*Relationship, error) {
	ctx, span := r.tracer.StartSpan(ctx, "graph.find_relationship")
	defer r.tracer.EndSpan(span)

	rel, err := scanRelationship(r.store.QueryRow(ctx, relationshipSelect+`
		WHERE source_entity_id = ? AND target_entity_id = ? AND relationship_type = ?`,
		sourceID, targetID, string(typ)))
	if err == sql.ErrNoRows {
		return nil, recallerr.NotFound("relationship", sourceID+"->"+targetID)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("find relationship: %w", err)
	}
	return rel, nil
}

// GetNeighbors returns entities adjacent to entityID in either direction
// with strength >= minStrength, strongest first.
func (r *GraphRepository) GetNeighbors(ctx context.Context, entityID string, minStrength float64, limit int) ([]Neighbor, error) {
	ctx, span := r.tracer.StartSpan(ctx, "graph.get_neighbors",
		observability.WithAttribute(observability.AttrEntity, entityID))
	defer r.tracer.EndSpan(span)

	if err := validation.ID("entityId", entityID); err != nil {
		return nil, err
	}
	if err := validation.UnitInterval("minStrength", minStrength); err != nil {
		return nil, err
	}
	limit, err := validation.Limit(limit)
	if err != nil {
		return nil, err
	}

	rows, err := r.store.Query(ctx, `
		SELECT e.id, e.name, e.normalized_name, e.type, e.confidence_score, e.mention_count,
		       e.first_seen_at, e.last_mentioned_at, e.metadata,
		       r.id, r.source_entity_id, r.target_entity_id, r.relationship_type,
		       r.strength, r.semantic_weight, r.mention_count,
		       r.first_mentioned_at, r.last_mentioned_at, r.context_message_ids,
		       r.source_entity_id = ? AS outgoing
		FROM entity_relationships r
		JOIN entities e ON e.id = CASE WHEN r.source_entity_id = ? THEN r.target_entity_id ELSE r.source_entity_id END
		WHERE (r.source_entity_id = ? OR r.target_entity_id = ?) AND r.strength >= ?
		ORDER BY r.strength DESC, r.last_mentioned_at DESC
		LIMIT ?`,
		entityID, entityID, entityID, entityID, minStrength, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get neighbors: %w", err)
	}
	defer rows.Close()

	var neighbors []Neighbor
	for rows.Next() {
		var n Neighbor
		var etyp, emeta, rtyp, contextIDs string
		var outgoing int
		if err := rows.Scan(
			&n.Entity.ID, &n.Entity.Name, &n.Entity.NormalizedName, &etyp,
			&n.Entity.ConfidenceScore, &n.Entity.MentionCount,
			&n.Entity.FirstSeenAt, &n.Entity.LastMentionedAt, &emeta,
			&n.Relationship.ID, &n.Relationship.SourceEntityID, &n.Relationship.TargetEntityID,
			&rtyp, &n.Relationship.Strength, &n.Relationship.SemanticWeight,
			&n.Relationship.MentionCount, &n.Relationship.FirstMentionedAt,
			&n.Relationship.LastMentionedAt, &contextIDs, &outgoing); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		n.Entity.Type = EntityType(etyp)
		n.Entity.Metadata = json.RawMessage(emeta)
		n.Relationship.Type = RelationshipType(rtyp)
		_ = json.Unmarshal([]byte(contextIDs), &n.Relationship.ContextMessageIDs)
		n.Outgoing = outgoing == 1
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}
	return neighbors, nil
}

// Traverse runs a depth-bounded BFS from entityID over edges with
// strength >= minStrength. No returned path is longer than maxDepth and
// no path revisits an entity. Cancellation is checked between depth
// levels.
func (r *GraphRepository) Traverse(ctx context.Context, entityID string, maxDepth int, minStrength float64) ([]Path, error) {
	ctx, span := r.tracer.StartSpan(ctx, "graph.traverse",
		observability.WithAttribute(observability.AttrEntity, entityID))
	defer r.tracer.EndSpan(span)

	if err := validation.ID("entityId", entityID); err != nil {
		return nil, err
	}
	if maxDepth < 1 || maxDepth > 6 {
		return nil, recallerr.Validation("maxDepth", "maxDepth must be between 1 and 6")
	}
	if err := validation.UnitInterval("minStrength", minStrength); err != nil {
		return nil, err
	}

	type walk struct {
		entities []string
		types    []string
		strength float64
	}
	frontier := []walk{{entities: []string{entityID}, strength: 1.0}}
	var paths []Path

	for depth := 0; depth < maxDepth; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, recallerr.Wrap(recallerr.KindCancelled, "traversal cancelled", err)
		}

		var next []walk
		for _, w := range frontier {
			tail := w.entities[len(w.entities)-1]
			neighbors, err := r.GetNeighbors(ctx, tail, minStrength, validation.MaxLimit)
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
			for _, n := range neighbors {
				if pathContains(w.entities, n.Entity.ID) {
					continue
				}
				strength := w.strength
				if n.Relationship.Strength < strength {
					strength = n.Relationship.Strength
				}
				extended := walk{
					entities: append(append([]string{}, w.entities...), n.Entity.ID),
					types:    append(append([]string{}, w.types...), string(n.Relationship.Type)),
					strength: strength,
				}
				next = append(next, extended)
				paths = append(paths, Path{
					EntityIDs: extended.entities,
					Types:     extended.types,
					Strength:  extended.strength,
				})
			}
		}
		if len(next) == 0 {
			break
		}
		frontier = next
	}
	span.SetAttribute("paths", len(paths))
	return paths, nil
}

// RelatedConversations ranks conversations by how strongly they mention
// the given entities: sum over mentions of mention confidence.
func (r *GraphRepository) RelatedConversations(ctx context.Context, entityIDs []string, limit int) ([]string, error) {
	ctx, span := r.tracer.StartSpan(ctx, "graph.related_conversations")
	defer r.tracer.EndSpan(span)

	if len(entityIDs) == 0 {
		return nil, recallerr.Validation("entityIds", "at least one entity id is required")
	}
	limit, err := validation.Limit(limit)
	if err != nil {
		return nil, err
	}

	placeholders := make([]byte, 0, len(entityIDs)*2)
	args := make([]interface{}, 0, len(entityIDs)+1)
	for i, id := range entityIDs {
		if err := validation.ID("entityIds", id); err != nil {
			return nil, err
		}
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}
	args = append(args, limit)

	rows, err := r.store.Query(ctx, fmt.Sprintf(`
		SELECT m.conversation_id, SUM(em.confidence) AS score
		FROM entity_mentions em
		JOIN messages m ON m.id = em.message_id
		JOIN conversations c ON c.id = m.conversation_id AND c.deleted_at IS NULL
		WHERE em.entity_id IN (%s)
		GROUP BY m.conversation_id
		ORDER BY score DESC
		LIMIT ?`, placeholders), args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("related conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, fmt.Errorf("scan related conversation: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate related conversations: %w", err)
	}
	return ids, nil
}

func validRelationshipType(t RelationshipType) bool {
	for _, v := range RelationshipTypes {
		if t == v {
			return true
		}
	}
	return false
}

func pathContains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

const relationshipSelect = `
	SELECT id, source_entity_id, target_entity_id, relationship_type,
	       strength, semantic_weight, mention_count,
	       first_mentioned_at, last_mentioned_at, context_message_ids
	FROM entity_relationships`

func scanRelationship(row rowScanner) (*Relationship, error) {
	var rel Relationship
	var typ, contextIDs string
	if err := row.Scan(&rel.ID, &rel.SourceEntityID, &rel.TargetEntityID, &typ,
		&rel.Strength, &rel.SemanticWeight, &rel.MentionCount,
		&rel.FirstMentionedAt, &rel.LastMentionedAt, &contextIDs); err != nil {
		return nil, err
	}
	rel.Type = RelationshipType(typ)
	_ = json.Unmarshal([]byte(contextIDs), &rel.ContextMessageIDs)
	return &rel, nil
}
