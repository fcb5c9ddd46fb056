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
package knowledge

import (
	"context"

	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/recallerr"
	"github.com/teradata-labs/recall/pkg/validation"
)

// Service orchestrates extraction and persistence. It subscribes to
// message writes; ingestion failures are logged and isolated, never
// surfaced to the writer.
type Service struct {
	entities  *memory.EntityRepository
	graph     *memory.GraphRepository
	extractor *EntityExtractor
	detector  *RelationshipDetector
	logger    *zap.Logger
	tracer    observability.Tracer
}

// NewService wires the graph service over the repositories.
func NewService(entities *memory.EntityRepository, graph *memory.GraphRepository,
	extractor *EntityExtractor, detector *RelationshipDetector,
	logger *zap.Logger, tracer observability.Tracer) *Service {
	if extractor == nil {
		extractor = NewEntityExtractor(0, 0)
	}
	if detector == nil {
		detector = NewRelationshipDetector(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Service{
		entities: entities, graph: graph,
		extractor: extractor, detector: detector,
		logger: logger, tracer: tracer,
	}
}

// Listener returns the MessageListener to register on the message
// repository. Ingestion errors never propagate to the message writer.
func (s *Service) Listener() memory.MessageListener {
	return func(ctx context.Context, msg *memory.Message) {
		if err := s.ProcessMessage(ctx, msg); err != nil {
			s.logger.Warn("knowledge ingestion failed",
				zap.String("messageId", msg.ID), zap.Error(err))
		}
	}
}

// ProcessMessage extracts entities and relationships from one message
// and persists them. Idempotent per message: reprocessing neither
// double-counts mentions nor re-merges relationships.
func (s *Service) ProcessMessage(ctx context.Context, msg *memory.Message) error {
	ctx, span := s.tracer.StartSpan(ctx, "knowledge.process_message")
	defer s.tracer.EndSpan(span)

	extracted := s.extractor.Extract(msg.Content)
	if len(extracted) == 0 {
		return nil
	}
	span.SetAttribute("entities", len(extracted))

	idByNormalized := make(map[string]string, len(extracted))
	var firstErr error
	for _, e := range extracted {
		id, err := s.entities.UpsertByNormalized(ctx, &memory.Entity{
			Name:            e.Text,
			NormalizedName:  e.NormalizedText,
			Type:            e.Type,
			ConfidenceScore: e.Confidence,
			FirstSeenAt:     msg.CreatedAt,
			LastMentionedAt: msg.CreatedAt,
		})
		if err != nil {
			// One bad entity must not sink the rest of the message.
			s.logger.Warn("entity upsert failed",
				zap.String("entity", e.NormalizedText), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		idByNormalized[e.NormalizedText] = id

		if _, err := s.entities.RecordMention(ctx, &memory.EntityMention{
			EntityID:    id,
			MessageID:   msg.ID,
			StartOffset: e.StartPos,
			EndOffset:   e.EndPos,
			Method:      e.Method,
			Confidence:  e.Confidence,
		}); err != nil {
			s.logger.Warn("mention record failed",
				zap.String("entity", e.NormalizedText), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	for _, rel := range s.detector.Detect(msg.Content, extracted, msg.ID) {
		sourceID, okS := idByNormalized[rel.SourceText]
		targetID, okT := idByNormalized[rel.TargetText]
		if !okS || !okT || sourceID == targetID {
			continue
		}
		if s.alreadyMerged(ctx, sourceID, targetID, rel.Type, msg.ID) {
			continue
		}
		if err := s.graph.UpsertRelationship(ctx, &memory.Relationship{
			SourceEntityID:    sourceID,
			TargetEntityID:    targetID,
			Type:              rel.Type,
			Strength:          rel.Confidence,
			SemanticWeight:    rel.Confidence,
			FirstMentionedAt:  msg.CreatedAt,
			LastMentionedAt:   msg.CreatedAt,
			ContextMessageIDs: rel.ContextMessageIDs,
		}); err != nil {
			s.logger.Warn("relationship upsert failed",
				zap.String("type", string(rel.Type)), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// alreadyMerged reports whether this message already contributed to the
// edge, which makes reprocessing a no-op.
func (s *Service) alreadyMerged(ctx context.Context, sourceID, targetID string,
	typ memory.RelationshipType, messageID string) bool {
	existing, err := s.graph.FindRelationship(ctx, sourceID, targetID, typ)
	if err != nil {
		return false
	}
	for _, id := range existing.ContextMessageIDs {
		if id == messageID {
			return true
		}
	}
	return false
}

// ResolveEntity accepts an entity id or a name. Exact id wins, then
// exact normalized-name match, then the best fuzzy match over all known
// entity names.
func (s *Service) ResolveEntity(ctx context.Context, nameOrID string) (*memory.Entity, error) {
	ctx, span := s.tracer.StartSpan(ctx, "knowledge.resolve_entity",
		observability.WithAttribute(observability.AttrEntity, nameOrID))
	defer s.tracer.EndSpan(span)

	if err := validation.NonEmpty("entity", nameOrID, validation.MaxIDLength); err != nil {
		return nil, err
	}
	if e, err := s.entities.FindByID(ctx, nameOrID); err == nil {
		return e, nil
	}
	if matches, err := s.entities.FindByName(ctx, nameOrID); err == nil && len(matches) > 0 {
		return &matches[0], nil
	}

	all, err := s.entities.ListAll(ctx, validation.MaxLimit)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(all))
	for i, e := range all {
		names[i] = e.NormalizedName
	}
	ranked := fuzzy.Find(memory.NormalizeEntityName(nameOrID), names)
	if len(ranked) == 0 {
		return nil, recallerr.NotFound("entity", nameOrID)
	}
	return &all[ranked[0].Index], nil
}

// EntityHistory returns messages mentioning the entity within the time
// range, newest first.
func (s *Service) EntityHistory(ctx context.Context, nameOrID string, startMs, endMs int64, limit int) (*memory.Entity, []memory.Message, error) {
	entity, err := s.ResolveEntity(ctx, nameOrID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.entities.MentionHistory(ctx, entity.ID, startMs, endMs, limit)
	if err != nil {
		return nil, nil, err
	}
	return entity, msgs, nil
}

// FindRelatedConversations ranks conversations by aggregate mention
// confidence of the given entities.
func (s *Service) FindRelatedConversations(ctx context.Context, entityIDs []string, limit int) ([]string, error) {
	return s.graph.RelatedConversations(ctx, entityIDs, limit)
}

// Traverse walks the graph outward from an entity. See
// GraphRepository.Traverse for bounds and cycle handling.
func (s *Service) Traverse(ctx context.Context, nameOrID string, maxDepth int, minStrength float64) (*memory.Entity, []memory.Path, error) {
	entity, err := s.ResolveEntity(ctx, nameOrID)
	if err != nil {
		return nil, nil, err
	}
	paths, err := s.graph.Traverse(ctx, entity.ID, maxDepth, minStrength)
	if err != nil {
		return nil, nil, err
	}
	return entity, paths, nil
}
