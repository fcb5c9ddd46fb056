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

// ConversationAnalytics is one analyzer run over a conversation. Scores
// are on a 0-100 scale except circularity, which is [0,1].
type ConversationAnalytics struct {
	ID                string          `json:"id"`
	ConversationID    string          `json:"conversationId"`
	MessageCount      int             `json:"messageCount"`
	DepthScore        float64         `json:"depthScore"`
	ProductivityScore float64         `json:"productivityScore"`
	CircularityIndex  float64         `json:"circularityIndex"`
	TopicCount        int             `json:"topicCount"`
	ResolutionRate    float64         `json:"resolutionRate"`
	AnalyzedAt        int64           `json:"analyzedAt"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
}

// ProductivityPattern aggregates a scored observation over a time window.
type ProductivityPattern struct {
	ID          string          `json:"id"`
	PatternType string          `json:"patternType"`
	WindowStart int64           `json:"windowStart"`
	WindowEnd   int64           `json:"windowEnd"`
	Score       float64         `json:"score"`
	SampleCount int             `json:"sampleCount"`
	Details     json.RawMessage `json:"details,omitempty"`
}

// KnowledgeGap is a recurring under-explored topic.
type KnowledgeGap struct {
	ID                       string  `json:"id"`
	Topic                    string  `json:"topic"`
	FirstOccurrence          int64   `json:"firstOccurrence"`
	LastOccurrence           int64   `json:"lastOccurrence"`
	Frequency                int     `json:"frequency"`
	ExplorationDepth         float64 `json:"explorationDepth"`
	Resolved                 bool    `json:"resolved"`
	ResolutionDate           *int64  `json:"resolutionDate,omitempty"`
	ResolutionConversationID string  `json:"resolutionConversationId,omitempty"`
}

// Decision tracks one decision through its lifecycle phases.
type Decision struct {
	ID                     string          `json:"id"`
	ConversationID         string          `json:"conversationId"`
	Summary                string          `json:"decisionSummary"`
	ProblemIdentifiedAt    int64           `json:"problemIdentifiedAt"`
	OptionsConsideredAt    *int64          `json:"optionsConsideredAt,omitempty"`
	DecisionMadeAt         *int64          `json:"decisionMadeAt,omitempty"`
	ImplementationStarted  *int64          `json:"implementationStartedAt,omitempty"`
	OutcomeAssessedAt      *int64          `json:"outcomeAssessedAt,omitempty"`
	EffectivenessScore     *float64        `json:"effectivenessScore,omitempty"`
	Metadata               json.RawMessage `json:"metadata,omitempty"`
}

// Insight is a generated cross-conversation observation.
type Insight struct {
	ID                    string   `json:"id"`
	InsightType           string   `json:"insightType"`
	Title                 string   `json:"title"`
	Body                  string   `json:"body"`
	RelevanceScore        float64  `json:"relevanceScore"`
	SourceConversationIDs []string `json:"sourceConversationIds"`
	GeneratedAt           int64    `json:"generatedAt"`
	Dismissed             bool     `json:"dismissed"`
}

// AnalyticsRepository provides CRUD plus windowed queries over the
// analytics tables. Range validation beyond what fits in SQL constraints
// is enforced by database triggers.
type AnalyticsRepository struct {
	store  *storage.Store
	cache  *storage.QueryCache
	tracer observability.Tracer
}

// NewAnalyticsRepository wires a repository over the shared store.
func NewAnalyticsRepository(store *storage.Store, cache *storage.QueryCache, tracer observability.Tracer) *AnalyticsRepository {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &AnalyticsRepository{store: store, cache: cache, tracer: tracer}
}

// SaveConversationAnalytics inserts an analyzer run.
func (r *AnalyticsRepository) SaveConversationAnalytics(ctx context.Context, a *ConversationAnalytics) error {
	ctx, span := r.tracer.StartSpan(ctx, "analytics.save_conversation")
	defer r.tracer.EndSpan(span)

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := validation.ID("conversationId", a.ConversationID); err != nil {
		return err
	}
	if a.AnalyzedAt == 0 {
		a.AnalyzedAt = time.Now().UnixMilli()
	}
	if len(a.Metadata) == 0 {
		a.Metadata = json.RawMessage("{}")
	}

	_, err := r.store.Exec(ctx, `
		INSERT INTO conversation_analytics
			(id, conversation_id, message_count, depth_score, productivity_score,
			 circularity_index, topic_count, resolution_rate, analyzed_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ConversationID, a.MessageCount, a.DepthScore, a.ProductivityScore,
		a.CircularityIndex, a.TopicCount, a.ResolutionRate, a.AnalyzedAt, string(a.Metadata))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("save conversation analytics: %w", err)
	}
	r.invalidate()
	return nil
}

// LatestConversationAnalytics returns the most recent run.
func (r *AnalyticsRepository) LatestConversationAnalytics(ctx context.Context, conversationID string) (*ConversationAnalytics, error) {
	ctx, span := r.tracer.StartSpan(ctx, "analytics.latest_conversation")
	defer r.tracer.EndSpan(span)

	if err := validation.ID("conversationId", conversationID); err != nil {
		return nil, err
	}
	var a ConversationAnalytics
	var metadata string
	err := r.store.QueryRow(ctx, `
		SELECT id, conversation_id, message_count, depth_score, productivity_score,
		       circularity_index, topic_count, resolution_rate, analyzed_at, metadata
		FROM conversation_analytics
		WHERE conversation_id = ? ORDER BY analyzed_at DESC LIMIT 1`, conversationID).
		Scan(&a.ID, &a.ConversationID, &a.MessageCount, &a.DepthScore, &a.ProductivityScore,
			&a.CircularityIndex, &a.TopicCount, &a.ResolutionRate, &a.AnalyzedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, recallerr.NotFound("conversation analytics", conversationID)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("latest conversation analytics: %w", err)
	}
	a.Metadata = json.RawMessage(metadata)
	return &a, nil
}

// SavePattern inserts a productivity pattern.
func (r *AnalyticsRepository) SavePattern(ctx context.Context, p *ProductivityPattern) error {
	ctx, span := r.tracer.StartSpan(ctx, "analytics.save_pattern")
	defer r.tracer.EndSpan(span)

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := validation.NonEmpty("patternType", p.PatternType, 64); err != nil {
		return err
	}
	if len(p.Details) == 0 {
		p.Details = json.RawMessage("{}")
	}
	_, err := r.store.Exec(ctx, `
		INSERT INTO productivity_patterns
			(id, pattern_type, window_start, window_end, score, sample_count, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PatternType, p.WindowStart, p.WindowEnd, p.Score, p.SampleCount, string(p.Details))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("save productivity pattern: %w", err)
	}
	r.invalidate()
	return nil
}

// PatternsInWindow lists patterns overlapping [startMs, endMs].
func (r *AnalyticsRepository) PatternsInWindow(ctx context.Context, startMs, endMs int64) ([]ProductivityPattern, error) {
	ctx, span := r.tracer.StartSpan(ctx, "analytics.patterns_in_window")
	defer r.tracer.EndSpan(span)

	if err := validation.DateRange(startMs, endMs); err != nil {
		return nil, err
	}
	if endMs == 0 {
		endMs = time.Now().UnixMilli()
	}
	rows, err := r.store.Query(ctx, `
		SELECT id, pattern_type, window_start, window_end, score, sample_count, details
		FROM productivity_patterns
		WHERE window_end >= ? AND window_start <= ?
		ORDER BY window_start`, startMs, endMs)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list productivity patterns: %w", err)
	}
	defer rows.Close()

	var items []ProductivityPattern
	for rows.Next() {
		var p ProductivityPattern
		var details string
		if err := rows.Scan(&p.ID, &p.PatternType, &p.WindowStart, &p.WindowEnd,
			&p.Score, &p.SampleCount, &details); err != nil {
			return nil, fmt.Errorf("scan productivity pattern: %w", err)
		}
		p.Details = json.RawMessage(details)
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate productivity patterns: %w", err)
	}
	return items, nil
}

// SaveGap inserts or replaces a knowledge gap by id.
func (r *AnalyticsRepository) SaveGap(ctx context.Context, g *KnowledgeGap) error {
	ctx, span := r.tracer.StartSpan(ctx, "analytics.save_gap")
	defer r.tracer.EndSpan(span)

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if err := validation.NonEmpty("topic", g.Topic, 256); err != nil {
		return err
	}
	var resolutionDate interface{}
	if g.ResolutionDate != nil {
		resolutionDate = *g.ResolutionDate
	}
	_, err := r.store.Exec(ctx, `
		INSERT INTO knowledge_gaps
			(id, topic, first_occurrence, last_occurrence, frequency,
			 exploration_depth, resolved, resolution_date, resolution_conversation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			last_occurrence = excluded.last_occurrence,
			frequency = excluded.frequency,
			exploration_depth = excluded.exploration_depth,
			resolved = excluded.resolved,
			resolution_date = excluded.resolution_date,
			resolution_conversation_id = excluded.resolution_conversation_id`,
		g.ID, g.Topic, g.FirstOccurrence, g.LastOccurrence, g.Frequency,
		g.ExplorationDepth, boolToInt(g.Resolved), resolutionDate,
		nullString(g.ResolutionConversationID))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("save knowledge gap: %w", err)
	}
	r.invalidate()
	return nil
}

// OpenGaps lists unresolved gaps, most recently seen first.
func (r *AnalyticsRepository) OpenGaps(ctx context.Context, limit int) ([]KnowledgeGap, error) {
	ctx, span := r.tracer.StartSpan(ctx, "analytics.open_gaps")
	defer r.tracer.EndSpan(span)

	limit, err := validation.Limit(limit)
	if err != nil {
		return nil, err
	}
	rows, err := r.store.Query(ctx, `
		SELECT id, topic, first_occurrence, last_occurrence, frequency,
		       exploration_depth, resolved, resolution_date, resolution_conversation_id
		FROM knowledge_gaps WHERE resolved = 0
		ORDER BY last_occurrence DESC LIMIT ?`, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list knowledge gaps: %w", err)
	}
	defer rows.Close()

	var items []KnowledgeGap
	for rows.Next() {
		var g KnowledgeGap
		var resolved int
		var resolutionDate sql.NullInt64
		var resolutionConv sql.NullString
		if err := rows.Scan(&g.ID, &g.Topic, &g.FirstOccurrence, &g.LastOccurrence,
			&g.Frequency, &g.ExplorationDepth, &resolved, &resolutionDate, &resolutionConv); err != nil {
			return nil, fmt.Errorf("scan knowledge gap: %w", err)
		}
		g.Resolved = resolved == 1
		if resolutionDate.Valid {
			v := resolutionDate.Int64
			g.ResolutionDate = &v
		}
		g.ResolutionConversationID = resolutionConv.String
		items = append(items, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge gaps: %w", err)
	}
	return items, nil
}

// SaveDecision inserts or replaces a tracked decision by id.
func (r *AnalyticsRepository) SaveDecision(ctx context.Context, d *Decision) error {
	ctx, span := r.tracer.StartSpan(ctx, "analytics.save_decision")
	defer r.tracer.EndSpan(span)

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if err := validation.ID("conversationId", d.ConversationID); err != nil {
		return err
	}
	if err := validation.NonEmpty("decisionSummary", d.Summary, 1024); err != nil {
		return err
	}
	if len(d.Metadata) == 0 {
		d.Metadata = json.RawMessage("{}")
	}
	_, err := r.store.Exec(ctx, `
		INSERT INTO decision_tracking
			(id, conversation_id, decision_summary, problem_identified_at,
			 options_considered_at, decision_made_at, implementation_started_at,
			 outcome_assessed_at, effectiveness_score, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			options_considered_at = excluded.options_considered_at,
			decision_made_at = excluded.decision_made_at,
			implementation_started_at = excluded.implementation_started_at,
			outcome_assessed_at = excluded.outcome_assessed_at,
			effectiveness_score = excluded.effectiveness_score,
			metadata = excluded.metadata`,
		d.ID, d.ConversationID, d.Summary, d.ProblemIdentifiedAt,
		nullInt64(d.OptionsConsideredAt), nullInt64(d.DecisionMadeAt),
		nullInt64(d.ImplementationStarted), nullInt64(d.OutcomeAssessedAt),
		nullFloat64(d.EffectivenessScore), string(d.Metadata))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("save decision: %w", err)
	}
	r.invalidate()
	return nil
}

// DecisionsInWindow lists decisions whose problem was identified in range.
func (r *AnalyticsRepository) DecisionsInWindow(ctx context.Context, startMs, endMs int64) ([]Decision, error) {
	ctx, span := r.tracer.StartSpan(ctx, "analytics.decisions_in_window")
	defer r.tracer.EndSpan(span)

	if err := validation.DateRange(startMs, endMs); err != nil {
		return nil, err
	}
	if endMs == 0 {
		endMs = time.Now().UnixMilli()
	}
	rows, err := r.store.Query(ctx, `
		SELECT id, conversation_id, decision_summary, problem_identified_at,
		       options_considered_at, decision_made_at, implementation_started_at,
		       outcome_assessed_at, effectiveness_score, metadata
		FROM decision_tracking
		WHERE problem_identified_at >= ? AND problem_identified_at <= ?
		ORDER BY problem_identified_at`, startMs, endMs)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var items []Decision
	for rows.Next() {
		var d Decision
		var options, made, impl, outcome sql.NullInt64
		var score sql.NullFloat64
		var metadata string
		if err := rows.Scan(&d.ID, &d.ConversationID, &d.Summary, &d.ProblemIdentifiedAt,
			&options, &made, &impl, &outcome, &score, &metadata); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.OptionsConsideredAt = int64Ptr(options)
		d.DecisionMadeAt = int64Ptr(made)
		d.ImplementationStarted = int64Ptr(impl)
		d.OutcomeAssessedAt = int64Ptr(outcome)
		if score.Valid {
			v := score.Float64
			d.EffectivenessScore = &v
		}
		d.Metadata = json.RawMessage(metadata)
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return items, nil
}

// SaveInsight inserts a generated insight.
func (r *AnalyticsRepository) SaveInsight(ctx context.Context, i *Insight) error {
	ctx, span := r.tracer.StartSpan(ctx, "analytics.save_insight")
	defer r.tracer.EndSpan(span)

	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if err := validation.NonEmpty("title", i.Title, 256); err != nil {
		return err
	}
	if i.GeneratedAt == 0 {
		i.GeneratedAt = time.Now().UnixMilli()
	}
	sources, err := json.Marshal(i.SourceConversationIDs)
	if err != nil {
		return fmt.Errorf("marshal insight sources: %w", err)
	}
	_, err = r.store.Exec(ctx, `
		INSERT INTO insights
			(id, insight_type, title, body, relevance_score, source_conversation_ids,
			 generated_at, dismissed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.InsightType, i.Title, i.Body, i.RelevanceScore, string(sources),
		i.GeneratedAt, boolToInt(i.Dismissed))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("save insight: %w", err)
	}
	r.invalidate()
	return nil
}

// RecentInsights lists non-dismissed insights, newest first.
func (r *AnalyticsRepository) RecentInsights(ctx context.Context, limit int) ([]Insight, error) {
	ctx, span := r.tracer.StartSpan(ctx, "analytics.recent_insights")
	defer r.tracer.EndSpan(span)

	limit, err := validation.Limit(limit)
	if err != nil {
		return nil, err
	}
	rows, err := r.store.Query(ctx, `
		SELECT id, insight_type, title, body, relevance_score, source_conversation_ids,
		       generated_at, dismissed
		FROM insights WHERE dismissed = 0
		ORDER BY generated_at DESC LIMIT ?`, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	var items []Insight
	for rows.Next() {
		var i Insight
		var sources string
		var dismissed int
		if err := rows.Scan(&i.ID, &i.InsightType, &i.Title, &i.Body, &i.RelevanceScore,
			&sources, &i.GeneratedAt, &dismissed); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		_ = json.Unmarshal([]byte(sources), &i.SourceConversationIDs)
		i.Dismissed = dismissed == 1
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate insights: %w", err)
	}
	return items, nil
}

func (r *AnalyticsRepository) invalidate() {
	if r.cache != nil {
		r.cache.Invalidate("analytics")
	}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullFloat64(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
