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

// Package analytics derives conversation-level and cross-conversation
// metrics from stored messages and the knowledge graph, persisting them
// through the analytics repository. Scores land on a 0-100 scale except
// circularity, which is [0,1], matching the database trigger constraints.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/validation"
)

const (
	// depthFullScoreWords is the average message length that earns the
	// maximum depth score.
	depthFullScoreWords = 120

	// duplicatePrefixLen is the normalized prefix compared when
	// estimating circular discussion.
	duplicatePrefixLen = 40

	// gapMinFrequency is how often a question topic must recur before it
	// counts as a knowledge gap.
	gapMinFrequency = 2

	// productivityWindow buckets messages when deriving patterns.
	productivityWindow = 24 * time.Hour
)

// Analyzer computes analytics rows from the primary tables.
type Analyzer struct {
	convs    *memory.ConversationRepository
	messages *memory.MessageRepository
	entities *memory.EntityRepository
	repo     *memory.AnalyticsRepository
	logger   *zap.Logger
	tracer   observability.Tracer
}

// NewAnalyzer wires the analyzer.
func NewAnalyzer(convs *memory.ConversationRepository, messages *memory.MessageRepository,
	entities *memory.EntityRepository, repo *memory.AnalyticsRepository,
	logger *zap.Logger, tracer observability.Tracer) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Analyzer{
		convs: convs, messages: messages, entities: entities,
		repo: repo, logger: logger, tracer: tracer,
	}
}

// AnalyzeConversation computes and persists one analyzer run.
func (a *Analyzer) AnalyzeConversation(ctx context.Context, conversationID string) (*memory.ConversationAnalytics, error) {
	ctx, span := a.tracer.StartSpan(ctx, "analytics.analyze_conversation",
		observability.WithAttribute(observability.AttrConversation, conversationID))
	defer a.tracer.EndSpan(span)

	if _, err := a.convs.FindByID(ctx, conversationID, false); err != nil {
		return nil, err
	}
	msgs, err := a.messages.FindByConversationID(ctx, conversationID, memory.MessageQuery{Limit: validation.MaxLimit})
	if err != nil {
		return nil, err
	}

	run := &memory.ConversationAnalytics{
		ConversationID:    conversationID,
		MessageCount:      len(msgs),
		DepthScore:        depthScore(msgs),
		CircularityIndex:  circularity(msgs),
		TopicCount:        a.topicCount(ctx, msgs),
		ResolutionRate:    resolutionRate(msgs),
		AnalyzedAt:        time.Now().UnixMilli(),
	}
	// Productivity blends depth and resolution; circular discussion
	// discounts it.
	run.ProductivityScore = clampScore(0.4*run.DepthScore + 0.6*run.ResolutionRate*100*(1-run.CircularityIndex))

	if err := a.repo.SaveConversationAnalytics(ctx, run); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return run, nil
}

// depthScore scales the average message length into [0,100].
func depthScore(msgs []memory.Message) float64 {
	if len(msgs) == 0 {
		return 0
	}
	var words int
	for i := range msgs {
		words += len(strings.Fields(msgs[i].Content))
	}
	avg := float64(words) / float64(len(msgs))
	return clampScore(avg / depthFullScoreWords * 100)
}

// circularity estimates how much of the conversation restates earlier
// turns, as the fraction of messages sharing a normalized prefix with a
// previous message.
func circularity(msgs []memory.Message) float64 {
	if len(msgs) < 2 {
		return 0
	}
	seen := make(map[string]bool, len(msgs))
	var dupes int
	for i := range msgs {
		key := normalizedPrefix(msgs[i].Content)
		if key == "" {
			continue
		}
		if seen[key] {
			dupes++
		}
		seen[key] = true
	}
	v := float64(dupes) / float64(len(msgs))
	if v > 1 {
		v = 1
	}
	return v
}

func normalizedPrefix(content string) string {
	s := strings.ToLower(strings.Join(strings.Fields(content), " "))
	if len(s) > duplicatePrefixLen {
		s = s[:duplicatePrefixLen]
	}
	return s
}

// topicCount counts distinct entities mentioned across the messages.
func (a *Analyzer) topicCount(ctx context.Context, msgs []memory.Message) int {
	distinct := make(map[string]bool)
	for i := range msgs {
		mentions, err := a.entities.MentionsForMessage(ctx, msgs[i].ID)
		if err != nil {
			a.logger.Debug("mentions lookup failed during analysis",
				zap.String("message_id", msgs[i].ID), zap.Error(err))
			continue
		}
		for _, m := range mentions {
			distinct[m.EntityID] = true
		}
	}
	return len(distinct)
}

// resolutionRate is the fraction of user questions answered by a later
// assistant turn.
func resolutionRate(msgs []memory.Message) float64 {
	var questions, resolved int
	for i := range msgs {
		if msgs[i].Role != memory.RoleUser || !strings.Contains(msgs[i].Content, "?") {
			continue
		}
		questions++
		for j := i + 1; j < len(msgs); j++ {
			if msgs[j].Role == memory.RoleAssistant {
				resolved++
				break
			}
		}
	}
	if questions == 0 {
		return 1
	}
	return float64(resolved) / float64(questions)
}

// AnalyzeProductivity buckets messages across all conversations into
// daily windows over [startMs, endMs], persists one pattern per
// non-empty window, and returns patterns overlapping the range.
func (a *Analyzer) AnalyzeProductivity(ctx context.Context, startMs, endMs int64) ([]memory.ProductivityPattern, error) {
	ctx, span := a.tracer.StartSpan(ctx, "analytics.analyze_productivity")
	defer a.tracer.EndSpan(span)

	if endMs == 0 {
		endMs = time.Now().UnixMilli()
	}
	if startMs == 0 {
		startMs = endMs - 30*productivityWindow.Milliseconds()
	}

	counts, err := a.messageCountsByWindow(ctx, startMs, endMs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var peak int
	for _, n := range counts {
		if n > peak {
			peak = n
		}
	}
	for windowStart, n := range counts {
		p := &memory.ProductivityPattern{
			PatternType: "daily_message_volume",
			WindowStart: windowStart,
			WindowEnd:   windowStart + productivityWindow.Milliseconds(),
			Score:       clampScore(float64(n) / float64(peak) * 100),
			SampleCount: n,
		}
		if err := a.repo.SavePattern(ctx, p); err != nil {
			a.logger.Warn("save productivity pattern failed", zap.Error(err))
		}
	}
	return a.repo.PatternsInWindow(ctx, startMs, endMs)
}

func (a *Analyzer) messageCountsByWindow(ctx context.Context, startMs, endMs int64) (map[int64]int, error) {
	page, err := a.convs.FindAll(ctx, validation.MaxLimit, 0, "updated_at", "desc")
	if err != nil {
		return nil, err
	}
	counts := make(map[int64]int)
	window := productivityWindow.Milliseconds()
	for i := range page.Items {
		msgs, err := a.messages.FindByConversationID(ctx, page.Items[i].ID, memory.MessageQuery{Limit: validation.MaxLimit})
		if err != nil {
			return nil, err
		}
		for j := range msgs {
			t := msgs[j].CreatedAt
			if t < startMs || t > endMs {
				continue
			}
			counts[t-(t-startMs)%window]++
		}
	}
	return counts, nil
}

// DetectGaps finds question topics that recur without a later
// non-question statement about them, upserts them as knowledge gaps, and
// returns the open gaps.
func (a *Analyzer) DetectGaps(ctx context.Context, limit int) ([]memory.KnowledgeGap, error) {
	ctx, span := a.tracer.StartSpan(ctx, "analytics.detect_gaps")
	defer a.tracer.EndSpan(span)

	entities, err := a.entities.ListAll(ctx, validation.MaxLimit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	for i := range entities {
		e := &entities[i]
		history, err := a.entities.MentionHistory(ctx, e.ID, 0, 0, validation.MaxLimit)
		if err != nil {
			continue
		}
		questions, statements := 0, 0
		var first, last int64
		for j := range history {
			if strings.Contains(history[j].Content, "?") {
				questions++
				if first == 0 || history[j].CreatedAt < first {
					first = history[j].CreatedAt
				}
				if history[j].CreatedAt > last {
					last = history[j].CreatedAt
				}
			} else {
				statements++
			}
		}
		if questions < gapMinFrequency || statements > 0 {
			continue
		}
		gap := &memory.KnowledgeGap{
			ID:               "gap-" + e.ID,
			Topic:            e.Name,
			FirstOccurrence:  first,
			LastOccurrence:   last,
			Frequency:        questions,
			ExplorationDepth: clampScore(float64(statements) / float64(questions) * 100),
		}
		if err := a.repo.SaveGap(ctx, gap); err != nil {
			a.logger.Warn("save knowledge gap failed",
				zap.String("topic", gap.Topic), zap.Error(err))
		}
	}
	return a.repo.OpenGaps(ctx, limit)
}

// GenerateInsights turns open gaps and the most-discussed entities into
// insight rows, then returns the newest insights.
func (a *Analyzer) GenerateInsights(ctx context.Context, limit int) ([]memory.Insight, error) {
	ctx, span := a.tracer.StartSpan(ctx, "analytics.generate_insights")
	defer a.tracer.EndSpan(span)

	gaps, err := a.repo.OpenGaps(ctx, validation.DefaultLimit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for _, g := range gaps {
		ins := &memory.Insight{
			ID:             "insight-gap-" + g.ID,
			InsightType:    "knowledge_gap",
			Title:          fmt.Sprintf("Open question: %s", g.Topic),
			Body:           fmt.Sprintf("%q has come up %d times without an answer.", g.Topic, g.Frequency),
			RelevanceScore: clampScore(float64(g.Frequency) * 20),
		}
		if err := a.repo.SaveInsight(ctx, ins); err != nil {
			a.logger.Debug("save insight failed", zap.Error(err))
		}
	}

	entities, err := a.entities.ListAll(ctx, validation.DefaultLimit)
	if err == nil {
		sort.Slice(entities, func(i, j int) bool {
			return entities[i].MentionCount > entities[j].MentionCount
		})
		for i := 0; i < len(entities) && i < 3; i++ {
			e := entities[i]
			if e.MentionCount < 2 {
				break
			}
			ins := &memory.Insight{
				ID:             "insight-entity-" + e.ID,
				InsightType:    "recurring_topic",
				Title:          fmt.Sprintf("Recurring topic: %s", e.Name),
				Body:           fmt.Sprintf("%q has been mentioned %d times across your conversations.", e.Name, e.MentionCount),
				RelevanceScore: clampScore(float64(e.MentionCount) * 10),
			}
			if err := a.repo.SaveInsight(ctx, ins); err != nil {
				a.logger.Debug("save insight failed", zap.Error(err))
			}
		}
	}
	return a.repo.RecentInsights(ctx, limit)
}

// Report aggregates activity over [startMs, endMs].
type Report struct {
	WindowStart       int64                        `json:"windowStart"`
	WindowEnd         int64                        `json:"windowEnd"`
	ConversationCount int                          `json:"conversationCount"`
	MessageCount      int                          `json:"messageCount"`
	TopEntities       []memory.Entity              `json:"topEntities"`
	OpenGaps          []memory.KnowledgeGap        `json:"openGaps"`
	Decisions         []memory.Decision            `json:"decisions"`
	Patterns          []memory.ProductivityPattern `json:"patterns"`
	GeneratedAt       int64                        `json:"generatedAt"`
}

// GenerateReport assembles a cross-sectional report for the window.
func (a *Analyzer) GenerateReport(ctx context.Context, startMs, endMs int64) (*Report, error) {
	ctx, span := a.tracer.StartSpan(ctx, "analytics.generate_report")
	defer a.tracer.EndSpan(span)

	if endMs == 0 {
		endMs = time.Now().UnixMilli()
	}
	page, err := a.convs.FindByDateRange(ctx, startMs, endMs, validation.MaxLimit, 0)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	var messageCount int
	for i := range page.Items {
		n, err := a.messages.Count(ctx, page.Items[i].ID)
		if err == nil {
			messageCount += n
		}
	}

	entities, err := a.entities.ListAll(ctx, validation.DefaultLimit)
	if err != nil {
		return nil, err
	}
	sort.Slice(entities, func(i, j int) bool {
		return entities[i].MentionCount > entities[j].MentionCount
	})
	if len(entities) > 10 {
		entities = entities[:10]
	}

	gaps, err := a.repo.OpenGaps(ctx, validation.DefaultLimit)
	if err != nil {
		return nil, err
	}
	decisions, err := a.repo.DecisionsInWindow(ctx, startMs, endMs)
	if err != nil {
		return nil, err
	}
	patterns, err := a.repo.PatternsInWindow(ctx, startMs, endMs)
	if err != nil {
		return nil, err
	}

	return &Report{
		WindowStart:       startMs,
		WindowEnd:         endMs,
		ConversationCount: page.Total,
		MessageCount:      messageCount,
		TopEntities:       entities,
		OpenGaps:          gaps,
		Decisions:         decisions,
		Patterns:          patterns,
		GeneratedAt:       time.Now().UnixMilli(),
	}, nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
