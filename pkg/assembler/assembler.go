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
package assembler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/recallerr"
	"github.com/teradata-labs/recall/pkg/search"
	"github.com/teradata-labs/recall/pkg/validation"
)

// Strategy selects how message candidates are scored.
type Strategy string

const (
	StrategyTemporal      Strategy = "temporal"
	StrategyTopical       Strategy = "topical"
	StrategyEntityCentric Strategy = "entity-centric"
	StrategyHybrid        Strategy = "hybrid"
)

// Hybrid scoring weights.
const (
	hybridTopicalWeight  = 0.5
	hybridTemporalWeight = 0.3
	hybridEntityWeight   = 0.2
)

// Soft budget split. Underfilled regions roll forward into messages.
const (
	messagesShare = 0.60
	summaryShare  = 0.25
	metadataShare = 0.10
	bufferShare   = 0.05
)

// MaxConversations caps multi-conversation assembly.
const MaxConversations = 5

// conversationSeparator joins merged sub-contexts.
const conversationSeparator = "\n\n---\n\n"

// recentReserveFraction of the message budget is held for the newest
// messages when IncludeRecent is set.
const recentReserveFraction = 0.10

// Window bounds candidate messages by createdAt.
type Window struct {
	StartMs int64 `json:"startMs"`
	EndMs   int64 `json:"endMs"`
}

// Request shapes one Assemble call.
type Request struct {
	Query           string   `json:"query"`
	MaxTokens       int      `json:"maxTokens"`
	Strategy        Strategy `json:"strategy"`
	ConversationIDs []string `json:"conversationIds,omitempty"`
	MinRelevance    float64  `json:"minRelevance"`
	IncludeRecent   bool     `json:"includeRecent"`
	FocusEntities   []string `json:"focusEntities,omitempty"`
	TimeWindow      *Window  `json:"timeWindow,omitempty"`
	Model           string   `json:"model,omitempty"`
}

// TokenBreakdown attributes the assembled tokens to budget regions. The
// fields always sum to the context's TokenCount.
type TokenBreakdown struct {
	Query     int `json:"query"`
	Messages  int `json:"messages"`
	Summaries int `json:"summaries"`
	Metadata  int `json:"metadata"`
	Buffer    int `json:"buffer"`
}

// IncludedItem records one admitted piece of context.
type IncludedItem struct {
	ID             string  `json:"id"`
	Type           string  `json:"type"`
	RelevanceScore float64 `json:"relevanceScore"`
	TokenCount     int     `json:"tokenCount"`
	Position       int     `json:"position"`
}

// Metrics describes how the assembly went.
type Metrics struct {
	CandidateCount int     `json:"candidateCount"`
	AdmittedCount  int     `json:"admittedCount"`
	Conversations  int     `json:"conversations"`
	CacheHit       bool    `json:"cacheHit"`
	DurationMs     float64 `json:"durationMs"`
}

// AssembledContext is the result of one Assemble call. TokenCount never
// exceeds the requested MaxTokens.
type AssembledContext struct {
	Text           string         `json:"text"`
	TokenCount     int            `json:"tokenCount"`
	TokenBreakdown TokenBreakdown `json:"tokenBreakdown"`
	IncludedItems  []IncludedItem `json:"includedItems"`
	Strategy       Strategy       `json:"strategy"`
	Metrics        Metrics        `json:"metrics"`
}

// Searcher is the slice of the search engine the assembler needs.
// Satisfied by *search.Engine.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) (*search.Response, error)
}

// Assembler builds token-budgeted context from stored conversations.
type Assembler struct {
	convs     *memory.ConversationRepository
	messages  *memory.MessageRepository
	summaries *memory.SummaryRepository
	entities  *memory.EntityRepository
	graph     *memory.GraphRepository
	searcher  Searcher
	counter   *TokenCounter
	cache     *ContextCache
	tracer    observability.Tracer
}

// New wires the assembler. searcher and cache may be nil: without a
// searcher the topical strategy degrades to temporal scoring; without a
// cache every call assembles from scratch.
func New(convs *memory.ConversationRepository, messages *memory.MessageRepository,
	summaries *memory.SummaryRepository, entities *memory.EntityRepository,
	graph *memory.GraphRepository, searcher Searcher, cache *ContextCache,
	tracer observability.Tracer) *Assembler {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Assembler{
		convs: convs, messages: messages, summaries: summaries,
		entities: entities, graph: graph, searcher: searcher,
		cache: cache, counter: GetTokenCounter(), tracer: tracer,
	}
}

// Assemble builds a context window for the query under the token cap.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*AssembledContext, error) {
	ctx, span := a.tracer.StartSpan(ctx, "assembler.assemble",
		observability.WithAttribute(observability.AttrQuery, req.Query),
		observability.WithAttribute(observability.AttrStrategy, string(req.Strategy)))
	defer a.tracer.EndSpan(span)

	if err := validation.NonEmpty("query", req.Query, 1024); err != nil {
		return nil, err
	}
	if err := validation.Positive("maxTokens", req.MaxTokens); err != nil {
		return nil, err
	}
	if req.Strategy == "" {
		req.Strategy = StrategyHybrid
	}
	switch req.Strategy {
	case StrategyTemporal, StrategyTopical, StrategyEntityCentric, StrategyHybrid:
	default:
		return nil, recallerr.Validation("strategy",
			"strategy must be one of temporal, topical, entity-centric, hybrid")
	}
	if err := validation.UnitInterval("minRelevance", req.MinRelevance); err != nil {
		return nil, err
	}
	if len(req.ConversationIDs) > MaxConversations {
		req.ConversationIDs = req.ConversationIDs[:MaxConversations]
	}

	start := time.Now()
	if a.cache != nil {
		if cached, ok := a.cache.Get(ctx, req); ok {
			cached.Metrics.CacheHit = true
			cached.Metrics.DurationMs = float64(time.Since(start).Microseconds()) / 1000
			return cached, nil
		}
	}

	convIDs, err := a.scopeConversations(ctx, req)
	if err != nil {
		return nil, err
	}

	header := "Query: " + req.Query + "\n"
	queryTokens := a.counter.Count(header)
	remaining := req.MaxTokens - queryTokens
	if remaining <= 0 {
		return nil, recallerr.Validation("maxTokens",
			fmt.Sprintf("maxTokens %d cannot fit the query prefix (%d tokens)", req.MaxTokens, queryTokens))
	}

	subs := make([]subContext, 0, len(convIDs))
	candidateTotal := 0
	for _, id := range convIDs {
		sub, err := a.assembleConversation(ctx, req, id, remaining)
		if err != nil {
			span.RecordError(err)
			continue
		}
		candidateTotal += sub.candidates
		if sub.tokens == 0 {
			continue
		}
		subs = append(subs, sub)
	}
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].avgRelevance > subs[j].avgRelevance })

	// Merge sub-contexts in relevance order until the budget runs out.
	out := &AssembledContext{Strategy: req.Strategy}
	out.TokenBreakdown.Query = queryTokens
	var sb strings.Builder
	sb.WriteString(header)
	used := queryTokens
	sepTokens := a.counter.Count(conversationSeparator)

	merged := 0
	for _, sub := range subs {
		cost := sub.tokens
		if merged > 0 {
			cost += sepTokens
		}
		if used+cost > req.MaxTokens {
			continue
		}
		if merged > 0 {
			sb.WriteString(conversationSeparator)
			out.TokenBreakdown.Buffer += sepTokens
		}
		base := len(out.IncludedItems)
		for i, item := range sub.items {
			item.Position = base + i
			out.IncludedItems = append(out.IncludedItems, item)
		}
		sb.WriteString(sub.text)
		out.TokenBreakdown.Messages += sub.breakdown.Messages
		out.TokenBreakdown.Summaries += sub.breakdown.Summaries
		out.TokenBreakdown.Metadata += sub.breakdown.Metadata
		used += cost
		merged++
	}

	out.Text = sb.String()
	out.TokenCount = out.TokenBreakdown.Query + out.TokenBreakdown.Messages +
		out.TokenBreakdown.Summaries + out.TokenBreakdown.Metadata + out.TokenBreakdown.Buffer
	out.Metrics = Metrics{
		CandidateCount: candidateTotal,
		AdmittedCount:  len(out.IncludedItems),
		Conversations:  merged,
		DurationMs:     float64(time.Since(start).Microseconds()) / 1000,
	}
	span.SetAttribute("tokens", out.TokenCount)

	if a.cache != nil {
		a.cache.Put(ctx, req, out)
	}
	return out, nil
}

// scopeConversations resolves the conversation set: explicit ids, or the
// most recently updated ones.
func (a *Assembler) scopeConversations(ctx context.Context, req Request) ([]string, error) {
	if len(req.ConversationIDs) > 0 {
		return req.ConversationIDs, nil
	}
	page, err := a.convs.FindAll(ctx, MaxConversations, 0, "updated_at", "desc")
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(page.Items))
	for i, c := range page.Items {
		ids[i] = c.ID
	}
	return ids, nil
}

// subContext is one conversation's assembled region before merging.
type subContext struct {
	text         string
	tokens       int
	breakdown    TokenBreakdown
	items        []IncludedItem
	avgRelevance float64
	candidates   int
}

// assembleConversation builds one conversation's context within budget.
// Region budgets are soft: unused metadata and summary budget rolls into
// the message region.
func (a *Assembler) assembleConversation(ctx context.Context, req Request, conversationID string, budget int) (subContext, error) {
	var sub subContext

	conv, err := a.convs.FindByID(ctx, conversationID, false)
	if err != nil {
		return sub, err
	}

	metaBudget := int(float64(budget) * metadataShare)
	sumBudget := int(float64(budget) * summaryShare)
	msgBudget := int(float64(budget) * messagesShare)

	var sb strings.Builder

	// Metadata region.
	count, err := a.messages.Count(ctx, conversationID)
	if err != nil {
		return sub, err
	}
	title := conv.Title
	if title == "" {
		title = conv.ID
	}
	metaLine := fmt.Sprintf("Conversation: %s (%d messages)\n", title, count)
	if t := a.counter.Count(metaLine); t <= metaBudget {
		sb.WriteString(metaLine)
		sub.breakdown.Metadata = t
	}
	sumBudget += metaBudget - sub.breakdown.Metadata

	// Summary region: newest summaries first, admitted greedily.
	summaries, err := a.summaries.ListFor(ctx, conversationID)
	if err == nil {
		for _, s := range summaries {
			line := "Summary (" + string(s.Level) + "): " + s.Text + "\n"
			t := a.counter.Count(line)
			if sub.breakdown.Summaries+t > sumBudget {
				continue
			}
			sb.WriteString(line)
			sub.breakdown.Summaries += t
			sub.items = append(sub.items, IncludedItem{
				ID: s.ID, Type: "summary", RelevanceScore: 1, TokenCount: t,
			})
		}
	}
	msgBudget += sumBudget - sub.breakdown.Summaries

	// Message region.
	admitted, candidates, err := a.selectMessages(ctx, req, conversationID, msgBudget)
	if err != nil {
		return sub, err
	}
	sub.candidates = candidates
	for _, m := range admitted {
		sb.WriteString(m.line)
		sub.breakdown.Messages += m.tokens
		sub.items = append(sub.items, IncludedItem{
			ID: m.msg.ID, Type: "message", RelevanceScore: m.score, TokenCount: m.tokens,
		})
	}

	sub.text = sb.String()
	sub.tokens = sub.breakdown.Metadata + sub.breakdown.Summaries + sub.breakdown.Messages
	if len(sub.items) > 0 {
		total := 0.0
		for _, it := range sub.items {
			total += it.RelevanceScore
		}
		sub.avgRelevance = total / float64(len(sub.items))
	}
	return sub, nil
}

// scoredMessage is one candidate with its strategy score and rendering.
type scoredMessage struct {
	msg    memory.Message
	score  float64
	line   string
	tokens int
}

// selectMessages scores the conversation's candidates and greedily
// admits them under the message budget. With IncludeRecent a slice of
// the budget goes to the newest messages before score order applies.
func (a *Assembler) selectMessages(ctx context.Context, req Request, conversationID string, msgBudget int) ([]scoredMessage, int, error) {
	msgs, err := a.messages.FindByConversationID(ctx, conversationID,
		memory.MessageQuery{Limit: validation.MaxLimit})
	if err != nil {
		return nil, 0, err
	}
	if req.TimeWindow != nil {
		filtered := msgs[:0]
		for _, m := range msgs {
			if m.CreatedAt < req.TimeWindow.StartMs {
				continue
			}
			if req.TimeWindow.EndMs > 0 && m.CreatedAt > req.TimeWindow.EndMs {
				continue
			}
			filtered = append(filtered, m)
		}
		msgs = filtered
	}
	if len(msgs) == 0 {
		return nil, 0, nil
	}

	scores := a.scoreMessages(ctx, req, conversationID, msgs)

	candidates := make([]scoredMessage, 0, len(msgs))
	for i, m := range msgs {
		line := "[" + string(m.Role) + "] " + m.Content + "\n"
		candidates = append(candidates, scoredMessage{
			msg: m, score: scores[i], line: line, tokens: a.counter.Count(line),
		})
	}

	admittedSet := make(map[string]bool)
	var admitted []scoredMessage
	usedTokens := 0

	// Recency reserve.
	if req.IncludeRecent {
		reserve := int(float64(msgBudget) * recentReserveFraction)
		byRecency := make([]scoredMessage, len(candidates))
		copy(byRecency, candidates)
		sort.SliceStable(byRecency, func(i, j int) bool {
			return byRecency[i].msg.CreatedAt > byRecency[j].msg.CreatedAt
		})
		reserveUsed := 0
		for _, c := range byRecency {
			if reserveUsed+c.tokens > reserve {
				break
			}
			admitted = append(admitted, c)
			admittedSet[c.msg.ID] = true
			reserveUsed += c.tokens
		}
		usedTokens = reserveUsed
	}

	byScore := make([]scoredMessage, len(candidates))
	copy(byScore, candidates)
	sort.SliceStable(byScore, func(i, j int) bool {
		if byScore[i].score != byScore[j].score {
			return byScore[i].score > byScore[j].score
		}
		return byScore[i].msg.CreatedAt > byScore[j].msg.CreatedAt
	})
	for _, c := range byScore {
		if admittedSet[c.msg.ID] || c.score < req.MinRelevance {
			continue
		}
		if usedTokens+c.tokens > msgBudget {
			continue
		}
		admitted = append(admitted, c)
		admittedSet[c.msg.ID] = true
		usedTokens += c.tokens
	}

	// Render in conversation order.
	sort.SliceStable(admitted, func(i, j int) bool {
		if admitted[i].msg.CreatedAt != admitted[j].msg.CreatedAt {
			return admitted[i].msg.CreatedAt < admitted[j].msg.CreatedAt
		}
		return admitted[i].msg.ID < admitted[j].msg.ID
	})
	return admitted, len(candidates), nil
}

// scoreMessages computes the per-message strategy scores, index-aligned
// with msgs.
func (a *Assembler) scoreMessages(ctx context.Context, req Request, conversationID string, msgs []memory.Message) []float64 {
	temporal := a.temporalScores(msgs)

	switch req.Strategy {
	case StrategyTemporal:
		return temporal
	case StrategyTopical:
		if topical, ok := a.topicalScores(ctx, req.Query, conversationID, msgs); ok {
			return topical
		}
		return temporal
	case StrategyEntityCentric:
		return a.entityScores(ctx, req, msgs)
	default: // hybrid
		topical, ok := a.topicalScores(ctx, req.Query, conversationID, msgs)
		if !ok {
			topical = temporal
		}
		entity := a.entityScores(ctx, req, msgs)
		out := make([]float64, len(msgs))
		for i := range msgs {
			out[i] = hybridTopicalWeight*topical[i] +
				hybridTemporalWeight*temporal[i] +
				hybridEntityWeight*entity[i]
		}
		return out
	}
}

// temporalScores rank newest-first on a linear [0,1] scale.
func (a *Assembler) temporalScores(msgs []memory.Message) []float64 {
	order := make([]int, len(msgs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return msgs[order[i]].CreatedAt > msgs[order[j]].CreatedAt
	})
	out := make([]float64, len(msgs))
	n := float64(len(msgs))
	for rank, idx := range order {
		out[idx] = 1 - float64(rank)/n
	}
	return out
}

// topicalScores asks the search engine to rank the conversation against
// the query. Returns ok=false when no searcher is wired or the search
// fails; the caller degrades to temporal scoring.
func (a *Assembler) topicalScores(ctx context.Context, query, conversationID string, msgs []memory.Message) ([]float64, bool) {
	if a.searcher == nil {
		return nil, false
	}
	resp, err := a.searcher.Search(ctx, query, search.Options{
		Strategy: search.StrategyAuto,
		Limit:    validation.MaxLimit,
		Filter:   search.FTSFilter{ConversationIDs: []string{conversationID}},
	})
	if err != nil {
		return nil, false
	}
	byID := make(map[string]float64, len(resp.Results))
	for _, r := range resp.Results {
		byID[r.Message.ID] = r.Score
	}
	out := make([]float64, len(msgs))
	for i, m := range msgs {
		out[i] = byID[m.ID]
	}
	return out, true
}

// entityScores weight messages by mentions of the focus entities and
// their graph neighbors (neighbor weight scaled by edge strength).
func (a *Assembler) entityScores(ctx context.Context, req Request, msgs []memory.Message) []float64 {
	out := make([]float64, len(msgs))
	if len(req.FocusEntities) == 0 {
		return out
	}

	weightByEntity := make(map[string]float64)
	for _, name := range req.FocusEntities {
		matches, err := a.entities.FindByName(ctx, name)
		if err != nil || len(matches) == 0 {
			continue
		}
		focus := matches[0]
		weightByEntity[focus.ID] = 1
		neighbors, err := a.graph.GetNeighbors(ctx, focus.ID, 0, validation.DefaultLimit)
		if err != nil {
			continue
		}
		for _, n := range neighbors {
			if n.Relationship.Strength > weightByEntity[n.Entity.ID] {
				weightByEntity[n.Entity.ID] = n.Relationship.Strength
			}
		}
	}
	if len(weightByEntity) == 0 {
		return out
	}

	for i, m := range msgs {
		mentions, err := a.entities.MentionsForMessage(ctx, m.ID)
		if err != nil {
			continue
		}
		for _, mention := range mentions {
			if w, ok := weightByEntity[mention.EntityID]; ok {
				out[i] += w * mention.Confidence
			}
		}
	}
	// Normalize into [0,1] so strategies mix on the same scale.
	max := 0.0
	for _, v := range out {
		if v > max {
			max = v
		}
	}
	if max > 0 {
		for i := range out {
			out[i] /= max
		}
	}
	return out
}
