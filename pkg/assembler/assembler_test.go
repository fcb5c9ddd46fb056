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
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/recallerr"
	"github.com/teradata-labs/recall/pkg/search"
	"github.com/teradata-labs/recall/pkg/storage"
	"github.com/teradata-labs/recall/pkg/storage/migrate"
)

type assemblerFixture struct {
	store     *storage.Store
	convs     *memory.ConversationRepository
	messages  *memory.MessageRepository
	summaries *memory.SummaryRepository
	entities  *memory.EntityRepository
	graph     *memory.GraphRepository
	cache     *ContextCache
	assembler *Assembler
}

func newAssemblerFixture(t *testing.T) *assemblerFixture {
	t.Helper()
	s, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m, err := migrate.NewMigrator(s.DB(), nil)
	require.NoError(t, err)
	require.NoError(t, m.MigrateUp(context.Background()))

	convs := memory.NewConversationRepository(s, nil, nil)
	messages := memory.NewMessageRepository(s, nil, nil)
	summaries := memory.NewSummaryRepository(s, nil, nil)
	entities := memory.NewEntityRepository(s, nil, nil)
	graph := memory.NewGraphRepository(s, nil, nil)
	engine := search.NewEngine(s, search.NewFTSIndex(s, nil), nil, nil, messages, nil)
	cache := NewContextCache(s, 0)

	return &assemblerFixture{
		store: s, convs: convs, messages: messages, summaries: summaries,
		entities: entities, graph: graph, cache: cache,
		assembler: New(convs, messages, summaries, entities, graph, engine, cache, nil),
	}
}

func (f *assemblerFixture) newConversation(t *testing.T, title string) string {
	t.Helper()
	c := &memory.Conversation{Title: title}
	require.NoError(t, f.convs.Create(context.Background(), c))
	return c.ID
}

func (f *assemblerFixture) addMessage(t *testing.T, conversationID, content string, at int64) *memory.Message {
	t.Helper()
	msg := &memory.Message{
		ConversationID: conversationID, Role: memory.RoleUser,
		Content: content, CreatedAt: at,
	}
	require.NoError(t, f.messages.Create(context.Background(), msg))
	return msg
}

func assertBreakdownSums(t *testing.T, out *AssembledContext) {
	t.Helper()
	b := out.TokenBreakdown
	assert.Equal(t, out.TokenCount, b.Query+b.Messages+b.Summaries+b.Metadata+b.Buffer)
}

func TestAssembleBudgetHonored(t *testing.T) {
	f := newAssemblerFixture(t)
	conv := f.newConversation(t, "planning")
	for i := 0; i < 200; i++ {
		content := fmt.Sprintf("Discussion item %d about various delivery topics.", i)
		if i%10 == 0 {
			content = fmt.Sprintf("The roadmap for Q3 includes milestone %d.", i)
		}
		f.addMessage(t, conv, content, int64(1000+i))
	}

	out, err := f.assembler.Assemble(context.Background(), Request{
		Query:           "roadmap Q3",
		MaxTokens:       500,
		Strategy:        StrategyHybrid,
		ConversationIDs: []string{conv},
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, out.TokenCount, 500)
	assertBreakdownSums(t, out)
	assert.NotEmpty(t, out.IncludedItems)
	assert.Equal(t, StrategyHybrid, out.Strategy)
	assert.Greater(t, out.Metrics.CandidateCount, 0)
}

func TestAssembleTinyBudget(t *testing.T) {
	f := newAssemblerFixture(t)
	conv := f.newConversation(t, "small")
	f.addMessage(t, conv, "A perfectly ordinary message about the roadmap.", 1000)

	out, err := f.assembler.Assemble(context.Background(), Request{
		Query:           "roadmap",
		MaxTokens:       50,
		Strategy:        StrategyTemporal,
		ConversationIDs: []string{conv},
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, out.TokenCount, 50)
	assertBreakdownSums(t, out)
}

func TestAssembleBudgetSmallerThanQuery(t *testing.T) {
	f := newAssemblerFixture(t)
	conv := f.newConversation(t, "tiny")

	_, err := f.assembler.Assemble(context.Background(), Request{
		Query:           strings.Repeat("long query terms ", 50),
		MaxTokens:       2,
		ConversationIDs: []string{conv},
	})
	require.Error(t, err)
	assert.Equal(t, recallerr.KindValidation, recallerr.KindOf(err))
}

func TestAssembleTemporalPrefersRecent(t *testing.T) {
	f := newAssemblerFixture(t)
	conv := f.newConversation(t, "history")
	f.addMessage(t, conv, "Oldest note about project kickoff planning.", 1000)
	f.addMessage(t, conv, "Middle note about project scope changes.", 2000)
	newest := f.addMessage(t, conv, "Newest note about project launch readiness.", 3000)

	out, err := f.assembler.Assemble(context.Background(), Request{
		Query:           "project",
		MaxTokens:       60,
		Strategy:        StrategyTemporal,
		ConversationIDs: []string{conv},
	})
	require.NoError(t, err)

	var admitted []string
	for _, item := range out.IncludedItems {
		if item.Type == "message" {
			admitted = append(admitted, item.ID)
		}
	}
	require.NotEmpty(t, admitted)
	assert.Contains(t, admitted, newest.ID)
}

func TestAssembleEntityCentric(t *testing.T) {
	f := newAssemblerFixture(t)
	ctx := context.Background()
	conv := f.newConversation(t, "entities")
	hit := f.addMessage(t, conv, "Acme Corp signed the renewal contract.", 1000)
	f.addMessage(t, conv, "Unrelated chatter about lunch options.", 2000)

	entityID, err := f.entities.UpsertByNormalized(ctx, &memory.Entity{
		Name: "Acme Corp", NormalizedName: "acme corp",
		Type: memory.EntityOrganization, ConfidenceScore: 0.9,
		FirstSeenAt: 1000, LastMentionedAt: 1000,
	})
	require.NoError(t, err)
	_, err = f.entities.RecordMention(ctx, &memory.EntityMention{
		EntityID: entityID, MessageID: hit.ID, StartOffset: 0, EndOffset: 9,
		Method: memory.MentionPattern, Confidence: 0.9,
	})
	require.NoError(t, err)

	out, err := f.assembler.Assemble(ctx, Request{
		Query:           "Acme contract",
		MaxTokens:       400,
		Strategy:        StrategyEntityCentric,
		ConversationIDs: []string{conv},
		FocusEntities:   []string{"Acme Corp"},
		MinRelevance:    0.5,
	})
	require.NoError(t, err)

	var messageIDs []string
	for _, item := range out.IncludedItems {
		if item.Type == "message" {
			messageIDs = append(messageIDs, item.ID)
		}
	}
	assert.Equal(t, []string{hit.ID}, messageIDs)
}

func TestAssembleIncludesSummary(t *testing.T) {
	f := newAssemblerFixture(t)
	ctx := context.Background()
	conv := f.newConversation(t, "summarized")
	f.addMessage(t, conv, "Detailed discussion of migration steps.", 1000)

	require.NoError(t, f.summaries.Upsert(ctx, &memory.Summary{
		ConversationID: conv, Level: memory.SummaryBrief,
		Text: "Team agreed on the migration order.", TokenCount: 8,
		Provider: "anthropic", Model: "claude", GeneratedAt: 2000, MessageCount: 1,
	}))

	out, err := f.assembler.Assemble(ctx, Request{
		Query:           "migration",
		MaxTokens:       400,
		Strategy:        StrategyTopical,
		ConversationIDs: []string{conv},
	})
	require.NoError(t, err)

	assert.Contains(t, out.Text, "Team agreed on the migration order.")
	assert.Greater(t, out.TokenBreakdown.Summaries, 0)
	assertBreakdownSums(t, out)
}

func TestAssembleMultiConversationSeparator(t *testing.T) {
	f := newAssemblerFixture(t)
	c1 := f.newConversation(t, "alpha")
	c2 := f.newConversation(t, "beta")
	f.addMessage(t, c1, "Alpha discussion about release planning.", 1000)
	f.addMessage(t, c2, "Beta discussion about release planning.", 2000)

	out, err := f.assembler.Assemble(context.Background(), Request{
		Query:           "release planning",
		MaxTokens:       600,
		Strategy:        StrategyTemporal,
		ConversationIDs: []string{c1, c2},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, out.Metrics.Conversations)
	assert.Contains(t, out.Text, conversationSeparator)
	assertBreakdownSums(t, out)
}

func TestAssembleCacheHit(t *testing.T) {
	f := newAssemblerFixture(t)
	conv := f.newConversation(t, "cached")
	f.addMessage(t, conv, "Cache me if you can.", 1000)

	req := Request{
		Query: "cache", MaxTokens: 300,
		Strategy: StrategyTemporal, ConversationIDs: []string{conv},
	}
	first, err := f.assembler.Assemble(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Metrics.CacheHit)

	second, err := f.assembler.Assemble(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Metrics.CacheHit)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.TokenCount, second.TokenCount)
}

func TestContextCachePrune(t *testing.T) {
	f := newAssemblerFixture(t)
	ctx := context.Background()

	req := Request{Query: "prune", MaxTokens: 100, Strategy: StrategyTemporal}
	f.cache.Put(ctx, req, &AssembledContext{Text: "x", TokenCount: 1})

	n, err := f.cache.PruneStale(ctx, time.Now().Add(time.Hour).UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok := f.cache.Get(ctx, req)
	assert.False(t, ok)
}

func TestAssembleRejectsUnknownStrategy(t *testing.T) {
	f := newAssemblerFixture(t)

	_, err := f.assembler.Assemble(context.Background(), Request{
		Query: "anything", MaxTokens: 100, Strategy: Strategy("psychic"),
	})
	require.Error(t, err)
	assert.Equal(t, recallerr.KindValidation, recallerr.KindOf(err))
}

func TestTokenCounter(t *testing.T) {
	tc := GetTokenCounter()

	single := tc.Count("hello world, this is a sentence")
	assert.Greater(t, single, 0)

	a, b := "first part", "second part"
	assert.Equal(t, tc.Count(a)+tc.Count(b), tc.CountMultiple(a, b))
}
