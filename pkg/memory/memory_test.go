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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/recall/pkg/recallerr"
	"github.com/teradata-labs/recall/pkg/storage"
	"github.com/teradata-labs/recall/pkg/storage/migrate"
)

type fixture struct {
	store         *storage.Store
	cache         *storage.QueryCache
	conversations *ConversationRepository
	messages      *MessageRepository
	summaries     *SummaryRepository
	entities      *EntityRepository
	graph         *GraphRepository
	providers     *ProviderRepository
	analytics     *AnalyticsRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m, err := migrate.NewMigrator(s.DB(), nil)
	require.NoError(t, err)
	require.NoError(t, m.MigrateUp(context.Background()))

	cache := storage.NewQueryCache(0, 0)
	return &fixture{
		store:         s,
		cache:         cache,
		conversations: NewConversationRepository(s, cache, nil),
		messages:      NewMessageRepository(s, cache, nil),
		summaries:     NewSummaryRepository(s, cache, nil),
		entities:      NewEntityRepository(s, cache, nil),
		graph:         NewGraphRepository(s, cache, nil),
		providers:     NewProviderRepository(s, nil),
		analytics:     NewAnalyticsRepository(s, cache, nil),
	}
}

func (f *fixture) conversation(t *testing.T) *Conversation {
	t.Helper()
	c := &Conversation{Title: "test conversation"}
	require.NoError(t, f.conversations.Create(context.Background(), c))
	return c
}

func (f *fixture) message(t *testing.T, convID, content string) *Message {
	t.Helper()
	m := &Message{ConversationID: convID, Role: RoleUser, Content: content}
	require.NoError(t, f.messages.Create(context.Background(), m))
	return m
}

func TestConversationCreateAndFind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.conversation(t)
	got, err := f.conversations.FindByID(ctx, c.ID, false)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "test conversation", got.Title)
	assert.LessOrEqual(t, got.CreatedAt, got.UpdatedAt)
}

func TestConversationNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.conversations.FindByID(context.Background(), "missing-id", false)
	require.Error(t, err)
	assert.Equal(t, recallerr.KindNotFound, recallerr.KindOf(err))
}

func TestConversationSoftDeleteExcludedFromListings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.conversation(t)
	require.NoError(t, f.conversations.Delete(ctx, c.ID, false))

	_, err := f.conversations.FindByID(ctx, c.ID, false)
	assert.Equal(t, recallerr.KindNotFound, recallerr.KindOf(err))

	// Still reachable when deleted rows are requested.
	got, err := f.conversations.FindByID(ctx, c.ID, true)
	require.NoError(t, err)
	assert.NotNil(t, got.DeletedAt)

	page, err := f.conversations.FindAll(ctx, 10, 0, "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
}

func TestConversationPermanentDeleteCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.conversation(t)
	m := f.message(t, c.ID, "cascade me")
	require.NoError(t, f.summaries.Upsert(ctx, &Summary{
		ConversationID: c.ID, Level: SummaryBrief, Text: "s", TokenCount: 1,
		Provider: "p", Model: "m", MessageCount: 1,
	}))

	require.NoError(t, f.conversations.Delete(ctx, c.ID, true))

	_, err := f.messages.FindByID(ctx, m.ID)
	assert.Equal(t, recallerr.KindNotFound, recallerr.KindOf(err))
	_, err = f.summaries.LatestFor(ctx, c.ID, SummaryBrief)
	assert.Equal(t, recallerr.KindNotFound, recallerr.KindOf(err))
}

func TestMessageCreateRejectsOrphan(t *testing.T) {
	f := newFixture(t)

	err := f.messages.Create(context.Background(), &Message{
		ConversationID: "no-such-conversation", Role: RoleUser, Content: "hi",
	})
	require.Error(t, err)
	assert.Equal(t, recallerr.KindNotFound, recallerr.KindOf(err))
}

func TestMessageCreateRejectsSelfParent(t *testing.T) {
	f := newFixture(t)
	c := f.conversation(t)

	err := f.messages.Create(context.Background(), &Message{
		ID: "m1", ConversationID: c.ID, Role: RoleUser, Content: "hi", ParentMessageID: "m1",
	})
	require.Error(t, err)
	assert.Equal(t, recallerr.KindValidation, recallerr.KindOf(err))
}

func TestMessageCreateRejectsCrossConversationParent(t *testing.T) {
	f := newFixture(t)
	c1 := f.conversation(t)
	c2 := f.conversation(t)
	parent := f.message(t, c1.ID, "parent")

	err := f.messages.Create(context.Background(), &Message{
		ConversationID: c2.ID, Role: RoleUser, Content: "child", ParentMessageID: parent.ID,
	})
	require.Error(t, err)
	assert.Equal(t, recallerr.KindValidation, recallerr.KindOf(err))
}

func TestMessageRoundTrip(t *testing.T) {
	f := newFixture(t)
	c := f.conversation(t)

	m := &Message{
		ConversationID: c.ID,
		Role:           RoleUser,
		Content:        "How do I optimize SQLite with WAL?",
		Metadata:       []byte(`{"source":"cli"}`),
	}
	require.NoError(t, f.messages.Create(context.Background(), m))

	got, err := f.messages.FindByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, RoleUser, got.Role)
	assert.JSONEq(t, `{"source":"cli"}`, string(got.Metadata))
}

func TestMessageKeySetPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.conversation(t)

	var ids []string
	base := time.Now().UnixMilli()
	for i := 0; i < 5; i++ {
		m := &Message{ConversationID: c.ID, Role: RoleUser, Content: "msg", CreatedAt: base + int64(i)}
		require.NoError(t, f.messages.Create(ctx, m))
		ids = append(ids, m.ID)
	}

	first, err := f.messages.FindByConversationID(ctx, c.ID, MessageQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, ids[0], first[0].ID)

	rest, err := f.messages.FindByConversationID(ctx, c.ID, MessageQuery{Limit: 10, AfterID: first[1].ID})
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, ids[2], rest[0].ID)

	before, err := f.messages.FindByConversationID(ctx, c.ID, MessageQuery{Limit: 10, BeforeID: ids[2]})
	require.NoError(t, err)
	require.Len(t, before, 2)
}

func TestMessageListenerFires(t *testing.T) {
	f := newFixture(t)
	c := f.conversation(t)

	var seen []string
	f.messages.Subscribe(func(_ context.Context, m *Message) {
		seen = append(seen, m.ID)
	})

	m := f.message(t, c.ID, "notify me")
	require.Equal(t, []string{m.ID}, seen)
}

func TestMessageUpdatesConversationTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.conversation(t)

	future := time.Now().UnixMilli() + 60_000
	m := &Message{ConversationID: c.ID, Role: RoleAssistant, Content: "late", CreatedAt: future}
	require.NoError(t, f.messages.Create(ctx, m))

	got, err := f.conversations.FindByID(ctx, c.ID, false)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.UpdatedAt, future)
}

func TestSummaryLatestFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.conversation(t)

	old := &Summary{ConversationID: c.ID, Level: SummaryBrief, Text: "old", TokenCount: 2,
		Provider: "p", Model: "m", MessageCount: 1, GeneratedAt: 1000}
	require.NoError(t, f.summaries.Upsert(ctx, old))
	fresh := &Summary{ConversationID: c.ID, Level: SummaryBrief, Text: "fresh", TokenCount: 2,
		Provider: "p", Model: "m", MessageCount: 1, GeneratedAt: 2000}
	require.NoError(t, f.summaries.Upsert(ctx, fresh))

	got, err := f.summaries.LatestFor(ctx, c.ID, SummaryBrief)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Text)

	all, err := f.summaries.ListFor(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSummaryRejectsSameStartEndForMultiMessage(t *testing.T) {
	f := newFixture(t)
	c := f.conversation(t)

	err := f.summaries.Upsert(context.Background(), &Summary{
		ConversationID: c.ID, Level: SummaryBrief, Text: "s", Provider: "p", Model: "m",
		MessageCount: 3, StartMessageID: "m1", EndMessageID: "m1",
	})
	require.Error(t, err)
	assert.Equal(t, recallerr.KindValidation, recallerr.KindOf(err))
}

func TestEntityUpsertByNormalizedDeduplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id1, err := f.entities.UpsertByNormalized(ctx, &Entity{
		Name: "Dr. Alice  Chen", Type: EntityPerson, ConfidenceScore: 0.7,
	})
	require.NoError(t, err)

	id2, err := f.entities.UpsertByNormalized(ctx, &Entity{
		Name: "dr. alice chen", Type: EntityPerson, ConfidenceScore: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	e, err := f.entities.FindByID(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "dr. alice chen", e.NormalizedName)
	assert.Equal(t, 0.9, e.ConfidenceScore)
}

func TestEntityMentionIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.conversation(t)
	m := f.message(t, c.ID, "Alice joined Acme")

	id, err := f.entities.UpsertByNormalized(ctx, &Entity{
		Name: "Alice", Type: EntityPerson, ConfidenceScore: 0.8,
	})
	require.NoError(t, err)

	mention := &EntityMention{
		EntityID: id, MessageID: m.ID, StartOffset: 0, EndOffset: 5,
		Method: MentionPattern, Confidence: 0.8,
	}
	inserted, err := f.entities.RecordMention(ctx, mention)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = f.entities.RecordMention(ctx, mention)
	require.NoError(t, err)
	assert.False(t, inserted)

	e, err := f.entities.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, e.MentionCount)
}

func TestEntityGarbageCollect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.entities.UpsertByNormalized(ctx, &Entity{
		Name: "Orphan Corp", Type: EntityOrganization, ConfidenceScore: 0.6,
	})
	require.NoError(t, err)

	n, err := f.entities.GarbageCollect(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRelationshipMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, err := f.entities.UpsertByNormalized(ctx, &Entity{Name: "Alice", Type: EntityPerson, ConfidenceScore: 0.8})
	require.NoError(t, err)
	acme, err := f.entities.UpsertByNormalized(ctx, &Entity{Name: "Acme", Type: EntityOrganization, ConfidenceScore: 0.8})
	require.NoError(t, err)

	require.NoError(t, f.graph.UpsertRelationship(ctx, &Relationship{
		SourceEntityID: alice, TargetEntityID: acme, Type: RelWorksFor,
		Strength: 0.6, ContextMessageIDs: []string{"m1"},
	}))
	require.NoError(t, f.graph.UpsertRelationship(ctx, &Relationship{
		SourceEntityID: alice, TargetEntityID: acme, Type: RelWorksFor,
		Strength: 0.5, ContextMessageIDs: []string{"m2", "m1"},
	}))

	rel, err := f.graph.FindRelationship(ctx, alice, acme, RelWorksFor)
	require.NoError(t, err)
	assert.Equal(t, 2, rel.MentionCount)
	assert.Equal(t, 0.6, rel.Strength, "strength merges by max")
	assert.Equal(t, []string{"m1", "m2"}, rel.ContextMessageIDs, "insertion order, no duplicates")
}

func TestRelationshipRejectsSelfEdge(t *testing.T) {
	f := newFixture(t)

	err := f.graph.UpsertRelationship(context.Background(), &Relationship{
		SourceEntityID: "e1", TargetEntityID: "e1", Type: RelWorksFor, Strength: 0.5,
	})
	require.Error(t, err)
	assert.Equal(t, recallerr.KindValidation, recallerr.KindOf(err))
}

func TestTraverseDepthBoundAndCycles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mk := func(name string) string {
		id, err := f.entities.UpsertByNormalized(ctx, &Entity{
			Name: name, Type: EntityConcept, ConfidenceScore: 0.9,
		})
		require.NoError(t, err)
		return id
	}
	a, b, c := mk("alpha"), mk("beta"), mk("gamma")

	link := func(src, dst string) {
		require.NoError(t, f.graph.UpsertRelationship(ctx, &Relationship{
			SourceEntityID: src, TargetEntityID: dst, Type: RelRelatedTo, Strength: 0.9,
		}))
	}
	// Triangle: a-b, b-c, c-a.
	link(a, b)
	link(b, c)
	link(c, a)

	paths, err := f.graph.Traverse(ctx, a, 2, 0.1)
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	for _, p := range paths {
		assert.LessOrEqual(t, len(p.EntityIDs)-1, 2, "path exceeds depth bound")
		seen := make(map[string]bool)
		for _, id := range p.EntityIDs {
			assert.False(t, seen[id], "path revisits an entity")
			seen[id] = true
		}
	}
}

func TestRelatedConversationsRanksByMentions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c1 := f.conversation(t)
	c2 := f.conversation(t)
	m1 := f.message(t, c1.ID, "Alice Alice Alice")
	m2 := f.message(t, c2.ID, "Alice once")

	alice, err := f.entities.UpsertByNormalized(ctx, &Entity{Name: "Alice", Type: EntityPerson, ConfidenceScore: 0.8})
	require.NoError(t, err)

	for _, off := range []int{0, 6, 12} {
		_, err := f.entities.RecordMention(ctx, &EntityMention{
			EntityID: alice, MessageID: m1.ID, StartOffset: off, EndOffset: off + 5,
			Method: MentionPattern, Confidence: 0.8,
		})
		require.NoError(t, err)
	}
	_, err = f.entities.RecordMention(ctx, &EntityMention{
		EntityID: alice, MessageID: m2.ID, StartOffset: 0, EndOffset: 5,
		Method: MentionPattern, Confidence: 0.8,
	})
	require.NoError(t, err)

	ids, err := f.graph.RelatedConversations(ctx, []string{alice}, 10)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, c1.ID, ids[0])
}

func TestProvidersSeededAndConfigurable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active, err := f.providers.ListActive(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, active)
	assert.Equal(t, "anthropic", active[0].Name)

	require.NoError(t, f.providers.Upsert(ctx, &ProviderConfig{
		Name: "anthropic", Kind: ProviderExternal, ModelName: "claude-opus-4-1",
		MaxTokens: 4096, Temperature: 0.3, IsActive: true, Priority: 100,
	}))
	p, err := f.providers.FindByName(ctx, "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4-1", p.ModelName)
}

func TestAnalyticsRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.conversation(t)

	require.NoError(t, f.analytics.SaveConversationAnalytics(ctx, &ConversationAnalytics{
		ConversationID: c.ID, MessageCount: 4, DepthScore: 70, ProductivityScore: 55,
		CircularityIndex: 0.2, TopicCount: 3, ResolutionRate: 40,
	}))
	got, err := f.analytics.LatestConversationAnalytics(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 70.0, got.DepthScore)

	made := time.Now().UnixMilli()
	require.NoError(t, f.analytics.SaveDecision(ctx, &Decision{
		ConversationID: c.ID, Summary: "use WAL mode",
		ProblemIdentifiedAt: made - 1000, DecisionMadeAt: &made,
	}))
	decisions, err := f.analytics.DecisionsInWindow(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, decisions, 1)
}

func TestConversationFindByIDReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.conversation(t)

	found, err := f.conversations.FindByID(ctx, c.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "test conversation", found.Title)

	// Update under the repository's feet; a cached read must not see it.
	_, err = f.store.Exec(ctx, "UPDATE conversations SET title = ? WHERE id = ?",
		"changed underneath", c.ID)
	require.NoError(t, err)

	found, err = f.conversations.FindByID(ctx, c.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "test conversation", found.Title)

	// A repository write invalidates, so the next read is fresh.
	require.NoError(t, f.conversations.UpdateTitle(ctx, c.ID, "fresh title"))
	found, err = f.conversations.FindByID(ctx, c.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "fresh title", found.Title)
}

func TestMessageFindByIDReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.conversation(t)
	m := f.message(t, c.ID, "original content")

	before := f.cache.Stats()
	_, err := f.messages.FindByID(ctx, m.ID)
	require.NoError(t, err)
	_, err = f.messages.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Greater(t, f.cache.Stats().Hits, before.Hits)

	// SetEmbedding invalidates, so the blob is visible on re-read.
	require.NoError(t, f.messages.SetEmbedding(ctx, m.ID, []byte{1, 2, 3, 4}))
	got, err := f.messages.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got.Embedding)
}

func TestConversationFindByIDMissesAreNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := "00000000-0000-0000-0000-00000000cafe"
	_, err := f.conversations.FindByID(ctx, id, false)
	assert.Equal(t, recallerr.KindNotFound, recallerr.KindOf(err))

	require.NoError(t, f.conversations.Create(ctx, &Conversation{ID: id, Title: "late arrival"}))
	found, err := f.conversations.FindByID(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, "late arrival", found.Title)
}
