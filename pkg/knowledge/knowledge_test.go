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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/storage"
	"github.com/teradata-labs/recall/pkg/storage/migrate"
)

func TestExtractPersonAndOrganization(t *testing.T) {
	x := NewEntityExtractor(0, 0)
	entities := x.Extract("Dr. Alice Chen at Acme Corp deployed the pricing API.")

	byNormalized := make(map[string]ExtractedEntity)
	for _, e := range entities {
		byNormalized[e.NormalizedText] = e
	}

	person, ok := byNormalized["dr. alice chen"]
	require.True(t, ok, "expected person entity, got %v", entities)
	assert.Equal(t, memory.EntityPerson, person.Type)
	assert.GreaterOrEqual(t, person.Confidence, 0.6)

	org, ok := byNormalized["acme corp"]
	require.True(t, ok, "expected organization entity, got %v", entities)
	assert.Equal(t, memory.EntityOrganization, org.Type)
	assert.GreaterOrEqual(t, org.Confidence, 0.6)

	// The bare proper-case rule must not re-emit the org as a person.
	assert.NotEqual(t, memory.EntityPerson, byNormalized["acme corp"].Type)
}

func TestExtractDeterministicOrder(t *testing.T) {
	x := NewEntityExtractor(0, 0)
	text := "Bob Smith met Carol Jones at Acme Corp to discuss the billing API."

	first := x.Extract(text)
	second := x.Extract(text)
	require.Equal(t, first, second)

	for i := 1; i < len(first); i++ {
		assert.GreaterOrEqual(t, first[i-1].Confidence, first[i].Confidence)
	}
}

func TestExtractQuestionContextLowersConfidence(t *testing.T) {
	x := NewEntityExtractor(0.1, 0)

	stated := x.Extract("Alice Chen joined the team.")
	asked := x.Extract("Did Alice Chen join the team?")
	require.NotEmpty(t, stated)
	require.NotEmpty(t, asked)
	assert.Greater(t, stated[0].Confidence, asked[0].Confidence)
}

func TestExtractCapsEntityCount(t *testing.T) {
	x := NewEntityExtractor(0.1, 3)
	entities := x.Extract("Alice Adams met Bob Brown and Carol Clark and Dave Davis and Erin Evans.")
	assert.LessOrEqual(t, len(entities), 3)
}

func TestExtractTechnicalVocabulary(t *testing.T) {
	x := NewEntityExtractor(0, 0)
	entities := x.Extract("We moved the cache from Redis to SQLite last week.")

	var found []string
	for _, e := range entities {
		if e.Type == memory.EntityTechnical {
			found = append(found, e.NormalizedText)
		}
	}
	assert.Contains(t, found, "redis")
	assert.Contains(t, found, "sqlite")
}

func TestDetectWorksForDirection(t *testing.T) {
	x := NewEntityExtractor(0, 0)
	d := NewRelationshipDetector(0, 0, 0)

	text := "Alice Chen works for Acme Corp."
	entities := x.Extract(text)
	rels := d.Detect(text, entities, "m1")

	require.NotEmpty(t, rels)
	var worksFor *DetectedRelationship
	for i := range rels {
		if rels[i].Type == memory.RelWorksFor {
			worksFor = &rels[i]
		}
	}
	require.NotNil(t, worksFor)
	assert.Equal(t, "alice chen", worksFor.SourceText)
	assert.Equal(t, "acme corp", worksFor.TargetText)
	assert.GreaterOrEqual(t, worksFor.Confidence, 0.4)
	assert.Equal(t, []string{"m1"}, worksFor.ContextMessageIDs)
}

func TestDetectMentionedWithFallback(t *testing.T) {
	x := NewEntityExtractor(0, 0)
	d := NewRelationshipDetector(0, 0, 0)

	text := "Alice Chen and Bob Smith reviewed the draft."
	rels := d.Detect(text, x.Extract(text), "m1")

	require.NotEmpty(t, rels)
	assert.Equal(t, memory.RelMentionedWith, rels[0].Type)
}

func TestDetectUncertaintyLowersConfidence(t *testing.T) {
	x := NewEntityExtractor(0.1, 0)
	d := NewRelationshipDetector(0.01, 0, 0)

	certain := d.Detect("Alice Chen works for Acme Corp.",
		x.Extract("Alice Chen works for Acme Corp."), "m1")
	uncertain := d.Detect("Alice Chen possibly works for Acme Corp.",
		x.Extract("Alice Chen possibly works for Acme Corp."), "m2")

	require.NotEmpty(t, certain)
	require.NotEmpty(t, uncertain)
	assert.Greater(t, certain[0].Confidence, uncertain[0].Confidence)
}

type graphFixture struct {
	store    *storage.Store
	convs    *memory.ConversationRepository
	messages *memory.MessageRepository
	entities *memory.EntityRepository
	graph    *memory.GraphRepository
	service  *Service
}

func newGraphFixture(t *testing.T) *graphFixture {
	t.Helper()
	s, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m, err := migrate.NewMigrator(s.DB(), nil)
	require.NoError(t, err)
	require.NoError(t, m.MigrateUp(context.Background()))

	entities := memory.NewEntityRepository(s, nil, nil)
	graph := memory.NewGraphRepository(s, nil, nil)
	return &graphFixture{
		store:    s,
		convs:    memory.NewConversationRepository(s, nil, nil),
		messages: memory.NewMessageRepository(s, nil, nil),
		entities: entities,
		graph:    graph,
		service:  NewService(entities, graph, nil, nil, nil, nil),
	}
}

func (f *graphFixture) saveAndProcess(t *testing.T, conversationID, content string, at int64) *memory.Message {
	t.Helper()
	ctx := context.Background()
	msg := &memory.Message{
		ConversationID: conversationID, Role: memory.RoleUser,
		Content: content, CreatedAt: at,
	}
	require.NoError(t, f.messages.Create(ctx, msg))
	require.NoError(t, f.service.ProcessMessage(ctx, msg))
	return msg
}

func TestRelationshipMergeAcrossMessages(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()

	c := &memory.Conversation{}
	require.NoError(t, f.convs.Create(ctx, c))

	m1 := f.saveAndProcess(t, c.ID, "Alice Chen works for Acme Corp.", 1000)
	m2 := f.saveAndProcess(t, c.ID, "As mentioned, Alice Chen works at Acme Corp.", 2000)

	alice, err := f.service.ResolveEntity(ctx, "alice chen")
	require.NoError(t, err)
	acme, err := f.service.ResolveEntity(ctx, "acme corp")
	require.NoError(t, err)

	rel, err := f.graph.FindRelationship(ctx, alice.ID, acme.ID, memory.RelWorksFor)
	require.NoError(t, err)
	assert.Equal(t, 2, rel.MentionCount)
	assert.Equal(t, []string{m1.ID, m2.ID}, rel.ContextMessageIDs)
	assert.GreaterOrEqual(t, rel.Strength, 0.4)
	assert.LessOrEqual(t, rel.Strength, 1.0)
}

func TestIngestionIdempotent(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()

	c := &memory.Conversation{}
	require.NoError(t, f.convs.Create(ctx, c))
	msg := f.saveAndProcess(t, c.ID, "Alice Chen works for Acme Corp.", 1000)

	alice, err := f.service.ResolveEntity(ctx, "alice chen")
	require.NoError(t, err)
	acme, err := f.service.ResolveEntity(ctx, "acme corp")
	require.NoError(t, err)
	before, err := f.graph.FindRelationship(ctx, alice.ID, acme.ID, memory.RelWorksFor)
	require.NoError(t, err)

	// Reprocessing the same message must not double-count.
	require.NoError(t, f.service.ProcessMessage(ctx, msg))

	after, err := f.graph.FindRelationship(ctx, alice.ID, acme.ID, memory.RelWorksFor)
	require.NoError(t, err)
	assert.Equal(t, before.MentionCount, after.MentionCount)
	assert.Equal(t, before.Strength, after.Strength)

	aliceAfter, err := f.entities.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.MentionCount, aliceAfter.MentionCount)
}

func TestResolveEntityFuzzy(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()

	c := &memory.Conversation{}
	require.NoError(t, f.convs.Create(ctx, c))
	f.saveAndProcess(t, c.ID, "Alice Chen works for Acme Corp.", 1000)

	e, err := f.service.ResolveEntity(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice chen", e.NormalizedName)

	_, err = f.service.ResolveEntity(ctx, "zzzzqqqq")
	require.Error(t, err)
}

func TestEntityHistory(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()

	c := &memory.Conversation{}
	require.NoError(t, f.convs.Create(ctx, c))
	m1 := f.saveAndProcess(t, c.ID, "Alice Chen works for Acme Corp.", 1000)
	f.saveAndProcess(t, c.ID, "Unrelated message about nothing in particular.", 2000)

	entity, msgs, err := f.service.EntityHistory(ctx, "alice chen", 0, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "alice chen", entity.NormalizedName)
	require.Len(t, msgs, 1)
	assert.Equal(t, m1.ID, msgs[0].ID)
}

func TestListenerSwallowsFailures(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()

	c := &memory.Conversation{}
	require.NoError(t, f.convs.Create(ctx, c))

	listener := f.service.Listener()
	// A message that was never persisted: mention writes hit a missing
	// FK, but the listener must not panic or surface the error.
	listener(ctx, &memory.Message{
		ID: "ghost", ConversationID: c.ID, Role: memory.RoleUser,
		Content: "Alice Chen works for Acme Corp.", CreatedAt: 1000,
	})
}

func TestConflictScan(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()

	c := &memory.Conversation{}
	require.NoError(t, f.convs.Create(ctx, c))
	m1 := f.saveAndProcess(t, c.ID, "Alice Chen works for Acme Corp.", 1000)
	m2 := f.saveAndProcess(t, c.ID, "Alice Chen no longer works for Acme Corp.", 2000)

	scanner := NewConflictScanner(f.messages, f.entities, 0, nil)
	conflicts, err := scanner.Scan(ctx, c.ID)
	require.NoError(t, err)
	require.NotEmpty(t, conflicts)

	found := false
	for _, cf := range conflicts {
		if cf.MessageIDs[0] == m1.ID && cf.MessageIDs[1] == m2.ID {
			found = true
			assert.GreaterOrEqual(t, cf.Similarity, DefaultConflictSimilarity)
		}
	}
	assert.True(t, found)
}

func TestConflictScanNoFalsePositive(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()

	c := &memory.Conversation{}
	require.NoError(t, f.convs.Create(ctx, c))
	f.saveAndProcess(t, c.ID, "Alice Chen works for Acme Corp.", 1000)
	f.saveAndProcess(t, c.ID, "Alice Chen presented the quarterly review.", 2000)

	scanner := NewConflictScanner(f.messages, f.entities, 0, nil)
	conflicts, err := scanner.Scan(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}
