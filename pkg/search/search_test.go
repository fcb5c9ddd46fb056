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
package search

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/recallerr"
	"github.com/teradata-labs/recall/pkg/storage"
	"github.com/teradata-labs/recall/pkg/storage/migrate"
)

// wordEmbedder maps text deterministically into a small vector so tests
// get stable cosine neighborhoods without a network call.
type wordEmbedder struct {
	fail bool
}

func (w *wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if w.fail {
		return nil, errors.New("embedder offline")
	}
	v := make([]float32, 8)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := 0
		for _, r := range word {
			h = h*31 + int(r)
		}
		if h < 0 {
			h = -h
		}
		v[h%8]++
	}
	return v, nil
}

type searchFixture struct {
	store    *storage.Store
	messages *memory.MessageRepository
	convs    *memory.ConversationRepository
	fts      *FTSIndex
	vectors  *SQLiteVectorIndex
	embedder *wordEmbedder
}

func newSearchFixture(t *testing.T) *searchFixture {
	t.Helper()
	s, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m, err := migrate.NewMigrator(s.DB(), nil)
	require.NoError(t, err)
	require.NoError(t, m.MigrateUp(context.Background()))

	return &searchFixture{
		store:    s,
		messages: memory.NewMessageRepository(s, nil, nil),
		convs:    memory.NewConversationRepository(s, nil, nil),
		fts:      NewFTSIndex(s, nil),
		vectors:  NewSQLiteVectorIndex(s, nil),
		embedder: &wordEmbedder{},
	}
}

func (f *searchFixture) seed(t *testing.T, contents ...string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	c := &memory.Conversation{}
	require.NoError(t, f.convs.Create(ctx, c))

	var ids []string
	for i, content := range contents {
		msg := &memory.Message{
			ConversationID: c.ID, Role: memory.RoleUser, Content: content,
			CreatedAt: int64(1000 + i),
		}
		require.NoError(t, f.messages.Create(ctx, msg))
		ids = append(ids, msg.ID)
	}
	return c.ID, ids
}

func (f *searchFixture) engine(withVectors bool) *Engine {
	if withVectors {
		return NewEngine(f.store, f.fts, f.vectors, f.embedder, f.messages, nil)
	}
	return NewEngine(f.store, f.fts, nil, nil, f.messages, nil)
}

func TestFTSSearchRoundTrip(t *testing.T) {
	f := newSearchFixture(t)
	_, ids := f.seed(t,
		"How do I optimize SQLite with WAL?",
		"Completely unrelated cooking recipe",
	)

	e := f.engine(false)
	resp, err := e.Search(context.Background(), "WAL SQLite", Options{Strategy: StrategyFTS})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, ids[0], resp.Results[0].Message.ID)
	assert.False(t, resp.FallbackUsed)
}

func TestFTSExactPhrase(t *testing.T) {
	f := newSearchFixture(t)
	f.seed(t,
		"the quick brown fox",
		"brown paint and a quick errand",
	)

	hits, err := f.fts.Search(context.Background(), "quick brown", MatchExact, FTSFilter{}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestFTSPrefixMatch(t *testing.T) {
	f := newSearchFixture(t)
	f.seed(t, "configure kubernetes clusters")

	hits, err := f.fts.Search(context.Background(), "kubern", MatchPrefix, FTSFilter{}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSearchEmptyQueryFails(t *testing.T) {
	f := newSearchFixture(t)
	e := f.engine(false)

	_, err := e.Search(context.Background(), "   ", Options{})
	require.Error(t, err)
	assert.Equal(t, recallerr.KindValidation, recallerr.KindOf(err))
}

func TestHybridFallsBackWithoutVectors(t *testing.T) {
	f := newSearchFixture(t)
	f.seed(t, "machine learning model training")

	e := f.engine(false)
	resp, err := e.Search(context.Background(), "machine learning model",
		Options{Strategy: StrategyHybrid})
	require.NoError(t, err)

	assert.True(t, resp.FallbackUsed)
	assert.Contains(t, resp.FallbackReason, "vector_index_unavailable")
	assert.Equal(t, StrategyFTS, resp.Strategy)
	assert.NotEmpty(t, resp.Results)
}

func TestHybridFallsBackOnEmbedderFailure(t *testing.T) {
	f := newSearchFixture(t)
	f.seed(t, "machine learning model training")
	f.embedder.fail = true

	e := f.engine(true)
	resp, err := e.Search(context.Background(), "machine learning model",
		Options{Strategy: StrategyHybrid})
	require.NoError(t, err)

	assert.True(t, resp.FallbackUsed)
	assert.Contains(t, resp.FallbackReason, "embedder_failed")
	assert.NotEmpty(t, resp.Results)
}

func TestSemanticSearchRanksByCosine(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()
	_, ids := f.seed(t,
		"database indexing strategies",
		"gardening tips for spring",
	)

	for i, id := range ids {
		text := []string{"database indexing strategies", "gardening tips for spring"}[i]
		vec, err := f.embedder.Embed(ctx, text)
		require.NoError(t, err)
		require.NoError(t, f.vectors.Upsert(ctx, id, "message", vec))
	}

	e := f.engine(true)
	resp, err := e.Search(ctx, "database indexing strategies", Options{Strategy: StrategySemantic})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, ids[0], resp.Results[0].Message.ID)
	assert.InDelta(t, 1.0, resp.Results[0].SemanticScore, 1e-9)
}

func TestSemanticWithoutVectorsFails(t *testing.T) {
	f := newSearchFixture(t)
	e := f.engine(false)

	_, err := e.Search(context.Background(), "anything at all here", Options{Strategy: StrategySemantic})
	require.Error(t, err)
	assert.Equal(t, recallerr.KindExternalProviderUnavailable, recallerr.KindOf(err))
}

func TestAutoStrategyRule(t *testing.T) {
	f := newSearchFixture(t)

	withVectors := f.engine(true)
	noVectors := f.engine(false)

	// Two or fewer tokens selects fts regardless of vectors.
	assert.Equal(t, StrategyFTS, withVectors.chooseStrategy("wal checkpoint"))
	// Symbolic queries select fts.
	assert.Equal(t, StrategyFTS, withVectors.chooseStrategy("404 500 503"))
	// Longer natural queries select hybrid when vectors exist.
	assert.Equal(t, StrategyHybrid, withVectors.chooseStrategy("how do transactions interact with wal"))
	assert.Equal(t, StrategyFTS, noVectors.chooseStrategy("how do transactions interact with wal"))
}

func TestSearchRecordsMetric(t *testing.T) {
	f := newSearchFixture(t)
	f.seed(t, "observability metrics dashboards")

	e := f.engine(false)
	_, err := e.Search(context.Background(), "metrics", Options{Strategy: StrategyFTS})
	require.NoError(t, err)

	var count int
	require.NoError(t, f.store.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM search_metrics WHERE strategy = 'fts'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestPruneMetrics(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	_, err := f.store.Exec(ctx, `
		INSERT INTO search_metrics (query_text, strategy, result_count, duration_ms, timestamp)
		VALUES ('old', 'fts', 0, 1.0, 1000), ('new', 'fts', 0, 1.0, 9000)`)
	require.NoError(t, err)

	e := f.engine(false)
	n, err := e.PruneMetrics(ctx, 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestVectorIndexRoundTrip(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	require.NoError(t, f.vectors.Upsert(ctx, "a", "message", []float32{1, 0, 0}))
	require.NoError(t, f.vectors.Upsert(ctx, "b", "message", []float32{0, 1, 0}))
	require.NoError(t, f.vectors.Upsert(ctx, "c", "summary", []float32{1, 0.1, 0}))

	hits, err := f.vectors.Search(ctx, []float32{1, 0, 0}, 2, "message")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)

	n, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestFTSBackfill(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()
	f.seed(t, "reindex me please")

	// Simulate an index lost out-of-band.
	_, err := f.store.Exec(ctx, "DELETE FROM messages_fts")
	require.NoError(t, err)

	require.NoError(t, f.fts.Backfill(ctx))
	hits, err := f.fts.Search(ctx, "reindex", MatchFuzzy, FTSFilter{}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestToMatchQueryForms(t *testing.T) {
	cases := []struct {
		query string
		match MatchType
		want  string
	}{
		{"sqlite", MatchFuzzy, `"sqlite"`},
		{"SQL database optimization", MatchFuzzy, `"SQL" OR "database" OR "optimization"`},
		{"quick brown", MatchExact, `"quick brown"`},
		{"kub", MatchPrefix, `"kub"*`},
	}
	for _, tc := range cases {
		got, err := toMatchQuery(tc.query, tc.match)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := toMatchQuery(`""`, MatchFuzzy)
	require.Error(t, err)
}
