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
package llm

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/recallerr"
)

func TestResolveAPIKeyFromEnv(t *testing.T) {
	t.Setenv("RECALL_TEST_API_KEY", "sk-test-123")

	key, err := ResolveAPIKey("RECALL_TEST_API_KEY", "test-provider")
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", key)
}

func TestResolveAPIKeyMissing(t *testing.T) {
	_, err := ResolveAPIKey("RECALL_TEST_MISSING_KEY", "nonexistent-provider")
	require.Error(t, err)
	assert.Equal(t, recallerr.KindExternalProviderUnavailable, recallerr.KindOf(err))
}

func TestLocalSummarizerLevels(t *testing.T) {
	s := LocalSummarizer{}
	text := "First point. Second point. Third point. Fourth point. Fifth point. Sixth point."

	brief, err := s.Summarize(context.Background(), SummarizeRequest{
		Text: text, Level: memory.SummaryBrief,
	})
	require.NoError(t, err)
	assert.Equal(t, "First point. Second point.", brief)

	standard, err := s.Summarize(context.Background(), SummarizeRequest{
		Text: text, Level: memory.SummaryStandard,
	})
	require.NoError(t, err)
	assert.Greater(t, len(standard), len(brief))
}

func TestLocalSummarizerEmptyText(t *testing.T) {
	_, err := LocalSummarizer{}.Summarize(context.Background(), SummarizeRequest{Text: "   "})
	require.Error(t, err)
	assert.Equal(t, recallerr.KindValidation, recallerr.KindOf(err))
}

func TestLocalEmbedderDeterministic(t *testing.T) {
	e := LocalEmbedder{}
	ctx := context.Background()

	a, err := e.Embed(ctx, "database indexing strategies")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "database indexing strategies")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, LocalDimension)

	// Unit norm.
	var norm float64
	for _, x := range a {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestLocalEmbedderSimilarTextsCloser(t *testing.T) {
	e := LocalEmbedder{}
	ctx := context.Background()

	a, _ := e.Embed(ctx, "sqlite write ahead logging tuning")
	b, _ := e.Embed(ctx, "tuning sqlite write ahead logging")
	c, _ := e.Embed(ctx, "gardening tips for early spring")

	assert.Greater(t, dot(a, b), dot(a, c))
}

func dot(a, b []float32) float64 {
	var d float64
	for i := range a {
		d += float64(a[i]) * float64(b[i])
	}
	return d
}
