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
	"hash/fnv"
	"math"
	"strings"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/recallerr"
)

// LocalDimension is the vector size of the in-process embedder.
const LocalDimension = 256

// localSentenceCap bounds the extractive summary per level.
var localSentenceCap = map[memory.SummaryLevel]int{
	memory.SummaryBrief:    2,
	memory.SummaryStandard: 5,
	memory.SummaryDetailed: 12,
	memory.SummaryFull:     40,
}

// LocalSummarizer is the deterministic no-network fallback: it keeps the
// leading sentences up to the level's cap. Not a substitute for a model,
// but it keeps get_context_summary functional offline.
type LocalSummarizer struct{}

// Name identifies the builtin local provider.
func (LocalSummarizer) Name() string { return "local" }

// Summarize returns the first N sentences for the level.
func (LocalSummarizer) Summarize(_ context.Context, req SummarizeRequest) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", recallerr.Validation("text", "text to summarize must not be empty")
	}
	limit, ok := localSentenceCap[req.Level]
	if !ok {
		limit = localSentenceCap[memory.SummaryStandard]
	}

	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '.' || text[i] == '!' || text[i] == '?' || text[i] == '\n' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	if len(sentences) > limit {
		sentences = sentences[:limit]
	}
	return strings.Join(sentences, " "), nil
}

// LocalEmbedder hashes word bigrams into a fixed-size normalized
// vector. Deterministic and cheap; retrieval quality is far below a
// real model but cosine neighborhoods of similar texts still overlap.
type LocalEmbedder struct{}

// Name identifies the builtin local provider.
func (LocalEmbedder) Name() string { return "local" }

// Dimension returns the fixed local vector size.
func (LocalEmbedder) Dimension() int { return LocalDimension }

// Embed maps text into the hashed bag-of-words space.
func (LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return nil, recallerr.Validation("text", "text to embed must not be empty")
	}

	v := make([]float32, LocalDimension)
	bump := func(token string) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		v[h.Sum32()%LocalDimension]++
	}
	for i, w := range words {
		bump(w)
		if i+1 < len(words) {
			bump(w + " " + words[i+1])
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}
