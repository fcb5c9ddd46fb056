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

package tools

import (
	"context"

	"github.com/teradata-labs/recall/pkg/assembler"
	"github.com/teradata-labs/recall/pkg/search"
)

// searchTools covers the retrieval surface over the search engine.
func searchTools(d Deps) []Tool {
	counter := assembler.GetTokenCounter()

	searchRun := func(strategy search.Strategy) func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			opts := search.Options{
				Strategy:         strategy,
				Limit:            intArg(args, "limit"),
				Offset:           intArg(args, "offset"),
				SemanticWeight:   floatArg(args, "semanticWeight"),
				FTSWeight:        floatArg(args, "ftsWeight"),
				MinSemanticScore: floatArg(args, "minScore"),
				MatchType:        search.MatchType(stringArg(args, "matchType")),
				Filter: search.FTSFilter{
					ConversationIDs: stringSliceArg(args, "conversationIds"),
					StartMs:         int64Arg(args, "startMs"),
					EndMs:           int64Arg(args, "endMs"),
				},
			}
			if s := stringArg(args, "strategy"); s != "" {
				opts.Strategy = search.Strategy(s)
			}
			return d.Search.Search(ctx, stringArg(args, "query"), opts)
		}
	}

	pagingProps := func(extra map[string]interface{}) map[string]interface{} {
		props := map[string]interface{}{
			"query":           stringProp("Search query text."),
			"limit":           intProp("Maximum results (default 20, max 200)."),
			"offset":          intProp("Results to skip for pagination."),
			"conversationIds": stringArrayProp("Restrict to these conversations."),
			"startMs":         intProp("Only messages created at or after this epoch-millisecond time."),
			"endMs":           intProp("Only messages created at or before this epoch-millisecond time."),
		}
		for k, v := range extra {
			props[k] = v
		}
		return props
	}

	return []Tool{
		{
			Name:        "search_messages",
			Description: "Full-text search over saved messages with BM25 ranking.",
			InputSchema: objectSchema(pagingProps(map[string]interface{}{
				"matchType": enumProp("How the query matches.", "fuzzy", "exact", "prefix"),
			}), "query"),
			Run: searchRun(search.StrategyFTS),
		},
		{
			Name:        "semantic_search",
			Description: "Vector-similarity search over message embeddings.",
			InputSchema: objectSchema(pagingProps(map[string]interface{}{
				"minScore": numberProp("Minimum cosine-derived score in [0,1]."),
			}), "query"),
			Run: searchRun(search.StrategySemantic),
		},
		{
			Name:        "hybrid_search",
			Description: "Fused full-text and semantic search; falls back to full-text when vectors are unavailable.",
			InputSchema: objectSchema(pagingProps(map[string]interface{}{
				"strategy":       enumProp("Override the retrieval strategy.", "fts", "semantic", "hybrid", "auto"),
				"semanticWeight": numberProp("Weight of the semantic score (default 0.6; must sum to 1 with ftsWeight)."),
				"ftsWeight":      numberProp("Weight of the full-text score (default 0.4)."),
			}), "query"),
			Run: searchRun(search.StrategyHybrid),
		},
		{
			Name:        "get_relevant_snippets",
			Description: "Search and return message snippets trimmed to a token budget.",
			InputSchema: objectSchema(map[string]interface{}{
				"query":           stringProp("Search query text."),
				"maxTokens":       intProp("Token budget across all snippets (default 1000)."),
				"limit":           intProp("Maximum snippets to consider (default 20)."),
				"conversationIds": stringArrayProp("Restrict to these conversations."),
			}, "query"),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				resp, err := d.Search.Search(ctx, stringArg(args, "query"), search.Options{
					Strategy: search.StrategyAuto,
					Limit:    intArg(args, "limit"),
					Filter: search.FTSFilter{
						ConversationIDs: stringSliceArg(args, "conversationIds"),
					},
				})
				if err != nil {
					return nil, err
				}

				budget := intArg(args, "maxTokens")
				if budget <= 0 {
					budget = 1000
				}
				type snippet struct {
					MessageID      string  `json:"messageId"`
					ConversationID string  `json:"conversationId"`
					Text           string  `json:"text"`
					Score          float64 `json:"score"`
					TokenCount     int     `json:"tokenCount"`
				}
				snippets := make([]snippet, 0, len(resp.Results))
				used := 0
				for _, res := range resp.Results {
					cost := counter.Count(res.Message.Content)
					if used+cost > budget {
						continue
					}
					used += cost
					snippets = append(snippets, snippet{
						MessageID:      res.Message.ID,
						ConversationID: res.Message.ConversationID,
						Text:           res.Message.Content,
						Score:          res.Score,
						TokenCount:     cost,
					})
				}
				return map[string]interface{}{
					"snippets":       snippets,
					"tokenCount":     used,
					"strategy":       resp.Strategy,
					"fallbackUsed":   resp.FallbackUsed,
					"fallbackReason": resp.FallbackReason,
				}, nil
			},
		},
	}
}
