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
	"encoding/json"
	"sort"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/validation"
)

// insightTools covers proactive insights and conversation tagging.
func insightTools(d Deps) []Tool {
	return []Tool{
		{
			Name:        "get_proactive_insights",
			Description: "Generate and return cross-conversation insights: recurring topics and open questions.",
			InputSchema: objectSchema(map[string]interface{}{
				"limit": intProp("Maximum insights to return (default 20, max 200)."),
			}),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				insights, err := d.Analyzer.GenerateInsights(ctx, intArg(args, "limit"))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"insights": insights,
					"count":    len(insights),
				}, nil
			},
		},
		{
			Name:        "auto_tag_conversation",
			Description: "Derive tags from the entities a conversation mentions and store them in its metadata.",
			InputSchema: objectSchema(map[string]interface{}{
				"conversationId": stringProp("Conversation to tag."),
				"maxTags":        intProp("Maximum tags to keep (default 5)."),
			}, "conversationId"),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				conversationID := stringArg(args, "conversationId")
				maxTags := intArg(args, "maxTags")
				if maxTags <= 0 {
					maxTags = 5
				}

				conv, err := d.Convs.FindByID(ctx, conversationID, false)
				if err != nil {
					return nil, err
				}
				msgs, err := d.Messages.FindByConversationID(ctx, conversationID, memory.MessageQuery{Limit: validation.MaxLimit})
				if err != nil {
					return nil, err
				}

				// Weight each mentioned entity by occurrences in this
				// conversation times extraction confidence.
				weights := make(map[string]float64)
				names := make(map[string]string)
				for i := range msgs {
					mentions, err := d.Entities.MentionsForMessage(ctx, msgs[i].ID)
					if err != nil {
						continue
					}
					for _, m := range mentions {
						if _, ok := names[m.EntityID]; !ok {
							entity, err := d.Entities.FindByID(ctx, m.EntityID)
							if err != nil {
								continue
							}
							names[m.EntityID] = entity.NormalizedName
						}
						weights[m.EntityID] += m.Confidence
					}
				}

				type scoredTag struct {
					tag    string
					weight float64
				}
				ranked := make([]scoredTag, 0, len(weights))
				for id, w := range weights {
					ranked = append(ranked, scoredTag{tag: names[id], weight: w})
				}
				sort.Slice(ranked, func(i, j int) bool {
					if ranked[i].weight != ranked[j].weight {
						return ranked[i].weight > ranked[j].weight
					}
					return ranked[i].tag < ranked[j].tag
				})
				if len(ranked) > maxTags {
					ranked = ranked[:maxTags]
				}
				tags := make([]string, len(ranked))
				for i := range ranked {
					tags[i] = ranked[i].tag
				}

				meta := map[string]interface{}{}
				if len(conv.Metadata) > 0 {
					_ = json.Unmarshal(conv.Metadata, &meta)
				}
				meta["tags"] = tags
				raw, err := json.Marshal(meta)
				if err != nil {
					return nil, err
				}
				if err := d.Convs.UpdateMetadata(ctx, conversationID, raw); err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"conversationId": conversationID,
					"tags":           tags,
				}, nil
			},
		},
	}
}
