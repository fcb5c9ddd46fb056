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
)

// graphTools covers the knowledge-graph query surface.
func graphTools(d Deps) []Tool {
	return []Tool{
		{
			Name:        "get_entity_history",
			Description: "List the messages that mention an entity, oldest first.",
			InputSchema: objectSchema(map[string]interface{}{
				"entity":  stringProp("Entity name or id; fuzzy name matching is applied."),
				"startMs": intProp("Only mentions at or after this epoch-millisecond time."),
				"endMs":   intProp("Only mentions at or before this epoch-millisecond time."),
				"limit":   intProp("Maximum messages to return (default 20, max 200)."),
			}, "entity"),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				entity, msgs, err := d.Knowledge.EntityHistory(ctx, stringArg(args, "entity"),
					int64Arg(args, "startMs"), int64Arg(args, "endMs"), intArg(args, "limit"))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"entity":   entity,
					"messages": msgs,
				}, nil
			},
		},
		{
			Name:        "find_related_conversations",
			Description: "Find conversations that mention the given entities, ranked by mention volume.",
			InputSchema: objectSchema(map[string]interface{}{
				"entities": stringArrayProp("Entity names or ids."),
				"limit":    intProp("Maximum conversations to return (default 20, max 200)."),
			}, "entities"),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				var ids []string
				resolved := make(map[string]string)
				for _, ref := range stringSliceArg(args, "entities") {
					entity, err := d.Knowledge.ResolveEntity(ctx, ref)
					if err != nil {
						continue
					}
					ids = append(ids, entity.ID)
					resolved[ref] = entity.Name
				}
				conversations, err := d.Knowledge.FindRelatedConversations(ctx, ids, intArg(args, "limit"))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"conversationIds": conversations,
					"resolved":        resolved,
				}, nil
			},
		},
		{
			Name:        "get_knowledge_graph",
			Description: "Traverse the knowledge graph outward from an entity.",
			InputSchema: objectSchema(map[string]interface{}{
				"entity":      stringProp("Entity name or id to start from."),
				"depth":       intProp("Maximum traversal depth (default 2)."),
				"minStrength": numberProp("Ignore edges weaker than this in [0,1]."),
			}, "entity"),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				depth := intArg(args, "depth")
				if depth <= 0 {
					depth = 2
				}
				root, paths, err := d.Knowledge.Traverse(ctx, stringArg(args, "entity"),
					depth, floatArg(args, "minStrength"))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"root":  root,
					"paths": paths,
				}, nil
			},
		},
		{
			Name:        "check_for_conflicts",
			Description: "Scan a conversation for contradictory statements about the same entity.",
			InputSchema: objectSchema(map[string]interface{}{
				"conversationId": stringProp("Conversation to scan."),
			}, "conversationId"),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				conflicts, err := d.Conflicts.Scan(ctx, stringArg(args, "conversationId"))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"conflicts": conflicts,
					"count":     len(conflicts),
				}, nil
			},
		},
	}
}
