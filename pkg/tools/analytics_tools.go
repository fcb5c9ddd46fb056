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

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/recallerr"
)

// analyticsTools covers the analytics and reporting surface.
func analyticsTools(d Deps) []Tool {
	return []Tool{
		{
			Name:        "get_conversation_analytics",
			Description: "Return the latest analyzer run for a conversation, computing one when missing.",
			InputSchema: objectSchema(map[string]interface{}{
				"conversationId": stringProp("Conversation to analyze."),
				"refresh":        boolProp("Re-run the analyzer even when a run is stored."),
			}, "conversationId"),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				conversationID := stringArg(args, "conversationId")
				if !boolArg(args, "refresh") {
					run, err := d.Analytics.LatestConversationAnalytics(ctx, conversationID)
					if err == nil {
						return run, nil
					}
					if recallerr.KindOf(err) != recallerr.KindNotFound {
						return nil, err
					}
				}
				return d.Analyzer.AnalyzeConversation(ctx, conversationID)
			},
		},
		{
			Name:        "analyze_productivity_patterns",
			Description: "Bucket message activity into daily windows and return scored productivity patterns.",
			InputSchema: objectSchema(map[string]interface{}{
				"startMs": intProp("Window start in epoch milliseconds (default 30 days ago)."),
				"endMs":   intProp("Window end in epoch milliseconds (default now)."),
			}),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				patterns, err := d.Analyzer.AnalyzeProductivity(ctx,
					int64Arg(args, "startMs"), int64Arg(args, "endMs"))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"patterns": patterns,
					"count":    len(patterns),
				}, nil
			},
		},
		{
			Name:        "detect_knowledge_gaps",
			Description: "Find question topics that recur without an answer and return the open gaps.",
			InputSchema: objectSchema(map[string]interface{}{
				"limit": intProp("Maximum gaps to return (default 20, max 200)."),
			}),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				gaps, err := d.Analyzer.DetectGaps(ctx, intArg(args, "limit"))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"gaps":  gaps,
					"count": len(gaps),
				}, nil
			},
		},
		{
			Name:        "track_decision_effectiveness",
			Description: "Record or update a decision's lifecycle phases and effectiveness score.",
			InputSchema: objectSchema(map[string]interface{}{
				"decisionId":              stringProp("Existing decision to update; omit to create one."),
				"conversationId":          stringProp("Conversation the decision came from."),
				"summary":                 stringProp("One-line statement of the decision."),
				"problemIdentifiedAt":     intProp("Epoch milliseconds when the problem was identified."),
				"optionsConsideredAt":     intProp("Epoch milliseconds when options were weighed."),
				"decisionMadeAt":          intProp("Epoch milliseconds when the decision was made."),
				"implementationStartedAt": intProp("Epoch milliseconds when implementation began."),
				"outcomeAssessedAt":       intProp("Epoch milliseconds when the outcome was assessed."),
				"effectivenessScore":      numberProp("Outcome score in [0,100]."),
			}, "conversationId", "summary", "problemIdentifiedAt"),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				d1 := &memory.Decision{
					ID:                  stringArg(args, "decisionId"),
					ConversationID:      stringArg(args, "conversationId"),
					Summary:             stringArg(args, "summary"),
					ProblemIdentifiedAt: int64Arg(args, "problemIdentifiedAt"),
				}
				setOptional := func(key string, dst **int64) {
					if _, ok := args[key]; ok {
						v := int64Arg(args, key)
						*dst = &v
					}
				}
				setOptional("optionsConsideredAt", &d1.OptionsConsideredAt)
				setOptional("decisionMadeAt", &d1.DecisionMadeAt)
				setOptional("implementationStartedAt", &d1.ImplementationStarted)
				setOptional("outcomeAssessedAt", &d1.OutcomeAssessedAt)
				if _, ok := args["effectivenessScore"]; ok {
					v := floatArg(args, "effectivenessScore")
					d1.EffectivenessScore = &v
				}
				if err := d.Analytics.SaveDecision(ctx, d1); err != nil {
					return nil, err
				}
				return d1, nil
			},
		},
		{
			Name:        "generate_analytics_report",
			Description: "Aggregate conversations, entities, gaps, decisions, and patterns over a time window.",
			InputSchema: objectSchema(map[string]interface{}{
				"startMs": intProp("Window start in epoch milliseconds."),
				"endMs":   intProp("Window end in epoch milliseconds (default now)."),
			}),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return d.Analyzer.GenerateReport(ctx,
					int64Arg(args, "startMs"), int64Arg(args, "endMs"))
			},
		},
	}
}
