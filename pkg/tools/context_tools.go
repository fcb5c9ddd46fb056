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
	"fmt"
	"strings"

	"github.com/teradata-labs/recall/pkg/assembler"
	"github.com/teradata-labs/recall/pkg/llm"
	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/recallerr"
	"github.com/teradata-labs/recall/pkg/validation"
)

// contextTools covers summaries and token-budgeted context assembly.
func contextTools(d Deps) []Tool {
	return []Tool{
		{
			Name:        "get_context_summary",
			Description: "Return the conversation summary at a detail level, generating one when none is stored.",
			InputSchema: objectSchema(map[string]interface{}{
				"conversationId": stringProp("Conversation to summarize."),
				"level":          enumProp("Detail level (default standard).", "brief", "standard", "detailed", "full"),
				"refresh":        boolProp("Regenerate even when a summary is stored."),
			}, "conversationId"),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				level := memory.SummaryLevel(stringArg(args, "level"))
				if level == "" {
					level = memory.SummaryStandard
				}
				return summarizeConversation(ctx, d, stringArg(args, "conversationId"), level, boolArg(args, "refresh"))
			},
		},
		{
			Name:        "get_progressive_detail",
			Description: "Return the summary at a level plus which other levels are available for drill-down.",
			InputSchema: objectSchema(map[string]interface{}{
				"conversationId": stringProp("Conversation to inspect."),
				"level":          enumProp("Requested detail level.", "brief", "standard", "detailed", "full"),
			}, "conversationId", "level"),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				conversationID := stringArg(args, "conversationId")
				level := memory.SummaryLevel(stringArg(args, "level"))

				summary, err := summarizeConversation(ctx, d, conversationID, level, false)
				if err != nil {
					return nil, err
				}
				stored, err := d.Summaries.ListFor(ctx, conversationID)
				if err != nil {
					return nil, err
				}
				available := make(map[memory.SummaryLevel]bool, len(stored))
				for i := range stored {
					available[stored[i].Level] = true
				}
				levels := make([]memory.SummaryLevel, 0, len(memory.SummaryLevels))
				var next memory.SummaryLevel
				for i, l := range memory.SummaryLevels {
					if available[l] {
						levels = append(levels, l)
					}
					if l == level && i+1 < len(memory.SummaryLevels) {
						next = memory.SummaryLevels[i+1]
					}
				}
				return map[string]interface{}{
					"summary":         summary,
					"availableLevels": levels,
					"nextLevel":       next,
				}, nil
			},
		},
		{
			Name:        "suggest_relevant_context",
			Description: "Assemble a token-budgeted context window relevant to a query.",
			InputSchema: objectSchema(map[string]interface{}{
				"query":           stringProp("What the context should be relevant to."),
				"maxTokens":       intProp("Hard token cap for the assembled context."),
				"strategy":        enumProp("Selection strategy (default hybrid).", "temporal", "topical", "entity-centric", "hybrid"),
				"conversationIds": stringArrayProp("Restrict to these conversations (at most 5 used)."),
				"minRelevance":    numberProp("Drop candidates scoring below this in [0,1]."),
				"includeRecent":   boolProp("Reserve part of the budget for the newest messages."),
				"focusEntities":   stringArrayProp("Entities to weight under the entity-centric strategy."),
				"startMs":         intProp("Only messages created at or after this epoch-millisecond time."),
				"endMs":           intProp("Only messages created at or before this epoch-millisecond time."),
				"model":           stringProp("Tokenizer model hint."),
			}, "query", "maxTokens"),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				req := assembler.Request{
					Query:           stringArg(args, "query"),
					MaxTokens:       intArg(args, "maxTokens"),
					Strategy:        assembler.Strategy(stringArg(args, "strategy")),
					ConversationIDs: stringSliceArg(args, "conversationIds"),
					MinRelevance:    floatArg(args, "minRelevance"),
					IncludeRecent:   boolArg(args, "includeRecent"),
					FocusEntities:   stringSliceArg(args, "focusEntities"),
					Model:           stringArg(args, "model"),
				}
				if req.Strategy == "" {
					req.Strategy = assembler.StrategyHybrid
				}
				if start, end := int64Arg(args, "startMs"), int64Arg(args, "endMs"); start != 0 || end != 0 {
					req.TimeWindow = &assembler.Window{StartMs: start, EndMs: end}
				}
				return d.Assembler.Assemble(ctx, req)
			},
		},
	}
}

// summarizeConversation returns the stored summary for the level, or
// generates and stores one through the provider factory.
func summarizeConversation(ctx context.Context, d Deps, conversationID string, level memory.SummaryLevel, refresh bool) (*memory.Summary, error) {
	if !memory.ValidSummaryLevel(level) {
		return nil, recallerr.Validation("level", "level must be one of brief, standard, detailed, full")
	}
	if !refresh {
		summary, err := d.Summaries.LatestFor(ctx, conversationID, level)
		if err == nil {
			return summary, nil
		}
		if recallerr.KindOf(err) != recallerr.KindNotFound {
			return nil, err
		}
	}

	if _, err := d.Convs.FindByID(ctx, conversationID, false); err != nil {
		return nil, err
	}
	msgs, err := d.Messages.FindByConversationID(ctx, conversationID, memory.MessageQuery{Limit: validation.MaxLimit})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, recallerr.Newf(recallerr.KindValidation, "conversation %s has no messages to summarize", conversationID)
	}

	var transcript strings.Builder
	for i := range msgs {
		fmt.Fprintf(&transcript, "%s: %s\n", msgs[i].Role, msgs[i].Content)
	}

	var summarizer llm.Summarizer = llm.LocalSummarizer{}
	if d.LLM != nil {
		if s, err := d.LLM.Summarizer(ctx); err == nil {
			summarizer = s
		}
	}
	text, err := summarizer.Summarize(ctx, llm.SummarizeRequest{Text: transcript.String(), Level: level})
	if err != nil {
		return nil, err
	}

	summary := &memory.Summary{
		ConversationID: conversationID,
		Level:          level,
		Text:           text,
		TokenCount:     assembler.GetTokenCounter().Count(text),
		Provider:       summarizer.Name(),
		MessageCount:   len(msgs),
		StartMessageID: msgs[0].ID,
		EndMessageID:   msgs[len(msgs)-1].ID,
	}
	if err := d.Summaries.Upsert(ctx, summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// providerTools covers LLM provider configuration.
func providerTools(d Deps) []Tool {
	return []Tool{
		{
			Name:        "configure_llm_provider",
			Description: "Create or update an LLM provider row; the highest-priority active row is used.",
			InputSchema: objectSchema(map[string]interface{}{
				"name":        stringProp("Unique provider name."),
				"kind":        enumProp("Provider kind.", "local", "external"),
				"modelName":   stringProp("Model identifier passed to the provider."),
				"endpoint":    stringProp("Base URL, or region for Bedrock providers."),
				"apiKeyEnv":   stringProp("Environment variable holding the API key."),
				"maxTokens":   intProp("Default completion token cap."),
				"temperature": numberProp("Sampling temperature."),
				"isActive":    boolProp("Whether the provider participates in selection."),
				"priority":    intProp("Selection priority; higher wins."),
			}, "name", "kind", "modelName"),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				cfg := &memory.ProviderConfig{
					Name:        stringArg(args, "name"),
					Kind:        memory.ProviderKind(stringArg(args, "kind")),
					ModelName:   stringArg(args, "modelName"),
					Endpoint:    stringArg(args, "endpoint"),
					APIKeyEnv:   stringArg(args, "apiKeyEnv"),
					MaxTokens:   intArg(args, "maxTokens"),
					Temperature: floatArg(args, "temperature"),
					IsActive:    boolArg(args, "isActive"),
					Priority:    intArg(args, "priority"),
				}
				if _, ok := args["isActive"]; !ok {
					cfg.IsActive = true
				}
				if err := d.Providers.Upsert(ctx, cfg); err != nil {
					return nil, err
				}
				return d.Providers.FindByName(ctx, cfg.Name)
			},
		},
	}
}
