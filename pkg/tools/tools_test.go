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
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/recall/pkg/analytics"
	"github.com/teradata-labs/recall/pkg/assembler"
	"github.com/teradata-labs/recall/pkg/knowledge"
	"github.com/teradata-labs/recall/pkg/mcp/protocol"
	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/search"
	"github.com/teradata-labs/recall/pkg/storage"
	"github.com/teradata-labs/recall/pkg/storage/migrate"
)

type toolFixture struct {
	deps Deps
	reg  *Registry
}

func newToolFixture(t *testing.T) *toolFixture {
	t.Helper()
	store, err := storage.Open(storage.Config{
		Path: filepath.Join(t.TempDir(), "tools.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m, err := migrate.NewMigrator(store.DB(), nil)
	require.NoError(t, err)
	require.NoError(t, m.MigrateUp(context.Background()))

	convs := memory.NewConversationRepository(store, nil, nil)
	messages := memory.NewMessageRepository(store, nil, nil)
	summaries := memory.NewSummaryRepository(store, nil, nil)
	providers := memory.NewProviderRepository(store, nil)
	entities := memory.NewEntityRepository(store, nil, nil)
	graph := memory.NewGraphRepository(store, nil, nil)
	analyticsRepo := memory.NewAnalyticsRepository(store, nil, nil)

	fts := search.NewFTSIndex(store, nil)
	engine := search.NewEngine(store, fts, nil, nil, messages, nil)
	asm := assembler.New(convs, messages, summaries, entities, graph, engine, nil, nil)

	svc := knowledge.NewService(entities, graph, nil, nil, nil, nil)
	messages.Subscribe(svc.Listener())

	deps := Deps{
		Store:     store,
		Convs:     convs,
		Messages:  messages,
		Summaries: summaries,
		Providers: providers,
		Entities:  entities,
		Graph:     graph,
		Analytics: analyticsRepo,
		Search:    engine,
		Assembler: asm,
		Knowledge: svc,
		Conflicts: knowledge.NewConflictScanner(messages, entities, 0, nil),
		Analyzer:  analytics.NewAnalyzer(convs, messages, entities, analyticsRepo, nil, nil),
	}
	reg := NewRegistry(store, 0, nil, nil)
	RegisterAll(reg, deps)
	return &toolFixture{deps: deps, reg: reg}
}

// call executes a tool and decodes the envelope out of the text content.
func (f *toolFixture) call(t *testing.T, name string, args map[string]interface{}) (map[string]interface{}, *protocol.CallToolResult) {
	t.Helper()
	result, err := f.reg.CallTool(context.Background(), name, args)
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	require.Equal(t, "text", result.Content[0].Type)

	var env map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &env))
	return env, result
}

func (f *toolFixture) callOK(t *testing.T, name string, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	env, result := f.call(t, name, args)
	require.False(t, result.IsError, "tool %s failed: %v", name, env)
	require.Equal(t, true, env["success"])
	data, _ := env["data"].(map[string]interface{})
	return data
}

func TestRegistryListsAllTools(t *testing.T) {
	f := newToolFixture(t)
	tools, err := f.reg.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 23)

	names := f.reg.Names()
	for _, want := range []string{
		"save_message", "search_messages", "get_conversation", "get_conversations",
		"delete_conversation", "semantic_search", "hybrid_search", "get_context_summary",
		"get_relevant_snippets", "configure_llm_provider", "get_progressive_detail",
		"get_entity_history", "find_related_conversations", "get_knowledge_graph",
		"get_proactive_insights", "check_for_conflicts", "suggest_relevant_context",
		"auto_tag_conversation", "get_conversation_analytics", "analyze_productivity_patterns",
		"detect_knowledge_gaps", "track_decision_effectiveness", "generate_analytics_report",
	} {
		assert.Contains(t, names, want)
	}
}

func TestSaveAndGetConversationRoundTrip(t *testing.T) {
	f := newToolFixture(t)

	saved := f.callOK(t, "save_message", map[string]interface{}{
		"role":     "user",
		"content":  "How do I optimize SQLite with WAL?",
		"title":    "sqlite tuning",
		"metadata": map[string]interface{}{"source": "cli"},
	})
	conversationID := saved["conversationId"].(string)
	messageID := saved["messageId"].(string)
	require.NotEmpty(t, conversationID)

	got := f.callOK(t, "get_conversation", map[string]interface{}{
		"conversationId": conversationID,
	})
	msgs := got["messages"].([]interface{})
	require.Len(t, msgs, 1)
	msg := msgs[0].(map[string]interface{})
	assert.Equal(t, messageID, msg["id"])
	assert.Equal(t, "user", msg["role"])
	assert.Equal(t, "How do I optimize SQLite with WAL?", msg["content"])
	assert.Equal(t, float64(1), got["totalCount"])
}

func TestSearchMessagesRoundTrip(t *testing.T) {
	f := newToolFixture(t)

	saved := f.callOK(t, "save_message", map[string]interface{}{
		"role":    "user",
		"content": "How do I optimize SQLite with WAL?",
	})

	found := f.callOK(t, "search_messages", map[string]interface{}{
		"query": "WAL SQLite",
	})
	results := found["results"].([]interface{})
	require.NotEmpty(t, results)
	first := results[0].(map[string]interface{})["message"].(map[string]interface{})
	assert.Equal(t, saved["messageId"], first["id"])
}

func TestSearchMessagesEmptyQueryFails(t *testing.T) {
	f := newToolFixture(t)
	env, result := f.call(t, "search_messages", map[string]interface{}{"query": "   "})
	assert.True(t, result.IsError)
	assert.Equal(t, "Validation", env["error"])
}

func TestHybridSearchFallsBackWithoutVectors(t *testing.T) {
	f := newToolFixture(t)
	f.callOK(t, "save_message", map[string]interface{}{
		"role":    "user",
		"content": "Training a machine learning model on churn data.",
	})

	data := f.callOK(t, "hybrid_search", map[string]interface{}{
		"query": "machine learning model",
	})
	assert.Equal(t, true, data["fallbackUsed"])
	assert.Contains(t, data["fallbackReason"], "vector_index_unavailable")
	assert.Equal(t, "fts", data["strategy"])
}

func TestSemanticSearchUnavailable(t *testing.T) {
	f := newToolFixture(t)
	env, result := f.call(t, "semantic_search", map[string]interface{}{"query": "anything"})
	assert.True(t, result.IsError)
	assert.Equal(t, "ExternalProviderUnavailable", env["error"])
}

func TestUnknownToolSuggestsClosestName(t *testing.T) {
	f := newToolFixture(t)
	_, err := f.reg.CallTool(context.Background(), "search_mesages", nil)
	require.Error(t, err)

	var rpcErr *protocol.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, protocol.ToolNotFound, rpcErr.Code)
	assert.Contains(t, string(rpcErr.Data), "search_messages")
}

func TestSchemaRejectsMissingRequiredField(t *testing.T) {
	f := newToolFixture(t)
	env, result := f.call(t, "save_message", map[string]interface{}{"role": "user"})
	assert.True(t, result.IsError)
	assert.Equal(t, "Validation", env["error"])
	assert.Contains(t, env["message"], "invalid tool input")
}

func TestGetContextSummaryGeneratesLocally(t *testing.T) {
	f := newToolFixture(t)
	saved := f.callOK(t, "save_message", map[string]interface{}{
		"role":    "user",
		"content": "We agreed to ship the billing migration on Friday. Rollback plan is documented.",
	})
	conversationID := saved["conversationId"].(string)

	env, result := f.call(t, "get_context_summary", map[string]interface{}{
		"conversationId": conversationID,
		"level":          "brief",
	})
	require.False(t, result.IsError, "summary failed: %v", env)
	data := env["data"].(map[string]interface{})
	assert.NotEmpty(t, data["text"])
	assert.Equal(t, "brief", data["level"])
	assert.Equal(t, "local", data["provider"])

	// Second call serves the stored summary.
	again, _ := f.call(t, "get_context_summary", map[string]interface{}{
		"conversationId": conversationID,
		"level":          "brief",
	})
	assert.Equal(t, data["id"], again["data"].(map[string]interface{})["id"])
}

func TestProgressiveDetailReportsLevels(t *testing.T) {
	f := newToolFixture(t)
	saved := f.callOK(t, "save_message", map[string]interface{}{
		"role":    "user",
		"content": "First point. Second point. Third point. Fourth point.",
	})
	conversationID := saved["conversationId"].(string)

	data := f.callOK(t, "get_progressive_detail", map[string]interface{}{
		"conversationId": conversationID,
		"level":          "brief",
	})
	assert.Equal(t, "standard", data["nextLevel"])
	levels := data["availableLevels"].([]interface{})
	assert.Contains(t, levels, "brief")
}

func TestSuggestRelevantContextHonorsBudget(t *testing.T) {
	f := newToolFixture(t)
	for i := 0; i < 10; i++ {
		f.callOK(t, "save_message", map[string]interface{}{
			"role":    "user",
			"content": "Deployment pipeline retrospective item number with extra detail attached.",
		})
	}

	data := f.callOK(t, "suggest_relevant_context", map[string]interface{}{
		"query":     "deployment pipeline",
		"maxTokens": 200,
	})
	tokenCount := int(data["tokenCount"].(float64))
	assert.LessOrEqual(t, tokenCount, 200)
	assert.NotEmpty(t, data["text"])
}

func TestConfigureLLMProvider(t *testing.T) {
	f := newToolFixture(t)
	data := f.callOK(t, "configure_llm_provider", map[string]interface{}{
		"name":      "team-anthropic",
		"kind":      "external",
		"modelName": "claude-sonnet-4-5-20250929",
		"apiKeyEnv": "TEAM_ANTHROPIC_KEY",
		"priority":  50,
	})
	assert.Equal(t, "team-anthropic", data["name"])
	assert.Equal(t, true, data["isActive"])
}

func TestAutoTagConversation(t *testing.T) {
	f := newToolFixture(t)
	saved := f.callOK(t, "save_message", map[string]interface{}{
		"role":    "user",
		"content": "Alice Chen works for Acme Corp on the Kafka ingestion pipeline.",
	})
	conversationID := saved["conversationId"].(string)

	data := f.callOK(t, "auto_tag_conversation", map[string]interface{}{
		"conversationId": conversationID,
		"maxTags":        3,
	})
	tags := data["tags"].([]interface{})
	require.NotEmpty(t, tags)

	// Tags persist into conversation metadata.
	got := f.callOK(t, "get_conversation", map[string]interface{}{
		"conversationId": conversationID,
	})
	conv := got["conversation"].(map[string]interface{})
	meta := conv["metadata"].(map[string]interface{})
	assert.NotEmpty(t, meta["tags"])
}

func TestKnowledgeGraphToolsEndToEnd(t *testing.T) {
	f := newToolFixture(t)
	saved := f.callOK(t, "save_message", map[string]interface{}{
		"role":    "user",
		"content": "Alice Chen works for Acme Corp.",
	})
	conversationID := saved["conversationId"].(string)

	history := f.callOK(t, "get_entity_history", map[string]interface{}{
		"entity": "alice chen",
	})
	msgs := history["messages"].([]interface{})
	require.NotEmpty(t, msgs)

	related := f.callOK(t, "find_related_conversations", map[string]interface{}{
		"entities": []interface{}{"alice chen"},
	})
	ids := related["conversationIds"].([]interface{})
	assert.Contains(t, ids, conversationID)

	graph := f.callOK(t, "get_knowledge_graph", map[string]interface{}{
		"entity": "alice chen",
	})
	assert.NotNil(t, graph["root"])
}

func TestCheckForConflicts(t *testing.T) {
	f := newToolFixture(t)
	saved := f.callOK(t, "save_message", map[string]interface{}{
		"role":    "user",
		"content": "Acme Corp is migrating to Kubernetes this quarter.",
	})
	conversationID := saved["conversationId"].(string)
	f.callOK(t, "save_message", map[string]interface{}{
		"conversationId": conversationID,
		"role":           "user",
		"content":        "Acme Corp is not migrating to Kubernetes this quarter.",
	})

	data := f.callOK(t, "check_for_conflicts", map[string]interface{}{
		"conversationId": conversationID,
	})
	assert.GreaterOrEqual(t, int(data["count"].(float64)), 1)
}

func TestDeleteConversationPermanent(t *testing.T) {
	f := newToolFixture(t)
	saved := f.callOK(t, "save_message", map[string]interface{}{
		"role":    "user",
		"content": "Throwaway conversation content.",
	})
	conversationID := saved["conversationId"].(string)

	f.callOK(t, "delete_conversation", map[string]interface{}{
		"conversationId": conversationID,
		"permanent":      true,
	})

	env, result := f.call(t, "get_conversation", map[string]interface{}{
		"conversationId": conversationID,
	})
	assert.True(t, result.IsError)
	assert.Equal(t, "NotFound", env["error"])
}

func TestDeleteConversationCollectsOrphanedEntities(t *testing.T) {
	f := newToolFixture(t)
	saved := f.callOK(t, "save_message", map[string]interface{}{
		"role":    "user",
		"content": "Alice Chen works for Acme Corp.",
	})
	conversationID := saved["conversationId"].(string)

	history := f.callOK(t, "get_entity_history", map[string]interface{}{
		"entity": "alice chen",
	})
	require.NotEmpty(t, history["messages"])

	deleted := f.callOK(t, "delete_conversation", map[string]interface{}{
		"conversationId": conversationID,
		"permanent":      true,
	})
	assert.GreaterOrEqual(t, int(deleted["entitiesRemoved"].(float64)), 1)

	// The entity lost its last mention and must be gone with it.
	env, result := f.call(t, "get_entity_history", map[string]interface{}{
		"entity": "alice chen",
	})
	assert.True(t, result.IsError)
	assert.Equal(t, "NotFound", env["error"])
}

func TestAnalyticsToolsEndToEnd(t *testing.T) {
	f := newToolFixture(t)
	saved := f.callOK(t, "save_message", map[string]interface{}{
		"role":    "user",
		"content": "Should we adopt feature flags for the checkout rollout?",
	})
	conversationID := saved["conversationId"].(string)
	f.callOK(t, "save_message", map[string]interface{}{
		"conversationId": conversationID,
		"role":           "assistant",
		"content":        "Yes, feature flags decouple deploy from release and derisk checkout.",
	})

	run := f.callOK(t, "get_conversation_analytics", map[string]interface{}{
		"conversationId": conversationID,
	})
	assert.Equal(t, float64(2), run["messageCount"])
	assert.InDelta(t, 1.0, run["resolutionRate"].(float64), 1e-9)

	patterns := f.callOK(t, "analyze_productivity_patterns", map[string]interface{}{})
	assert.GreaterOrEqual(t, int(patterns["count"].(float64)), 1)

	decision := f.callOK(t, "track_decision_effectiveness", map[string]interface{}{
		"conversationId":      conversationID,
		"summary":             "Adopt feature flags for checkout",
		"problemIdentifiedAt": time.Now().Add(-time.Hour).UnixMilli(),
		"decisionMadeAt":      time.Now().UnixMilli(),
	})
	assert.NotEmpty(t, decision["id"])

	report := f.callOK(t, "generate_analytics_report", map[string]interface{}{})
	assert.GreaterOrEqual(t, int(report["conversationCount"].(float64)), 1)
	assert.GreaterOrEqual(t, int(report["messageCount"].(float64)), 2)
}

func TestHealthCheckTracksCounters(t *testing.T) {
	f := newToolFixture(t)
	f.callOK(t, "get_conversations", map[string]interface{}{})
	f.call(t, "search_messages", map[string]interface{}{"query": ""})

	h := f.reg.HealthCheck(context.Background())
	assert.True(t, h.Store)

	stats, ok := f.reg.StatsFor("get_conversations")
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Calls)
	assert.Equal(t, int64(0), stats.Errors)

	stats, ok = f.reg.StatsFor("search_messages")
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Calls)
	assert.Equal(t, int64(1), stats.Errors)
	assert.False(t, h.Tools["search_messages"].OK)
	assert.False(t, h.Healthy)
}

func TestConversationResources(t *testing.T) {
	f := newToolFixture(t)
	saved := f.callOK(t, "save_message", map[string]interface{}{
		"role":    "user",
		"content": "Resource listing smoke test.",
		"title":   "resource check",
	})
	conversationID := saved["conversationId"].(string)

	p := NewConversationResources(f.deps.Convs, f.deps.Messages)
	resources, err := p.ListResources(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, resources)
	assert.Equal(t, conversationURIPrefix+conversationID, resources[0].URI)

	read, err := p.ReadResource(context.Background(), resources[0].URI)
	require.NoError(t, err)
	require.Len(t, read.Contents, 1)
	assert.Contains(t, read.Contents[0].Text, "Resource listing smoke test.")

	_, err = p.ReadResource(context.Background(), "recall://conversation/nope")
	var rpcErr *protocol.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, protocol.ResourceNotFound, rpcErr.Code)
}
