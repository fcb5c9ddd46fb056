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
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/recallerr"
)

// Anthropic defaults.
const (
	DefaultAnthropicModel     = "claude-sonnet-4-5-20250929"
	DefaultSummaryMaxTokens   = 1024
	DefaultAnthropicKeyEnvVar = "ANTHROPIC_API_KEY"
)

// levelInstructions maps summary levels to prompt guidance.
var levelInstructions = map[memory.SummaryLevel]string{
	memory.SummaryBrief:    "Summarize in one or two sentences covering only the main outcome.",
	memory.SummaryStandard: "Summarize in one short paragraph: main topics, decisions, and open items.",
	memory.SummaryDetailed: "Summarize thoroughly: topics, decisions with reasoning, open questions, and named people or systems.",
	memory.SummaryFull:     "Produce a complete structured summary preserving all substantive content, decisions, and context.",
}

// AnthropicSummarizer generates conversation summaries through the
// Anthropic Messages API.
type AnthropicSummarizer struct {
	client anthropic.Client
	model  string
	name   string
}

// NewAnthropicSummarizer builds a summarizer from a provider row. The
// API key resolves from the row's env var, then the system keyring.
func NewAnthropicSummarizer(cfg *memory.ProviderConfig) (*AnthropicSummarizer, error) {
	envVar := cfg.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAnthropicKeyEnvVar
	}
	key, err := ResolveAPIKey(envVar, cfg.Name)
	if err != nil {
		return nil, err
	}
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	model := cfg.ModelName
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicSummarizer{
		client: anthropic.NewClient(opts...),
		model:  model,
		name:   cfg.Name,
	}, nil
}

// Name returns the provider row name.
func (s *AnthropicSummarizer) Name() string { return s.name }

// Summarize sends the text with level-specific instructions and returns
// the model's text blocks concatenated.
func (s *AnthropicSummarizer) Summarize(ctx context.Context, req SummarizeRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", recallerr.Validation("text", "text to summarize must not be empty")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultSummaryMaxTokens
	}
	instruction, ok := levelInstructions[req.Level]
	if !ok {
		instruction = levelInstructions[memory.SummaryStandard]
	}

	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: "You summarize conversation transcripts. " + instruction},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Text)),
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", recallerr.Wrap(recallerr.KindCancelled, "summarize", ctx.Err())
		}
		return "", recallerr.Wrap(recallerr.KindExternalProviderUnavailable, "anthropic summarize", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", recallerr.New(recallerr.KindExternalProviderUnavailable,
			"anthropic returned an empty summary")
	}
	return out, nil
}
