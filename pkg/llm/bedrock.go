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
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/recallerr"
)

// Titan embedding defaults.
const (
	DefaultTitanModel     = "amazon.titan-embed-text-v2:0"
	DefaultTitanDimension = 1024
	// titanMaxChars truncates input; Titan v2 caps input at 8192 tokens.
	titanMaxChars = 30000
)

// TitanEmbedder produces dense vectors through Amazon Bedrock's Titan
// text embedding model.
type TitanEmbedder struct {
	client    *bedrockruntime.Client
	model     string
	dimension int
	name      string
}

// NewTitanEmbedder builds an embedder from a provider row using the
// ambient AWS credential chain. The row's endpoint, when set, selects
// the region.
func NewTitanEmbedder(ctx context.Context, cfg *memory.ProviderConfig) (*TitanEmbedder, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Endpoint))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, recallerr.Wrap(recallerr.KindExternalProviderUnavailable, "load aws config", err)
	}
	model := cfg.ModelName
	if model == "" {
		model = DefaultTitanModel
	}
	return &TitanEmbedder{
		client:    bedrockruntime.NewFromConfig(awsCfg),
		model:     model,
		dimension: DefaultTitanDimension,
		name:      cfg.Name,
	}, nil
}

// Name returns the provider row name.
func (e *TitanEmbedder) Name() string { return e.name }

// Dimension returns the configured output dimension.
func (e *TitanEmbedder) Dimension() int { return e.dimension }

// Embed invokes the Titan model and returns its embedding vector.
func (e *TitanEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, recallerr.Validation("text", "text to embed must not be empty")
	}
	if len(text) > titanMaxChars {
		text = text[:titanMaxChars]
	}

	body, err := json.Marshal(map[string]interface{}{
		"inputText":  text,
		"dimensions": e.dimension,
		"normalize":  true,
	})
	if err != nil {
		return nil, recallerr.Wrap(recallerr.KindInternal, "marshal titan request", err)
	}

	out, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, recallerr.Wrap(recallerr.KindCancelled, "embed", ctx.Err())
		}
		return nil, recallerr.Wrap(recallerr.KindExternalProviderUnavailable, "titan embed", err)
	}

	var resp struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, recallerr.Wrap(recallerr.KindExternalProviderUnavailable, "decode titan response", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, recallerr.New(recallerr.KindExternalProviderUnavailable,
			"titan returned an empty embedding")
	}
	return resp.Embedding, nil
}
