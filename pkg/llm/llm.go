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

// Package llm holds the external model providers: summarization and
// embedding contracts, the Anthropic and Bedrock implementations, and a
// deterministic local fallback so the system degrades instead of
// failing when no network provider is configured.
package llm

import (
	"context"
	"os"

	"github.com/zalando/go-keyring"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/recallerr"
)

// KeyringService is the system-keyring service name for stored keys.
const KeyringService = "recall-mcp"

// SummarizeRequest shapes one summarization call.
type SummarizeRequest struct {
	Text      string
	Level     memory.SummaryLevel
	MaxTokens int
}

// Summarizer produces a digest of conversation text at the requested
// detail level.
type Summarizer interface {
	Summarize(ctx context.Context, req SummarizeRequest) (string, error)
	Name() string
}

// Embedder turns text into a fixed-dimension dense vector. The search
// engine consumes this through its own narrower interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

// ResolveAPIKey finds the key for a provider: the named environment
// variable wins, then the system keyring under the provider's name.
// Missing keys surface as ExternalProviderUnavailable so callers take
// their declared fallback path.
func ResolveAPIKey(envVar, providerName string) (string, error) {
	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			return v, nil
		}
	}
	if v, err := keyring.Get(KeyringService, providerName); err == nil && v != "" {
		return v, nil
	}
	return "", recallerr.Newf(recallerr.KindExternalProviderUnavailable,
		"no API key for provider %q (checked env %q and system keyring)", providerName, envVar)
}

// StoreAPIKey saves a key in the system keyring.
func StoreAPIKey(providerName, key string) error {
	if err := keyring.Set(KeyringService, providerName, key); err != nil {
		return recallerr.Wrap(recallerr.KindInternal, "store key in keyring", err)
	}
	return nil
}

// DeleteAPIKey removes a stored key.
func DeleteAPIKey(providerName string) error {
	if err := keyring.Delete(KeyringService, providerName); err != nil && err != keyring.ErrNotFound {
		return recallerr.Wrap(recallerr.KindInternal, "delete key from keyring", err)
	}
	return nil
}
