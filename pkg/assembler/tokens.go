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

// Package assembler builds token-budgeted context windows from stored
// conversations: scored candidate selection under one of four
// strategies, greedy admission against a hard token cap, and a
// persistent cache of assembled results.
package assembler

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts model tokens using cl100k_base encoding (a close
// Claude approximation). When the encoding tables are unavailable it
// falls back to chars/4 estimation.
type TokenCounter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

var (
	globalCounter *TokenCounter
	counterOnce   sync.Once
)

// GetTokenCounter returns the process-wide counter.
func GetTokenCounter() *TokenCounter {
	counterOnce.Do(func() {
		tkm, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			globalCounter = &TokenCounter{}
			return
		}
		globalCounter = &TokenCounter{encoder: tkm}
	})
	return globalCounter
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	if tc.encoder == nil {
		return len(text) / 4
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.encoder.Encode(text, nil, nil))
}

// CountMultiple sums token counts across segments.
func (tc *TokenCounter) CountMultiple(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += tc.Count(t)
	}
	return total
}
