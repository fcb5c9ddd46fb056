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
package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/memory"
)

// NewIndexListener returns a message listener that embeds new messages
// into the vector index. Embedding is best effort: failures are logged
// and the write proceeds, since FTS still covers the message and the
// hybrid path degrades to full-text on a sparse index.
func NewIndexListener(messages *memory.MessageRepository, vectors VectorIndex,
	embedder Embedder, logger *zap.Logger) memory.MessageListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, msg *memory.Message) {
		if embedder == nil || vectors == nil || msg.Content == "" {
			return
		}
		vec, err := embedder.Embed(ctx, msg.Content)
		if err != nil {
			logger.Debug("message embedding skipped",
				zap.String("message", msg.ID), zap.Error(err))
			return
		}
		if err := vectors.Upsert(ctx, msg.ID, "message", vec); err != nil {
			logger.Warn("vector upsert failed",
				zap.String("message", msg.ID), zap.Error(err))
			return
		}
		if err := messages.SetEmbedding(ctx, msg.ID, encodeVector(vec)); err != nil {
			logger.Warn("embedding column update failed",
				zap.String("message", msg.ID), zap.Error(err))
		}
	}
}
