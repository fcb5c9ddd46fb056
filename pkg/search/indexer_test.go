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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexListenerEmbedsNewMessages(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	f.messages.Subscribe(NewIndexListener(f.messages, f.vectors, f.embedder, nil))
	_, ids := f.seed(t, "vector indexed message")

	n, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	msg, err := f.messages.FindByID(ctx, ids[0])
	require.NoError(t, err)
	assert.NotEmpty(t, msg.Embedding)
}

func TestIndexListenerToleratesEmbedderFailure(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	f.embedder.fail = true
	f.messages.Subscribe(NewIndexListener(f.messages, f.vectors, f.embedder, nil))
	f.seed(t, "this one stays unembedded")

	n, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIndexListenerNilEmbedderIsNoOp(t *testing.T) {
	f := newSearchFixture(t)
	ctx := context.Background()

	f.messages.Subscribe(NewIndexListener(f.messages, f.vectors, nil, nil))
	f.seed(t, "no embedder wired")

	n, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
