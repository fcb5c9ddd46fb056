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
	"fmt"
	"strings"

	"github.com/teradata-labs/recall/pkg/mcp/protocol"
	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/recallerr"
	"github.com/teradata-labs/recall/pkg/validation"
)

// conversationURIPrefix namespaces conversation resources.
const conversationURIPrefix = "recall://conversation/"

// ConversationResources exposes recent conversations as MCP resources.
// It implements server.ResourceProvider.
type ConversationResources struct {
	convs    *memory.ConversationRepository
	messages *memory.MessageRepository
}

// NewConversationResources wires the provider.
func NewConversationResources(convs *memory.ConversationRepository, messages *memory.MessageRepository) *ConversationResources {
	return &ConversationResources{convs: convs, messages: messages}
}

// ListResources lists the most recently updated conversations.
func (p *ConversationResources) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	page, err := p.convs.FindAll(ctx, validation.DefaultLimit, 0, "updated_at", "desc")
	if err != nil {
		return nil, err
	}
	out := make([]protocol.Resource, 0, len(page.Items))
	for i := range page.Items {
		c := &page.Items[i]
		name := c.Title
		if name == "" {
			name = "Conversation " + c.ID
		}
		out = append(out, protocol.Resource{
			URI:      conversationURIPrefix + c.ID,
			Name:     name,
			MimeType: "application/json",
		})
	}
	return out, nil
}

// ReadResource returns a conversation transcript as JSON.
func (p *ConversationResources) ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	id, ok := strings.CutPrefix(uri, conversationURIPrefix)
	if !ok || id == "" {
		return nil, protocol.NewError(protocol.ResourceNotFound,
			fmt.Sprintf("unknown resource: %s", uri), nil)
	}

	conv, err := p.convs.FindByID(ctx, id, false)
	if err != nil {
		if recallerr.KindOf(err) == recallerr.KindNotFound {
			return nil, protocol.NewError(protocol.ResourceNotFound, err.Error(), nil)
		}
		return nil, err
	}
	msgs, err := p.messages.FindByConversationID(ctx, id, memory.MessageQuery{Limit: validation.MaxLimit})
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]interface{}{
		"conversation": conv,
		"messages":     msgs,
	})
	if err != nil {
		return nil, err
	}
	return &protocol.ReadResourceResult{
		Contents: []protocol.ResourceContents{{
			URI:      uri,
			MimeType: "application/json",
			Text:     string(body),
		}},
	}, nil
}
