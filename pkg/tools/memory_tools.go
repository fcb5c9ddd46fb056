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

	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/memory"
)

// memoryTools covers conversation and message CRUD.
func memoryTools(d Deps) []Tool {
	return []Tool{
		{
			Name:        "save_message",
			Description: "Save a message, creating its conversation when no conversationId is given.",
			InputSchema: objectSchema(map[string]interface{}{
				"conversationId":  stringProp("Existing conversation to append to; omit to start a new one."),
				"role":            enumProp("Author of the message.", "user", "assistant", "system"),
				"content":         stringProp("Message text."),
				"parentMessageId": stringProp("Optional parent message for threading."),
				"title":           stringProp("Title for a newly created conversation."),
				"metadata":        objectProp("Arbitrary JSON metadata stored with the message."),
			}, "role", "content"),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				conversationID := stringArg(args, "conversationId")
				if conversationID == "" {
					conv := &memory.Conversation{
						Title:    stringArg(args, "title"),
						Metadata: jsonArg(args, "metadata"),
					}
					if err := d.Convs.Create(ctx, conv); err != nil {
						return nil, err
					}
					conversationID = conv.ID
				}
				msg := &memory.Message{
					ConversationID:  conversationID,
					Role:            memory.Role(stringArg(args, "role")),
					Content:         stringArg(args, "content"),
					ParentMessageID: stringArg(args, "parentMessageId"),
					Metadata:        jsonArg(args, "metadata"),
				}
				if err := d.Messages.Create(ctx, msg); err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"messageId":      msg.ID,
					"conversationId": conversationID,
					"createdAt":      msg.CreatedAt,
				}, nil
			},
		},
		{
			Name:        "get_conversation",
			Description: "Fetch one conversation with its messages in chronological order.",
			InputSchema: objectSchema(map[string]interface{}{
				"conversationId": stringProp("Conversation to fetch."),
				"limit":          intProp("Maximum messages to return (default 20, max 200)."),
				"beforeId":       stringProp("Key-set cursor: messages before this id."),
				"afterId":        stringProp("Key-set cursor: messages after this id."),
				"includeDeleted": boolProp("Include a soft-deleted conversation."),
			}, "conversationId"),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				conv, err := d.Convs.FindByID(ctx, stringArg(args, "conversationId"), boolArg(args, "includeDeleted"))
				if err != nil {
					return nil, err
				}
				msgs, err := d.Messages.FindByConversationID(ctx, conv.ID, memory.MessageQuery{
					Limit:    intArg(args, "limit"),
					BeforeID: stringArg(args, "beforeId"),
					AfterID:  stringArg(args, "afterId"),
				})
				if err != nil {
					return nil, err
				}
				total, err := d.Messages.Count(ctx, conv.ID)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"conversation": conv,
					"messages":     msgs,
					"totalCount":   total,
				}, nil
			},
		},
		{
			Name:        "get_conversations",
			Description: "List conversations, newest activity first by default.",
			InputSchema: objectSchema(map[string]interface{}{
				"limit":     intProp("Maximum conversations to return (default 20, max 200)."),
				"offset":    intProp("Rows to skip for pagination."),
				"orderBy":   enumProp("Sort column.", "created_at", "updated_at", "title"),
				"direction": enumProp("Sort direction.", "asc", "desc"),
			}),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return d.Convs.FindAll(ctx,
					intArg(args, "limit"), intArg(args, "offset"),
					stringArg(args, "orderBy"), stringArg(args, "direction"))
			},
		},
		{
			Name:        "delete_conversation",
			Description: "Soft-delete a conversation, or permanently remove it and all dependent rows.",
			InputSchema: objectSchema(map[string]interface{}{
				"conversationId": stringProp("Conversation to delete."),
				"permanent":      boolProp("Hard delete: removes messages, summaries, and orphans mentions."),
			}, "conversationId"),
			Run: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				id := stringArg(args, "conversationId")
				permanent := boolArg(args, "permanent")
				if err := d.Convs.Delete(ctx, id, permanent); err != nil {
					return nil, err
				}
				out := map[string]interface{}{
					"conversationId": id,
					"permanent":      permanent,
				}
				if permanent && d.Entities != nil {
					// Cascade deletes dropped the mentions; sweep entities
					// that lost their last one.
					removed, err := d.Entities.GarbageCollect(ctx)
					if err != nil {
						d.Logger.Warn("entity garbage collection failed", zap.Error(err))
					} else {
						out["entitiesRemoved"] = removed
					}
				}
				return out, nil
			},
		},
	}
}
