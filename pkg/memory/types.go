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

// Package memory holds the domain model and the typed repositories over
// the storage substrate. All timestamps are integer milliseconds since
// epoch; IDs are opaque strings.
package memory

import "encoding/json"

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRole reports whether r is one of the three message roles.
func ValidRole(r Role) bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Conversation owns zero or more messages. UpdatedAt is kept >= the
// createdAt of every child message by a database trigger.
type Conversation struct {
	ID        string          `json:"id"`
	CreatedAt int64           `json:"createdAt"`
	UpdatedAt int64           `json:"updatedAt"`
	Title     string          `json:"title,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	DeletedAt *int64          `json:"deletedAt,omitempty"`
}

// Message is one turn of a conversation. CreatedAt monotonicity is not
// required; retrieval orders by createdAt ascending.
type Message struct {
	ID              string          `json:"id"`
	ConversationID  string          `json:"conversationId"`
	Role            Role            `json:"role"`
	Content         string          `json:"content"`
	CreatedAt       int64           `json:"createdAt"`
	ParentMessageID string          `json:"parentMessageId,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	Embedding       []byte          `json:"-"`
}

// SummaryLevel is the detail level of a conversation summary.
type SummaryLevel string

const (
	SummaryBrief    SummaryLevel = "brief"
	SummaryStandard SummaryLevel = "standard"
	SummaryDetailed SummaryLevel = "detailed"
	SummaryFull     SummaryLevel = "full"
)

// SummaryLevels enumerates the valid levels in increasing detail order.
var SummaryLevels = []SummaryLevel{SummaryBrief, SummaryStandard, SummaryDetailed, SummaryFull}

// ValidSummaryLevel reports whether l is a known level.
func ValidSummaryLevel(l SummaryLevel) bool {
	for _, v := range SummaryLevels {
		if l == v {
			return true
		}
	}
	return false
}

// Summary is an LLM-generated digest of part of a conversation.
// Superseded summaries for the same (conversation, level) may coexist;
// readers pick the most recent by GeneratedAt.
type Summary struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	Level          SummaryLevel `json:"level"`
	Text           string       `json:"text"`
	TokenCount     int          `json:"tokenCount"`
	Provider       string       `json:"provider"`
	Model          string       `json:"model"`
	GeneratedAt    int64        `json:"generatedAt"`
	MessageCount   int          `json:"messageCount"`
	StartMessageID string       `json:"startMessageId,omitempty"`
	EndMessageID   string       `json:"endMessageId,omitempty"`
}

// EntityType classifies a named thing in the knowledge graph.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityProduct      EntityType = "product"
	EntityTechnical    EntityType = "technical"
	EntityLocation     EntityType = "location"
	EntityConcept      EntityType = "concept"
	EntityEvent        EntityType = "event"
	EntityDecision     EntityType = "decision"
)

// EntityTypes enumerates all entity types.
var EntityTypes = []EntityType{
	EntityPerson, EntityOrganization, EntityProduct, EntityTechnical,
	EntityLocation, EntityConcept, EntityEvent, EntityDecision,
}

// Entity is keyed uniquely by (NormalizedName, Type).
type Entity struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	NormalizedName  string          `json:"normalizedName"`
	Type            EntityType      `json:"type"`
	ConfidenceScore float64         `json:"confidenceScore"`
	MentionCount    int             `json:"mentionCount"`
	FirstSeenAt     int64           `json:"firstSeenAt"`
	LastMentionedAt int64           `json:"lastMentionedAt"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// MentionMethod is how a mention was discovered.
type MentionMethod string

const (
	MentionPattern     MentionMethod = "pattern"
	MentionStatistical MentionMethod = "statistical"
	MentionManual      MentionMethod = "manual"
)

// EntityMention ties an entity to a span in a message. Keyed by
// (EntityID, MessageID, StartOffset) so re-processing a message is
// idempotent.
type EntityMention struct {
	EntityID    string        `json:"entityId"`
	MessageID   string        `json:"messageId"`
	StartOffset int           `json:"startOffset"`
	EndOffset   int           `json:"endOffset"`
	Method      MentionMethod `json:"method"`
	Confidence  float64       `json:"confidence"`
}

// RelationshipType labels a knowledge-graph edge.
type RelationshipType string

const (
	RelWorksFor         RelationshipType = "works_for"
	RelCreatedBy        RelationshipType = "created_by"
	RelDiscussedWith    RelationshipType = "discussed_with"
	RelPartOf           RelationshipType = "part_of"
	RelRelatedTo        RelationshipType = "related_to"
	RelMentionedWith    RelationshipType = "mentioned_with"
	RelTemporalSequence RelationshipType = "temporal_sequence"
	RelCauseEffect      RelationshipType = "cause_effect"
)

// RelationshipTypes enumerates all relationship types.
var RelationshipTypes = []RelationshipType{
	RelWorksFor, RelCreatedBy, RelDiscussedWith, RelPartOf,
	RelRelatedTo, RelMentionedWith, RelTemporalSequence, RelCauseEffect,
}

// Relationship is a typed weighted edge, merged by (source, target, type).
type Relationship struct {
	ID                string           `json:"id"`
	SourceEntityID    string           `json:"sourceEntityId"`
	TargetEntityID    string           `json:"targetEntityId"`
	Type              RelationshipType `json:"relationshipType"`
	Strength          float64          `json:"strength"`
	SemanticWeight    float64          `json:"semanticWeight"`
	MentionCount      int              `json:"mentionCount"`
	FirstMentionedAt  int64            `json:"firstMentionedAt"`
	LastMentionedAt   int64            `json:"lastMentionedAt"`
	ContextMessageIDs []string         `json:"contextMessageIds"`
}

// ProviderKind distinguishes in-process from network providers.
type ProviderKind string

const (
	ProviderLocal    ProviderKind = "local"
	ProviderExternal ProviderKind = "external"
)

// ProviderConfig describes an LLM provider row. At most one active
// default per kind, selected by highest priority.
type ProviderConfig struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Kind            ProviderKind    `json:"kind"`
	Endpoint        string          `json:"endpoint,omitempty"`
	APIKeyEnv       string          `json:"apiKeyEnv,omitempty"`
	ModelName       string          `json:"modelName"`
	MaxTokens       int             `json:"maxTokens"`
	Temperature     float64         `json:"temperature"`
	IsActive        bool            `json:"isActive"`
	Priority        int             `json:"priority"`
	CostPer1kTokens float64         `json:"costPer1kTokens"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// SearchMetric is one append-only row per search call.
type SearchMetric struct {
	QueryText    string  `json:"queryText"`
	Strategy     string  `json:"strategy"`
	ResultCount  int     `json:"resultCount"`
	DurationMs   float64 `json:"durationMs"`
	FallbackUsed bool    `json:"fallbackUsed"`
	Timestamp    int64   `json:"timestamp"`
}

// Page wraps a limited/offset listing with the total row count.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
