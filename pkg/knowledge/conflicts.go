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
package knowledge

import (
	"context"
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/validation"
)

// Conflict scan defaults. Two statements about the same entity are
// contradiction candidates when they are textually close but disagree
// in polarity.
const (
	DefaultConflictSimilarity = 0.55
	maxConflictMessages       = 500
)

// Conflict is one contradiction candidate between two statements about
// the same entity.
type Conflict struct {
	EntityID   string   `json:"entityId"`
	EntityName string   `json:"entityName"`
	MessageIDs []string `json:"messageIds"`
	Statements []string `json:"statements"`
	Similarity float64  `json:"similarity"`
	Reason     string   `json:"reason"`
}

var negationRe = regexp.MustCompile(`(?i)\b(?:not|no\s+longer|never|won'?t|don'?t|doesn'?t|isn'?t|wasn'?t|stopped|cancelled|canceled|abandoned)\b`)

// ConflictScanner finds statements in a conversation that mention the
// same entity with opposite polarity.
type ConflictScanner struct {
	messages      *memory.MessageRepository
	entities      *memory.EntityRepository
	minSimilarity float64
	differ        *diffmatchpatch.DiffMatchPatch
	tracer        observability.Tracer
}

// NewConflictScanner wires a scanner. minSimilarity 0 selects the
// default.
func NewConflictScanner(messages *memory.MessageRepository, entities *memory.EntityRepository,
	minSimilarity float64, tracer observability.Tracer) *ConflictScanner {
	if minSimilarity <= 0 {
		minSimilarity = DefaultConflictSimilarity
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &ConflictScanner{
		messages:      messages,
		entities:      entities,
		minSimilarity: minSimilarity,
		differ:        diffmatchpatch.New(),
		tracer:        tracer,
	}
}

// Scan checks every entity mentioned more than once in the conversation
// and reports statement pairs that are similar but differ in negation.
func (c *ConflictScanner) Scan(ctx context.Context, conversationID string) ([]Conflict, error) {
	ctx, span := c.tracer.StartSpan(ctx, "knowledge.conflict_scan",
		observability.WithAttribute(observability.AttrConversation, conversationID))
	defer c.tracer.EndSpan(span)

	if err := validation.ID("conversationId", conversationID); err != nil {
		return nil, err
	}
	msgs, err := c.messages.FindByConversationID(ctx, conversationID,
		memory.MessageQuery{Limit: validation.MaxLimit})
	if err != nil {
		return nil, err
	}
	if len(msgs) > maxConflictMessages {
		msgs = msgs[len(msgs)-maxConflictMessages:]
	}

	// statement carries the sentence around one mention.
	type statement struct {
		messageID string
		text      string
		negated   bool
	}
	byEntity := make(map[string][]statement)
	nameByID := make(map[string]string)

	for i := range msgs {
		mentions, err := c.entities.MentionsForMessage(ctx, msgs[i].ID)
		if err != nil {
			return nil, err
		}
		for _, m := range mentions {
			sentence := sentenceAround(msgs[i].Content, m.StartOffset)
			byEntity[m.EntityID] = append(byEntity[m.EntityID], statement{
				messageID: msgs[i].ID,
				text:      sentence,
				negated:   negationRe.MatchString(sentence),
			})
			if _, ok := nameByID[m.EntityID]; !ok {
				if e, err := c.entities.FindByID(ctx, m.EntityID); err == nil {
					nameByID[m.EntityID] = e.Name
				}
			}
		}
	}

	var conflicts []Conflict
	for entityID, stmts := range byEntity {
		for i := 0; i < len(stmts); i++ {
			for j := i + 1; j < len(stmts); j++ {
				a, b := stmts[i], stmts[j]
				if a.negated == b.negated || a.messageID == b.messageID {
					continue
				}
				sim := c.similarity(a.text, b.text)
				if sim < c.minSimilarity {
					continue
				}
				conflicts = append(conflicts, Conflict{
					EntityID:   entityID,
					EntityName: nameByID[entityID],
					MessageIDs: []string{a.messageID, b.messageID},
					Statements: []string{a.text, b.text},
					Similarity: sim,
					Reason:     "similar statements with opposite polarity",
				})
			}
		}
	}
	span.SetAttribute("conflicts", len(conflicts))
	return conflicts, nil
}

// similarity is the fraction of characters the two statements share,
// with negation cues masked so polarity itself does not count against
// the match.
func (c *ConflictScanner) similarity(a, b string) float64 {
	a = negationRe.ReplaceAllString(strings.ToLower(a), "")
	b = negationRe.ReplaceAllString(strings.ToLower(b), "")
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	diffs := c.differ.DiffMain(a, b, false)
	common := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			common += len(d.Text)
		}
	}
	return float64(common) / float64(longest)
}

// sentenceAround returns the sentence containing the byte offset.
func sentenceAround(text string, offset int) string {
	if offset > len(text) {
		offset = len(text)
	}
	start := 0
	for i := offset - 1; i >= 0; i-- {
		if text[i] == '.' || text[i] == '!' || text[i] == '?' || text[i] == '\n' {
			start = i + 1
			break
		}
	}
	end := len(text)
	for i := offset; i < len(text); i++ {
		if text[i] == '.' || text[i] == '!' || text[i] == '?' || text[i] == '\n' {
			end = i + 1
			break
		}
	}
	return strings.TrimSpace(text[start:end])
}
