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

// Package knowledge builds the entity graph from message content:
// pattern-based entity extraction, co-occurrence relationship detection,
// and the ingestion service that persists both through pkg/memory.
package knowledge

import (
	"regexp"
	"sort"
	"strings"

	"github.com/teradata-labs/recall/pkg/memory"
)

// Extraction defaults.
const (
	DefaultMinEntityConfidence   = 0.5
	DefaultMaxEntitiesPerMessage = 50
	minEntityLength              = 2
)

// ExtractedEntity is one candidate span found in a message.
type ExtractedEntity struct {
	Text           string               `json:"text"`
	NormalizedText string               `json:"normalizedText"`
	Type           memory.EntityType    `json:"type"`
	Confidence     float64              `json:"confidence"`
	StartPos       int                  `json:"startPos"`
	EndPos         int                  `json:"endPos"`
	Method         memory.MentionMethod `json:"method"`
	Context        string               `json:"context,omitempty"`
}

// entityPattern is one rule in a type's ordered pattern set. When the
// expression has a capture group, group 1 is the entity span; otherwise
// the whole match is.
type entityPattern struct {
	re    *regexp.Regexp
	boost float64
}

var titlePrefixRe = regexp.MustCompile(`^(?:Dr|Mr|Mrs|Ms|Prof)\.?\s`)
var properCaseRe = regexp.MustCompile(`^[A-Z]`)
var versionSuffixRe = regexp.MustCompile(`\bv?\d+(?:\.\d+)+$`)

// orgSuffixes stops the bare proper-case person rule from swallowing
// company names.
var orgSuffixes = map[string]bool{
	"corp": true, "inc": true, "llc": true, "ltd": true, "co": true,
	"company": true, "corporation": true, "labs": true, "group": true,
	"systems": true, "technologies": true,
}

var technicalVocab = []string{
	"SQLite", "PostgreSQL", "MySQL", "Redis", "Kafka", "Kubernetes",
	"Docker", "Terraform", "GraphQL", "gRPC", "OAuth", "WebSocket",
	"TypeScript", "JavaScript", "Python", "Golang", "Rust",
	"WAL", "JSON", "YAML", "HTTP", "HTTPS", "REST", "TLS", "JWT",
}

var stopWords = map[string]bool{
	"the": true, "this": true, "that": true, "with": true, "from": true,
	"have": true, "will": true, "would": true, "could": true, "should": true,
	"they": true, "them": true, "then": true, "than": true, "when": true,
	"what": true, "which": true, "there": true, "here": true, "about": true,
}

// commonNouns penalize capitalized sentence-starters that look like
// proper names but almost never are.
var commonNouns = map[string]bool{
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true, "today": true,
	"tomorrow": true, "yesterday": true, "thanks": true, "hello": true,
	"please": true, "morning": true, "afternoon": true,
}

var hypotheticalRe = regexp.MustCompile(`(?i)\b(?:might|maybe|perhaps|possibly|hypothetically|what if|suppose)\b`)

// typePatterns is the ordered pattern set per entity type. Order matters:
// earlier patterns win overlapping spans and normalizedText collisions.
var typePatterns = map[memory.EntityType][]entityPattern{
	memory.EntityPerson: {
		{re: regexp.MustCompile(`\b(?:Dr|Mr|Mrs|Ms|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+`), boost: 0.2},
		{re: regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`), boost: 0.1},
	},
	memory.EntityOrganization: {
		{re: regexp.MustCompile(`\b[A-Z][A-Za-z]+(?:\s+[A-Z][A-Za-z]+)*\s+(?:Corp|Inc|LLC|Ltd|Co|Company|Corporation|Labs|Group|Systems|Technologies)\b\.?`), boost: 0.3},
		{re: regexp.MustCompile(`\b[A-Z][A-Za-z]+(?:\s+[A-Z][a-z]+)*\s+(?:University|Institute|Foundation|Agency)\b`), boost: 0.25},
	},
	memory.EntityProduct: {
		{re: regexp.MustCompile(`\b[A-Za-z][A-Za-z0-9-]*\s+(?:API|SDK|CLI|UI|App|Platform|Service|Dashboard)\b`), boost: 0.2},
		{re: regexp.MustCompile(`\b[A-Z][A-Za-z0-9]+\s+v?\d+(?:\.\d+)+\b`), boost: 0.15},
	},
	memory.EntityTechnical: {
		{re: regexp.MustCompile(`\b(?:` + strings.Join(technicalVocab, "|") + `)\b`), boost: 0.2},
		{re: regexp.MustCompile(`\b[a-z][a-z0-9]*_[a-z0-9_]+\b`), boost: 0.1},
	},
	memory.EntityLocation: {
		{re: regexp.MustCompile(`\b(?:in|near|from|to)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)\b`), boost: 0.1},
	},
	memory.EntityConcept: {
		{re: regexp.MustCompile(`\b[a-z]+(?:\s+[a-z]+)?\s+(?:strategy|approach|architecture|pattern|design|model|framework|pipeline)\b`), boost: 0.1},
	},
	memory.EntityEvent: {
		{re: regexp.MustCompile(`\b(?:sprint|quarterly|annual|weekly)?\s*(?:meeting|launch|release|deadline|conference|review|retrospective)\b`), boost: 0.1},
		{re: regexp.MustCompile(`\bQ[1-4]\s+\d{4}\b`), boost: 0.2},
	},
	memory.EntityDecision: {
		{re: regexp.MustCompile(`\b(?:decided|agreed|chose)\s+to\s+\w+(?:\s+\w+){0,4}`), boost: 0.2},
	},
}

// extractionOrder fixes pattern-set iteration so results are
// deterministic across runs.
var extractionOrder = []memory.EntityType{
	memory.EntityPerson, memory.EntityOrganization, memory.EntityProduct,
	memory.EntityTechnical, memory.EntityLocation, memory.EntityConcept,
	memory.EntityEvent, memory.EntityDecision,
}

// EntityExtractor finds typed entity spans in raw message text. It is
// stateless and deterministic: the same text always yields the same
// entities in the same order.
type EntityExtractor struct {
	minConfidence float64
	maxEntities   int
}

// NewEntityExtractor returns an extractor with the given floor and cap.
// Zero values select the defaults.
func NewEntityExtractor(minConfidence float64, maxEntities int) *EntityExtractor {
	if minConfidence <= 0 {
		minConfidence = DefaultMinEntityConfidence
	}
	if maxEntities <= 0 {
		maxEntities = DefaultMaxEntitiesPerMessage
	}
	return &EntityExtractor{minConfidence: minConfidence, maxEntities: maxEntities}
}

// Extract runs every pattern set over text and returns the surviving
// candidates sorted by confidence descending, then startPos ascending.
func (x *EntityExtractor) Extract(text string) []ExtractedEntity {
	var out []ExtractedEntity
	seenNormalized := make(map[string]bool)
	hypothetical := hypotheticalRe.MatchString(text)

	for _, typ := range extractionOrder {
		var claimed []span
		for _, p := range typePatterns[typ] {
			for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
				start, end := loc[0], loc[1]
				if len(loc) >= 4 && loc[2] >= 0 {
					start, end = loc[2], loc[3]
				}
				candidate := strings.TrimSpace(text[start:end])
				if len(candidate) < minEntityLength {
					continue
				}
				normalized := memory.NormalizeEntityName(candidate)
				if stopWords[normalized] || seenNormalized[normalized] {
					continue
				}
				if overlapsAny(claimed, start, end) {
					continue
				}
				if typ == memory.EntityPerson && endsWithOrgSuffix(normalized) {
					continue
				}

				confidence := x.score(candidate, normalized, p.boost, text, start, end, hypothetical)
				if confidence < x.minConfidence {
					continue
				}

				seenNormalized[normalized] = true
				claimed = append(claimed, span{start, end})
				out = append(out, ExtractedEntity{
					Text:           candidate,
					NormalizedText: normalized,
					Type:           typ,
					Confidence:     confidence,
					StartPos:       start,
					EndPos:         end,
					Method:         memory.MentionPattern,
					Context:        contextWindow(text, start, end),
				})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].StartPos < out[j].StartPos
	})
	if len(out) > x.maxEntities {
		out = out[:x.maxEntities]
	}
	return out
}

// score starts from 0.5 and applies additive and negative rules, clamped
// to [0,1].
func (x *EntityExtractor) score(candidate, normalized string, patternBoost float64,
	text string, start, end int, hypothetical bool) float64 {
	confidence := 0.5 + patternBoost

	if titlePrefixRe.MatchString(candidate) {
		confidence += 0.1
	}
	if properCaseRe.MatchString(candidate) {
		confidence += 0.1
	}
	if versionSuffixRe.MatchString(candidate) {
		confidence += 0.05
	}
	if commonNouns[normalized] {
		confidence -= 0.3
	}
	if inQuestion(text, start, end) {
		confidence -= 0.1
	}
	if hypothetical {
		confidence -= 0.15
	}

	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

type span struct{ start, end int }

func overlapsAny(claimed []span, start, end int) bool {
	for _, s := range claimed {
		if start < s.end && end > s.start {
			return true
		}
	}
	return false
}

func endsWithOrgSuffix(normalized string) bool {
	fields := strings.Fields(normalized)
	if len(fields) == 0 {
		return false
	}
	return orgSuffixes[strings.TrimSuffix(fields[len(fields)-1], ".")]
}

// inQuestion reports whether the sentence containing the span ends with
// a question mark.
func inQuestion(text string, start, end int) bool {
	for i := end; i < len(text); i++ {
		switch text[i] {
		case '?':
			return true
		case '.', '!', '\n':
			return false
		}
	}
	return false
}

// contextWindow returns up to 40 characters either side of the span.
func contextWindow(text string, start, end int) string {
	lo := start - 40
	if lo < 0 {
		lo = 0
	}
	hi := end + 40
	if hi > len(text) {
		hi = len(text)
	}
	return strings.TrimSpace(text[lo:hi])
}
