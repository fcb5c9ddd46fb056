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
	"regexp"
	"sort"

	"github.com/teradata-labs/recall/pkg/memory"
)

// Detection defaults.
const (
	DefaultMinRelConfidence     = 0.4
	DefaultMaxCharDistance      = 300
	DefaultMaxSentenceDistance  = 2
	relationshipCueBoost        = 0.2
	mentionedWithFallbackWeight = 0.1
)

// DetectedRelationship is one candidate edge found in a message.
type DetectedRelationship struct {
	SourceText        string                  `json:"sourceText"`
	TargetText        string                  `json:"targetText"`
	Type              memory.RelationshipType `json:"type"`
	Confidence        float64                 `json:"confidence"`
	Evidence          []string                `json:"evidence"`
	ContextMessageIDs []string                `json:"contextMessageIds"`
}

// relPattern binds a cue expression to the entity types it can direct.
// An entity pair matching (sourceTypes, targetTypes) takes that
// direction; otherwise the earlier span is the source.
type relPattern struct {
	re          *regexp.Regexp
	sourceTypes []memory.EntityType
	targetTypes []memory.EntityType
}

var relPatterns = map[memory.RelationshipType][]relPattern{
	memory.RelWorksFor: {{
		re:          regexp.MustCompile(`(?i)\b(?:works?\s+(?:for|at)|employed\s+(?:by|at)|joined|hired\s+by)\b`),
		sourceTypes: []memory.EntityType{memory.EntityPerson},
		targetTypes: []memory.EntityType{memory.EntityOrganization},
	}},
	memory.RelCreatedBy: {{
		re:          regexp.MustCompile(`(?i)\b(?:created|built|authored|developed|designed|written)\s+by\b`),
		sourceTypes: []memory.EntityType{memory.EntityProduct, memory.EntityTechnical, memory.EntityConcept},
		targetTypes: []memory.EntityType{memory.EntityPerson, memory.EntityOrganization},
	}},
	memory.RelDiscussedWith: {{
		re:          regexp.MustCompile(`(?i)\b(?:discussed\s+with|talked\s+to|met\s+with|spoke\s+(?:with|to)|synced\s+with)\b`),
		sourceTypes: []memory.EntityType{memory.EntityPerson},
		targetTypes: []memory.EntityType{memory.EntityPerson},
	}},
	memory.RelPartOf: {{
		re:          regexp.MustCompile(`(?i)\b(?:part\s+of|belongs\s+to|component\s+of|module\s+(?:of|in)|inside|within)\b`),
		targetTypes: []memory.EntityType{memory.EntityOrganization, memory.EntityProduct, memory.EntityConcept},
	}},
	memory.RelRelatedTo: {{
		re: regexp.MustCompile(`(?i)\b(?:related\s+to|similar\s+to|depends\s+on|connected\s+to|based\s+on)\b`),
	}},
	memory.RelTemporalSequence: {{
		re: regexp.MustCompile(`(?i)\b(?:after|before|then|followed\s+by|once|subsequently)\b`),
	}},
	memory.RelCauseEffect: {{
		re: regexp.MustCompile(`(?i)\b(?:because\s+of|caused(?:\s+by)?|led\s+to|resulted\s+in|due\s+to|triggered)\b`),
	}},
}

// detectionOrder fixes the cue-scan order so ties resolve the same way
// on every run. mentioned_with is the fallback, never scanned.
var detectionOrder = []memory.RelationshipType{
	memory.RelWorksFor, memory.RelCreatedBy, memory.RelDiscussedWith,
	memory.RelPartOf, memory.RelCauseEffect, memory.RelTemporalSequence,
	memory.RelRelatedTo,
}

var positiveCueRe = regexp.MustCompile(`(?i)\b(?:clearly|specifically|definitely|confirmed)\b`)
var uncertainCueRe = regexp.MustCompile(`(?i)\b(?:might|maybe|perhaps|possibly|could|unsure|unclear)\b`)
var sentenceEndRe = regexp.MustCompile(`[.!?]`)

// RelationshipDetector turns the entities of one message into candidate
// edges via bounded co-occurrence plus cue-pattern scans.
type RelationshipDetector struct {
	minConfidence       float64
	maxCharDistance     int
	maxSentenceDistance int
}

// NewRelationshipDetector returns a detector; zero values select the
// defaults.
func NewRelationshipDetector(minConfidence float64, maxCharDistance, maxSentenceDistance int) *RelationshipDetector {
	if minConfidence <= 0 {
		minConfidence = DefaultMinRelConfidence
	}
	if maxCharDistance <= 0 {
		maxCharDistance = DefaultMaxCharDistance
	}
	if maxSentenceDistance <= 0 {
		maxSentenceDistance = DefaultMaxSentenceDistance
	}
	return &RelationshipDetector{
		minConfidence:       minConfidence,
		maxCharDistance:     maxCharDistance,
		maxSentenceDistance: maxSentenceDistance,
	}
}

// Detect pairs entities whose spans fall within the distance bounds and
// scans the text between them for each type's cue set. Detections for
// the same (source, target, type) merge by max confidence and evidence
// union.
func (d *RelationshipDetector) Detect(text string, entities []ExtractedEntity, messageID string) []DetectedRelationship {
	type mergeKey struct {
		source, target string
		typ            memory.RelationshipType
	}
	merged := make(map[mergeKey]*DetectedRelationship)
	var order []mergeKey

	ordered := make([]ExtractedEntity, len(entities))
	copy(ordered, entities)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].StartPos < ordered[j].StartPos })

	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			a, b := ordered[i], ordered[j]
			gap := b.StartPos - a.EndPos
			if gap < 0 {
				gap = 0
			}
			if gap > d.maxCharDistance {
				break
			}
			// Spans of different types may overlap; an empty window is
			// fine for the cue scan.
			winLo, winHi := a.EndPos, b.StartPos
			if winHi < winLo {
				winHi = winLo
			}
			window := text[winLo:winHi]
			if len(sentenceEndRe.FindAllString(window, -1)) > d.maxSentenceDistance {
				continue
			}

			proximity := 1 - float64(gap)/float64(d.maxCharDistance)
			base := 0.3*proximity + 0.4*(a.Confidence+b.Confidence)/2

			matchedAny := false
			for _, typ := range detectionOrder {
				for _, p := range relPatterns[typ] {
					cue := p.re.FindString(window)
					if cue == "" {
						continue
					}
					matchedAny = true
					source, target := orient(a, b, p)
					confidence := d.adjust(base+relationshipCueBoost, text, a, b)
					if confidence < d.minConfidence {
						continue
					}
					key := mergeKey{source.NormalizedText, target.NormalizedText, typ}
					if existing, ok := merged[key]; ok {
						if confidence > existing.Confidence {
							existing.Confidence = confidence
						}
						existing.Evidence = appendUnique(existing.Evidence, cue)
						continue
					}
					merged[key] = &DetectedRelationship{
						SourceText:        source.NormalizedText,
						TargetText:        target.NormalizedText,
						Type:              typ,
						Confidence:        confidence,
						Evidence:          []string{cue},
						ContextMessageIDs: []string{messageID},
					}
					order = append(order, key)
				}
			}

			// Same-sentence co-occurrence with no cue still links the
			// pair weakly.
			if !matchedAny && !sentenceEndRe.MatchString(window) {
				confidence := d.adjust(base+mentionedWithFallbackWeight, text, a, b)
				if confidence < d.minConfidence {
					continue
				}
				key := mergeKey{a.NormalizedText, b.NormalizedText, memory.RelMentionedWith}
				if existing, ok := merged[key]; ok {
					if confidence > existing.Confidence {
						existing.Confidence = confidence
					}
					continue
				}
				merged[key] = &DetectedRelationship{
					SourceText:        a.NormalizedText,
					TargetText:        b.NormalizedText,
					Type:              memory.RelMentionedWith,
					Confidence:        confidence,
					Evidence:          []string{"co-occurrence"},
					ContextMessageIDs: []string{messageID},
				}
				order = append(order, key)
			}
		}
	}

	out := make([]DetectedRelationship, 0, len(order))
	for _, key := range order {
		out = append(out, *merged[key])
	}
	return out
}

// adjust applies cue boosts and uncertainty penalties over the sentence
// region covering both spans, clamped to [0,1].
func (d *RelationshipDetector) adjust(confidence float64, text string, a, b ExtractedEntity) float64 {
	lo, hi := a.StartPos, b.EndPos
	if lo > 80 {
		lo -= 80
	} else {
		lo = 0
	}
	if hi+80 < len(text) {
		hi += 80
	} else {
		hi = len(text)
	}
	region := text[lo:hi]

	if positiveCueRe.MatchString(region) {
		confidence += 0.1
	}
	if uncertainCueRe.MatchString(region) {
		confidence -= 0.15
	}
	if inQuestion(text, a.StartPos, b.EndPos) {
		confidence -= 0.1
	}
	if hypotheticalRe.MatchString(region) {
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

// orient picks direction from the pattern's declared types, falling
// back to "earlier span is source".
func orient(a, b ExtractedEntity, p relPattern) (ExtractedEntity, ExtractedEntity) {
	if typeIn(a.Type, p.sourceTypes) && typeIn(b.Type, p.targetTypes) {
		return a, b
	}
	if typeIn(b.Type, p.sourceTypes) && typeIn(a.Type, p.targetTypes) {
		return b, a
	}
	return a, b
}

// typeIn treats an empty allow-list as "any type".
func typeIn(t memory.EntityType, allowed []memory.EntityType) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, v := range allowed {
		if t == v {
			return true
		}
	}
	return false
}

func appendUnique(items []string, v string) []string {
	for _, it := range items {
		if it == v {
			return items
		}
	}
	return append(items, v)
}
