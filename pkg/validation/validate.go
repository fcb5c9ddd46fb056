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
// Package validation provides the shared input validators used by
// repositories and tools: opaque IDs, date ranges, enum membership,
// bounded strings, and pagination parameters.
package validation

import (
	"strings"

	"github.com/teradata-labs/recall/pkg/recallerr"
)

const (
	// MaxIDLength bounds opaque IDs. IDs are never parsed, only checked
	// for non-emptiness and length.
	MaxIDLength = 128

	// DefaultLimit and MaxLimit bound paginated queries.
	DefaultLimit = 20
	MaxLimit     = 200
)

// ID checks an opaque identifier for non-emptiness and length bounds.
func ID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return recallerr.Validation(field, field+" is required")
	}
	if len(value) > MaxIDLength {
		return recallerr.Validation(field, field+" exceeds maximum length").WithDetail("max", MaxIDLength)
	}
	return nil
}

// OptionalID checks an identifier that may be empty.
func OptionalID(field, value string) error {
	if value == "" {
		return nil
	}
	return ID(field, value)
}

// NonEmpty checks a required string with an upper bound on length.
// maxLen <= 0 means unbounded.
func NonEmpty(field, value string, maxLen int) error {
	if strings.TrimSpace(value) == "" {
		return recallerr.Validation(field, field+" must not be empty")
	}
	if maxLen > 0 && len(value) > maxLen {
		return recallerr.Validation(field, field+" exceeds maximum length").
			WithDetail("max", maxLen).
			WithDetail("got", len(value))
	}
	return nil
}

// Enum checks membership in an allowed value set.
func Enum(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return recallerr.Validation(field, "invalid value for "+field).
		WithDetail("got", value).
		WithDetail("allowed", allowed)
}

// DateRange checks that a [start, end] millisecond range is well formed.
// Zero values mean "unbounded" on that side.
func DateRange(startMs, endMs int64) error {
	if startMs < 0 || endMs < 0 {
		return recallerr.Validation("dateRange", "timestamps must be non-negative")
	}
	if startMs > 0 && endMs > 0 && startMs > endMs {
		return recallerr.Validation("dateRange", "start must not be after end").
			WithDetail("start", startMs).
			WithDetail("end", endMs)
	}
	return nil
}

// Limit clamps a requested page size into [1, MaxLimit], applying the
// default when the caller passed zero.
func Limit(limit int) (int, error) {
	if limit < 0 {
		return 0, recallerr.Validation("limit", "limit must be non-negative")
	}
	if limit == 0 {
		return DefaultLimit, nil
	}
	if limit > MaxLimit {
		return MaxLimit, nil
	}
	return limit, nil
}

// Offset checks a pagination offset.
func Offset(offset int) error {
	if offset < 0 {
		return recallerr.Validation("offset", "offset must be non-negative")
	}
	return nil
}

// UnitInterval checks a score in [0, 1].
func UnitInterval(field string, v float64) error {
	if v < 0 || v > 1 {
		return recallerr.Validation(field, field+" must be in [0, 1]").WithDetail("got", v)
	}
	return nil
}

// Positive checks an integer is > 0.
func Positive(field string, v int) error {
	if v <= 0 {
		return recallerr.Validation(field, field+" must be positive").WithDetail("got", v)
	}
	return nil
}
