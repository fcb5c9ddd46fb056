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
// Package recallerr defines the typed error taxonomy shared by all layers.
// Repositories return these errors, tools translate them into the client
// envelope, and the registry decides what detail is safe to surface.
package recallerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for envelope formatting and fallback decisions.
type Kind string

const (
	KindValidation                  Kind = "Validation"
	KindNotFound                    Kind = "NotFound"
	KindConflict                    Kind = "Conflict"
	KindStoreUnavailable            Kind = "StoreUnavailable"
	KindPoolExhausted               Kind = "PoolExhausted"
	KindPoolShutdown                Kind = "PoolShutdown"
	KindSchemaTooNew                Kind = "SchemaTooNew"
	KindToolNotFound                Kind = "ToolNotFound"
	KindToolExecution               Kind = "ToolExecution"
	KindCancelled                   Kind = "Cancelled"
	KindTimeout                     Kind = "Timeout"
	KindExternalProviderUnavailable Kind = "ExternalProviderUnavailable"
	KindInternal                    Kind = "Internal"
)

// Error is a typed error carrying a Kind and optional field-level details.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a typed error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates a typed error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps a cause with a kind and message. Returns nil if cause is nil.
func Wrap(kind Kind, msg string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// WithDetail attaches a named detail (e.g., the offending field) and
// returns the error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Validation creates a Validation error naming the offending field.
func Validation(field, msg string) *Error {
	return New(KindValidation, msg).WithDetail("field", field)
}

// NotFound creates a NotFound error for the given resource id.
func NotFound(resource, id string) *Error {
	return Newf(KindNotFound, "%s not found: %s", resource, id).WithDetail("resource", resource).WithDetail("id", id)
}

// KindOf extracts the Kind from an error chain.
// Context cancellation and deadline errors map to Cancelled and Timeout.
// Unclassified errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// DetailsOf returns the details map from a typed error, or nil.
func DetailsOf(err error) map[string]interface{} {
	var te *Error
	if errors.As(err, &te) {
		return te.Details
	}
	return nil
}
