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
package recallerr

import "errors"

// Envelope is the outer structure every tool result is wrapped in before
// being stringified into MCP content.
type Envelope struct {
	Success bool                   `json:"success"`
	Data    interface{}            `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// OK wraps a domain result in a success envelope.
func OK(data interface{}) Envelope {
	return Envelope{Success: true, Data: data}
}

// Fail translates an error into a failure envelope. Internal and
// StoreUnavailable errors are sanitized: the kind is surfaced but the
// underlying message is replaced with a generic one. Validation errors keep
// their field-level details.
func Fail(err error) Envelope {
	kind := KindOf(err)
	env := Envelope{Success: false, Error: string(kind)}

	switch kind {
	case KindInternal, KindStoreUnavailable:
		env.Message = "internal error"
	default:
		var te *Error
		if errors.As(err, &te) {
			env.Message = te.Message
			env.Details = te.Details
		} else {
			env.Message = err.Error()
		}
	}
	return env
}
