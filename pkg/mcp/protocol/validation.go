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

package protocol

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// CompileSchema compiles a tool input schema once so per-call validation
// skips the parse step. A nil or empty schema compiles to nil.
func CompileSchema(inputSchema map[string]interface{}) (*gojsonschema.Schema, error) {
	if len(inputSchema) == 0 {
		return nil, nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(inputSchema))
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	return schema, nil
}

// ValidateArguments checks tool arguments against a compiled schema. A
// nil schema accepts anything.
func ValidateArguments(schema *gojsonschema.Schema, arguments map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(arguments))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			msgs[i] = e.String()
		}
		return fmt.Errorf("invalid arguments: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// ValidateRequest checks JSON-RPC request framing.
func ValidateRequest(req *Request) error {
	if req.JSONRPC != JSONRPCVersion {
		return fmt.Errorf("invalid jsonrpc version: %s (expected %s)", req.JSONRPC, JSONRPCVersion)
	}
	if req.Method == "" {
		return fmt.Errorf("method is required")
	}
	return nil
}

// ValidateResponse checks JSON-RPC response framing.
func ValidateResponse(resp *Response) error {
	if resp.JSONRPC != JSONRPCVersion {
		return fmt.Errorf("invalid jsonrpc version: %s (expected %s)", resp.JSONRPC, JSONRPCVersion)
	}
	if resp.ID == nil {
		return fmt.Errorf("response ID is required")
	}
	hasResult := len(resp.Result) > 0
	hasError := resp.Error != nil
	if hasResult == hasError {
		return fmt.Errorf("response must have exactly one of result or error")
	}
	return nil
}
