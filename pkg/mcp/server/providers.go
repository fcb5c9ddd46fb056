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

// Package server dispatches JSON-RPC method calls to registered
// handlers over an MCP transport.
package server

import (
	"context"

	"github.com/teradata-labs/recall/pkg/mcp/protocol"
)

// ToolProvider supplies tools to the server. The tool registry in
// pkg/tools implements this.
type ToolProvider interface {
	// ListTools returns all available tool definitions.
	ListTools(ctx context.Context) ([]protocol.Tool, error)

	// CallTool invokes a tool by name. Execution failures come back as
	// a result with IsError set, not as a Go error.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*protocol.CallToolResult, error)
}

// ResourceProvider supplies readable resources to the server.
type ResourceProvider interface {
	// ListResources returns all available resource descriptors.
	ListResources(ctx context.Context) ([]protocol.Resource, error)

	// ReadResource returns the contents of the resource at uri.
	ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error)
}
