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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/recall/pkg/mcp/protocol"
)

type fakeToolProvider struct {
	tools []protocol.Tool
}

func (p *fakeToolProvider) ListTools(_ context.Context) ([]protocol.Tool, error) {
	return p.tools, nil
}

func (p *fakeToolProvider) CallTool(_ context.Context, name string, args map[string]interface{}) (*protocol.CallToolResult, error) {
	switch name {
	case "echo":
		return &protocol.CallToolResult{
			Content: protocol.TextContent(fmt.Sprintf("%v", args["text"])),
		}, nil
	case "broken":
		return &protocol.CallToolResult{
			Content: protocol.TextContent("storage unavailable"),
			IsError: true,
		}, nil
	default:
		return nil, protocol.NewError(protocol.ToolNotFound, "unknown tool: "+name, nil)
	}
}

func handle(t *testing.T, s *Server, msg string) protocol.Response {
	t.Helper()
	raw, err := s.HandleMessage(context.Background(), []byte(msg))
	require.NoError(t, err)
	require.NotNil(t, raw)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func newTestServer() *Server {
	return New("recall-mcp", "1.0.0", nil, WithToolProvider(&fakeToolProvider{
		tools: []protocol.Tool{{
			Name:        "echo",
			Description: "echoes text back",
			InputSchema: map[string]interface{}{"type": "object"},
		}},
	}))
}

func TestInitializeHandshake(t *testing.T) {
	s := newTestServer()
	resp := handle(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test-client","version":"0.1"}}}`)

	require.Nil(t, resp.Error)
	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, protocol.ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "recall-mcp", result.ServerInfo.Name)
	assert.NotNil(t, result.Capabilities.Tools)

	require.NotNil(t, s.ClientInfo())
	assert.Equal(t, "test-client", s.ClientInfo().Name)
}

func TestToolsListAndCall(t *testing.T) {
	s := newTestServer()

	list := handle(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Nil(t, list.Error)
	var tools protocol.ToolListResult
	require.NoError(t, json.Unmarshal(list.Result, &tools))
	require.Len(t, tools.Tools, 1)
	assert.Equal(t, "echo", tools.Tools[0].Name)

	call := handle(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hello"}}}`)
	require.Nil(t, call.Error)
	var result protocol.CallToolResult
	require.NoError(t, json.Unmarshal(call.Result, &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "hello", result.Content[0].Text)
	assert.False(t, result.IsError)
}

func TestToolExecutionErrorIsResult(t *testing.T) {
	s := newTestServer()
	resp := handle(t, s, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"broken"}}`)

	require.Nil(t, resp.Error)
	var result protocol.CallToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "storage unavailable")
}

func TestUnknownToolKeepsErrorCode(t *testing.T) {
	s := newTestServer()
	resp := handle(t, s, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"nope"}}`)

	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.ToolNotFound, resp.Error.Code)
}

func TestParseAndFramingErrors(t *testing.T) {
	s := newTestServer()

	bad := handle(t, s, `{not json`)
	require.NotNil(t, bad.Error)
	assert.Equal(t, protocol.ParseError, bad.Error.Code)

	wrongVersion := handle(t, s, `{"jsonrpc":"1.0","id":6,"method":"ping"}`)
	require.NotNil(t, wrongVersion.Error)
	assert.Equal(t, protocol.InvalidRequest, wrongVersion.Error.Code)

	missing := handle(t, s, `{"jsonrpc":"2.0","id":7,"method":"no/such/method"}`)
	require.NotNil(t, missing.Error)
	assert.Equal(t, protocol.MethodNotFound, missing.Error.Code)
}

func TestNotificationsProduceNoResponse(t *testing.T) {
	s := newTestServer()

	raw, err := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	assert.Nil(t, raw)

	// Unknown notification is ignored silently.
	raw, err = s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/unknown"}`))
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestPing(t *testing.T) {
	s := newTestServer()
	resp := handle(t, s, `{"jsonrpc":"2.0","id":"ping-1","method":"ping"}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, "ping-1", resp.ID.String())
}
