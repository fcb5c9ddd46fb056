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
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/mcp/protocol"
	"github.com/teradata-labs/recall/pkg/mcp/transport"
)

// MethodHandler processes one JSON-RPC method call. id is nil for
// notifications.
type MethodHandler func(ctx context.Context, id json.RawMessage, params json.RawMessage) (interface{}, error)

// Server is a JSON-RPC MCP server dispatching method calls to
// registered handlers.
type Server struct {
	info         protocol.Implementation
	capabilities protocol.ServerCapabilities
	handlers     map[string]MethodHandler
	logger       *zap.Logger

	mu                 sync.RWMutex
	clientInfo         *protocol.Implementation
	clientCapabilities *protocol.ClientCapabilities
}

// Option configures a Server.
type Option func(*Server)

// WithToolProvider registers p and enables the tools capability.
func WithToolProvider(p ToolProvider) Option {
	return func(s *Server) {
		s.capabilities.Tools = &protocol.ToolsCapability{}
		s.RegisterHandler("tools/list", newToolsListHandler(p))
		s.RegisterHandler("tools/call", newToolsCallHandler(p))
	}
}

// WithResourceProvider registers p and enables the resources capability.
func WithResourceProvider(p ResourceProvider) Option {
	return func(s *Server) {
		s.capabilities.Resources = &protocol.ResourcesCapability{}
		s.RegisterHandler("resources/list", newResourcesListHandler(p))
		s.RegisterHandler("resources/read", newResourcesReadHandler(p))
	}
}

// New creates a server with the given identity and options.
func New(name, version string, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		info:     protocol.Implementation{Name: name, Version: version},
		handlers: make(map[string]MethodHandler),
		logger:   logger,
	}

	s.RegisterHandler("initialize", s.handleInitialize)
	s.RegisterHandler("notifications/initialized", s.handleNotificationsInitialized)
	s.RegisterHandler("ping", s.handlePing)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHandler registers a handler for a JSON-RPC method.
func (s *Server) RegisterHandler(method string, handler MethodHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// HandleMessage processes one JSON-RPC message and returns the response
// bytes. Notifications return nil.
func (s *Server) HandleMessage(ctx context.Context, msg []byte) ([]byte, error) {
	var req protocol.Request
	if err := json.Unmarshal(msg, &req); err != nil {
		return marshalResponse(nil, nil, protocol.NewError(protocol.ParseError, "invalid JSON", nil))
	}

	if err := protocol.ValidateRequest(&req); err != nil {
		return marshalResponse(req.ID, nil, protocol.NewError(protocol.InvalidRequest, err.Error(), nil))
	}

	s.logger.Debug("handling request",
		zap.String("method", req.Method),
		zap.String("id", req.ID.String()))
	start := time.Now()

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		if req.ID == nil {
			// Unknown notification, ignore.
			return nil, nil
		}
		return marshalResponse(req.ID, nil,
			protocol.NewError(protocol.MethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil))
	}

	var rawID json.RawMessage
	if req.ID != nil {
		idBytes, err := json.Marshal(req.ID)
		if err != nil {
			return marshalResponse(nil, nil, protocol.NewError(protocol.InternalError, "failed to marshal request ID", nil))
		}
		rawID = idBytes
	}

	result, err := handler(ctx, rawID, req.Params)
	duration := time.Since(start)

	if err != nil {
		s.logger.Warn("handler error",
			zap.String("method", req.Method),
			zap.Duration("duration", duration),
			zap.Error(err))
		if req.ID == nil {
			return nil, nil
		}
		var rpcErr *protocol.Error
		if errors.As(err, &rpcErr) {
			return marshalResponse(req.ID, nil, rpcErr)
		}
		return marshalResponse(req.ID, nil, protocol.NewError(protocol.InternalError, err.Error(), nil))
	}

	s.logger.Debug("request handled",
		zap.String("method", req.Method),
		zap.Duration("duration", duration))

	if req.ID == nil {
		return nil, nil
	}
	return marshalResponse(req.ID, result, nil)
}

// Serve runs the read loop on t until the context is cancelled or the
// peer disconnects.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	s.logger.Info("mcp server starting",
		zap.String("name", s.info.Name),
		zap.String("version", s.info.Version))

	for {
		msg, err := t.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info("mcp server stopping")
				return ctx.Err()
			}
			return fmt.Errorf("receive: %w", err)
		}

		resp, err := s.HandleMessage(ctx, msg)
		if err != nil {
			s.logger.Error("handle error", zap.Error(err))
			continue
		}
		if resp == nil {
			continue
		}
		if err := t.Send(ctx, resp); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
}

// handleInitialize processes the initialize handshake.
func (s *Server) handleInitialize(_ context.Context, _ json.RawMessage, params json.RawMessage) (interface{}, error) {
	var initParams protocol.InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, protocol.NewError(protocol.InvalidParams, fmt.Sprintf("invalid initialize params: %v", err), nil)
		}
	}

	if initParams.ProtocolVersion != "" && initParams.ProtocolVersion != protocol.ProtocolVersion {
		s.logger.Warn("client protocol version mismatch",
			zap.String("client_version", initParams.ProtocolVersion),
			zap.String("server_version", protocol.ProtocolVersion))
	}

	s.mu.Lock()
	caps := initParams.Capabilities
	s.clientCapabilities = &caps
	if initParams.ClientInfo.Name != "" {
		s.clientInfo = &initParams.ClientInfo
	}
	s.mu.Unlock()

	if initParams.ClientInfo.Name != "" {
		s.logger.Info("client connected",
			zap.String("client_name", initParams.ClientInfo.Name),
			zap.String("client_version", initParams.ClientInfo.Version))
	}

	return protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    s.capabilities,
		ServerInfo:      s.info,
	}, nil
}

func (s *Server) handleNotificationsInitialized(_ context.Context, _ json.RawMessage, _ json.RawMessage) (interface{}, error) {
	s.logger.Debug("client initialized")
	return nil, nil
}

func (s *Server) handlePing(_ context.Context, _ json.RawMessage, _ json.RawMessage) (interface{}, error) {
	return struct{}{}, nil
}

// ClientInfo returns the connected client's identity, or nil before
// initialize.
func (s *Server) ClientInfo() *protocol.Implementation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientInfo
}

// ClientCapabilities returns the connected client's capabilities, or nil
// before initialize.
func (s *Server) ClientCapabilities() *protocol.ClientCapabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientCapabilities
}

// marshalResponse builds JSON-RPC response bytes.
func marshalResponse(id *protocol.RequestID, result interface{}, rpcErr *protocol.Error) ([]byte, error) {
	resp := protocol.Response{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      id,
		Error:   rpcErr,
	}
	if result != nil {
		resultBytes, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		resp.Result = resultBytes
	}
	return json.Marshal(resp)
}
