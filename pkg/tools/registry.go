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

// Package tools holds the MCP tool surface: a registry that validates
// inputs against compiled JSON schemas, executes tools with per-tool
// statistics, and wraps results in the success/failure envelope.
package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sahilm/fuzzy"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/mcp/protocol"
	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/recallerr"
	"github.com/teradata-labs/recall/pkg/storage"
)

// DefaultToolTimeout bounds one tool execution when the registry is not
// configured otherwise.
const DefaultToolTimeout = 30 * time.Second

// Tool is one callable operation.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Run         func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Stats are the per-tool execution counters.
type Stats struct {
	Calls       int64 `json:"calls"`
	Errors      int64 `json:"errors"`
	TotalTimeMs int64 `json:"totalTimeMs"`
}

type registered struct {
	tool   Tool
	schema *gojsonschema.Schema

	calls       atomic.Int64
	errors      atomic.Int64
	totalTimeMs atomic.Int64
}

// Registry is the name-to-tool map behind tools/list and tools/call.
// It implements server.ToolProvider.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*registered
	order   []string
	store   *storage.Store
	pool    *storage.ConnectionPool
	timeout time.Duration
	logger  *zap.Logger
	tracer  observability.Tracer
}

// NewRegistry builds an empty registry. store may be nil; HealthCheck
// then skips the database ping.
func NewRegistry(store *storage.Store, timeout time.Duration, logger *zap.Logger, tracer observability.Tracer) *Registry {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Registry{
		tools:   make(map[string]*registered),
		store:   store,
		timeout: timeout,
		logger:  logger,
		tracer:  tracer,
	}
}

// UsePool routes tool executions through pool: each call holds a pooled
// connection for its duration, so concurrent tool load is bounded by the
// pool's MaxConnections and overload surfaces as acquire timeouts instead
// of unbounded database contention.
func (r *Registry) UsePool(pool *storage.ConnectionPool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pool = pool
}

// Register compiles the tool's input schema and adds it to the map.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return recallerr.Validation("name", "tool name must not be empty")
	}
	if t.Run == nil {
		return recallerr.Validation("run", "tool must have a run function")
	}
	schema, err := protocol.CompileSchema(t.InputSchema)
	if err != nil {
		return recallerr.Wrap(recallerr.KindValidation, "compile tool schema", err).
			WithDetail("tool", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return recallerr.Newf(recallerr.KindConflict, "tool already registered: %s", t.Name)
	}
	r.tools[t.Name] = &registered{tool: t, schema: schema}
	r.order = append(r.order, t.Name)
	return nil
}

// MustRegister registers all tools, panicking on a wiring mistake.
// Registration runs once at startup with static definitions.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// ListTools returns tool definitions in registration order.
func (r *Registry) ListTools(_ context.Context) ([]protocol.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.Tool, 0, len(r.order))
	for _, name := range r.order {
		reg := r.tools[name]
		out = append(out, protocol.Tool{
			Name:        reg.tool.Name,
			Description: reg.tool.Description,
			InputSchema: reg.tool.InputSchema,
		})
	}
	return out, nil
}

// CallTool executes one tool and wraps the outcome in the envelope. An
// unknown name is a dispatch error carrying a "did you mean" suggestion;
// everything past dispatch comes back as a result, with IsError set on
// failure.
func (r *Registry) CallTool(ctx context.Context, name string, args map[string]interface{}) (*protocol.CallToolResult, error) {
	ctx, span := r.tracer.StartSpan(ctx, "tools.call",
		observability.WithAttribute("tool", name))
	defer r.tracer.EndSpan(span)

	r.mu.RLock()
	reg, ok := r.tools[name]
	names := r.order
	r.mu.RUnlock()

	if !ok {
		var data map[string]string
		if matches := fuzzy.Find(name, names); len(matches) > 0 {
			data = map[string]string{"suggestion": matches[0].Str}
		}
		return nil, protocol.NewError(protocol.ToolNotFound, "unknown tool: "+name, data)
	}

	start := time.Now()
	reg.calls.Add(1)

	env := r.execute(ctx, reg, args)

	elapsed := time.Since(start)
	reg.totalTimeMs.Add(elapsed.Milliseconds())
	if !env.Success {
		reg.errors.Add(1)
		r.logger.Warn("tool execution failed",
			zap.String("tool", name),
			zap.String("error", env.Error),
			zap.String("message", env.Message),
			zap.Duration("duration", elapsed))
	} else {
		r.logger.Debug("tool executed",
			zap.String("tool", name),
			zap.Duration("duration", elapsed))
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, protocol.NewError(protocol.ToolExecution, "marshal tool result", nil)
	}
	return &protocol.CallToolResult{
		Content: protocol.TextContent(string(body)),
		IsError: !env.Success,
	}, nil
}

func (r *Registry) execute(ctx context.Context, reg *registered, args map[string]interface{}) recallerr.Envelope {
	if err := protocol.ValidateArguments(reg.schema, args); err != nil {
		return recallerr.Fail(recallerr.Wrap(recallerr.KindValidation, "invalid tool input", err).
			WithDetail("tool", reg.tool.Name))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.mu.RLock()
	pool := r.pool
	r.mu.RUnlock()

	var data interface{}
	var err error
	if pool != nil {
		if perr := pool.WithConnection(ctx, func(_ *sql.Conn) error {
			data, err = reg.tool.Run(ctx, args)
			return nil
		}); perr != nil {
			err = perr
		}
	} else {
		data, err = reg.tool.Run(ctx, args)
	}
	if err != nil {
		if ctx.Err() != nil && recallerr.KindOf(err) == recallerr.KindInternal {
			err = recallerr.Wrap(recallerr.KindTimeout, "tool timed out", ctx.Err())
		}
		return recallerr.Fail(err)
	}
	return recallerr.OK(data)
}

// ToolHealth is one tool's health entry.
type ToolHealth struct {
	OK    bool  `json:"ok"`
	Stats Stats `json:"stats"`
}

// Health is the aggregate health report.
type Health struct {
	Healthy bool                  `json:"healthy"`
	Store   bool                  `json:"store"`
	Tools   map[string]ToolHealth `json:"tools"`
}

// HealthCheck pings the store and reports per-tool counters. A tool is
// unhealthy when every recorded call failed.
func (r *Registry) HealthCheck(ctx context.Context) Health {
	h := Health{Healthy: true, Store: true, Tools: make(map[string]ToolHealth)}

	if r.store != nil {
		var one int
		if err := r.store.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
			h.Store = false
			h.Healthy = false
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		reg := r.tools[name]
		s := Stats{
			Calls:       reg.calls.Load(),
			Errors:      reg.errors.Load(),
			TotalTimeMs: reg.totalTimeMs.Load(),
		}
		ok := s.Calls == 0 || s.Errors < s.Calls
		if !ok {
			h.Healthy = false
		}
		h.Tools[name] = ToolHealth{OK: ok, Stats: s}
	}
	return h
}

// StatsFor returns a copy of one tool's counters.
func (r *Registry) StatsFor(name string) (Stats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return Stats{}, false
	}
	return Stats{
		Calls:       reg.calls.Load(),
		Errors:      reg.errors.Load(),
		TotalTimeMs: reg.totalTimeMs.Load(),
	}, true
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	sort.Strings(out)
	return out
}
