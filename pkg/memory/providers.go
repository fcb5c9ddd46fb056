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
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/recallerr"
	"github.com/teradata-labs/recall/pkg/storage"
	"github.com/teradata-labs/recall/pkg/validation"
)

// ProviderRepository manages llm_providers rows. The migration seeds the
// built-in providers; configure_llm_provider updates or adds rows.
type ProviderRepository struct {
	store  *storage.Store
	tracer observability.Tracer
}

// NewProviderRepository wires a repository over the shared store.
func NewProviderRepository(store *storage.Store, tracer observability.Tracer) *ProviderRepository {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &ProviderRepository{store: store, tracer: tracer}
}

func validateProvider(p *ProviderConfig) error {
	if err := validation.NonEmpty("name", p.Name, 128); err != nil {
		return err
	}
	if err := validation.Enum("kind", string(p.Kind), "local", "external"); err != nil {
		return err
	}
	if err := validation.NonEmpty("modelName", p.ModelName, 256); err != nil {
		return err
	}
	if err := validation.Positive("maxTokens", p.MaxTokens); err != nil {
		return err
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return recallerr.Validation("temperature", "temperature must be in [0, 2]")
	}
	if p.CostPer1kTokens < 0 {
		return recallerr.Validation("costPer1kTokens", "cost must be non-negative")
	}
	return nil
}

// Upsert inserts a provider or replaces the row with the same name.
func (r *ProviderRepository) Upsert(ctx context.Context, p *ProviderConfig) error {
	ctx, span := r.tracer.StartSpan(ctx, "providers.upsert")
	defer r.tracer.EndSpan(span)

	if err := validateProvider(p); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if len(p.Metadata) == 0 {
		p.Metadata = json.RawMessage("{}")
	}

	_, err := r.store.Exec(ctx, `
		INSERT INTO llm_providers
			(id, name, kind, endpoint, api_key_env, model_name, max_tokens,
			 temperature, is_active, priority, cost_per_1k_tokens, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			kind = excluded.kind,
			endpoint = excluded.endpoint,
			api_key_env = excluded.api_key_env,
			model_name = excluded.model_name,
			max_tokens = excluded.max_tokens,
			temperature = excluded.temperature,
			is_active = excluded.is_active,
			priority = excluded.priority,
			cost_per_1k_tokens = excluded.cost_per_1k_tokens,
			metadata = excluded.metadata`,
		p.ID, p.Name, string(p.Kind), nullString(p.Endpoint), nullString(p.APIKeyEnv),
		p.ModelName, p.MaxTokens, p.Temperature, boolToInt(p.IsActive),
		p.Priority, p.CostPer1kTokens, string(p.Metadata))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("upsert provider: %w", err)
	}
	return nil
}

// FindByName returns one provider by unique name.
func (r *ProviderRepository) FindByName(ctx context.Context, name string) (*ProviderConfig, error) {
	ctx, span := r.tracer.StartSpan(ctx, "providers.find_by_name")
	defer r.tracer.EndSpan(span)

	if err := validation.NonEmpty("name", name, 128); err != nil {
		return nil, err
	}
	p, err := scanProvider(r.store.QueryRow(ctx, providerSelect+" WHERE name = ?", name))
	if err == sql.ErrNoRows {
		return nil, recallerr.NotFound("provider", name)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("find provider: %w", err)
	}
	return p, nil
}

// ListActive returns active providers ordered by descending priority.
func (r *ProviderRepository) ListActive(ctx context.Context) ([]ProviderConfig, error) {
	ctx, span := r.tracer.StartSpan(ctx, "providers.list_active")
	defer r.tracer.EndSpan(span)

	rows, err := r.store.Query(ctx,
		providerSelect+" WHERE is_active = 1 ORDER BY priority DESC")
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list active providers: %w", err)
	}
	defer rows.Close()
	return collectProviders(rows)
}

// ActiveDefault returns the highest-priority active provider of a kind.
func (r *ProviderRepository) ActiveDefault(ctx context.Context, kind ProviderKind) (*ProviderConfig, error) {
	ctx, span := r.tracer.StartSpan(ctx, "providers.active_default")
	defer r.tracer.EndSpan(span)

	p, err := scanProvider(r.store.QueryRow(ctx,
		providerSelect+" WHERE is_active = 1 AND kind = ? ORDER BY priority DESC LIMIT 1",
		string(kind)))
	if err == sql.ErrNoRows {
		return nil, recallerr.NotFound("provider", string(kind))
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("active default provider: %w", err)
	}
	return p, nil
}

// Delete removes a provider row by name.
func (r *ProviderRepository) Delete(ctx context.Context, name string) error {
	ctx, span := r.tracer.StartSpan(ctx, "providers.delete")
	defer r.tracer.EndSpan(span)

	res, err := r.store.Exec(ctx, "DELETE FROM llm_providers WHERE name = ?", name)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return recallerr.NotFound("provider", name)
	}
	return nil
}

const providerSelect = `
	SELECT id, name, kind, endpoint, api_key_env, model_name, max_tokens,
	       temperature, is_active, priority, cost_per_1k_tokens, metadata
	FROM llm_providers`

func scanProvider(row rowScanner) (*ProviderConfig, error) {
	var p ProviderConfig
	var kind, metadata string
	var endpoint, apiKeyEnv sql.NullString
	var active int
	if err := row.Scan(&p.ID, &p.Name, &kind, &endpoint, &apiKeyEnv, &p.ModelName,
		&p.MaxTokens, &p.Temperature, &active, &p.Priority,
		&p.CostPer1kTokens, &metadata); err != nil {
		return nil, err
	}
	p.Kind = ProviderKind(kind)
	p.Endpoint = endpoint.String
	p.APIKeyEnv = apiKeyEnv.String
	p.IsActive = active == 1
	p.Metadata = json.RawMessage(metadata)
	return &p, nil
}

func collectProviders(rows *sql.Rows) ([]ProviderConfig, error) {
	var items []ProviderConfig
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		items = append(items, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate providers: %w", err)
	}
	return items, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
