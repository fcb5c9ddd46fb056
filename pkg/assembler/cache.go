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
package assembler

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teradata-labs/recall/pkg/storage"
)

// DefaultContextCacheTTL bounds how long an assembled context may be
// served before reassembly.
const DefaultContextCacheTTL = 5 * time.Minute

// ContextCache persists assembled contexts in the summary_cache table,
// keyed by a fingerprint of the request. Surviving restarts is the
// point; the in-process QueryCache is too short-lived for assembly
// results that cost multiple queries and token counts to produce.
type ContextCache struct {
	store *storage.Store
	ttl   time.Duration
}

// NewContextCache wires the cache. A zero ttl selects the default.
func NewContextCache(store *storage.Store, ttl time.Duration) *ContextCache {
	if ttl <= 0 {
		ttl = DefaultContextCacheTTL
	}
	return &ContextCache{store: store, ttl: ttl}
}

// Get returns a fresh cached context for the request, updating its
// accessed_at. Expired entries are misses.
func (c *ContextCache) Get(ctx context.Context, req Request) (*AssembledContext, bool) {
	key := fingerprint(req)
	now := time.Now()
	cutoff := now.Add(-c.ttl).UnixMilli()

	var payload string
	err := c.store.QueryRow(ctx,
		"SELECT assembled_context FROM summary_cache WHERE cache_key = ? AND created_at >= ?",
		key, cutoff).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		return nil, false
	}

	var out AssembledContext
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, false
	}
	_, _ = c.store.Exec(ctx,
		"UPDATE summary_cache SET accessed_at = ? WHERE cache_key = ?", now.UnixMilli(), key)
	return &out, true
}

// Put stores an assembled context under the request fingerprint.
func (c *ContextCache) Put(ctx context.Context, req Request, out *AssembledContext) {
	payload, err := json.Marshal(out)
	if err != nil {
		return
	}
	var summaryIDs []string
	for _, item := range out.IncludedItems {
		if item.Type == "summary" {
			summaryIDs = append(summaryIDs, item.ID)
		}
	}
	ids, err := json.Marshal(summaryIDs)
	if err != nil {
		return
	}
	now := time.Now().UnixMilli()
	_, _ = c.store.Exec(ctx, `
		INSERT INTO summary_cache (cache_key, summary_ids, assembled_context, token_count, created_at, accessed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET
			summary_ids = excluded.summary_ids,
			assembled_context = excluded.assembled_context,
			token_count = excluded.token_count,
			created_at = excluded.created_at,
			accessed_at = excluded.accessed_at`,
		fingerprint(req), string(ids), string(payload), out.TokenCount, now, now)
}

// PruneStale deletes entries not accessed since the cutoff. Wired to the
// retention cron in serve mode.
func (c *ContextCache) PruneStale(ctx context.Context, olderThanMs int64) (int64, error) {
	res, err := c.store.Exec(ctx, "DELETE FROM summary_cache WHERE accessed_at < ?", olderThanMs)
	if err != nil {
		return 0, fmt.Errorf("prune summary cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// fingerprint hashes every request field that affects the output.
func fingerprint(req Request) string {
	var sb strings.Builder
	sb.WriteString(req.Query)
	fmt.Fprintf(&sb, "|%d|%s|%.4f|%t|%s",
		req.MaxTokens, req.Strategy, req.MinRelevance, req.IncludeRecent, req.Model)
	sb.WriteString("|" + strings.Join(req.ConversationIDs, ","))
	sb.WriteString("|" + strings.Join(req.FocusEntities, ","))
	if req.TimeWindow != nil {
		fmt.Fprintf(&sb, "|%d-%d", req.TimeWindow.StartMs, req.TimeWindow.EndMs)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return "ctx:" + hex.EncodeToString(sum[:])
}
