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
package search

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/recallerr"
	"github.com/teradata-labs/recall/pkg/storage"
	"github.com/teradata-labs/recall/pkg/validation"
)

// VectorHit is one nearest-neighbor match. Similarity is cosine in [0,1].
type VectorHit struct {
	ID         string
	Similarity float64
}

// VectorIndex stores fixed-dimension dense vectors and answers cosine
// nearest-neighbor queries. Implementations must be safe for concurrent
// use.
type VectorIndex interface {
	Upsert(ctx context.Context, id, kind string, vector []float32) error
	Search(ctx context.Context, vector []float32, k int, kind string) ([]VectorHit, error)
	Count(ctx context.Context) (int, error)
}

// SQLiteVectorIndex keeps vectors as little-endian float32 blobs in the
// embeddings table and scans them in process. At the single-file scale
// this store targets, a linear cosine scan stays well under query
// latency budgets and adds no external service.
type SQLiteVectorIndex struct {
	store  *storage.Store
	tracer observability.Tracer
}

// NewSQLiteVectorIndex wires the index over the shared store.
func NewSQLiteVectorIndex(store *storage.Store, tracer observability.Tracer) *SQLiteVectorIndex {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &SQLiteVectorIndex{store: store, tracer: tracer}
}

// Upsert stores or replaces a vector. Kind is "message" or "summary".
func (v *SQLiteVectorIndex) Upsert(ctx context.Context, id, kind string, vector []float32) error {
	ctx, span := v.tracer.StartSpan(ctx, "vector.upsert")
	defer v.tracer.EndSpan(span)

	if err := validation.ID("id", id); err != nil {
		return err
	}
	if err := validation.Enum("kind", kind, "message", "summary"); err != nil {
		return err
	}
	if len(vector) == 0 {
		return recallerr.Validation("vector", "vector must not be empty")
	}

	_, err := v.store.Exec(ctx, `
		INSERT INTO embeddings (id, kind, dimension, vector, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			kind = excluded.kind,
			dimension = excluded.dimension,
			vector = excluded.vector`,
		id, kind, len(vector), encodeVector(vector), time.Now().UnixMilli())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// Search returns the k nearest vectors by cosine similarity. An empty
// kind matches all kinds. Vectors of a different dimension are skipped.
func (v *SQLiteVectorIndex) Search(ctx context.Context, vector []float32, k int, kind string) ([]VectorHit, error) {
	ctx, span := v.tracer.StartSpan(ctx, "vector.search")
	defer v.tracer.EndSpan(span)

	if len(vector) == 0 {
		return nil, recallerr.Validation("vector", "vector must not be empty")
	}
	k, err := validation.Limit(k)
	if err != nil {
		return nil, err
	}

	query := "SELECT id, vector FROM embeddings WHERE dimension = ?"
	args := []interface{}{len(vector)}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}

	rows, err := v.store.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("scan embeddings: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		candidate := decodeVector(blob)
		if len(candidate) != len(vector) {
			continue
		}
		hits = append(hits, VectorHit{ID: id, Similarity: cosineSimilarity(vector, candidate)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	span.SetAttribute("results", len(hits))
	return hits, nil
}

// Count returns the number of stored vectors.
func (v *SQLiteVectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := v.store.QueryRow(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return n, nil
}

// cosineSimilarity maps cosine from [-1,1] into [0,1].
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (cos + 1) / 2
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
