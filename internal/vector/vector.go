// Package vector defines the embedding and vector storage contracts used by
// ingestion and retrieval, plus the concrete stores shipped with quarry.
//
// Two Store implementations exist: an in-memory brute-force store for tests
// and small deployments, and a PostgreSQL/pgvector store for production.
// Both isolate records by namespace; a query can never observe another
// namespace's vectors.
package vector

import (
	"context"
	"errors"
)

// Dimension is the embedding dimension stored in the vectors table.
// gemini-embedding-001 is truncated to this via OutputDimensionality.
const Dimension = 768

// MaxUpsertBatch is the largest record slice a single Upsert call accepts.
// Callers with more records must split them into batches.
const MaxUpsertBatch = 100

// Metadata keys written by the ingestion pipeline and required by retrieval.
const (
	MetaOwnerID    = "owner_id"
	MetaSourceID   = "source_id"
	MetaSourceName = "source_name"
	MetaChunkIndex = "chunk_index"
	MetaContent    = "content"
	MetaIndexedAt  = "indexed_at"
)

// Sentinel errors for provider and store failures, checked with errors.Is.
var (
	// ErrService wraps any external provider failure: auth, quota,
	// network, timeout. Callers treat all of these uniformly.
	ErrService = errors.New("vector service error")

	// ErrBatchTooLarge indicates an Upsert call exceeded MaxUpsertBatch.
	ErrBatchTooLarge = errors.New("upsert batch exceeds limit")

	// ErrNotFound indicates the requested namespace or record is absent.
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch indicates a vector's length differs from the
	// store's configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Record is a stored vector with its identifying metadata.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Match is one query result. Score is cosine similarity, roughly in [0, 1],
// and results are ordered by descending score.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]string
}

// Generator turns text into a fixed-dimension embedding vector. It is
// stateless per call; concurrency limiting and retries are the caller's
// responsibility.
type Generator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store persists embedding vectors partitioned by namespace.
//
// Implementations must keep namespaces fully isolated and return query
// matches sorted by descending score. Upsert overwrites records that share
// an ID, which makes re-ingestion idempotent.
type Store interface {
	// Upsert writes up to MaxUpsertBatch records into the namespace.
	Upsert(ctx context.Context, namespace string, records []Record) error

	// Query returns the topK records closest to vec, restricted to
	// records whose metadata contains every filter entry.
	Query(ctx context.Context, namespace string, vec []float32, topK int, filter map[string]string) ([]Match, error)

	// DeleteMany removes every record in the namespace whose metadata
	// contains all filter entries. An empty filter removes the whole
	// namespace.
	DeleteMany(ctx context.Context, namespace string, filter map[string]string) error

	// Count reports how many records in the namespace match the filter.
	Count(ctx context.Context, namespace string, filter map[string]string) (int, error)
}

// matchesFilter reports whether metadata contains every filter entry.
func matchesFilter(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}
