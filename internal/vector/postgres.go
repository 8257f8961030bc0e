package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// upsertChunkSQL overwrites on ID conflict so re-ingestion of the same
// source produces no duplicates.
const upsertChunkSQL = `INSERT INTO chunks (id, namespace, embedding, metadata)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO UPDATE
	SET namespace = EXCLUDED.namespace,
	    embedding = EXCLUDED.embedding,
	    metadata = EXCLUDED.metadata,
	    updated_at = now()`

// queryChunksSQL ranks by cosine distance; similarity = 1 - distance.
// The metadata filter uses the JSONB containment operator with a
// json.Marshal-produced parameter, never interpolated user input.
const queryChunksSQL = `SELECT id, 1 - (embedding <=> $1) AS similarity, metadata
	FROM chunks
	WHERE namespace = $2 AND metadata @> $3::jsonb
	ORDER BY embedding <=> $1
	LIMIT $4`

// PostgresStore is a Store backed by PostgreSQL with the pgvector extension.
// The schema lives in db/migrations.
//
// PostgresStore is safe for concurrent use by multiple goroutines.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore. The pool is managed by the
// caller; Close on the store is a no-op.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Upsert writes records in one batch round-trip.
func (s *PostgresStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if len(records) > MaxUpsertBatch {
		return fmt.Errorf("%w: %d records (max %d)", ErrBatchTooLarge, len(records), MaxUpsertBatch)
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		metadataJSON, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %q: %w", r.ID, err)
		}
		vec := pgvector.NewVector(r.Vector)
		batch.Queue(upsertChunkSQL, r.ID, namespace, vec, metadataJSON)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() {
		_ = results.Close()
	}()

	for _, r := range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("%w: upsert record %q: %w", ErrService, r.ID, err)
		}
	}

	s.logger.Debug("upserted records", "namespace", namespace, "count", len(records))
	return nil
}

// Query returns the topK closest records in the namespace, descending by
// cosine similarity.
func (s *PostgresStore) Query(ctx context.Context, namespace string, vec []float32, topK int, filter map[string]string) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	filterJSON, err := marshalFilter(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, queryChunksSQL, pgvector.NewVector(vec), namespace, filterJSON, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: query chunks: %w", ErrService, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			id           string
			similarity   float64
			metadataJSON []byte
		)
		if err := rows.Scan(&id, &similarity, &metadataJSON); err != nil {
			return nil, fmt.Errorf("%w: scan chunk row: %w", ErrService, err)
		}

		var metadata map[string]string
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			s.logger.Warn("failed to parse chunk metadata", "id", id, "error", err)
			metadata = make(map[string]string)
		}

		matches = append(matches, Match{
			ID:       id,
			Score:    float32(similarity),
			Metadata: metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read chunk rows: %w", ErrService, err)
	}
	return matches, nil
}

// DeleteMany removes all records in the namespace matching the filter.
func (s *PostgresStore) DeleteMany(ctx context.Context, namespace string, filter map[string]string) error {
	filterJSON, err := marshalFilter(filter)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chunks WHERE namespace = $1 AND metadata @> $2::jsonb`,
		namespace, filterJSON)
	if err != nil {
		return fmt.Errorf("%w: delete chunks: %w", ErrService, err)
	}

	s.logger.Debug("deleted records", "namespace", namespace, "count", tag.RowsAffected())
	return nil
}

// Count reports how many records in the namespace match the filter.
func (s *PostgresStore) Count(ctx context.Context, namespace string, filter map[string]string) (int, error) {
	filterJSON, err := marshalFilter(filter)
	if err != nil {
		return 0, err
	}

	var count int64
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE namespace = $1 AND metadata @> $2::jsonb`,
		namespace, filterJSON).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count chunks: %w", ErrService, err)
	}
	if count > math.MaxInt {
		return 0, fmt.Errorf("chunk count %d exceeds platform int capacity", count)
	}
	return int(count), nil
}

// marshalFilter serializes a metadata filter for the JSONB containment
// operator. A nil filter becomes the empty object, which matches everything.
func marshalFilter(filter map[string]string) ([]byte, error) {
	if filter == nil {
		filter = map[string]string{}
	}
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}
	return filterJSON, nil
}
