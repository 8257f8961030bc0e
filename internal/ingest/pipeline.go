// Package ingest turns raw documents into searchable vector chunks.
//
// The pipeline chunks the content, embeds every chunk on a bounded worker
// pool, and upserts the vectors in batches. Vector IDs are deterministic
// (owner-source-index), so re-running an ingestion overwrites instead of
// duplicating and a failed run can simply be retried whole.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/quarrylabs/quarry/internal/chunk"
	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/vector"
)

// DefaultConcurrency bounds the embedding worker pool.
const DefaultConcurrency = 5

// Content length limits. Local files carry the large limit; short web
// snippets get the small one (set via WithMaxContentLength).
const (
	MaxFileContentLength    = 1_000_000
	MaxSnippetContentLength = 100_000
)

// ErrContentTooLarge indicates the document exceeds the pipeline's content
// length limit.
var ErrContentTooLarge = errors.New("content exceeds maximum length")

// Operation names the pipeline stage a progress event belongs to.
type Operation string

const (
	OpChunking  Operation = "chunking"
	OpEmbedding Operation = "embedding"
	OpIndexing  Operation = "indexing"
)

// Progress is one ingestion progress event. Within a single operation,
// ProcessedChunks never decreases.
type Progress struct {
	TotalChunks     int
	ProcessedChunks int
	Operation       Operation
}

// ProgressFunc receives progress events. It is called synchronously from
// pipeline goroutines and must be fast; nil disables reporting.
type ProgressFunc func(Progress)

// Document is the unit of ingestion.
type Document struct {
	OwnerID    string // namespace owner; isolates tenants
	SourceID   string // stable identifier of the source (path, URL hash)
	SourceName string // human-readable name used in citations
	Content    string
}

// Pipeline ingests documents into a vector store.
//
// Pipeline is safe for concurrent use; each Ingest call runs independently.
type Pipeline struct {
	splitter    *chunk.Splitter
	gen         vector.Generator
	store       vector.Store
	logger      log.Logger
	concurrency int
	maxContent  int
	limiter     *rate.Limiter
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConcurrency bounds the embedding worker pool. Values below 1 keep the
// default.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n >= 1 {
			p.concurrency = n
		}
	}
}

// WithMaxContentLength replaces the content length limit. Use
// MaxSnippetContentLength for web snippet sources.
func WithMaxContentLength(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxContent = n
		}
	}
}

// WithLimiter rate-limits embedding calls across the worker pool, keeping
// the pipeline inside provider quotas.
func WithLimiter(l *rate.Limiter) Option {
	return func(p *Pipeline) {
		p.limiter = l
	}
}

// New creates a Pipeline.
func New(splitter *chunk.Splitter, gen vector.Generator, store vector.Store, logger log.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = log.NewNop()
	}

	p := &Pipeline{
		splitter:    splitter,
		gen:         gen,
		store:       store,
		logger:      logger,
		concurrency: DefaultConcurrency,
		maxContent:  MaxFileContentLength,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// VectorID builds the deterministic ID for one chunk of a source. Equal
// inputs always map to the same ID, which is what makes ingestion
// idempotent: the store's upsert overwrites rather than duplicates.
func VectorID(ownerID, sourceID string, index int) string {
	return fmt.Sprintf("%s-%s-%d", ownerID, sourceID, index)
}

// Ingest chunks, embeds, and indexes one document. progress may be nil.
//
// Batches already upserted when a later batch fails stay committed; the
// returned error tells the caller, who can retry the whole document safely.
func (p *Pipeline) Ingest(ctx context.Context, doc Document, progress ProgressFunc) error {
	if len(doc.Content) > p.maxContent {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrContentTooLarge, len(doc.Content), p.maxContent)
	}

	emit := newEmitter(progress)
	emit.report(Progress{Operation: OpChunking})

	pieces := p.splitter.Split(doc.Content)
	if len(pieces) == 0 {
		p.logger.Debug("empty document, nothing to ingest",
			"owner_id", doc.OwnerID, "source_id", doc.SourceID)
		return nil
	}
	total := len(pieces)
	emit.report(Progress{TotalChunks: total, Operation: OpChunking})

	vectors, err := p.embedAll(ctx, pieces, total, emit)
	if err != nil {
		return err
	}

	records := p.buildRecords(doc, pieces, vectors)

	// Upsert in chunk-index order, one batch at a time. Not atomic across
	// batches: a mid-run failure leaves earlier batches committed.
	indexed := 0
	for start := 0; start < len(records); start += vector.MaxUpsertBatch {
		end := min(start+vector.MaxUpsertBatch, len(records))
		if err := p.store.Upsert(ctx, doc.OwnerID, records[start:end]); err != nil {
			return fmt.Errorf("upsert batch starting at chunk %d: %w", start, err)
		}
		indexed = end
		emit.report(Progress{TotalChunks: total, ProcessedChunks: indexed, Operation: OpIndexing})
	}

	p.logger.Info("document ingested",
		"owner_id", doc.OwnerID,
		"source_id", doc.SourceID,
		"chunks", total)
	return nil
}

// embedAll runs the bounded embedding pool. Workers complete in any order;
// each result lands in the slot of its originating chunk index, so identity
// never depends on scheduling.
func (p *Pipeline) embedAll(ctx context.Context, pieces []chunk.Piece, total int, emit *emitter) ([][]float32, error) {
	vectors := make([][]float32, len(pieces))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	var done sync.Mutex
	processed := 0

	for _, piece := range pieces {
		g.Go(func() error {
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return fmt.Errorf("rate limit wait: %w", err)
				}
			}

			vec, err := p.gen.Embed(ctx, piece.Text)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", piece.Index, err)
			}
			vectors[piece.Index] = vec

			done.Lock()
			processed++
			n := processed
			done.Unlock()
			emit.report(Progress{TotalChunks: total, ProcessedChunks: n, Operation: OpEmbedding})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (p *Pipeline) buildRecords(doc Document, pieces []chunk.Piece, vectors [][]float32) []vector.Record {
	indexedAt := time.Now().UTC().Format(time.RFC3339)

	records := make([]vector.Record, len(pieces))
	for i, piece := range pieces {
		records[i] = vector.Record{
			ID:     VectorID(doc.OwnerID, doc.SourceID, piece.Index),
			Vector: vectors[i],
			Metadata: map[string]string{
				vector.MetaOwnerID:    doc.OwnerID,
				vector.MetaSourceID:   doc.SourceID,
				vector.MetaSourceName: doc.SourceName,
				vector.MetaChunkIndex: fmt.Sprintf("%d", piece.Index),
				vector.MetaContent:    piece.Text,
				vector.MetaIndexedAt:  indexedAt,
			},
		}
	}
	return records
}

// DeleteSource removes every vector of one source for the owner. Returns
// vector.ErrNotFound when the source has no indexed chunks.
func (p *Pipeline) DeleteSource(ctx context.Context, ownerID, sourceID string) error {
	filter := map[string]string{vector.MetaSourceID: sourceID}
	count, err := p.store.Count(ctx, ownerID, filter)
	if err != nil {
		return fmt.Errorf("check source %q: %w", sourceID, err)
	}
	if count == 0 {
		return fmt.Errorf("source %q for owner %q: %w", sourceID, ownerID, vector.ErrNotFound)
	}

	if err := p.store.DeleteMany(ctx, ownerID, filter); err != nil {
		return fmt.Errorf("delete source %q: %w", sourceID, err)
	}
	p.logger.Info("source deleted", "owner_id", ownerID, "source_id", sourceID, "chunks", count)
	return nil
}

// DeleteOwner removes the owner's entire namespace. Returns
// vector.ErrNotFound when the owner has no indexed chunks.
func (p *Pipeline) DeleteOwner(ctx context.Context, ownerID string) error {
	count, err := p.store.Count(ctx, ownerID, nil)
	if err != nil {
		return fmt.Errorf("check owner %q: %w", ownerID, err)
	}
	if count == 0 {
		return fmt.Errorf("owner %q: %w", ownerID, vector.ErrNotFound)
	}

	if err := p.store.DeleteMany(ctx, ownerID, nil); err != nil {
		return fmt.Errorf("delete owner %q: %w", ownerID, err)
	}
	p.logger.Info("owner knowledge deleted", "owner_id", ownerID, "chunks", count)
	return nil
}

// emitter serializes progress reporting and keeps ProcessedChunks monotonic
// within each operation even when workers report out of order.
type emitter struct {
	mu       sync.Mutex
	fn       ProgressFunc
	lastByOp map[Operation]int
}

func newEmitter(fn ProgressFunc) *emitter {
	return &emitter{fn: fn, lastByOp: make(map[Operation]int)}
}

func (e *emitter) report(p Progress) {
	if e.fn == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if p.ProcessedChunks < e.lastByOp[p.Operation] {
		return
	}
	e.lastByOp[p.Operation] = p.ProcessedChunks
	e.fn(p)
}
