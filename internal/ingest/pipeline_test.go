package ingest

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/quarrylabs/quarry/internal/chunk"
	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/testutil"
	"github.com/quarrylabs/quarry/internal/vector"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestPipeline(t *testing.T, store vector.Store, opts ...Option) *Pipeline {
	t.Helper()
	splitter, err := chunk.NewSplitter(50, 10)
	if err != nil {
		t.Fatal(err)
	}
	return New(splitter, &testutil.Embedder{}, store, log.NewNop(), opts...)
}

func TestIngestIdempotent(t *testing.T) {
	ctx := context.Background()
	store := vector.NewMemoryStore(8)
	p := newTestPipeline(t, store)

	doc := Document{
		OwnerID:    "owner-a",
		SourceID:   "notes",
		SourceName: "notes.md",
		Content:    strings.Repeat("the quick brown fox jumps over the lazy dog. ", 10),
	}

	for range 2 {
		if err := p.Ingest(ctx, doc, nil); err != nil {
			t.Fatal(err)
		}
	}

	splitter, _ := chunk.NewSplitter(50, 10)
	wantChunks := len(splitter.Split(doc.Content))

	count, err := store.Count(ctx, "owner-a", map[string]string{vector.MetaSourceID: "notes"})
	if err != nil {
		t.Fatal(err)
	}
	if count != wantChunks {
		t.Errorf("double ingestion produced %d records, want %d", count, wantChunks)
	}
}

func TestIngestChunkIdentity(t *testing.T) {
	// Whatever order workers finish in, each stored record must carry the
	// content of its own chunk index.
	ctx := context.Background()
	store := vector.NewMemoryStore(8)
	p := newTestPipeline(t, store, WithConcurrency(4))

	doc := Document{
		OwnerID:  "owner-a",
		SourceID: "doc",
		Content:  makeDistinctText(600),
	}
	if err := p.Ingest(ctx, doc, nil); err != nil {
		t.Fatal(err)
	}

	splitter, _ := chunk.NewSplitter(50, 10)
	pieces := splitter.Split(doc.Content)

	for _, piece := range pieces {
		id := VectorID("owner-a", "doc", piece.Index)
		matches, err := store.Query(ctx, "owner-a", mustEmbed(t, piece.Text), 1,
			map[string]string{vector.MetaChunkIndex: strconv.Itoa(piece.Index)})
		if err != nil {
			t.Fatal(err)
		}
		if len(matches) != 1 {
			t.Fatalf("chunk %d: got %d matches", piece.Index, len(matches))
		}
		if matches[0].ID != id {
			t.Errorf("chunk %d stored under %q, want %q", piece.Index, matches[0].ID, id)
		}
		if matches[0].Metadata[vector.MetaContent] != piece.Text {
			t.Errorf("chunk %d content mismatch", piece.Index)
		}
	}
}

func TestIngestContentTooLarge(t *testing.T) {
	store := vector.NewMemoryStore(8)
	p := newTestPipeline(t, store, WithMaxContentLength(100))

	err := p.Ingest(context.Background(), Document{
		OwnerID:  "o",
		SourceID: "s",
		Content:  strings.Repeat("x", 101),
	}, nil)
	if !errors.Is(err, ErrContentTooLarge) {
		t.Fatalf("got %v, want ErrContentTooLarge", err)
	}

	count, _ := store.Count(context.Background(), "o", nil)
	if count != 0 {
		t.Errorf("no records should be written, got %d", count)
	}
}

func TestIngestEmptyContent(t *testing.T) {
	store := vector.NewMemoryStore(8)
	p := newTestPipeline(t, store)

	var events []Progress
	err := p.Ingest(context.Background(), Document{OwnerID: "o", SourceID: "s"}, func(pr Progress) {
		events = append(events, pr)
	})
	if err != nil {
		t.Fatal(err)
	}

	count, _ := store.Count(context.Background(), "o", nil)
	if count != 0 {
		t.Errorf("empty content must not upsert, got %d records", count)
	}
	for _, e := range events {
		if e.Operation != OpChunking {
			t.Errorf("unexpected %s event for empty content", e.Operation)
		}
	}
}

func TestIngestProgress(t *testing.T) {
	store := vector.NewMemoryStore(8)
	p := newTestPipeline(t, store, WithConcurrency(4))

	var mu sync.Mutex
	var events []Progress
	err := p.Ingest(context.Background(), Document{
		OwnerID:  "o",
		SourceID: "s",
		Content:  makeDistinctText(500),
	}, func(pr Progress) {
		mu.Lock()
		events = append(events, pr)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(events) == 0 {
		t.Fatal("expected progress events")
	}
	if events[0].Operation != OpChunking {
		t.Errorf("first event should be chunking, got %s", events[0].Operation)
	}

	lastByOp := make(map[Operation]int)
	seenOps := make(map[Operation]bool)
	total := 0
	for _, e := range events {
		if e.ProcessedChunks < lastByOp[e.Operation] {
			t.Errorf("%s progress regressed: %d after %d", e.Operation, e.ProcessedChunks, lastByOp[e.Operation])
		}
		lastByOp[e.Operation] = e.ProcessedChunks
		seenOps[e.Operation] = true
		if e.TotalChunks > 0 {
			if total == 0 {
				total = e.TotalChunks
			} else if e.TotalChunks != total {
				t.Errorf("total chunks changed mid-run: %d then %d", total, e.TotalChunks)
			}
		}
	}
	for _, op := range []Operation{OpChunking, OpEmbedding, OpIndexing} {
		if !seenOps[op] {
			t.Errorf("no %s events reported", op)
		}
	}
	if lastByOp[OpEmbedding] != total || lastByOp[OpIndexing] != total {
		t.Errorf("final progress should reach total %d, got embed=%d index=%d",
			total, lastByOp[OpEmbedding], lastByOp[OpIndexing])
	}
}

func TestIngestPartialBatchFailure(t *testing.T) {
	ctx := context.Background()
	inner := vector.NewMemoryStore(8)
	store := &failingStore{Store: inner, failAfter: 1}

	// Zero overlap keeps the chunk arithmetic simple: 1050 bytes at size
	// 10 is 105 chunks, which spans two upsert batches.
	splitter, err := chunk.NewSplitter(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	p := New(splitter, &testutil.Embedder{}, store, log.NewNop())

	err = p.Ingest(ctx, Document{
		OwnerID:  "o",
		SourceID: "s",
		Content:  makeDistinctText(1050),
	}, nil)
	if err == nil {
		t.Fatal("expected second batch to fail")
	}

	// First batch stays committed.
	count, _ := inner.Count(ctx, "o", nil)
	if count != vector.MaxUpsertBatch {
		t.Errorf("got %d committed records, want %d", count, vector.MaxUpsertBatch)
	}

	// A retry of the whole document converges on the full set without
	// duplicates.
	store.failAfter = -1
	if err := p.Ingest(ctx, Document{
		OwnerID:  "o",
		SourceID: "s",
		Content:  makeDistinctText(1050),
	}, nil); err != nil {
		t.Fatal(err)
	}
	count, _ = inner.Count(ctx, "o", nil)
	if count != 105 {
		t.Errorf("retry should converge to 105 records, got %d", count)
	}
}

func TestIngestEmbedFailurePropagates(t *testing.T) {
	store := vector.NewMemoryStore(8)
	splitter, err := chunk.NewSplitter(50, 10)
	if err != nil {
		t.Fatal(err)
	}
	gen := &testutil.Embedder{Err: errors.New("provider unavailable")}
	p := New(splitter, gen, store, log.NewNop())

	err = p.Ingest(context.Background(), Document{
		OwnerID:  "o",
		SourceID: "s",
		Content:  makeDistinctText(200),
	}, nil)
	if err == nil {
		t.Fatal("embedding failure must surface to the caller")
	}

	count, _ := store.Count(context.Background(), "o", nil)
	if count != 0 {
		t.Errorf("no records should be written after embed failure, got %d", count)
	}
}

func TestIngestCancellation(t *testing.T) {
	store := vector.NewMemoryStore(8)
	splitter, err := chunk.NewSplitter(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	gen := &slowEmbedder{delay: 50 * time.Millisecond}
	p := New(splitter, gen, store, log.NewNop(), WithConcurrency(2))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = p.Ingest(ctx, Document{
		OwnerID:  "o",
		SourceID: "s",
		Content:  makeDistinctText(500),
	}, nil)
	if err == nil {
		t.Fatal("cancellation should abort ingestion")
	}
}

func TestDeleteSourceAndOwner(t *testing.T) {
	ctx := context.Background()
	store := vector.NewMemoryStore(8)
	p := newTestPipeline(t, store)

	for _, src := range []string{"s1", "s2"} {
		if err := p.Ingest(ctx, Document{
			OwnerID:  "o",
			SourceID: src,
			Content:  makeDistinctText(120),
		}, nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := p.DeleteSource(ctx, "o", "s1"); err != nil {
		t.Fatal(err)
	}
	count, _ := store.Count(ctx, "o", map[string]string{vector.MetaSourceID: "s1"})
	if count != 0 {
		t.Errorf("s1 should be gone, got %d", count)
	}
	count, _ = store.Count(ctx, "o", map[string]string{vector.MetaSourceID: "s2"})
	if count == 0 {
		t.Error("s2 should survive DeleteSource(s1)")
	}

	if err := p.DeleteOwner(ctx, "o"); err != nil {
		t.Fatal(err)
	}
	count, _ = store.Count(ctx, "o", nil)
	if count != 0 {
		t.Errorf("owner namespace should be empty, got %d", count)
	}
}

func TestDeleteMissing(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, vector.NewMemoryStore(8))

	if err := p.DeleteSource(ctx, "o", "nope"); !errors.Is(err, vector.ErrNotFound) {
		t.Errorf("DeleteSource of missing source = %v, want ErrNotFound", err)
	}
	if err := p.DeleteOwner(ctx, "nobody"); !errors.Is(err, vector.ErrNotFound) {
		t.Errorf("DeleteOwner of missing owner = %v, want ErrNotFound", err)
	}
}

// failingStore delegates to the wrapped store, failing every Upsert after
// the first failAfter calls. failAfter < 0 disables failures.
type failingStore struct {
	vector.Store
	mu        sync.Mutex
	calls     int
	failAfter int
}

func (f *failingStore) Upsert(ctx context.Context, namespace string, records []vector.Record) error {
	f.mu.Lock()
	f.calls++
	fail := f.failAfter >= 0 && f.calls > f.failAfter
	f.mu.Unlock()

	if fail {
		return errors.New("store unavailable")
	}
	return f.Store.Upsert(ctx, namespace, records)
}

// slowEmbedder blocks for delay or until the context is canceled.
type slowEmbedder struct {
	delay time.Duration
}

func (s *slowEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return (&testutil.Embedder{}).Embed(ctx, text)
}

func mustEmbed(t *testing.T, text string) []float32 {
	t.Helper()
	vec, err := (&testutil.Embedder{}).Embed(context.Background(), text)
	if err != nil {
		t.Fatal(err)
	}
	return vec
}

func makeDistinctText(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; b.Len() < n; i++ {
		b.WriteByte(byte('a' + i%23))
		if i%29 == 28 {
			b.WriteByte(' ')
		}
	}
	return b.String()[:n]
}

