package query

import (
	"context"
	"errors"
	"testing"

	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/testutil"
	"github.com/quarrylabs/quarry/internal/vector"
)

func seedStore(t *testing.T, store *vector.MemoryStore, ownerID string, vecs map[string][]float32) {
	t.Helper()
	var records []vector.Record
	for content, vec := range vecs {
		records = append(records, vector.Record{
			ID:     vector.MetaOwnerID + ownerID + "-" + content,
			Vector: vec,
			Metadata: map[string]string{
				vector.MetaOwnerID:    ownerID,
				vector.MetaSourceName: "source-" + ownerID,
				vector.MetaContent:    content,
			},
		})
	}
	if err := store.Upsert(context.Background(), ownerID, records); err != nil {
		t.Fatal(err)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	e := New(&testutil.Embedder{Dim: 2}, vector.NewMemoryStore(2), log.NewNop())

	for _, q := range []string{"", "   ", "\n\t"} {
		if _, err := e.Search(context.Background(), "o", q); !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("Search(%q) = %v, want ErrEmptyQuery", q, err)
		}
	}
}

func TestSearchRankingAndTopK(t *testing.T) {
	store := vector.NewMemoryStore(2)
	gen := &testutil.Embedder{Dim: 2}
	gen.Fix("machine learning", []float32{1, 0})

	seedStore(t, store, "a", map[string][]float32{
		"closest":    {1, 0},
		"close":      {0.9, 0.1},
		"farther":    {0.5, 0.5},
		"orthogonal": {0, 1},
	})

	e := New(gen, store, log.NewNop())
	matches, err := e.Search(context.Background(), "a", "machine learning", WithTopK(3))
	if err != nil {
		t.Fatal(err)
	}

	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(matches))
	}
	if matches[0].Content != "closest" {
		t.Errorf("best match = %q", matches[0].Content)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Error("matches not in descending score order")
		}
	}
	if matches[0].Source != "source-a" {
		t.Errorf("source = %q", matches[0].Source)
	}
}

func TestSearchNamespaceIsolation(t *testing.T) {
	// Owner B's vectors score higher for the query, but a search as owner
	// A must never see them.
	store := vector.NewMemoryStore(2)
	gen := &testutil.Embedder{Dim: 2}
	gen.Fix("machine learning", []float32{1, 0})

	seedStore(t, store, "a", map[string][]float32{
		"a-one":   {0.5, 0.5},
		"a-two":   {0.4, 0.6},
		"a-three": {0.3, 0.7},
	})
	seedStore(t, store, "b", map[string][]float32{
		"b-exact":  {1, 0},
		"b-nearby": {0.95, 0.05},
	})

	e := New(gen, store, log.NewNop())
	matches, err := e.Search(context.Background(), "a", "machine learning", WithTopK(5))
	if err != nil {
		t.Fatal(err)
	}

	if len(matches) != 3 {
		t.Fatalf("got %d matches, want exactly owner A's 3", len(matches))
	}
	for _, m := range matches {
		if m.Content == "b-exact" || m.Content == "b-nearby" {
			t.Errorf("owner B content leaked into owner A results: %q", m.Content)
		}
	}
}

func TestSearchDropsMatchesWithoutContent(t *testing.T) {
	store := vector.NewMemoryStore(2)
	if err := store.Upsert(context.Background(), "a", []vector.Record{
		{
			ID:     "a-good",
			Vector: []float32{1, 0},
			Metadata: map[string]string{
				vector.MetaOwnerID: "a",
				vector.MetaContent: "useful text",
			},
		},
		{
			ID:     "a-broken",
			Vector: []float32{1, 0},
			// No content metadata at all.
			Metadata: map[string]string{vector.MetaOwnerID: "a"},
		},
	}); err != nil {
		t.Fatal(err)
	}

	gen := &testutil.Embedder{Dim: 2}
	gen.Fix("q", []float32{1, 0})

	e := New(gen, store, log.NewNop())
	matches, err := e.Search(context.Background(), "a", "q")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1 (broken match dropped)", len(matches))
	}
	if matches[0].Content != "useful text" {
		t.Errorf("content = %q", matches[0].Content)
	}
}

func TestSearchEmbedFailure(t *testing.T) {
	gen := &testutil.Embedder{Err: errors.New("auth failed")}
	e := New(gen, vector.NewMemoryStore(8), log.NewNop())

	if _, err := e.Search(context.Background(), "a", "q"); err == nil {
		t.Fatal("embed failure must surface")
	}
}
