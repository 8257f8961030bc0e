package vector_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/testutil"
	"github.com/quarrylabs/quarry/internal/vector"
)

// fullVector pads a small prefix out to the store dimension so tests can
// express similarity intent in the first few components.
func fullVector(prefix ...float32) []float32 {
	vec := make([]float32, vector.Dimension)
	copy(vec, prefix)
	return vec
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store, err := vector.NewPostgresStore(db.Pool, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	records := []vector.Record{
		{
			ID:     "owner-a-doc-0",
			Vector: fullVector(1, 0),
			Metadata: map[string]string{
				vector.MetaOwnerID:  "owner-a",
				vector.MetaSourceID: "doc",
				vector.MetaContent:  "closest",
			},
		},
		{
			ID:     "owner-a-doc-1",
			Vector: fullVector(0, 1),
			Metadata: map[string]string{
				vector.MetaOwnerID:  "owner-a",
				vector.MetaSourceID: "doc",
				vector.MetaContent:  "orthogonal",
			},
		},
	}
	if err := store.Upsert(ctx, "owner-a", records); err != nil {
		t.Fatal(err)
	}

	matches, err := store.Query(ctx, "owner-a", fullVector(1, 0), 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].ID != "owner-a-doc-0" {
		t.Errorf("closest record should rank first, got %q", matches[0].ID)
	}
	if matches[0].Score < matches[1].Score {
		t.Error("matches not sorted by descending similarity")
	}
	if matches[0].Metadata[vector.MetaContent] != "closest" {
		t.Errorf("metadata round trip failed: %v", matches[0].Metadata)
	}
}

func TestPostgresStoreIdempotentUpsert(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store, err := vector.NewPostgresStore(db.Pool, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	records := make([]vector.Record, 3)
	for i := range records {
		records[i] = vector.Record{
			ID:     fmt.Sprintf("owner-a-src-%d", i),
			Vector: fullVector(float32(i)),
			Metadata: map[string]string{
				vector.MetaOwnerID:  "owner-a",
				vector.MetaSourceID: "src",
			},
		}
	}

	for range 2 {
		if err := store.Upsert(ctx, "owner-a", records); err != nil {
			t.Fatal(err)
		}
	}

	count, err := store.Count(ctx, "owner-a", map[string]string{vector.MetaSourceID: "src"})
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("double ingestion should not duplicate, got %d records", count)
	}
}

func TestPostgresStoreNamespaceIsolationAndDelete(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store, err := vector.NewPostgresStore(db.Pool, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	for _, owner := range []string{"owner-a", "owner-b"} {
		err := store.Upsert(ctx, owner, []vector.Record{{
			ID:     owner + "-0",
			Vector: fullVector(1),
			Metadata: map[string]string{
				vector.MetaOwnerID: owner,
			},
		}})
		if err != nil {
			t.Fatal(err)
		}
	}

	matches, err := store.Query(ctx, "owner-a", fullVector(1), 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range matches {
		if m.Metadata[vector.MetaOwnerID] != "owner-a" {
			t.Errorf("namespace leak: %q", m.ID)
		}
	}

	if err := store.DeleteMany(ctx, "owner-a", nil); err != nil {
		t.Fatal(err)
	}
	count, err := store.Count(ctx, "owner-a", nil)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("owner-a should be empty after delete, got %d", count)
	}
	count, err = store.Count(ctx, "owner-b", nil)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("owner-b should be untouched, got %d", count)
	}
}
