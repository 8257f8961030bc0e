// Package testutil provides shared testing utilities for the quarry project:
// a deterministic in-process embedder and a pgvector container harness.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
)

// Embedder is a deterministic vector.Generator for tests.
//
// Unless a fixed vector is registered for the exact input text, the embedding
// is derived from a SHA-256 of the text, so equal texts always embed equally
// and tests never need network access.
type Embedder struct {
	Dim int   // vector dimension; defaults to 8
	Err error // returned by every Embed call when non-nil

	mu    sync.Mutex
	fixed map[string][]float32
	calls int
}

// Fix registers an exact vector for the given text, overriding the derived
// embedding. Useful for tests that need controlled similarity ordering.
func (e *Embedder) Fix(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fixed == nil {
		e.fixed = make(map[string][]float32)
	}
	e.fixed[text] = vec
}

// Calls reports how many times Embed has been invoked.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Embed implements vector.Generator.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	fixed, ok := e.fixed[text]
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}
	if ok {
		out := make([]float32, len(fixed))
		copy(out, fixed)
		return out, nil
	}

	dim := e.Dim
	if dim <= 0 {
		dim = 8
	}
	return deriveVector(text, dim), nil
}

// deriveVector expands a text hash into a unit vector of the wanted
// dimension.
func deriveVector(text string, dim int) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		bits := binary.BigEndian.Uint32(sum[(i*4)%28:])
		// Spread into [-1, 1), varying with the index so long vectors
		// do not repeat in cycles.
		v := float64(int32(bits+uint32(i)*2654435761)) / float64(math.MaxInt32)
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
