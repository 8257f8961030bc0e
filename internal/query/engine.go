// Package query answers free-text queries against the vector store.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/vector"
)

// DefaultTopK is the number of matches returned when the caller does not ask
// for a specific count.
const DefaultTopK = 5

// DefaultTimeout bounds one search, covering both the query embedding and
// the store lookup.
const DefaultTimeout = 10 * time.Second

// ErrEmptyQuery indicates the query text is blank after trimming.
var ErrEmptyQuery = errors.New("query must not be empty")

// Match is one retrieval result.
type Match struct {
	Content string
	Source  string
	Score   float32
}

// SearchOption configures a single search.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK    int
	timeout time.Duration
}

// WithTopK sets the maximum number of results. Values below 1 keep the
// default of 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k >= 1 {
			c.topK = k
		}
	}
}

// WithTimeout overrides the per-search timeout.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Engine embeds queries and retrieves ranked matches from the store.
//
// Engine is safe for concurrent use.
type Engine struct {
	gen    vector.Generator
	store  vector.Store
	logger log.Logger
}

// New creates an Engine.
func New(gen vector.Generator, store vector.Store, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{gen: gen, store: store, logger: logger}
}

// Search returns the owner's best matches for the query, sorted by
// descending score. Results only ever come from the owner's namespace;
// matches missing required metadata are dropped.
func (e *Engine) Search(ctx context.Context, ownerID, query string, opts ...SearchOption) ([]Match, error) {
	cfg := &searchConfig{topK: DefaultTopK, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(cfg)
	}

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, ErrEmptyQuery
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	vec, err := e.gen.Embed(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	raw, err := e.store.Query(ctx, ownerID, vec, cfg.topK,
		map[string]string{vector.MetaOwnerID: ownerID})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	matches := make([]Match, 0, len(raw))
	for _, m := range raw {
		content, ok := m.Metadata[vector.MetaContent]
		if !ok || content == "" {
			e.logger.Warn("dropping match without content", "id", m.ID)
			continue
		}
		// Defense in depth: the store already filters by namespace and
		// owner metadata, but a different owner here would be a data
		// leak, so re-check instead of trusting the store.
		if m.Metadata[vector.MetaOwnerID] != ownerID {
			e.logger.Warn("dropping match from foreign owner", "id", m.ID)
			continue
		}
		matches = append(matches, Match{
			Content: content,
			Source:  m.Metadata[vector.MetaSourceName],
			Score:   m.Score,
		})
	}

	// Re-assert descending order rather than trusting the store.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	e.logger.Debug("search complete", "owner_id", ownerID, "matches", len(matches))
	return matches, nil
}
