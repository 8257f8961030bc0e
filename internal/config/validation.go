package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate performs range checks on every tunable. It returns the first
// violation wrapped around its sentinel error.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (must be between 0 and 2)", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens < 1 || c.MaxTokens > 1_000_000 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxTokens, c.MaxTokens)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}

	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidChunkSize, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d with size %d", ErrInvalidChunkOverlap, c.ChunkOverlap, c.ChunkSize)
	}

	if c.IngestConcurrency < 1 || c.IngestConcurrency > 100 {
		return fmt.Errorf("%w: %d (must be between 1 and 100)", ErrInvalidConcurrency, c.IngestConcurrency)
	}
	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("%w: %d (must be between 1 and 100)", ErrInvalidTopK, c.TopK)
	}

	if c.CacheMaxEntries < 1 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidCacheEntries, c.CacheMaxEntries)
	}
	if c.CacheTTLMinutes < 1 {
		return fmt.Errorf("%w: %d minutes (must be positive)", ErrInvalidCacheTTL, c.CacheTTLMinutes)
	}

	if c.MaxHistoryTurns < 1 || c.MaxHistoryTurns > MaxAllowedHistoryTurns {
		return fmt.Errorf("%w: %d (must be between 1 and %d)", ErrInvalidHistoryTurns, c.MaxHistoryTurns, MaxAllowedHistoryTurns)
	}

	if c.SearchEndpoint != "" {
		if _, err := url.ParseRequestURI(c.SearchEndpoint); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidSearchEndpoint, c.SearchEndpoint)
		}
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}

	return nil
}
