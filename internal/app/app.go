// Package app wires configuration, storage, and providers into the
// ingestion pipeline, query engine, and response orchestrator.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/quarrylabs/quarry/db"
	"github.com/quarrylabs/quarry/internal/cache"
	"github.com/quarrylabs/quarry/internal/chunk"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/ingest"
	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/orchestrator"
	"github.com/quarrylabs/quarry/internal/query"
	"github.com/quarrylabs/quarry/internal/vector"
	"github.com/quarrylabs/quarry/internal/websearch"
)

// llmRequestsPerSecond paces LLM calls across all concurrent requests.
const llmRequestsPerSecond = 2

// App holds the wired components. Construct with New, release with the
// returned cleanup function.
type App struct {
	Config *config.Config
	Logger log.Logger
	Pool   *pgxpool.Pool
	Genkit *genkit.Genkit

	Store        vector.Store
	Pipeline     *ingest.Pipeline
	Engine       *query.Engine
	Cache        *cache.Cache
	Orchestrator *orchestrator.Orchestrator
}

// New builds the application: runs migrations, opens the connection pool,
// initializes Genkit, and assembles the pipeline, engine, and orchestrator.
func New(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, func(), error) {
	if cfg == nil {
		return nil, nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.NewNop()
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { pool.Close() }

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		cleanup()
		return nil, nil, fmt.Errorf("initializing genkit")
	}

	gen := vector.NewGenkitGenerator(googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel), vector.Dimension)
	store, err := vector.NewPostgresStore(pool, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("creating vector store: %w", err)
	}

	var chunkOpts []chunk.Option
	if cfg.SentenceAware {
		chunkOpts = append(chunkOpts, chunk.WithSentenceAware())
	}
	splitter, err := chunk.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap, chunkOpts...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("creating splitter: %w", err)
	}

	pipeline := ingest.New(splitter, gen, store, logger,
		ingest.WithConcurrency(cfg.IngestConcurrency),
		ingest.WithMaxContentLength(cfg.MaxContentLength),
	)
	engine := query.New(gen, store, logger)
	results := cache.New(cfg.CacheMaxEntries, time.Duration(cfg.CacheTTLMinutes)*time.Minute)

	llm, err := orchestrator.NewGenkitLLM(g, cfg.ModelName)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("creating llm provider: %w", err)
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithCache(results),
		orchestrator.WithTopK(cfg.TopK),
		orchestrator.WithMaxHistoryTurns(cfg.MaxHistoryTurns),
		orchestrator.WithRateLimiter(rate.NewLimiter(rate.Limit(llmRequestsPerSecond), 1)),
		orchestrator.WithCompleteOptions(orchestrator.CompleteOptions{
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}),
	}
	if cfg.SearchLanguage != "" {
		orchOpts = append(orchOpts, orchestrator.WithSearchSettings(map[string]string{
			"language": cfg.SearchLanguage,
		}))
	}
	if cfg.SearchEndpoint != "" {
		web, err := websearch.New(cfg.SearchEndpoint, logger, websearch.WithEnrichment(1))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("creating web search client: %w", err)
		}
		orchOpts = append(orchOpts, orchestrator.WithWebSearch(web))
	}

	orch, err := orchestrator.New(llm, engine, logger, orchOpts...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	return &App{
		Config:       cfg,
		Logger:       logger,
		Pool:         pool,
		Genkit:       g,
		Store:        store,
		Pipeline:     pipeline,
		Engine:       engine,
		Cache:        results,
		Orchestrator: orch,
	}, cleanup, nil
}

// newPool opens a PostgreSQL pool and verifies connectivity.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
