// Package cmd provides the quarry CLI commands.
//
// Commands:
//   - ingest: chunk, embed, and index a document into the knowledge base
//   - query: search the knowledge base and print ranked matches
//   - ask: run the full response pipeline for one question
//   - delete: remove a source or an owner's entire knowledge base
//
// Each command loads configuration, wires the application, and shuts it
// down on SIGINT/SIGTERM via context cancellation.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/quarrylabs/quarry/internal/app"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/log"
)

// Execute is the main entry point for the quarry CLI.
func Execute() error {
	// Initialize logger once at entry point
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "ingest":
		return runIngest(os.Args[2:], logger)
	case "query":
		return runQuery(os.Args[2:], logger)
	case "ask":
		return runAsk(os.Args[2:], logger)
	case "delete":
		return runDelete(os.Args[2:], logger)
	case "status":
		return runStatus(os.Args[2:], logger)
	case "version", "--version", "-v":
		fmt.Println(versionString())
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// setup loads configuration and wires the application behind a
// signal-canceled context.
func setup(logger log.Logger) (context.Context, *app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a, cleanup, err := app.New(ctx, cfg, logger)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}

	return ctx, a, func() {
		cleanup()
		stop()
	}, nil
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Quarry - knowledge base ingestion and retrieval")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  quarry ingest <owner-id> <file>        Index a document")
	fmt.Println("  quarry query <owner-id> <text>         Search the knowledge base")
	fmt.Println("  quarry ask <owner-id> <question>       Ask with retrieval, web search, and citations")
	fmt.Println("  quarry ask --direct <owner-id> <q>     Ask without retrieval or web search")
	fmt.Println("  quarry delete <owner-id> [source-id]   Delete one source, or everything for an owner")
	fmt.Println("  quarry status <owner-id> [source-id]   Show indexed chunk counts")
	fmt.Println("  quarry --version                       Show version information")
	fmt.Println("  quarry --help                          Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY     Required: Gemini API key")
	fmt.Println("  DATABASE_URL       Optional: PostgreSQL URL (overrides postgres_* config)")
	fmt.Println("  DEBUG              Optional: Enable debug logging")
}
