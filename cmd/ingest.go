package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/quarrylabs/quarry/internal/ingest"
	"github.com/quarrylabs/quarry/internal/log"
)

// runIngest indexes one file into the owner's knowledge base.
func runIngest(args []string, logger log.Logger) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: quarry ingest <owner-id> <file>")
	}
	ownerID, path := args[0], args[1]

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	ctx, a, cleanup, err := setup(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	doc := ingest.Document{
		OwnerID:    ownerID,
		SourceID:   path,
		SourceName: filepath.Base(path),
		Content:    string(content),
	}

	err = a.Pipeline.Ingest(ctx, doc, func(p ingest.Progress) {
		if p.TotalChunks > 0 {
			fmt.Printf("\r%s: %d/%d chunks", p.Operation, p.ProcessedChunks, p.TotalChunks)
		} else {
			fmt.Printf("\r%s...", p.Operation)
		}
	})
	fmt.Println()
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", path, err)
	}

	fmt.Printf("Indexed %s for owner %s\n", doc.SourceName, ownerID)
	return nil
}

// runDelete removes one source, or the owner's entire knowledge base when no
// source is given.
func runDelete(args []string, logger log.Logger) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: quarry delete <owner-id> [source-id]")
	}
	ownerID := args[0]

	ctx, a, cleanup, err := setup(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if len(args) == 2 {
		if err := a.Pipeline.DeleteSource(ctx, ownerID, args[1]); err != nil {
			return err
		}
		fmt.Printf("Deleted source %s for owner %s\n", args[1], ownerID)
		return nil
	}

	if err := a.Pipeline.DeleteOwner(ctx, ownerID); err != nil {
		return err
	}
	fmt.Printf("Deleted all knowledge for owner %s\n", ownerID)
	return nil
}
