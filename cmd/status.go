package cmd

import (
	"fmt"

	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/vector"
)

// runStatus prints indexed chunk counts for an owner, optionally narrowed to
// one source.
func runStatus(args []string, logger log.Logger) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: quarry status <owner-id> [source-id]")
	}
	ownerID := args[0]

	ctx, a, cleanup, err := setup(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var filter map[string]string
	if len(args) == 2 {
		filter = map[string]string{vector.MetaSourceID: args[1]}
	}

	count, err := a.Store.Count(ctx, ownerID, filter)
	if err != nil {
		return fmt.Errorf("counting chunks: %w", err)
	}

	if filter != nil {
		fmt.Printf("Owner %s, source %s: %d chunks indexed\n", ownerID, args[1], count)
	} else {
		fmt.Printf("Owner %s: %d chunks indexed\n", ownerID, count)
	}
	return nil
}
