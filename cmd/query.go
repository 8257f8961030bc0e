package cmd

import (
	"fmt"
	"strings"

	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/orchestrator"
)

// runQuery searches the knowledge base and prints ranked matches.
func runQuery(args []string, logger log.Logger) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: quarry query <owner-id> <text>")
	}
	ownerID := args[0]
	text := strings.Join(args[1:], " ")

	ctx, a, cleanup, err := setup(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	matches, err := a.Engine.Search(ctx, ownerID, text)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}

	if len(matches) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for i, m := range matches {
		fmt.Printf("%d. [%.3f] %s\n", i+1, m.Score, m.Source)
		fmt.Printf("   %s\n", firstLine(m.Content))
	}
	return nil
}

// runAsk runs the full response pipeline for one question.
func runAsk(args []string, logger log.Logger) error {
	direct := false
	if len(args) > 0 && args[0] == "--direct" {
		direct = true
		args = args[1:]
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: quarry ask [--direct] <owner-id> <question>")
	}
	ownerID := args[0]
	question := strings.Join(args[1:], " ")

	ctx, a, cleanup, err := setup(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := a.Orchestrator.Respond(ctx, orchestrator.Request{
		OwnerID:    ownerID,
		Query:      question,
		DirectChat: direct,
	})
	if err != nil {
		return fmt.Errorf("answering: %w", err)
	}

	fmt.Println(resp.Answer)
	if len(resp.Citations) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for i, c := range resp.Citations {
			label := c.Source
			if c.Title != "" {
				label = fmt.Sprintf("%s (%s)", c.Title, c.Source)
			}
			fmt.Printf("  [%d] %s\n", i+1, label)
		}
	}
	return nil
}

// firstLine returns the first line of s, truncated for display.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const limit = 120
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
