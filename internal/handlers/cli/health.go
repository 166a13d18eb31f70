package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/pisa-watch/pisa/internal/pipeline"
)

// healthCommand returns a CLI command that prints the operator health probe
// (current head, queue depth, mined-nonce, last-broadcast-error — spec.md
// §6) as JSON to stdout and exits.
//
// Usage example:
//
//	pisa health
func healthCommand(svc pipeline.Service) *cli.Command {
	return &cli.Command{
		Name:        "health",
		Description: "Prints the current head, queue depth, mined-nonce, and last-broadcast-error.",
		Usage:       "Reports pipeline health once and exits.",
		Action: func(ctx context.Context, c *cli.Command) error {
			h, err := svc.Health(ctx)
			if err != nil {
				return fmt.Errorf("health: %w", err)
			}

			raw, err := json.MarshalIndent(h, "", "  ")
			if err != nil {
				return fmt.Errorf("health: encode: %w", err)
			}

			fmt.Println(string(raw))
			return nil
		},
	}
}
