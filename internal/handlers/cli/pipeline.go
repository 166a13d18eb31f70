package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/pisa-watch/pisa/internal/pipeline"
)

// startCommand returns a CLI command that starts the pipeline: the Block
// Processor, the Anchor State Reducer framework, the Multi-Responder, and
// the Confirmation Observer. It runs until interrupted.
//
// Usage example:
//
//	pisa start
func startCommand(svc pipeline.Service) *cli.Command {
	return &cli.Command{
		Name:        "start",
		Description: "Starts the pipeline: block ingestion, response dispatch, and confirmation tracking.",
		Usage:       "Runs the pipeline until Ctrl+C or a termination signal.",
		Action: func(ctx context.Context, c *cli.Command) error {
			quit := make(chan os.Signal, 1)
			defer close(quit)

			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			if err := svc.Start(ctx); err != nil {
				return err
			}
			defer svc.Close()

			<-quit
			return nil
		},
	}
}
