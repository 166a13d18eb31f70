// Package cli implements the operator surface spec.md §6 leaves out of
// scope for the core itself: "start(config)`, `stop()`, and health probes
// (current head, queue depth, mined-nonce, last-broadcast-error)", plus
// appointment admin.
//
// Grounded on the teacher's internal/handlers/cli: a Run(ctx, ...services)
// function building a urfave/cli/v3 app, one small constructor function per
// subcommand.
package cli

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/pisa-watch/pisa/internal/pipeline"
)

// Run initializes and executes the pisa CLI application.
//
// It registers all available commands:
//
//   - `start`: runs the pipeline until interrupted.
//   - `health`: prints the current health probe once and exits.
//   - `register`: registers an appointment for the response pipeline.
//   - `cancel`: stops tracking an appointment.
func Run(ctx context.Context, svc pipeline.Service) error {
	app := &cli.Command{
		EnableShellCompletion: true,
		Name:                  "pisa",
		Description:           "Command-line interface for running and operating the pisa watch tower.",
		Usage:                 "pisa [command] [flags]",
		Commands: []*cli.Command{
			startCommand(svc),
			healthCommand(svc),
			registerAppointmentCommand(svc),
			cancelAppointmentCommand(svc),
		},
	}

	return app.Run(ctx, os.Args)
}
