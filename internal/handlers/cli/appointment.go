package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/pisa-watch/pisa/internal/appointment"
	"github.com/pisa-watch/pisa/internal/pipeline"
	"github.com/pisa-watch/pisa/internal/pkg/types"
)

// registerAppointmentCommand returns a CLI command that hands an appointment
// already accepted by the Inspector (spec.md §1: signatures, bytecode,
// dispute period, and round already validated there) to the response
// pipeline for tracking.
//
// Usage example:
//
//	pisa register --id app1 --chain-id 1 --to 0xabc... --value 0x0 \
//	  --gas-limit 21000 --start-block 100 --end-block 200 --confirmations 6
func registerAppointmentCommand(svc pipeline.Service) *cli.Command {
	return &cli.Command{
		Name:        "register",
		Description: "Registers an appointment already accepted by the Inspector for response tracking.",
		Usage:       "Begins tracking the transaction identifier for one appointment.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "appointment ID", Required: true},
			&cli.StringFlag{Name: "customer", Usage: "customer address"},
			&cli.UintFlag{Name: "chain-id", Usage: "chain ID the transaction targets", Required: true},
			&cli.StringFlag{Name: "to", Usage: "transaction destination address", Required: true},
			&cli.StringFlag{Name: "data", Usage: "transaction calldata, hex-encoded without 0x"},
			&cli.StringFlag{Name: "value", Usage: "transaction value as a 0x-prefixed hex string", Value: "0x0"},
			&cli.UintFlag{Name: "gas-limit", Usage: "transaction gas limit", Required: true},
			&cli.UintFlag{Name: "start-block", Usage: "block number the appointment starts watching at"},
			&cli.UintFlag{Name: "end-block", Usage: "block number the appointment expires at", Required: true},
			&cli.UintFlag{Name: "confirmations", Usage: "confirmations required before the appointment ends", Required: true},
			&cli.StringSliceFlag{Name: "topic", Usage: "event topic to match (repeatable)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			value, err := types.HexFromString(c.String("value"))
			if err != nil {
				return fmt.Errorf("register: parse value: %w", err)
			}

			data, err := hex.DecodeString(strings.TrimPrefix(c.String("data"), "0x"))
			if err != nil {
				return fmt.Errorf("register: parse data: %w", err)
			}

			req := appointment.Request{
				AppointmentID:   appointment.ID(c.String("id")),
				CustomerAddress: c.String("customer"),
				Identifier: appointment.TransactionIdentifier{
					ChainID:  uint64(c.Uint("chain-id")),
					To:       c.String("to"),
					Data:     data,
					Value:    value,
					GasLimit: uint64(c.Uint("gas-limit")),
				},
				StartBlock:            uint64(c.Uint("start-block")),
				EndBlock:              uint64(c.Uint("end-block")),
				ConfirmationsRequired: uint64(c.Uint("confirmations")),
				EventTopics:           c.StringSlice("topic"),
			}

			return svc.RegisterAppointment(req)
		},
	}
}

// cancelAppointmentCommand returns a CLI command that stops tracking an
// appointment.
//
// Usage example:
//
//	pisa cancel --id app1
func cancelAppointmentCommand(svc pipeline.Service) *cli.Command {
	return &cli.Command{
		Name:        "cancel",
		Description: "Stops tracking an appointment.",
		Usage:       "Removes an appointment from the response pipeline.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "appointment ID", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return svc.CancelAppointment(appointment.ID(c.String("id")))
		},
	}
}
