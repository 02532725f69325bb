// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pdiddy/capsule-engine/internal/correlate"
	"github.com/pdiddy/capsule-engine/internal/pipeline"
	"github.com/pdiddy/capsule-engine/pkg/types"
)

// cliAddress is the bus address the CLI listens on for replies.
const cliAddress = "cli"

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Answer a question through the full pipeline",
	Long: `Ask classifies the question, researches it against stored capsules and
the web, reasons about it, and validates the reasoning with three
validators. A verified answer is stored as a new knowledge capsule.

The question travels through the router to the pipeline worker as a
message, the same way any other client would reach it. With --json the
pipeline runs in-process and the full result is printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return withEngine(cmd, func(e *engine) error {
		if jsonOutput {
			res := e.service.Run(cmd.Context(), query)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}

		reply, err := askViaRouter(cmd.Context(), e, query)
		if err != nil {
			return err
		}
		fmt.Println(reply.Text())
		return nil
	})
}

// askViaRouter starts the agents on a local bus, sends query to the router
// in a fresh session, and waits for the routed reply.
func askViaRouter(ctx context.Context, e *engine, query string) (types.Envelope, error) {
	bus := pipeline.NewLocalBus(e.logger)
	defer bus.Close()

	router := pipeline.NewRouter(bus, correlate.New(), e.logger)
	defer router.Reset()

	replies := make(chan types.Envelope, 1)
	registrations := []struct {
		addr string
		h    pipeline.HandlerFunc
	}{
		{pipeline.RouterAddress, router.Handle},
		{pipeline.PipelineAddress, pipeline.NewAgent(e.service, bus, e.logger).Handle},
		{pipeline.CapsuleAddress, pipeline.CapsuleAgent(e.handler, bus, e.logger)},
		{cliAddress, func(_ context.Context, env types.Envelope) {
			select {
			case replies <- env:
			default:
			}
		}},
	}
	for _, r := range registrations {
		if err := bus.Register(r.addr, r.h); err != nil {
			return types.Envelope{}, fmt.Errorf("registering %s: %w", r.addr, err)
		}
	}

	session := uuid.NewString()
	err := bus.Send(ctx, types.Envelope{
		ID:        uuid.NewString(),
		Sender:    cliAddress,
		Recipient: pipeline.RouterAddress,
		SessionID: session,
		Timestamp: time.Now().UTC(),
		Contents: []types.Content{
			types.StartSession{},
			types.TextContent{Text: query},
		},
	})
	if err != nil {
		return types.Envelope{}, fmt.Errorf("sending query: %w", err)
	}

	timeout := e.cfg.Pipeline.ReplyTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	select {
	case reply := <-replies:
		_ = bus.Send(ctx, types.Envelope{
			ID:        uuid.NewString(),
			Sender:    cliAddress,
			Recipient: pipeline.RouterAddress,
			SessionID: session,
			Timestamp: time.Now().UTC(),
			Contents:  []types.Content{types.EndSession{}},
		})
		return reply, nil
	case <-time.After(timeout):
		return types.Envelope{}, fmt.Errorf("no reply within %s", timeout)
	case <-ctx.Done():
		return types.Envelope{}, ctx.Err()
	}
}

func init() {
	askCmd.Flags().Bool("json", false, "run in-process and print the full pipeline result as JSON")
	rootCmd.AddCommand(askCmd)
}
