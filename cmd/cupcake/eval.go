package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/eqtylab/cupcake-go/internal/binding"
	"github.com/eqtylab/cupcake-go/internal/engine"
)

// actionDrainTimeout bounds how long eval waits for fire-and-forget
// actions to finish before exiting. A one-shot process has no other
// opportunity to let them complete: without this wait, actions
// triggered by the decision would race the process exit and frequently
// lose.
const actionDrainTimeout = 5 * time.Second

// newEvalCmd reads one hook event as JSON from stdin, evaluates it
// against projectDir's policies, and writes the harness-formatted
// response to stdout. It is the one-shot, process-per-event entry
// point hook configurations invoke directly.
func newEvalCmd(projectDir, logLevel *string) *cobra.Command {
	var harnessName string

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate one hook event (read from stdin, write to stdout)",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading event from stdin: %w", err)
			}

			logger := newLogger(*logLevel)
			ctx := context.Background()

			var opts []engine.Option
			if harnessName != "" {
				opts = append(opts, engine.WithHarness(harnessName))
			}

			surface, err := binding.New(ctx, *projectDir, logger, opts...)
			if err != nil {
				return fmt.Errorf("initializing engine: %w", err)
			}
			defer surface.Close(ctx)

			response, err := surface.Evaluate(ctx, input)
			if err != nil {
				return fmt.Errorf("evaluating event: %w", err)
			}

			fmt.Fprintln(os.Stdout, string(response))
			surface.WaitForActions(actionDrainTimeout)
			return nil
		},
	}
	cmd.Flags().StringVar(&harnessName, "harness", "", "Harness translator to use (default: rich)")
	return cmd
}
