package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/briefmill/briefmill/checkpoint"
	"github.com/briefmill/briefmill/config"
	"github.com/briefmill/briefmill/workflow"
)

func createCmd(configPath *string) *cobra.Command {
	var (
		orderID string
		path    string
		tier    string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow for an order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			p := workflow.Path(path)
			if !p.Valid() {
				return fmt.Errorf("invalid path %q (initiating or opposition)", path)
			}
			t := config.TierFor(tier)
			wf := workflow.NewWorkflow(orderID, p, t)
			if err := a.store.Workflows.Create(cmd.Context(), wf); err != nil {
				return fmt.Errorf("create workflow: %w", err)
			}
			fmt.Printf("workflow %s created for order %s (path %s, tier %s)\n",
				wf.ID, wf.OrderID, wf.Path, wf.Tier)
			return nil
		},
	}
	cmd.Flags().StringVar(&orderID, "order", "", "Order ID (required)")
	cmd.Flags().StringVar(&path, "path", string(workflow.PathInitiating), "Filing path: initiating or opposition")
	cmd.Flags().StringVar(&tier, "tier", string(workflow.TierStandard), "Motion tier: procedural, standard, or dispositive")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}

func runCmd(configPath *string) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "Run a workflow until it blocks, waits, or completes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			startMetrics(metricsAddr)

			ctx := signalContext(cmd.Context())
			out, err := a.engine.Run(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address for the prometheus /metrics endpoint (e.g. :9090)")
	return cmd
}

func stepCmd(configPath *string) *cobra.Command {
	var phaseNumber float64
	cmd := &cobra.Command{
		Use:   "step <workflow-id>",
		Short: "Execute a single phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := signalContext(cmd.Context())
			var out any
			if cmd.Flags().Changed("phase") {
				out, err = a.engine.ExecutePhaseAt(ctx, args[0], phaseNumber)
			} else {
				out, err = a.engine.ExecutePhase(ctx, args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().Float64Var(&phaseNumber, "phase", 0, "Phase number to execute (must match the current phase)")
	return cmd
}

func processPendingCmd(configPath *string) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "process-pending",
		Short: "Run every pending and in-progress workflow once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			startMetrics(metricsAddr)

			ctx := signalContext(cmd.Context())
			outcomes, err := a.engine.ProcessPending(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("processed %d workflows\n", len(outcomes))
			return printJSON(outcomes)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address for the prometheus /metrics endpoint")
	return cmd
}

func statusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <workflow-id>",
		Short: "Show workflow status and phase history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			wf, err := a.store.Workflows.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("load workflow: %w", err)
			}
			executions, err := a.store.Phases.ListByWorkflow(ctx, wf.ID)
			if err != nil {
				return fmt.Errorf("load phase executions: %w", err)
			}
			checkpoints, err := a.store.Checkpoints.ListByWorkflow(ctx, wf.ID)
			if err != nil {
				return fmt.Errorf("load checkpoints: %w", err)
			}
			return printJSON(map[string]any{
				"workflow":    wf,
				"phases":      executions,
				"checkpoints": checkpoints,
			})
		},
	}
}

func retryCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <workflow-id>",
		Short: "Unblock a workflow and queue its current phase for re-execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.engine.RetryPhase(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("workflow %s queued for retry\n", args[0])
			return nil
		},
	}
}

func checkpointCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Checkpoint operations",
	}

	var (
		code       string
		resolution string
		note       string
	)
	resolve := &cobra.Command{
		Use:   "resolve <workflow-id>",
		Short: "Apply a resolution to a pending blocking checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			res := checkpoint.Resolution(resolution)
			if !res.Valid() {
				return fmt.Errorf("invalid resolution %q (approved, request_changes, cancelled, customer_response)", resolution)
			}
			if err := a.engine.ResolveCheckpoint(cmd.Context(), args[0], checkpoint.Code(code), res, note); err != nil {
				return err
			}
			fmt.Printf("checkpoint %s resolved: %s\n", code, resolution)
			return nil
		},
	}
	resolve.Flags().StringVar(&code, "code", "", "Checkpoint code (required)")
	resolve.Flags().StringVar(&resolution, "resolution", "", "Resolution action (required)")
	resolve.Flags().StringVar(&note, "note", "", "Resolution note")
	_ = resolve.MarkFlagRequired("code")
	_ = resolve.MarkFlagRequired("resolution")

	cmd.AddCommand(resolve)
	return cmd
}

func citationsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "citations",
		Short: "Citation ledger operations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <workflow-id>",
		Short: "List a workflow's citations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			records, err := a.store.Citations.ListByWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(records)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify <workflow-id>",
		Short: "Run staged verification over a workflow's pending citations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			records, err := a.store.Citations.ListByWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.citations.VerifyWorkflow(signalContext(cmd.Context()), args[0], ""); err != nil {
				return err
			}
			fmt.Printf("verification pass complete over %d citations\n", len(records))
			return nil
		},
	})

	var note string
	approve := &cobra.Command{
		Use:   "approve <citation-id>",
		Short: "Manually sign off a citation held pending without a verifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.citations.SignOff(cmd.Context(), args[0], note)
			if err != nil {
				return err
			}
			fmt.Printf("citation %s signed off: %s\n", rec.ID, rec.RawText)
			return nil
		},
	}
	approve.Flags().StringVar(&note, "note", "", "Attestation note recorded in the citation log")
	cmd.AddCommand(approve)
	return cmd
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// signalContext cancels on SIGINT/SIGTERM so an interrupted run leaves the
// phase execution row in a recoverable state.
func signalContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx
}
