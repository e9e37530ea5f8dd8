// Package ops exposes the worker's triggers as one-shot commands for operators.
package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/dappbot-ops/apps/cli/cmd/cmdutil"
	"github.com/zenGate-Global/dappbot-ops/domains/billing/be/directory"
	"github.com/zenGate-Global/dappbot-ops/platform/go/setups"
)

// Commands returns the trigger commands.
func Commands() []*cobra.Command {
	return []*cobra.Command{
		reconcileCommand(),
		gcCommand(),
		cleanupCommand(),
		paymentStatusCommand(),
		jobCommand(),
		messageCommand(),
	}
}

func reconcileCommand() *cobra.Command {
	var at string
	c := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one lapsed-subscription reconciliation tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				now = parsed
			}
			return cmdutil.WithStack(cmd, func(ctx context.Context, s *setups.Stack) error {
				report, err := s.Reconciler.Reconcile(ctx, now)
				if err != nil {
					return err
				}
				if err := cmdutil.PrintJSON(cmd.OutOrStdout(), reportView(report.Candidates, report.Failed, report.Recovered, report.Skipped, report.Errors)); err != nil {
					return err
				}
				return report.Err()
			})
		},
	}
	c.Flags().StringVar(&at, "at", "", "Evaluate the grace period as of this RFC3339 instant (default now)")
	return c
}

func gcCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Delete disabled CDN distributions owned by the platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdutil.WithStack(cmd, func(ctx context.Context, s *setups.Stack) error {
				report, err := s.Collector.Run(ctx)
				if err != nil {
					return err
				}
				failed := make(map[string]string, len(report.Failed))
				for id, ferr := range report.Failed {
					failed[id] = ferr.Error()
				}
				return cmdutil.PrintJSON(cmd.OutOrStdout(), map[string]any{
					"candidates": report.Candidates,
					"eligible":   report.Eligible,
					"deleted":    report.Deleted,
					"failed":     failed,
				})
			})
		},
	}
}

func cleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Run reconciliation and distribution collection together, as the scheduled trigger does",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdutil.WithStack(cmd, func(ctx context.Context, s *setups.Stack) error {
				res, err := s.Handler.Cleanup(ctx)
				r := res.Reconcile
				if perr := cmdutil.PrintJSON(cmd.OutOrStdout(), map[string]any{
					"reconcile":  reportView(r.Candidates, r.Failed, r.Recovered, r.Skipped, r.Errors),
					"gcDeleted":  res.GC.Deleted,
					"gcEligible": res.GC.Eligible,
				}); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func paymentStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "payment-status <owner-email> <ACTIVE|LAPSED|FAILED|CANCELLED>",
		Short: "Apply a payment status notification for one owner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := directory.PaymentStatus(strings.ToUpper(args[1]))
			if !status.Known() {
				return fmt.Errorf("unknown payment status %q", args[1])
			}
			return cmdutil.WithStack(cmd, func(ctx context.Context, s *setups.Stack) error {
				return s.Reconciler.HandlePaymentStatus(ctx, args[0], status)
			})
		},
	}
}

func jobCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "job <event.json|->",
		Short: "Run a pipeline job from a saved invocation event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := cmdutil.ReadInput(cmd, args[0])
			if err != nil {
				return err
			}
			return cmdutil.WithStack(cmd, func(ctx context.Context, s *setups.Stack) error {
				outcome, err := s.Handler.PipelineJob(ctx, payload)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), outcome)
				return err
			})
		},
	}
}

func messageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "message <body.json|->",
		Short: "Handle one queue message body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := cmdutil.ReadInput(cmd, args[0])
			if err != nil {
				return err
			}
			return cmdutil.WithStack(cmd, func(ctx context.Context, s *setups.Stack) error {
				return s.Handler.Message(ctx, payload)
			})
		},
	}
}

func reportView(candidates int, failed, recovered, skipped []string, errs map[string]error) map[string]any {
	errored := make(map[string]string, len(errs))
	for owner, err := range errs {
		errored[owner] = err.Error()
	}
	return map[string]any{
		"candidates": candidates,
		"failed":     failed,
		"recovered":  recovered,
		"skipped":    skipped,
		"errors":     errored,
	}
}
