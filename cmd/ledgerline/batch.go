package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/ledgerline/internal/cli"
)

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Inspect and control classification batches",
	}

	cmd.AddCommand(batchStatusCmd())
	cmd.AddCommand(batchCancelCmd())
	cmd.AddCommand(batchResumeCmd())

	return cmd
}

func batchStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show a batch's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newReviewApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			status, err := app.tracker().Status(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Println(cli.RenderBatchStatus(status))
			return nil
		},
	}
}

func batchCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Cancel the documents of a batch that have not started",
		Long: `Mark the batch canceled and close its queued documents with the canceled
failure reason. Documents already classified are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newReviewApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			tracker := app.tracker()
			if err := tracker.Cancel(ctx, args[0]); err != nil {
				return err
			}
			status, err := tracker.Status(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Println(cli.RenderBatchStatus(status))
			return nil
		},
	}
}

func batchResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <batch-id>",
		Short: "Finish a batch that was interrupted",
		Long: `Schedule the documents of a batch that are still queued, for example after
the classify command was interrupted. Documents that were mid-run when the
process stopped are closed as failed.`,
		Example: `  ledgerline batch resume 01HZX3J4Q8V2M6T9R5K7N1B0CD`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newClassifyApp(cmd.Context())
			if err != nil {
				return err
			}

			interrupts := cli.NewInterruptHandler(cmd.OutOrStdout())
			interrupts.SetBatch(args[0])
			ctx := interrupts.HandleInterrupts(cmd.Context())

			n, err := app.orchestrator.Resume(ctx, args[0])
			if err != nil {
				_ = app.Close(context.Background())
				return err
			}
			if n == 0 {
				cmd.Println(cli.FormatInfo("Nothing left to classify in this batch"))
			} else {
				cmd.Println(cli.FormatInfo(fmt.Sprintf("Resumed %d documents", n)))
			}

			batch, err := app.store.GetBatch(ctx, args[0])
			if err != nil {
				_ = app.Close(context.Background())
				return err
			}

			status, err := trackBatch(ctx, cmd.OutOrStdout(), app.orchestrator, batch)
			if interrupts.WasInterrupted() {
				return nil
			}
			if closeErr := app.Close(context.Background()); closeErr != nil && err == nil {
				err = closeErr
			}
			if err != nil {
				return err
			}
			cmd.Println(cli.RenderBatchStatus(status))
			return nil
		},
	}
}
