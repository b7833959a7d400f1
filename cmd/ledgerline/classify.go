package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/ledgerline/internal/cli"
	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/engine"
	"github.com/Veraticus/ledgerline/internal/model"
)

// statusPollInterval is how often the progress bar re-reads batch status.
const statusPollInterval = 500 * time.Millisecond

func classifyCmd() *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "classify <documents.json>",
		Short: "Classify a batch of document snapshots",
		Long: `Submit a JSON array of document snapshots as one batch and wait for every
document to be classified. Suggestions land in the review queue as pending
confirmation; documents that could not be classified are kept with a
failure reason.

Documents already submitted for the tenant, by external id, are skipped.
Interrupting leaves unfinished documents queued; resume them later with
'ledgerline batch resume'.`,
		Example: `  # Classify this month's invoices for one tenant
  ledgerline classify invoices.json --tenant acme-mx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := readSnapshots(args[0])
			if err != nil {
				return err
			}
			if tenantID == "" {
				tenantID = tenantOf(docs)
			}
			return runClassify(cmd, tenantID, docs)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant the documents belong to (default: the documents' tenant_id)")

	return cmd
}

func runClassify(cmd *cobra.Command, tenantID string, docs []model.DocumentSnapshot) error {
	app, err := newClassifyApp(cmd.Context())
	if err != nil {
		return err
	}

	interrupts := cli.NewInterruptHandler(cmd.OutOrStdout())
	ctx := interrupts.HandleInterrupts(cmd.Context())

	batch, err := app.orchestrator.Submit(ctx, tenantID, docs)
	if err != nil {
		_ = app.Close(context.Background())
		return err
	}
	interrupts.SetBatch(batch.BatchID)

	cmd.Println(cli.FormatInfo(fmt.Sprintf("Batch %s: %d documents queued", batch.BatchID, len(batch.DocumentIDs))))
	if batch.Duplicates > 0 {
		cmd.Println(cli.FormatWarning(fmt.Sprintf("Skipped %d documents that were already submitted", batch.Duplicates)))
	}

	status, err := trackBatch(ctx, cmd.OutOrStdout(), app.orchestrator, batch)
	if interrupts.WasInterrupted() {
		// Leave unfinished records queued for 'batch resume'.
		return nil
	}
	if closeErr := app.Close(context.Background()); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	cmd.Println(cli.RenderBatchStatus(status))
	if n := status.Counts[model.StatusPendingConfirmation]; n > 0 {
		cmd.Println(cli.FormatInfo(fmt.Sprintf("%d suggestions await review: ledgerline review pending --tenant %s", n, tenantID)))
	}
	return nil
}

// trackBatch redraws the progress bar until the batch is done or ctx ends.
func trackBatch(ctx context.Context, w io.Writer, o *engine.Orchestrator, batch *model.BatchJob) (*model.BatchStatus, error) {
	progress := cli.NewBatchProgress(w, len(batch.DocumentIDs))

	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		// A fresh context so the final status is readable after an interrupt.
		status, err := o.Status(context.WithoutCancel(ctx), batch.BatchID)
		if err != nil {
			return nil, err
		}
		progress.Update(status)
		if status.Done() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, nil
		case <-ticker.C:
		}
	}
}

func readSnapshots(path string) ([]model.DocumentSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open documents file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return decodeSnapshots(f)
}

func decodeSnapshots(r io.Reader) ([]model.DocumentSnapshot, error) {
	var docs []model.DocumentSnapshot
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("failed to decode document snapshots: %w", err)
	}
	if len(docs) == 0 {
		return nil, common.ErrNoDocuments
	}
	return docs, nil
}

// tenantOf returns the first tenant named by the documents.
func tenantOf(docs []model.DocumentSnapshot) string {
	for _, d := range docs {
		if d.TenantID != "" {
			return d.TenantID
		}
	}
	return ""
}
