package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/ledgerline/internal/cli"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/review"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Work through suggestions awaiting review",
		Long: `Every classification waits as pending confirmation until a reviewer
confirms the suggested account or corrects it. Corrections are remembered
and applied to the same counterparty and description next time.`,
	}

	cmd.AddCommand(reviewPendingCmd())
	cmd.AddCommand(reviewShowCmd())
	cmd.AddCommand(reviewConfirmCmd())
	cmd.AddCommand(reviewCorrectCmd())
	cmd.AddCommand(reviewHistoryCmd())

	return cmd
}

func reviewPendingCmd() *cobra.Command {
	var q review.PendingQuery

	cmd := &cobra.Command{
		Use:     "pending",
		Short:   "List suggestions awaiting review",
		Example: `  ledgerline review pending --tenant acme-mx --page 2`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			app, err := newReviewApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			page, err := app.review.ListPending(ctx, q)
			if err != nil {
				return err
			}
			if page.Total == 0 {
				cmd.Println(cli.FormatSuccess("Nothing awaits review"))
				return nil
			}

			cmd.Println(cli.FormatTitle(fmt.Sprintf("Pending review (%d)", page.Total)))
			cmd.Println(cli.RenderTable([]string{"Document", "Suggested", "Confidence", "Review", "Description"}, pendingRows(page.Records)))
			if page.HasMore() {
				cmd.Println(cli.FormatInfo(fmt.Sprintf("More on page %d", page.Page+1)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&q.TenantID, "tenant", "", "tenant whose queue to list")
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number, starting at 1")
	cmd.Flags().IntVar(&q.PageSize, "page-size", review.DefaultPageSize, "records per page")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func pendingRows(records []model.ClassificationRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		flag := ""
		if r.ReviewRequired {
			flag = cli.WarningIcon
		}
		description := ""
		if r.Snapshot != nil {
			description = r.Snapshot.Description
		}
		rows = append(rows, []string{r.DocumentID, r.SelectedCode, cli.FormatConfidence(r.ConfidenceCode), flag, description})
	}
	return rows
}

func reviewShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show one classification with its explanation and postings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newReviewApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			record, err := app.review.Get(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Println(cli.RenderRecord(record))

			postings, err := app.store.GetLedgerEntries(ctx, args[0])
			if err != nil {
				return err
			}
			if len(postings) > 0 {
				rows := make([][]string, 0, len(postings))
				for _, p := range postings {
					rows = append(rows, []string{
						p.PostedAt.Format("2006-01-02 15:04"), p.Code, p.Amount.StringFixed(2) + " " + p.Currency, p.PostedBy,
					})
				}
				cmd.Println(cli.RenderTable([]string{"Posted", "Account", "Amount", "By"}, rows))
			}
			return nil
		},
	}
}

func reviewConfirmCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "confirm <document-id>",
		Short: "Accept the suggested account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newReviewApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			record, err := app.review.Confirm(ctx, review.ConfirmCommand{DocumentID: args[0], UserID: userID})
			if err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Confirmed %s as %s", record.DocumentID, record.SelectedCode)))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", os.Getenv("USER"), "reviewer recorded on the decision")

	return cmd
}

func reviewCorrectCmd() *cobra.Command {
	var c review.CorrectCommand

	cmd := &cobra.Command{
		Use:     "correct <document-id>",
		Short:   "Replace the suggested account",
		Example: `  ledgerline review correct inv-2291 --code 602.84 --notes "marketplace fulfillment fee"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newReviewApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			c.DocumentID = args[0]
			record, err := app.review.Correct(ctx, c)
			if err != nil {
				return err
			}
			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Corrected %s to %s", record.DocumentID, record.CorrectedCode)))
			return nil
		},
	}

	cmd.Flags().StringVar(&c.CorrectedCode, "code", "", "account code to post to")
	cmd.Flags().StringVar(&c.UserID, "user", os.Getenv("USER"), "reviewer recorded on the decision")
	cmd.Flags().StringVar(&c.Notes, "notes", "", "why the suggestion was wrong")
	_ = cmd.MarkFlagRequired("code")

	return cmd
}

func reviewHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <document-id>",
		Short: "Show the audit trail of one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := newReviewApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			entries, err := app.review.History(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Println(cli.RenderTable([]string{"When", "Action", "From", "To", "Code", "Actor", "Notes"}, historyRows(entries)))
			return nil
		},
	}
}

func historyRows(entries []model.HistoryEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			string(e.Action),
			string(e.FromStatus),
			string(e.ToStatus),
			e.Code,
			e.Actor,
			e.Notes,
		})
	}
	return rows
}
