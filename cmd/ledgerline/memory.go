package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Veraticus/ledgerline/internal/cli"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect learned decisions",
	}

	cmd.AddCommand(memoryListCmd())

	return cmd
}

func memoryListCmd() *cobra.Command {
	var (
		tenantID string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reviewed decisions, most recent first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.ListCorrectionMemory(ctx, tenantID, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				cmd.Println(cli.FormatInfo("Nothing learned yet"))
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.CounterpartyID, e.NormalizedDescription, e.OriginalCode, e.CorrectedCode, strconv.Itoa(e.HitCount),
				})
			}
			cmd.Println(cli.RenderTable([]string{"Counterparty", "Description", "Suggested", "Learned", "Hits"}, rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant whose decisions to list")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}
