package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/ledgerline/internal/catalog"
	"github.com/Veraticus/ledgerline/internal/cli"
	"github.com/Veraticus/ledgerline/internal/model"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the chart of accounts",
		Long: `Import, list and synchronize the hierarchical chart of accounts.

Accounts are embedded on import so that retrieval can rank them against
incoming documents. Families and subfamilies are stored as headers only.`,
	}

	cmd.AddCommand(catalogImportCmd())
	cmd.AddCommand(catalogListCmd())
	cmd.AddCommand(catalogSyncCmd())

	return cmd
}

func catalogImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <catalog.json>",
		Short: "Import catalog entries from a JSON file",
		Example: `  # Load the chart of accounts exported from the ERP
  ledgerline catalog import accounts.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open catalog file: %w", err)
			}
			defer func() { _ = f.Close() }()

			app, err := newReviewApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			importer := catalog.NewImporter(app.store, app.embedder, slog.Default().With("component", "catalog"))
			n, err := importer.ImportJSON(ctx, f)
			if err != nil {
				return err
			}

			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Imported %d catalog entries", n)))
			return nil
		},
	}
}

func catalogListCmd() *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries",
		Example: `  # Show every selling expense account
  ledgerline catalog list --prefix 602`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			index, err := catalog.Load(ctx, store)
			if err != nil {
				return err
			}

			rows := catalogRows(index, prefix)
			if len(rows) == 0 {
				cmd.Println(cli.FormatInfo("No catalog entries found"))
				return nil
			}

			cmd.Println(cli.FormatTitle("Chart of accounts"))
			cmd.Println(cli.RenderTable([]string{"Code", "Level", "Name", "Embedded"}, rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "only show entries under this code prefix")

	return cmd
}

// catalogRows walks the hierarchy family by family so headers precede their
// accounts.
func catalogRows(index *catalog.Index, prefix string) [][]string {
	var rows [][]string
	add := func(e model.CatalogEntry) {
		if prefix != "" && !strings.HasPrefix(e.Code, prefix) {
			return
		}
		embedded := ""
		if e.Level == model.LevelAccount {
			embedded = e.EmbeddingVersion
		}
		rows = append(rows, []string{e.Code, string(e.Level), e.Name, embedded})
	}

	for _, family := range index.Families() {
		add(family)
		for _, sub := range index.Subfamilies(family.Code) {
			add(sub)
			for _, account := range index.Accounts(sub.Code) {
				add(account)
			}
		}
	}
	return rows
}

func catalogSyncCmd() *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "sync-pg",
		Short: "Copy the chart of accounts from a PostgreSQL catalog",
		Long: `Read every catalog entry from the shared PostgreSQL catalog table and
upsert it into the local database, embedding accounts whose vectors are
missing or were produced by another embedding version.`,
		Example: `  ledgerline catalog sync-pg --url postgres://ledger@db/erp`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if databaseURL == "" {
				databaseURL = appCfg.PostgresURL
			}
			if databaseURL == "" {
				return fmt.Errorf("no PostgreSQL URL: pass --url or set catalog.postgres_url")
			}

			source, err := catalog.ConnectPostgres(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer source.Close()

			app, err := newReviewApp(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			importer := catalog.NewImporter(app.store, app.embedder, slog.Default().With("component", "catalog"))
			n, err := catalog.Sync(ctx, source, importer)
			if err != nil {
				return err
			}

			cmd.Println(cli.FormatSuccess(fmt.Sprintf("Synchronized %d catalog entries", n)))
			return nil
		},
	}

	cmd.Flags().StringVar(&databaseURL, "url", "", "PostgreSQL connection URL (default: catalog.postgres_url)")

	return cmd
}
