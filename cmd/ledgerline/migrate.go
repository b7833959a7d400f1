package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/ledgerline/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Every other command migrates on start, so this is mostly useful to check
the schema version or to prepare a database ahead of time.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current schema version and snapshots without applying changes")
	cmd.Flags().Bool("no-snapshot", false, "Skip the snapshot taken before upgrading an existing database")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")
	noSnapshot, _ := cmd.Flags().GetBool("no-snapshot")
	ctx := cmd.Context()

	store, err := storage.NewSQLiteStorageWithDriver(appCfg.Database.Driver, appCfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	current, err := store.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if status {
		cmd.Printf("Database:        %s\n", appCfg.Database.Path)
		cmd.Printf("Current version: %d\n", current)
		cmd.Printf("Latest version:  %d\n", storage.ExpectedSchemaVersion)

		snapshots, err := store.ListSnapshots(ctx)
		if err != nil {
			return err
		}
		for _, snap := range snapshots {
			cmd.Printf("Snapshot:        %s (v%d, %s)\n", snap.Tag, snap.SchemaVersion, snap.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	}

	if current > 0 && current < storage.ExpectedSchemaVersion && !noSnapshot {
		snap, err := store.Snapshot(ctx, fmt.Sprintf("pre-migrate-v%d-%s", current, time.Now().Format("20060102-150405")))
		if err != nil {
			return fmt.Errorf("failed to snapshot database before migrating: %w", err)
		}
		slog.Info("Database snapshot written", "path", snap.Path)
	}

	slog.Info("Running database migrations", "database", appCfg.Database.Path, "from_version", current)

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("Database migrations completed", "version", storage.ExpectedSchemaVersion)
	return nil
}
