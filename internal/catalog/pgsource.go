package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/service"
)

const pgCatalogQuery = `
	SELECT code, COALESCE(family_code, ''), name, COALESCE(description, ''),
	       embedding, COALESCE(embedding_version, '')
	FROM chart_of_accounts
	WHERE active
	ORDER BY code`

// PostgresSource reads the chart of accounts maintained in an external
// PostgreSQL database.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool to databaseURL, retrying transient connection
// failures.
func ConnectPostgres(ctx context.Context, databaseURL string) (*PostgresSource, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("%w: catalog.postgres_url", common.ErrMissingConfig)
	}

	var pool *pgxpool.Pool
	err := common.WithRetry(ctx, func() error {
		p, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return &common.RetryableError{Err: fmt.Errorf("failed to connect to database: %w", err), Retryable: false}
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return fmt.Errorf("failed to ping database: %w", err)
		}
		pool = p
		return nil
	}, service.RetryOptions{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	return &PostgresSource{pool: pool}, nil
}

// Close closes the connection pool.
func (p *PostgresSource) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// GetCatalogEntries implements EntrySource.
func (p *PostgresSource) GetCatalogEntries(ctx context.Context) ([]model.CatalogEntry, error) {
	rows, err := p.pool.Query(ctx, pgCatalogQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query chart_of_accounts: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CatalogEntry, error) {
		var entry model.CatalogEntry
		err := row.Scan(&entry.Code, &entry.FamilyCode, &entry.Name, &entry.Description,
			&entry.Embedding, &entry.EmbeddingVersion)
		entry.Normalize()
		return entry, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read chart_of_accounts: %w", err)
	}
	return entries, nil
}

// Sync copies every entry from source into the importer, embedding the
// accounts whose vectors are missing or stale.
func Sync(ctx context.Context, source EntrySource, importer *Importer) (int, error) {
	entries, err := source.GetCatalogEntries(ctx)
	if err != nil {
		return 0, err
	}
	return importer.Import(ctx, entries)
}
