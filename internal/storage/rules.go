package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Veraticus/ledgerline/internal/model"
)

// SaveSteeringRules inserts or updates steering rules. Rules are unique by
// version, pattern and subfamily.
func (s *SQLiteStorage) SaveSteeringRules(ctx context.Context, rules []model.SteeringRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSteeringRules(rules); err != nil {
		return err
	}

	now := s.now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, rule := range rules {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO steering_rules (
					version, pattern, subfamily_code, weight, description, is_active, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(version, pattern, subfamily_code) DO UPDATE SET
					weight = excluded.weight,
					description = excluded.description,
					is_active = excluded.is_active
			`, rule.Version, rule.Pattern, rule.SubfamilyCode, rule.Weight, rule.Description, rule.IsActive, now)
			if err != nil {
				return fmt.Errorf("failed to save steering rule %q: %w", rule.Pattern, err)
			}
		}
		return nil
	})
}

// GetActiveSteeringRules returns the active rules of the newest rule version.
func (s *SQLiteStorage) GetActiveSteeringRules(ctx context.Context) ([]model.SteeringRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.querySteeringRules(ctx, `
		SELECT id, version, pattern, subfamily_code, weight, description, is_active, created_at
		FROM steering_rules
		WHERE is_active = 1
		  AND version = (
			SELECT version FROM steering_rules
			WHERE is_active = 1
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		  )
		ORDER BY weight DESC, id
	`)
}

// ListSteeringRules returns every rule of every version.
func (s *SQLiteStorage) ListSteeringRules(ctx context.Context) ([]model.SteeringRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	return s.querySteeringRules(ctx, `
		SELECT id, version, pattern, subfamily_code, weight, description, is_active, created_at
		FROM steering_rules
		ORDER BY version, subfamily_code, id
	`)
}

func (s *SQLiteStorage) querySteeringRules(ctx context.Context, query string) ([]model.SteeringRule, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query steering rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.SteeringRule
	for rows.Next() {
		var rule model.SteeringRule
		if err := rows.Scan(
			&rule.ID,
			&rule.Version,
			&rule.Pattern,
			&rule.SubfamilyCode,
			&rule.Weight,
			&rule.Description,
			&rule.IsActive,
			&rule.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan steering rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
