package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/ledgerline/internal/model"
)

// Validation errors.
var (
	ErrNilContext      = errors.New("context cannot be nil")
	ErrEmptyString     = errors.New("string parameter cannot be empty")
	ErrNilParameter    = errors.New("parameter cannot be nil")
	ErrEmptySlice      = errors.New("slice cannot be empty")
	ErrInvalidEntry    = errors.New("invalid catalog entry")
	ErrInvalidRule     = errors.New("invalid steering rule")
	ErrInvalidOutcome  = errors.New("invalid classification outcome")
	ErrInvalidStatus   = errors.New("invalid record status")
	ErrInvalidPageSize = errors.New("page size must be positive")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateCatalogEntries(entries []model.CatalogEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: entries", ErrEmptySlice)
	}
	for i, entry := range entries {
		if strings.TrimSpace(entry.Code) == "" {
			return fmt.Errorf("%w at index %d: missing code", ErrInvalidEntry, i)
		}
		if strings.TrimSpace(entry.Name) == "" {
			return fmt.Errorf("%w %s: missing name", ErrInvalidEntry, entry.Code)
		}
	}
	return nil
}

func validateSteeringRules(rules []model.SteeringRule) error {
	if len(rules) == 0 {
		return fmt.Errorf("%w: rules", ErrEmptySlice)
	}
	for i, rule := range rules {
		switch {
		case rule.Version == "":
			return fmt.Errorf("%w at index %d: missing version", ErrInvalidRule, i)
		case rule.Pattern == "":
			return fmt.Errorf("%w at index %d: missing pattern", ErrInvalidRule, i)
		case rule.SubfamilyCode == "":
			return fmt.Errorf("%w at index %d: missing subfamily", ErrInvalidRule, i)
		case rule.Weight <= 0 || rule.Weight > 1:
			return fmt.Errorf("%w at index %d: weight %.2f outside (0,1]", ErrInvalidRule, i, rule.Weight)
		}
	}
	return nil
}

// validateOutcome enforces that a suggestion's code sits inside the family
// it was decided under, and that failures carry a reason.
func validateOutcome(outcome *model.Outcome) error {
	if outcome == nil {
		return fmt.Errorf("%w: outcome", ErrNilParameter)
	}
	if outcome.Failed() {
		return nil
	}
	if outcome.SelectedCode == "" {
		return fmt.Errorf("%w: missing selected code", ErrInvalidOutcome)
	}
	if outcome.FamilyCode != model.FamilyOf(outcome.SelectedCode) {
		return fmt.Errorf("%w: code %s is outside family %s", ErrInvalidOutcome, outcome.SelectedCode, outcome.FamilyCode)
	}
	return nil
}
