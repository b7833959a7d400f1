package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/ledgerline/internal/model"
)

func TestValidateCatalogEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []model.CatalogEntry
		wantErr error
	}{
		{name: "valid", entries: []model.CatalogEntry{{Code: "600", Name: "Gastos"}}},
		{name: "empty", wantErr: ErrEmptySlice},
		{name: "missing code", entries: []model.CatalogEntry{{Name: "Gastos"}}, wantErr: ErrInvalidEntry},
		{name: "blank name", entries: []model.CatalogEntry{{Code: "600", Name: "  "}}, wantErr: ErrInvalidEntry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCatalogEntries(tt.entries)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateSteeringRules(t *testing.T) {
	valid := model.SteeringRule{Version: "v1", Pattern: `\bflete\b`, SubfamilyCode: "602", Weight: 0.5}

	tests := []struct {
		name    string
		mutate  func(r *model.SteeringRule)
		wantErr bool
	}{
		{name: "valid", mutate: func(*model.SteeringRule) {}},
		{name: "weight of one", mutate: func(r *model.SteeringRule) { r.Weight = 1 }},
		{name: "missing version", mutate: func(r *model.SteeringRule) { r.Version = "" }, wantErr: true},
		{name: "missing pattern", mutate: func(r *model.SteeringRule) { r.Pattern = "" }, wantErr: true},
		{name: "missing subfamily", mutate: func(r *model.SteeringRule) { r.SubfamilyCode = "" }, wantErr: true},
		{name: "zero weight", mutate: func(r *model.SteeringRule) { r.Weight = 0 }, wantErr: true},
		{name: "weight above one", mutate: func(r *model.SteeringRule) { r.Weight = 1.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := valid
			tt.mutate(&rule)
			err := validateSteeringRules([]model.SteeringRule{rule})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRule)
				return
			}
			assert.NoError(t, err)
		})
	}

	assert.ErrorIs(t, validateSteeringRules(nil), ErrEmptySlice)
}

func TestValidateOutcome(t *testing.T) {
	tests := []struct {
		name    string
		outcome *model.Outcome
		wantErr error
	}{
		{name: "nil", wantErr: ErrNilParameter},
		{name: "suggestion", outcome: &model.Outcome{SelectedCode: "602.84", FamilyCode: "600"}},
		{name: "failure needs no code", outcome: &model.Outcome{FailureReason: model.FailureTimeout}},
		{name: "missing code", outcome: &model.Outcome{FamilyCode: "600"}, wantErr: ErrInvalidOutcome},
		{name: "code outside family", outcome: &model.Outcome{SelectedCode: "155.01", FamilyCode: "600"}, wantErr: ErrInvalidOutcome},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateOutcome(tt.outcome)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
