package model

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// DocumentSnapshot is the normalized invoice handed over by the external
// document parser. It is read-only input.
type DocumentSnapshot struct {
	Amount             decimal.Decimal `json:"amount"`
	DocumentID         string          `json:"document_id" validate:"required"`
	ExternalID         string          `json:"external_id"`
	TenantID           string          `json:"tenant_id" validate:"required"`
	Description        string          `json:"description" validate:"required"`
	CounterpartyName   string          `json:"counterparty_name"`
	CounterpartyID     string          `json:"counterparty_id"`
	CounterpartyTaxID  string          `json:"counterparty_tax_id,omitempty"`
	Currency           string          `json:"currency" validate:"omitempty,len=3"`
	ProductServiceCode string          `json:"product_service_code,omitempty"`
	PaymentMethod      string          `json:"payment_method,omitempty"`
	DocumentTypeHint   string          `json:"document_type_hint,omitempty"`
}

// Validate checks the snapshot's required fields.
func (d *DocumentSnapshot) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid document snapshot %q: %w", d.DocumentID, err)
	}
	return nil
}

// DedupKey is the canonical identifier used to collapse duplicate uploads of
// the same document within a tenant. It falls back to the document id when
// no external identifier was extracted.
func (d *DocumentSnapshot) DedupKey() string {
	if key := strings.TrimSpace(d.ExternalID); key != "" {
		return strings.ToUpper(key)
	}
	return d.DocumentID
}

// CounterpartyKey identifies the counterparty for memory and statistics.
// The tax id is preferred over the free-text name.
func (d *DocumentSnapshot) CounterpartyKey() string {
	switch {
	case strings.TrimSpace(d.CounterpartyID) != "":
		return strings.TrimSpace(d.CounterpartyID)
	case strings.TrimSpace(d.CounterpartyTaxID) != "":
		return strings.ToUpper(strings.TrimSpace(d.CounterpartyTaxID))
	default:
		return strings.ToUpper(strings.TrimSpace(d.CounterpartyName))
	}
}
