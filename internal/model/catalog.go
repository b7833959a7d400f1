// Package model defines the core domain models used throughout the application.
package model

import (
	"strings"
	"time"
)

// CatalogLevel is the depth of an entry in the chart-of-accounts hierarchy.
type CatalogLevel string

// Catalog level constants.
const (
	LevelFamily    CatalogLevel = "family"
	LevelSubfamily CatalogLevel = "subfamily"
	LevelAccount   CatalogLevel = "account"
)

// CatalogEntry is one account in the chart of accounts. Entries are reference
// data and are never mutated by classification.
type CatalogEntry struct {
	UpdatedAt        time.Time    `json:"updated_at"`
	Code             string       `json:"code" validate:"required"`
	FamilyCode       string       `json:"family_code"`
	SubfamilyCode    string       `json:"subfamily_code"`
	Name             string       `json:"name" validate:"required"`
	Description      string       `json:"description"`
	EmbeddingVersion string       `json:"embedding_version"`
	Level            CatalogLevel `json:"level"`
	Embedding        []float32    `json:"embedding,omitempty"`
}

// EmbeddingText is the text embedded for this entry.
func (e CatalogEntry) EmbeddingText() string {
	if e.Description == "" {
		return e.Name
	}
	return e.Name + ". " + e.Description
}

// SubfamilyOf returns the subfamily code of an account code: the part
// before the first dot. "602.84" belongs to subfamily "602".
func SubfamilyOf(code string) string {
	code = strings.TrimSpace(code)
	if i := strings.IndexByte(code, '.'); i >= 0 {
		return code[:i]
	}
	return code
}

// FamilyOf returns the family code of any code in the hierarchy: the leading
// digit followed by "00". "602.84" and "602" both belong to family "600".
func FamilyOf(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	return code[:1] + "00"
}

// LevelOf classifies a code by its shape. Dotted codes are accounts, dotless
// codes ending in "00" are families and the remaining dotless codes are
// subfamilies.
func LevelOf(code string) CatalogLevel {
	code = strings.TrimSpace(code)
	switch {
	case strings.Contains(code, "."):
		return LevelAccount
	case strings.HasSuffix(code, "00"):
		return LevelFamily
	default:
		return LevelSubfamily
	}
}

// Normalize fills the derived hierarchy fields from the code.
func (e *CatalogEntry) Normalize() {
	e.Code = strings.TrimSpace(e.Code)
	e.Level = LevelOf(e.Code)
	if e.FamilyCode == "" {
		e.FamilyCode = FamilyOf(e.Code)
	}
	if e.Level != LevelFamily {
		e.SubfamilyCode = SubfamilyOf(e.Code)
	}
}

// ClassificationCandidate is a catalog account offered to the reasoning
// service during one attempt.
type ClassificationCandidate struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	FamilyCode string  `json:"family_code"`
	Similarity float64 `json:"similarity"`
}

// AlternativeCandidate is a retrieved account that was offered but not
// chosen. Confidence is set only when the reasoning service ranked it.
type AlternativeCandidate struct {
	Code       string  `json:"code"`
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
	Confidence float64 `json:"confidence,omitempty"`
}
