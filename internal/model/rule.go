package model

import "time"

// SteeringRule is a keyword prior that nudges the subfamily decision. Rules
// are grouped into versions; the active version is stamped on each record.
type SteeringRule struct {
	CreatedAt     time.Time `json:"created_at"`
	Version       string    `json:"version" validate:"required"`
	Pattern       string    `json:"pattern" validate:"required"`
	SubfamilyCode string    `json:"subfamily_code" validate:"required"`
	Description   string    `json:"description"`
	ID            int       `json:"id"`
	Weight        float64   `json:"weight" validate:"gt=0,lte=1"`
	IsActive      bool      `json:"is_active"`
}

// RuleHint is a steering rule that matched a document.
type RuleHint struct {
	SubfamilyCode string  `json:"subfamily_code"`
	Description   string  `json:"description"`
	Pattern       string  `json:"pattern"`
	Weight        float64 `json:"weight"`
}
