package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Veraticus/ledgerline/internal/common"
)

// ErrInvalidResponse indicates a reply that does not satisfy the choice contract.
var ErrInvalidResponse = errors.New("response does not match the choice contract")

// choiceSchemaJSON is the contract every reasoning reply must satisfy.
const choiceSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["choice", "confidence", "rationale", "none_fit"],
  "properties": {
    "choice": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "rationale": {"type": "string"},
    "none_fit": {"type": "boolean"},
    "ranking": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["code", "confidence"],
        "properties": {
          "code": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  }
}`

var choiceSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(choiceSchemaJSON))
})

// Option is one entry of the closed set offered to the reasoning service.
type Option struct {
	Code        string
	Name        string
	Description string
}

// RankedOption is an alternative the service ranked below its choice.
type RankedOption struct {
	Code       string  `json:"code"`
	Confidence float64 `json:"confidence"`
}

// Choice is a validated reply. Code is empty when NoneFit is set.
type Choice struct {
	Code       string
	Rationale  string
	Model      string
	Ranking    []RankedOption
	Confidence float64
	NoneFit    bool
}

type choiceWire struct {
	Choice     string         `json:"choice"`
	Rationale  string         `json:"rationale"`
	Ranking    []RankedOption `json:"ranking"`
	Confidence float64        `json:"confidence"`
	NoneFit    bool           `json:"none_fit"`
}

// ParseChoice validates a raw reply against the contract and the offered
// option set. Codes outside the set yield common.ErrInvalidChoice; malformed
// replies yield ErrInvalidResponse. Ranking entries outside the set are dropped.
func ParseChoice(raw string, options []Option, allowNoneFit bool) (Choice, error) {
	content := cleanMarkdownWrapper(raw)
	if err := validateContract(content); err != nil {
		return Choice{}, err
	}

	var wire choiceWire
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return Choice{}, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	if wire.NoneFit {
		if !allowNoneFit {
			return Choice{}, fmt.Errorf("%w: none_fit is not allowed at this stage", common.ErrInvalidChoice)
		}
		return Choice{NoneFit: true, Rationale: wire.Rationale, Confidence: wire.Confidence}, nil
	}

	offered := make(map[string]bool, len(options))
	for _, o := range options {
		offered[o.Code] = true
	}

	code := strings.TrimSpace(wire.Choice)
	if !offered[code] {
		return Choice{}, fmt.Errorf("%w: %q", common.ErrInvalidChoice, code)
	}

	seen := map[string]bool{code: true}
	var ranking []RankedOption
	for _, r := range wire.Ranking {
		c := strings.TrimSpace(r.Code)
		if !offered[c] || seen[c] {
			continue
		}
		seen[c] = true
		ranking = append(ranking, RankedOption{Code: c, Confidence: r.Confidence})
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].Confidence > ranking[j].Confidence
	})

	return Choice{
		Code:       code,
		Confidence: wire.Confidence,
		Rationale:  wire.Rationale,
		Ranking:    ranking,
	}, nil
}

func validateContract(content string) error {
	schema, err := choiceSchema()
	if err != nil {
		return fmt.Errorf("failed to load choice schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(content))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		msgs = append(msgs, field+": "+desc.Description())
	}
	return fmt.Errorf("%w: %s", ErrInvalidResponse, strings.Join(msgs, "; "))
}
