// Package selector scores how hard a document is to classify and picks the
// reasoning tier accordingly.
package selector

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/textnorm"
)

// Reasons reported with a tier decision, in evaluation order.
const (
	ReasonLowTopSimilarity       = "low_top_similarity"
	ReasonSmallGap               = "small_gap"
	ReasonMultiConcept           = "multi_concept"
	ReasonShortDescription       = "short_description"
	ReasonAboveMateriality       = "above_materiality"
	ReasonFrequentlyCorrected    = "frequently_corrected"
	ReasonLowSubfamilyConfidence = "low_subfamily_confidence"
)

const (
	defaultThreshold      = 0.5
	defaultMateriality    = 10000
	defaultSubfamilyFloor = 0.7
)

// Signal weights. They sum to 1 so the score stays in [0,1].
const (
	weightLowTopSimilarity    = 0.25
	weightSmallGap            = 0.20
	weightMultiConcept        = 0.15
	weightShortDescription    = 0.15
	weightAboveMateriality    = 0.15
	weightFrequentlyCorrected = 0.10
)

// Grading bounds.
const (
	similarityHigh       = 0.75
	similarityLow        = 0.40
	gapNarrow            = 0.05
	correctionSaturation = 3
)

var conceptSeparators = []string{" y ", " and ", ",", "/", "+", ";"}

// Config tunes the selector.
type Config struct {
	MaterialityAmount decimal.Decimal
	Threshold         float64
	// SubfamilyConfidenceFloor is the subfamily confidence under which the
	// final selection is forced onto the accurate tier.
	SubfamilyConfidenceFloor    float64
	ForceAccurateOnLowSubfamily bool
}

// DefaultConfig returns the standard selector settings.
func DefaultConfig() Config {
	return Config{
		MaterialityAmount:           decimal.NewFromInt(defaultMateriality),
		Threshold:                   defaultThreshold,
		SubfamilyConfidenceFloor:    defaultSubfamilyFloor,
		ForceAccurateOnLowSubfamily: true,
	}
}

// Signals is the history the selector needs beyond the snapshot.
type Signals struct {
	CounterpartyCorrections int
}

// Selector is a pure function of its inputs.
type Selector struct {
	cfg Config
}

// New creates a selector; zero values in cfg fall back to defaults.
func New(cfg Config) *Selector {
	def := DefaultConfig()
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MaterialityAmount.IsZero() {
		cfg.MaterialityAmount = def.MaterialityAmount
	}
	if cfg.SubfamilyConfidenceFloor <= 0 {
		cfg.SubfamilyConfidenceFloor = def.SubfamilyConfidenceFloor
	}
	return &Selector{cfg: cfg}
}

// Select scores the case and returns the tier with the reasons that
// contributed. Candidates must be sorted by similarity, best first.
func (s *Selector) Select(candidates []model.ClassificationCandidate, doc *model.DocumentSnapshot, signals Signals) model.TierDecision {
	var (
		score   float64
		reasons []string
	)
	add := func(reason string, weight, grade float64) {
		grade = clamp(grade)
		if grade <= 0 {
			return
		}
		score += weight * grade
		reasons = append(reasons, reason)
	}

	add(ReasonLowTopSimilarity, weightLowTopSimilarity, lowSimilarityGrade(candidates))
	add(ReasonSmallGap, weightSmallGap, smallGapGrade(candidates))
	add(ReasonMultiConcept, weightMultiConcept, multiConceptGrade(doc.Description))
	add(ReasonShortDescription, weightShortDescription, shortDescriptionGrade(doc.Description))
	add(ReasonAboveMateriality, weightAboveMateriality, s.materialityGrade(doc.Amount))
	add(ReasonFrequentlyCorrected, weightFrequentlyCorrected,
		float64(signals.CounterpartyCorrections)/correctionSaturation)

	score = math.Round(clamp(score)*1e6) / 1e6

	tier := model.TierFast
	if score >= s.cfg.Threshold {
		tier = model.TierAccurate
	}
	if reasons == nil {
		reasons = []string{}
	}
	return model.TierDecision{Tier: tier, Score: score, Reasons: reasons}
}

// EscalateForSubfamily forces the accurate tier for the final selection when
// the subfamily decision was uncertain.
func (s *Selector) EscalateForSubfamily(decision model.TierDecision, subfamilyConfidence float64) model.TierDecision {
	if !s.cfg.ForceAccurateOnLowSubfamily || subfamilyConfidence >= s.cfg.SubfamilyConfidenceFloor {
		return decision
	}
	out := model.TierDecision{
		Tier:    model.TierAccurate,
		Score:   decision.Score,
		Reasons: append(append([]string(nil), decision.Reasons...), ReasonLowSubfamilyConfidence),
	}
	return out
}

func lowSimilarityGrade(candidates []model.ClassificationCandidate) float64 {
	if len(candidates) == 0 {
		return 1
	}
	top := candidates[0].Similarity
	switch {
	case top >= similarityHigh:
		return 0
	case top <= similarityLow:
		return 1
	default:
		return (similarityHigh - top) / (similarityHigh - similarityLow)
	}
}

func smallGapGrade(candidates []model.ClassificationCandidate) float64 {
	if len(candidates) < 2 {
		return 0
	}
	gap := candidates[0].Similarity - candidates[1].Similarity
	return (gapNarrow - gap) / gapNarrow
}

func multiConceptGrade(description string) float64 {
	lower := " " + strings.ToLower(description) + " "
	for _, sep := range conceptSeparators {
		if strings.Contains(lower, sep) {
			return 1
		}
	}
	return 0
}

func shortDescriptionGrade(description string) float64 {
	switch n := len(textnorm.Tokens(description)); {
	case n < 3:
		return 1
	case n < 5:
		return 0.5
	default:
		return 0
	}
}

func (s *Selector) materialityGrade(amount decimal.Decimal) float64 {
	if amount.Abs().GreaterThanOrEqual(s.cfg.MaterialityAmount) {
		return 1
	}
	return 0
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
