package model

// ModelTier selects between the fast and the accurate reasoning model.
type ModelTier string

// Model tier constants.
const (
	TierFast     ModelTier = "fast"
	TierAccurate ModelTier = "accurate"
)

// TierDecision is the selector's verdict for one document.
type TierDecision struct {
	Tier    ModelTier `json:"tier"`
	Reasons []string  `json:"reasons"`
	Score   float64   `json:"score"`
}
