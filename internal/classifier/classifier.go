// Package classifier runs the hierarchical decision for one document:
// family, then subfamily, then filtered retrieval, then the final account.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/ledgerline/internal/llm"
	"github.com/Veraticus/ledgerline/internal/model"
	"github.com/Veraticus/ledgerline/internal/retrieval"
	"github.com/Veraticus/ledgerline/internal/rules"
	"github.com/Veraticus/ledgerline/internal/selector"
)

// Stage names used in logs and reasoning requests.
const (
	StageFamily    = "family"
	StageSubfamily = "subfamily"
	StageFinal     = "final"
)

const (
	defaultFamilyReviewThreshold   = 0.6
	defaultSubfamilyWidenThreshold = 0.8
	defaultCodeReviewThreshold     = 0.6
	defaultMaxAdjacent             = 1
	maxAdjacentLimit               = 2
	familyHintCount                = 5
)

// Reasoner answers bounded choose-one questions.
type Reasoner interface {
	Choose(ctx context.Context, req llm.ChoiceRequest) (llm.Choice, error)
}

// Config tunes the confidence gates.
type Config struct {
	// FamilyReviewThreshold flags a record for mandatory review when the
	// family confidence is below it.
	FamilyReviewThreshold float64
	// SubfamilyWidenThreshold widens retrieval to adjacent subfamilies when
	// the subfamily confidence is below it.
	SubfamilyWidenThreshold float64
	CodeReviewThreshold     float64
	MaxAdjacent             int
	TopK                    int
}

// DefaultConfig returns the standard gates.
func DefaultConfig() Config {
	return Config{
		FamilyReviewThreshold:   defaultFamilyReviewThreshold,
		SubfamilyWidenThreshold: defaultSubfamilyWidenThreshold,
		CodeReviewThreshold:     defaultCodeReviewThreshold,
		MaxAdjacent:             defaultMaxAdjacent,
		TopK:                    retrieval.DefaultTopK,
	}
}

// Classifier is safe for concurrent use; it holds only read-only state.
type Classifier struct {
	retriever *retrieval.Service
	reasoner  Reasoner
	selector  *selector.Selector
	rules     *rules.Detector
	prompts   *promptBuilder
	logger    *slog.Logger
	cfg       Config
}

// New creates a classifier. detector may be nil when no steering rules are loaded.
func New(retriever *retrieval.Service, reasoner Reasoner, sel *selector.Selector, detector *rules.Detector, cfg Config, logger *slog.Logger) (*Classifier, error) {
	if retriever == nil || reasoner == nil || sel == nil {
		return nil, fmt.Errorf("classifier: retriever, reasoner and selector are required")
	}
	prompts, err := newPromptBuilder()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultConfig()
	if cfg.FamilyReviewThreshold <= 0 {
		cfg.FamilyReviewThreshold = defaults.FamilyReviewThreshold
	}
	if cfg.SubfamilyWidenThreshold <= 0 {
		cfg.SubfamilyWidenThreshold = defaults.SubfamilyWidenThreshold
	}
	if cfg.CodeReviewThreshold <= 0 {
		cfg.CodeReviewThreshold = defaults.CodeReviewThreshold
	}
	if cfg.MaxAdjacent <= 0 {
		cfg.MaxAdjacent = defaults.MaxAdjacent
	}
	if cfg.MaxAdjacent > maxAdjacentLimit {
		cfg.MaxAdjacent = maxAdjacentLimit
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaults.TopK
	}

	return &Classifier{
		retriever: retriever,
		reasoner:  reasoner,
		selector:  sel,
		rules:     detector,
		prompts:   prompts,
		logger:    logger,
		cfg:       cfg,
	}, nil
}

// RuleTableVersion returns the version of the loaded steering rules.
func (c *Classifier) RuleTableVersion() string {
	if c.rules == nil {
		return ""
	}
	return c.rules.Version()
}

// run carries the per-document state through the stages.
type run struct {
	doc           *model.DocumentSnapshot
	tier          model.TierDecision
	family        string
	subfamily     string
	scope         []string
	notes         []string
	familyConf    float64
	subfamilyConf float64
}

// Classify runs the pipeline for one document. Domain failures (no
// candidates, nothing fits) come back as an outcome with a failure reason;
// a non-nil error means the run itself failed, for example because the
// reasoning service stayed unavailable.
func (c *Classifier) Classify(ctx context.Context, doc *model.DocumentSnapshot, signals selector.Signals) (*model.Outcome, error) {
	logger := c.logger.With("document_id", doc.DocumentID)
	r := &run{doc: doc}

	pre, err := c.retriever.Retrieve(ctx, retrieval.Request{Snapshot: doc, K: c.cfg.TopK})
	if err != nil {
		return nil, fmt.Errorf("pre-pass retrieval: %w", err)
	}
	if len(pre) == 0 {
		logger.Info("No catalog candidates for document")
		return c.failure(r, model.FailureNoCandidates, "no catalog account is comparable with this document"), nil
	}

	r.tier = c.selector.Select(pre, doc, signals)
	logger.Debug("Selected reasoning tier", "tier", r.tier.Tier, "score", r.tier.Score, "reasons", r.tier.Reasons)

	if err := c.selectFamily(ctx, r, pre); err != nil {
		return nil, err
	}
	if err := c.selectSubfamily(ctx, r); err != nil {
		return nil, err
	}

	r.tier = c.selector.EscalateForSubfamily(r.tier, r.subfamilyConf)

	candidates, err := c.retrieveScope(ctx, r, logger)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return c.failure(r, model.FailureNoCandidates, "retrieval returned no accounts for family "+r.family), nil
	}

	choice, err := c.chooseAccount(ctx, r, candidates, false)
	if err != nil {
		return nil, err
	}

	if choice.NoneFit {
		broadened := []string{r.family}
		if !sameScope(r.scope, broadened) {
			logger.Info("No candidate fit, broadening to family scope", "stage", StageFinal, "family", r.family)
			r.notes = append(r.notes, "The first candidate set did not fit; the search was broadened to family "+r.family+".")
			r.scope = broadened
			candidates, err = c.retriever.Retrieve(ctx, retrieval.Request{Snapshot: doc, Filter: r.scope, K: c.cfg.TopK})
			if err != nil {
				return nil, fmt.Errorf("broadened retrieval: %w", err)
			}
			if len(candidates) == 0 {
				return c.failure(r, model.FailureNoCandidates, "broadened retrieval returned no accounts"), nil
			}
			choice, err = c.chooseAccount(ctx, r, candidates, true)
			if err != nil {
				return nil, err
			}
		}
		if choice.NoneFit {
			return c.failure(r, model.FailureNoFit, "no retrieved account fits: "+choice.Rationale), nil
		}
	}

	c.checkTypeHint(r, choice.Code, logger)

	outcome := &model.Outcome{
		SelectedCode:          choice.Code,
		FamilyCode:            model.FamilyOf(choice.Code),
		SubfamilyCode:         model.SubfamilyOf(choice.Code),
		Explanation:           explain(choice.Rationale, r.notes),
		ModelVersion:          choice.Model,
		ModelTier:             r.tier.Tier,
		TierReasons:           r.tier.Reasons,
		EmbeddingVersion:      c.retriever.EmbeddingVersion(),
		RuleTableVersion:      c.RuleTableVersion(),
		Source:                model.SourcePipeline,
		AlternativeCandidates: alternatives(candidates, choice.Code, choice.Ranking),
		ConfidenceFamily:      r.familyConf,
		ConfidenceCode:        choice.Confidence,
		ReviewRequired:        r.familyConf < c.cfg.FamilyReviewThreshold || choice.Confidence < c.cfg.CodeReviewThreshold,
	}

	logger.Info("Classified document",
		"code", outcome.SelectedCode,
		"confidence", outcome.ConfidenceCode,
		"tier", outcome.ModelTier,
		"review_required", outcome.ReviewRequired)

	return outcome, nil
}

func (c *Classifier) selectFamily(ctx context.Context, r *run, pre []model.ClassificationCandidate) error {
	families := c.retriever.Index().Families()
	options := make([]llm.Option, 0, len(families))
	for _, f := range families {
		options = append(options, llm.Option{Code: f.Code, Name: f.Name, Description: f.Description})
	}

	hints := pre
	if len(hints) > familyHintCount {
		hints = hints[:familyHintCount]
	}
	prompt, err := c.prompts.render(StageFamily, familyPromptData{Document: r.doc, Hints: hints})
	if err != nil {
		return err
	}

	choice, err := c.reasoner.Choose(ctx, llm.ChoiceRequest{
		Stage:   StageFamily,
		Prompt:  prompt,
		Tier:    r.tier.Tier,
		Options: options,
	})
	if err != nil {
		return fmt.Errorf("family stage: %w", err)
	}

	r.family = choice.Code
	r.familyConf = choice.Confidence
	if r.familyConf < c.cfg.FamilyReviewThreshold {
		r.notes = append(r.notes, fmt.Sprintf("Family confidence %.2f is low; review required.", r.familyConf))
	}
	return nil
}

func (c *Classifier) selectSubfamily(ctx context.Context, r *run) error {
	index := c.retriever.Index()
	subfamilies := index.Subfamilies(r.family)

	switch len(subfamilies) {
	case 0:
		r.scope = []string{r.family}
		r.subfamilyConf = r.familyConf
		return nil
	case 1:
		r.subfamily = subfamilies[0].Code
		r.subfamilyConf = r.familyConf
		r.scope = []string{r.subfamily}
		return nil
	}

	options := make([]llm.Option, 0, len(subfamilies))
	for _, s := range subfamilies {
		options = append(options, llm.Option{Code: s.Code, Name: s.Name, Description: s.Description})
	}

	family, _ := index.Entry(r.family)
	prompt, err := c.prompts.render(StageSubfamily, subfamilyPromptData{
		Document:    r.doc,
		Family:      family,
		RuleVersion: c.RuleTableVersion(),
		Hints:       c.hintsFor(r.doc, r.family),
	})
	if err != nil {
		return err
	}

	choice, err := c.reasoner.Choose(ctx, llm.ChoiceRequest{
		Stage:   StageSubfamily,
		Prompt:  prompt,
		Tier:    r.tier.Tier,
		Options: options,
	})
	if err != nil {
		return fmt.Errorf("subfamily stage: %w", err)
	}

	r.subfamily = choice.Code
	r.subfamilyConf = choice.Confidence
	r.scope = []string{r.subfamily}
	return nil
}

// hintsFor returns the steering rule hints that point inside family.
func (c *Classifier) hintsFor(doc *model.DocumentSnapshot, family string) []model.RuleHint {
	if c.rules == nil {
		return nil
	}
	var hints []model.RuleHint
	for _, h := range c.rules.Match(doc) {
		if model.FamilyOf(h.SubfamilyCode) == family {
			hints = append(hints, h)
		}
	}
	return hints
}

// retrieveScope widens the subfamily filter when the subfamily decision was
// unsure, then falls back to the whole family if nothing was found.
func (c *Classifier) retrieveScope(ctx context.Context, r *run, logger *slog.Logger) ([]model.ClassificationCandidate, error) {
	if r.subfamily != "" && r.subfamilyConf < c.cfg.SubfamilyWidenThreshold {
		adjacent := c.retriever.Index().Adjacent(r.subfamily, c.cfg.MaxAdjacent)
		if len(adjacent) > 0 {
			r.scope = append(r.scope, adjacent...)
			r.notes = append(r.notes, fmt.Sprintf("Subfamily %s chosen with confidence %.2f; search widened to %s.",
				r.subfamily, r.subfamilyConf, strings.Join(adjacent, ", ")))
			logger.Info("Widened retrieval to adjacent subfamilies",
				"stage", StageSubfamily,
				"subfamily", r.subfamily,
				"confidence", r.subfamilyConf,
				"adjacent", adjacent)
		}
	}

	candidates, err := c.retriever.Retrieve(ctx, retrieval.Request{Snapshot: r.doc, Filter: r.scope, K: c.cfg.TopK})
	if err != nil {
		return nil, fmt.Errorf("filtered retrieval: %w", err)
	}
	if len(candidates) > 0 || sameScope(r.scope, []string{r.family}) {
		return candidates, nil
	}

	logger.Info("Filtered retrieval empty, retrying at family scope", "family", r.family, "scope", r.scope)
	r.scope = []string{r.family}
	candidates, err = c.retriever.Retrieve(ctx, retrieval.Request{Snapshot: r.doc, Filter: r.scope, K: c.cfg.TopK})
	if err != nil {
		return nil, fmt.Errorf("family retrieval: %w", err)
	}
	return candidates, nil
}

func (c *Classifier) chooseAccount(ctx context.Context, r *run, candidates []model.ClassificationCandidate, broadened bool) (llm.Choice, error) {
	index := c.retriever.Index()
	options := make([]llm.Option, 0, len(candidates))
	for _, cand := range candidates {
		opt := llm.Option{Code: cand.Code, Name: cand.Name}
		if entry, ok := index.Entry(cand.Code); ok {
			opt.Description = entry.Description
		}
		options = append(options, opt)
	}

	prompt, err := c.prompts.render(StageFinal, finalPromptData{
		Document:   r.doc,
		FamilyCode: r.family,
		Scope:      r.scope,
		Broadened:  broadened,
	})
	if err != nil {
		return llm.Choice{}, err
	}

	choice, err := c.reasoner.Choose(ctx, llm.ChoiceRequest{
		Stage:        StageFinal,
		Prompt:       prompt,
		Tier:         r.tier.Tier,
		Options:      options,
		AllowNoneFit: true,
	})
	if err != nil {
		return llm.Choice{}, fmt.Errorf("final stage: %w", err)
	}
	return choice, nil
}

func (c *Classifier) failure(r *run, reason model.FailureReason, detail string) *model.Outcome {
	return &model.Outcome{
		FailureReason:    reason,
		Explanation:      explain(detail, r.notes),
		ModelTier:        r.tier.Tier,
		TierReasons:      r.tier.Reasons,
		EmbeddingVersion: c.retriever.EmbeddingVersion(),
		RuleTableVersion: c.RuleTableVersion(),
		Source:           model.SourcePipeline,
		ConfidenceFamily: r.familyConf,
	}
}

// alternatives lists the offered candidates other than the chosen code in
// retrieval order, with the service's ranking confidence where it gave one.
func alternatives(candidates []model.ClassificationCandidate, chosen string, ranking []llm.RankedOption) []model.AlternativeCandidate {
	ranked := make(map[string]float64, len(ranking))
	for _, rk := range ranking {
		ranked[rk.Code] = rk.Confidence
	}
	out := make([]model.AlternativeCandidate, 0, len(candidates))
	for _, cand := range candidates {
		if cand.Code == chosen {
			continue
		}
		out = append(out, model.AlternativeCandidate{
			Code:       cand.Code,
			Name:       cand.Name,
			Similarity: cand.Similarity,
			Confidence: ranked[cand.Code],
		})
	}
	return out
}

func explain(main string, notes []string) string {
	parts := make([]string, 0, len(notes)+1)
	if s := strings.TrimSpace(main); s != "" {
		parts = append(parts, s)
	}
	parts = append(parts, notes...)
	return strings.Join(parts, " ")
}

func sameScope(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
