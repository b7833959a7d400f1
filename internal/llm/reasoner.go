package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
)

// maxContractAttempts allows one retry after an out-of-set or malformed reply.
const maxContractAttempts = 2

const systemPrompt = "You are an accounting classifier for a chart of accounts. " +
	"You answer only by choosing from the options you are given. " +
	"Respond with a single JSON object and nothing else."

// ChoiceRequest is one bounded choose-one question.
type ChoiceRequest struct {
	Stage        string
	Prompt       string
	Tier         model.ModelTier
	Options      []Option
	AllowNoneFit bool
}

// Reasoner asks the reasoning service to choose among a closed option set.
type Reasoner struct {
	client        Client
	limiter       *rateLimiter
	logger        *slog.Logger
	fastModel     string
	accurateModel string
	retryDelays   []time.Duration
}

// NewReasoner wraps a provider client with rate limiting, transient backoff
// and contract validation.
func NewReasoner(client Client, cfg Config, logger *slog.Logger) *Reasoner {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Reasoner{
		client:        client,
		limiter:       newRateLimiter(cfg.RateLimit),
		logger:        logger,
		fastModel:     cfg.FastModel,
		accurateModel: cfg.AccurateModel,
		retryDelays:   cfg.RetryDelays,
	}
}

// ModelFor returns the model name used for a tier.
func (r *Reasoner) ModelFor(tier model.ModelTier) string {
	if tier == model.TierAccurate {
		return r.accurateModel
	}
	return r.fastModel
}

// Choose sends the question and returns a validated choice. A reply outside
// the offered set is rejected and asked again once; rate-limit and overload
// errors are retried on the backoff schedule.
func (r *Reasoner) Choose(ctx context.Context, req ChoiceRequest) (Choice, error) {
	if len(req.Options) == 0 {
		return Choice{}, fmt.Errorf("no options offered for stage %s", req.Stage)
	}

	modelName := r.ModelFor(req.Tier)
	prompt := buildChoicePrompt(req)

	var lastErr error
	for attempt := 1; attempt <= maxContractAttempts; attempt++ {
		raw, err := r.complete(ctx, CompletionRequest{
			System: systemPrompt,
			Prompt: prompt,
			Model:  modelName,
			JSON:   true,
		})
		if err != nil {
			return Choice{}, err
		}

		choice, err := ParseChoice(raw, req.Options, req.AllowNoneFit)
		if err == nil {
			choice.Model = modelName
			return choice, nil
		}
		if !errors.Is(err, common.ErrInvalidChoice) && !errors.Is(err, ErrInvalidResponse) {
			return Choice{}, err
		}

		r.logger.Warn("Rejected reasoning reply",
			"stage", req.Stage,
			"tier", req.Tier,
			"attempt", attempt,
			"error", err)
		lastErr = err
		prompt = buildChoicePrompt(req) + "\n\nYour previous reply was rejected (" + err.Error() +
			"). Choose exactly one code from the options listed above."
	}

	return Choice{}, lastErr
}

func (r *Reasoner) complete(ctx context.Context, req CompletionRequest) (string, error) {
	var raw string
	err := common.RetryTransient(ctx, r.retryDelays, func(ctx context.Context) error {
		if err := r.limiter.wait(ctx); err != nil {
			return err
		}
		out, err := r.client.Complete(ctx, req)
		if err != nil {
			return err
		}
		raw = out
		return nil
	})
	if err != nil {
		if common.IsTransient(err) {
			return "", fmt.Errorf("%w: %w", common.ErrServiceUnavailable, err)
		}
		return "", err
	}
	return raw, nil
}

// Close releases the provider client.
func (r *Reasoner) Close() error {
	if closer, ok := r.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func buildChoicePrompt(req ChoiceRequest) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(req.Prompt))
	sb.WriteString("\n\nOPTIONS (code | name | description):\n")
	for _, o := range req.Options {
		sb.WriteString("- ")
		sb.WriteString(o.Code)
		sb.WriteString(" | ")
		sb.WriteString(o.Name)
		if o.Description != "" {
			sb.WriteString(" | ")
			sb.WriteString(o.Description)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nRespond with JSON of the form:\n")
	sb.WriteString(`{"choice": "<code>", "confidence": <0..1>, "rationale": "<one or two sentences>", "none_fit": false, "ranking": [{"code": "<code>", "confidence": <0..1>}]}`)
	sb.WriteString("\n\"choice\" must be one of the option codes. List up to three runner-up codes in \"ranking\".")
	if req.AllowNoneFit {
		sb.WriteString("\nIf no option fits the document, reply with \"none_fit\": true and an empty \"choice\".")
	}
	return sb.String()
}
