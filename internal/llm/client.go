package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Veraticus/ledgerline/internal/common"
)

// Client defines the interface for reasoning providers.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is one prompt sent to a provider.
type CompletionRequest struct {
	System string
	Prompt string
	Model  string
	// JSON asks providers that support it to constrain output to JSON.
	JSON bool
}

// statusOverloaded is Anthropic's non-standard overload status.
const statusOverloaded = 529

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// checkStatus maps a provider HTTP status to an error. Rate-limit and
// overload responses become transient errors; everything else non-200 is
// returned as a plain error and never retried.
func checkStatus(provider string, status int, body []byte) error {
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, statusOverloaded:
		return &common.TransientServiceError{
			StatusCode: status,
			Err:        fmt.Errorf("%w: %s: %s", common.ErrRateLimit, provider, string(body)),
		}
	default:
		return fmt.Errorf("%s API error (status %d): %s", provider, status, string(body))
	}
}
