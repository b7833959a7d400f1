package llm

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledgerline/internal/common"
	"github.com/Veraticus/ledgerline/internal/model"
)

// scriptedClient replays responses in order and records requests.
type scriptedClient struct {
	replies  []scriptedReply
	requests []CompletionRequest
	mu       sync.Mutex
}

type scriptedReply struct {
	err  error
	text string
}

func (s *scriptedClient) Complete(_ context.Context, req CompletionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.requests) > len(s.replies) {
		return "", assert.AnError
	}
	r := s.replies[len(s.requests)-1]
	return r.text, r.err
}

func (s *scriptedClient) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestReasoner(client Client) *Reasoner {
	return NewReasoner(client, Config{
		RateLimit:   6000,
		RetryDelays: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
	}, nil)
}

const validReply = `{"choice":"602.84","confidence":0.88,"rationale":"warehouse storage","none_fit":false}`

func rateLimited() error {
	return &common.TransientServiceError{StatusCode: http.StatusTooManyRequests, Err: common.ErrRateLimit}
}

func TestReasonerChoose(t *testing.T) {
	tests := []struct {
		name      string
		replies   []scriptedReply
		wantCode  string
		wantCalls int
		wantErr   error
	}{
		{
			name:      "first reply accepted",
			replies:   []scriptedReply{{text: validReply}},
			wantCode:  "602.84",
			wantCalls: 1,
		},
		{
			name: "out of set reply retried once",
			replies: []scriptedReply{
				{text: `{"choice":"999","confidence":0.9,"rationale":"x","none_fit":false}`},
				{text: validReply},
			},
			wantCode:  "602.84",
			wantCalls: 2,
		},
		{
			name: "second out of set reply fails",
			replies: []scriptedReply{
				{text: `{"choice":"999","confidence":0.9,"rationale":"x","none_fit":false}`},
				{text: `{"choice":"998","confidence":0.9,"rationale":"x","none_fit":false}`},
			},
			wantCalls: 2,
			wantErr:   common.ErrInvalidChoice,
		},
		{
			name: "rate limit backs off then succeeds",
			replies: []scriptedReply{
				{err: rateLimited()},
				{err: rateLimited()},
				{text: validReply},
			},
			wantCode:  "602.84",
			wantCalls: 3,
		},
		{
			name: "rate limit exhausts schedule",
			replies: []scriptedReply{
				{err: rateLimited()},
				{err: rateLimited()},
				{err: rateLimited()},
				{err: rateLimited()},
			},
			wantCalls: 4,
			wantErr:   common.ErrServiceUnavailable,
		},
		{
			name:      "other errors fail immediately",
			replies:   []scriptedReply{{err: assert.AnError}},
			wantCalls: 1,
			wantErr:   assert.AnError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &scriptedClient{replies: tt.replies}
			r := newTestReasoner(client)
			defer func() { _ = r.Close() }()

			choice, err := r.Choose(context.Background(), ChoiceRequest{
				Stage:   "final",
				Prompt:  "Classify the document.",
				Tier:    model.TierFast,
				Options: testOptions,
			})

			assert.Equal(t, tt.wantCalls, client.calls())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, choice.Code)
		})
	}
}

func TestReasonerModelForTier(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{{text: validReply}, {text: validReply}}}
	r := NewReasoner(client, Config{Provider: "openai", AccurateModel: "big"}, nil)
	defer func() { _ = r.Close() }()

	assert.Equal(t, "gpt-4o-mini", r.ModelFor(model.TierFast))
	assert.Equal(t, "big", r.ModelFor(model.TierAccurate))

	choice, err := r.Choose(context.Background(), ChoiceRequest{Stage: "family", Tier: model.TierAccurate, Options: testOptions})
	require.NoError(t, err)
	assert.Equal(t, "big", choice.Model)
	assert.Equal(t, "big", client.requests[0].Model)
	assert.True(t, client.requests[0].JSON)
	assert.Contains(t, client.requests[0].Prompt, "602.84 | Otros gastos de administración")
}

func TestReasonerRejectsEmptyOptions(t *testing.T) {
	client := &scriptedClient{}
	r := newTestReasoner(client)
	defer func() { _ = r.Close() }()

	_, err := r.Choose(context.Background(), ChoiceRequest{Stage: "final"})
	require.Error(t, err)
	assert.Equal(t, 0, client.calls())
}

func TestBuildChoicePromptNoneFit(t *testing.T) {
	without := buildChoicePrompt(ChoiceRequest{Prompt: "p", Options: testOptions})
	with := buildChoicePrompt(ChoiceRequest{Prompt: "p", Options: testOptions, AllowNoneFit: true})

	assert.NotContains(t, without, "none_fit\": true")
	assert.Contains(t, with, "none_fit\": true")
}
