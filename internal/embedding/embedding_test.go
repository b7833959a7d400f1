package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/ledgerline/internal/common"
)

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	h := NewHashEmbedder(0)
	assert.Equal(t, "hash-256-v1", h.Version())

	vecs, err := h.Embed(ctx, []string{
		"Tarifas de almacenamiento Amazon",
		"tarifas  de ALMACENAMIENTO amazon!",
		"Licencia anual de software ERP",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Len(t, vecs[0], DefaultHashDimensions)

	assert.InDelta(t, 1.0, Cosine(vecs[0], vecs[1]), 1e-6, "normalization makes these identical")
	assert.Less(t, Cosine(vecs[0], vecs[2]), 0.5)

	again, err := h.Embed(ctx, []string{"Tarifas de almacenamiento Amazon"})
	require.NoError(t, err)
	assert.Equal(t, vecs[0], again[0])
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}))
	assert.Zero(t, Cosine(nil, nil))
}

type countingEmbedder struct {
	calls atomic.Int32
	texts atomic.Int32
}

func (c *countingEmbedder) Version() string { return "count-v1" }

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	c.texts.Add(int32(len(texts)))
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text))}
	}
	return out, nil
}

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	cache := NewCachedEmbedder(inner, time.Minute)
	defer func() { _ = cache.Close() }()

	first, err := cache.Embed(ctx, []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, first)

	second, err := cache.Embed(ctx, []string{"bb", "ccc", "a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2}, {3}, {1}}, second)

	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, int32(3), inner.texts.Load(), "only the uncached text is embedded again")
	assert.Equal(t, 3, cache.Len())
	assert.Equal(t, "count-v1", cache.Version())

	_, err = cache.Embed(ctx, []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestOpenAIEmbedder(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantTransient bool
		wantErr       bool
	}{
		{
			name:   "success out of order",
			status: http.StatusOK,
			body:   `{"data":[{"index":1,"embedding":[0.2]},{"index":0,"embedding":[0.1]}]}`,
		},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, wantErr: true, wantTransient: true},
		{name: "bad request", status: http.StatusBadRequest, body: `{}`, wantErr: true},
		{name: "count mismatch", status: http.StatusOK, body: `{"data":[]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
				var req map[string]any
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, DefaultOpenAIModel, req["model"])
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			e, err := NewOpenAIEmbedder("test-key", "", "")
			require.NoError(t, err)
			e.endpoint = server.URL

			vecs, err := e.Embed(context.Background(), []string{"a", "b"})
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantTransient, common.IsTransient(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, [][]float32{{0.1}, {0.2}}, vecs)
		})
	}
}

func TestNew(t *testing.T) {
	e, err := New(context.Background(), Config{Provider: "hash"})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()
	assert.Equal(t, "hash-256-v1", e.Version())

	_, err = New(context.Background(), Config{Provider: "word2vec"})
	require.Error(t, err)

	t.Setenv("OPENAI_API_KEY", "")
	_, err = New(context.Background(), Config{Provider: "openai"})
	require.Error(t, err)
}
