// Package retrieval turns a document snapshot into a semantic query against
// the chart of accounts.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/ledgerline/internal/catalog"
	"github.com/Veraticus/ledgerline/internal/embedding"
	"github.com/Veraticus/ledgerline/internal/model"
)

// DefaultTopK is the number of candidates returned when none is requested.
const DefaultTopK = 10

// Service retrieves candidate accounts for documents.
type Service struct {
	index    *catalog.Index
	embedder embedding.Embedder
	logger   *slog.Logger
	topK     int
}

// Option configures a Service.
type Option func(*Service)

// WithTopK sets the default number of candidates.
func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a retrieval service over index.
func New(index *catalog.Index, embedder embedding.Embedder, opts ...Option) *Service {
	s := &Service{
		index:    index,
		embedder: embedder,
		topK:     DefaultTopK,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Index returns the catalog the service searches.
func (s *Service) Index() *catalog.Index {
	return s.index
}

// EmbeddingVersion is the version of the vectors this service compares.
func (s *Service) EmbeddingVersion() string {
	return s.embedder.Version()
}

// Request is one retrieval.
type Request struct {
	Snapshot *model.DocumentSnapshot
	// Filter lists permitted family or subfamily codes; empty searches the
	// whole catalog.
	Filter []string
	K      int
}

// Retrieve returns the top-K accounts most similar to the snapshot. An empty
// slice means no candidates and is not an error.
func (s *Service) Retrieve(ctx context.Context, req Request) ([]model.ClassificationCandidate, error) {
	if req.Snapshot == nil {
		return nil, fmt.Errorf("retrieval: nil snapshot")
	}

	k := req.K
	if k <= 0 {
		k = s.topK
	}

	vector, err := embedding.EmbedOne(ctx, s.embedder, QueryText(req.Snapshot))
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	candidates := s.index.Nearest(catalog.Query{
		Vector:   vector,
		Version:  s.embedder.Version(),
		Prefixes: req.Filter,
		K:        k,
	})

	s.logger.Debug("Retrieved candidates",
		"document_id", req.Snapshot.DocumentID,
		"filter", req.Filter,
		"count", len(candidates))

	return candidates, nil
}

// QueryText builds the text embedded for a snapshot. The amount and the
// product/service code are appended as hints.
func QueryText(d *model.DocumentSnapshot) string {
	parts := []string{strings.TrimSpace(d.Description)}
	if name := strings.TrimSpace(d.CounterpartyName); name != "" {
		parts = append(parts, "proveedor: "+name)
	}
	if code := strings.TrimSpace(d.ProductServiceCode); code != "" {
		parts = append(parts, "clave producto/servicio: "+code)
	}
	if !d.Amount.IsZero() {
		amount := "importe: " + d.Amount.StringFixed(2)
		if d.Currency != "" {
			amount += " " + d.Currency
		}
		parts = append(parts, amount)
	}
	return strings.Join(parts, "; ")
}
