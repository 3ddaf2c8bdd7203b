package openai

import (
	"context"
	"fmt"
	"math"
)

// Scorer implements rerank.Scorer over an OpenAI-compatible embedding
// endpoint: each (query, document) pair is scored by embedding cosine,
// mapped into [0,1]. A cross-encoder endpoint exposing the same batch
// contract drops in behind the rerank.Scorer interface unchanged.
type Scorer struct {
	embedder *Embedder
	model    string
}

// NewScorer creates a relevance scorer backed by the given embedder.
func NewScorer(embedder *Embedder, model string) *Scorer {
	return &Scorer{embedder: embedder, model: model}
}

// Score scores documents against the query in one batched request.
// The query is embedded alongside the documents so a batch costs a
// single round-trip.
func (s *Scorer) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	inputs := make([]string, 0, len(documents)+1)
	inputs = append(inputs, query)
	inputs = append(inputs, documents...)

	vectors, err := s.embedder.EmbedBatch(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("score batch: %w", err)
	}

	queryVec := vectors[0]
	scores := make([]float64, len(documents))
	for i, docVec := range vectors[1:] {
		// cosine in [-1,1] → [0,1]
		scores[i] = (cosine(queryVec, docVec) + 1) / 2
	}
	return scores, nil
}

// Model returns the scorer's model identifier.
func (s *Scorer) Model() string { return s.model }

// Close releases the scorer. The HTTP client holds no pinned resources,
// so this is a no-op hook for the resource cache.
func (s *Scorer) Close() error { return nil }

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
