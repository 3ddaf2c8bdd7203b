package rerank

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/recall/internal/domain"
)

// mockScorer scores documents by a fixed table, or fails.
type mockScorer struct {
	scores  map[string]float64
	err     error
	batches [][]string
}

func (m *mockScorer) Score(_ context.Context, _ string, docs []string) ([]float64, error) {
	m.batches = append(m.batches, docs)
	if m.err != nil {
		return nil, m.err
	}
	out := make([]float64, len(docs))
	for i, d := range docs {
		out[i] = m.scores[d]
	}
	return out, nil
}

func (m *mockScorer) Model() string { return "mock-cross-encoder" }

// failingReranker always errors.
type failingReranker struct{}

func (failingReranker) Rerank(context.Context, string, []domain.SearchResult, int) ([]domain.SearchResult, error) {
	return nil, fmt.Errorf("%w: model offline", domain.ErrRerankUnavailable)
}

func (failingReranker) Info() Info { return Info{Stage: "relevance", Model: "offline"} }

func makeResults(n int) []domain.SearchResult {
	out := make([]domain.SearchResult, n)
	for i := range out {
		out[i] = domain.SearchResult{
			ID:      fmt.Sprintf("doc-%d", i),
			Content: fmt.Sprintf("content of document %d", i),
			Score:   1.0 - float64(i)*0.1,
		}
	}
	return out
}
