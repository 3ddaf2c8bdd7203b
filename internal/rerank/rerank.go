// Package rerank re-orders retrieval results: a relevance stage re-scores
// (query, document) pairs with an opaque scoring model, and a diversity
// stage re-orders by maximal marginal relevance. Stages compose into a
// fail-soft pipeline; reranking is a relevance enhancement, never a
// correctness requirement.
package rerank

import (
	"context"

	"github.com/kailas-cloud/recall/internal/domain"
)

// Info describes a reranker for observability. None of it affects behavior.
type Info struct {
	Stage            string
	Model            string
	SupportsBatching bool
	Accelerated      bool
}

// Reranker re-orders results for a query. Input results carry at least an
// id, content, and a prior score.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []domain.SearchResult, topK int) ([]domain.SearchResult, error)
	Info() Info
}

// Scorer is the opaque cross-query relevance model. Scores are in [0,1],
// one per document, in input order.
type Scorer interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
	Model() string
}

// priorScore returns the score of the latest stage a result passed
// through. RerankScore can legitimately be zero, so the relevance stage
// is detected by flag; fused scores are strictly positive when set.
func priorScore(r domain.SearchResult) float64 {
	switch {
	case r.Reranked:
		return r.RerankScore
	case r.FusedScore != 0:
		return r.FusedScore
	default:
		return r.Score
	}
}
