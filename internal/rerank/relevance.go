package rerank

import (
	"context"
	"fmt"
	"sort"

	"github.com/kailas-cloud/recall/internal/domain"
)

const defaultBatchSize = 32

// Relevance re-scores each (query, document) pair with the scoring model,
// batched for throughput, and orders by the new score descending.
type Relevance struct {
	scorer    Scorer
	batchSize int
}

// NewRelevance creates a relevance reranker. batchSize <= 0 uses the default.
func NewRelevance(scorer Scorer, batchSize int) *Relevance {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Relevance{scorer: scorer, batchSize: batchSize}
}

// Rerank scores all results against the query. A failed batch aborts the
// stage without touching the input: the caller keeps its prior ranking.
func (r *Relevance) Rerank(
	ctx context.Context, query string, results []domain.SearchResult, topK int,
) ([]domain.SearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}

	scores := make([]float64, 0, len(results))
	for start := 0; start < len(results); start += r.batchSize {
		end := min(start+r.batchSize, len(results))

		docs := make([]string, 0, end-start)
		for _, res := range results[start:end] {
			docs = append(docs, res.Content)
		}

		batch, err := r.scorer.Score(ctx, query, docs)
		if err != nil {
			return nil, fmt.Errorf("%w: score batch [%d:%d]: %w", domain.ErrRerankUnavailable, start, end, err)
		}
		if len(batch) != len(docs) {
			return nil, fmt.Errorf("%w: scorer returned %d scores for %d documents",
				domain.ErrRerankUnavailable, len(batch), len(docs))
		}
		scores = append(scores, batch...)
	}

	out := make([]domain.SearchResult, len(results))
	copy(out, results)
	for i := range out {
		out[i].RerankScore = clamp01(scores[i])
		out[i].Reranked = true
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RerankScore != out[j].RerankScore {
			return out[i].RerankScore > out[j].RerankScore
		}
		return out[i].ID < out[j].ID
	})

	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Info implements Reranker.
func (r *Relevance) Info() Info {
	return Info{
		Stage:            "relevance",
		Model:            r.scorer.Model(),
		SupportsBatching: true,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
