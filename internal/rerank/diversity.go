package rerank

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/kailas-cloud/recall/internal/domain"
)

// Diversity re-orders results by maximal marginal relevance: each step
// selects the candidate maximizing
//
//	(1-d) * relevance  -  d * maxSimilarityToSelected
//
// d=0 keeps the pure relevance order, d=1 maximizes diversity. Selection
// is deterministic: candidates are visited in input order and score ties
// break by ascending document id.
type Diversity struct {
	diversity float64
}

// NewDiversity creates an MMR reranker. diversity must be in [0,1].
func NewDiversity(diversity float64) (*Diversity, error) {
	if diversity < 0 || diversity > 1 {
		return nil, fmt.Errorf("%w: diversity must be in [0,1], got %g", domain.ErrInvalidArgument, diversity)
	}
	return &Diversity{diversity: diversity}, nil
}

// Rerank implements Reranker.
func (d *Diversity) Rerank(
	_ context.Context, _ string, results []domain.SearchResult, topK int,
) ([]domain.SearchResult, error) {
	if len(results) <= 1 {
		return results, nil
	}

	limit := min(topK, len(results))
	selected := make([]domain.SearchResult, 0, limit)
	remaining := make([]domain.SearchResult, len(results))
	copy(remaining, results)

	for len(selected) < limit {
		bestIdx := -1
		bestScore := math.Inf(-1)

		for i, cand := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if sim := similarity(cand, s); sim > maxSim {
					maxSim = sim
				}
			}
			score := (1-d.diversity)*priorScore(cand) - d.diversity*maxSim

			if score > bestScore ||
				(score == bestScore && bestIdx >= 0 && cand.ID < remaining[bestIdx].ID) {
				bestScore = score
				bestIdx = i
			}
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected, nil
}

// Info implements Reranker.
func (d *Diversity) Info() Info {
	return Info{Stage: "diversity", Model: "mmr"}
}

// similarity compares two results: cosine over embeddings when both carry
// one, token-set Jaccard over content otherwise.
func similarity(a, b domain.SearchResult) float64 {
	if len(a.Vector) > 0 && len(a.Vector) == len(b.Vector) {
		return cosine(a.Vector, b.Vector)
	}
	return jaccard(a.Content, b.Content)
}

func cosine(a, b []float32) float64 {
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

func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(setA)+len(setB)-inter)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = struct{}{}
	}
	return set
}
