package backend

import (
	"sort"

	"github.com/kailas-cloud/recall/internal/domain"
)

// rrfK is the Reciprocal Rank Fusion constant (standard value from Cormack et al. 2009).
const rrfK = 60

// FuseRRF merges vector and keyword rankings via alpha-weighted Reciprocal
// Rank Fusion:
//
//	fused(d) = alpha * 1/(k + rank_vec(d)) + (1-alpha) * 1/(k + rank_kw(d))
//
// A document absent from a list contributes 0 for that list. At the
// extremes (alpha 0 or 1) documents unique to the zero-weighted list are
// still returned, with fused score 0, after every weighted document:
// pure-vector and pure-keyword requests keep the other leg's hits as a
// zero-scored tail rather than dropping them. The formula is strictly
// monotonic in each input rank for any fixed alpha, so a document can
// never lose fused rank by moving up in either input list. When a
// document appears in both lists the vector-side payload is kept (it may
// carry the embedding). Ties break by ascending document id, so fusion
// is deterministic for identical inputs.
func FuseRRF(vector, keyword []domain.SearchResult, topK int, alpha float64) []domain.SearchResult {
	type scored struct {
		res   domain.SearchResult
		score float64
	}

	merged := make(map[string]*scored, len(vector)+len(keyword))

	for rank, r := range vector {
		merged[r.ID] = &scored{res: r, score: alpha / float64(rrfK+rank+1)}
	}

	for rank, r := range keyword {
		s := (1 - alpha) / float64(rrfK+rank+1)
		if existing, ok := merged[r.ID]; ok {
			existing.score += s
		} else {
			merged[r.ID] = &scored{res: r, score: s}
		}
	}

	results := make([]domain.SearchResult, 0, len(merged))
	for _, s := range merged {
		r := s.res
		r.FusedScore = s.score
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}
