package domain

// SearchResult is a single retrieval hit as it moves through the ranking
// stages. Score is the raw backend score (cosine similarity or BM25),
// FusedScore is set by hybrid fusion, RerankScore by the relevance reranker
// (Reranked distinguishes a legitimate zero score from a stage that never
// ran). FinalScore and Rank are assigned once, after the last ranking stage.
type SearchResult struct {
	ID          string
	Content     string
	Score       float64
	FusedScore  float64
	RerankScore float64
	Reranked    bool
	FinalScore  float64
	Rank        int
	Metadata    map[string]string
	Vector      []float32
}

// AssignRanks sets FinalScore from the given score of each result and
// numbers results densely starting at 1. Results must already be sorted.
func AssignRanks(results []SearchResult, score func(SearchResult) float64) {
	for i := range results {
		results[i].FinalScore = score(results[i])
		results[i].Rank = i + 1
	}
}
