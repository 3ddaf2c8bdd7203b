package domain

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	// ModeVector is pure KNN similarity search.
	ModeVector Mode = "vector"
	// ModeKeyword is pure BM25 text search.
	ModeKeyword Mode = "keyword"
	// ModeHybrid fuses vector and keyword rankings.
	ModeHybrid Mode = "hybrid"
)

// Query is one retrieval request into the engine.
type Query struct {
	Text   string
	Mode   Mode
	TopK   int
	Alpha  float64           // hybrid weighting, 1.0 = pure vector
	Filter map[string]string // exact-match metadata filter
}

// Validate checks caller-supplied parameters. Violations are permanent
// errors, never retried.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: empty query text", ErrInvalidArgument)
	}
	switch q.Mode {
	case ModeVector, ModeKeyword, ModeHybrid:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, q.Mode)
	}
	if q.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidArgument, q.TopK)
	}
	if q.Mode == ModeHybrid && (q.Alpha < 0 || q.Alpha > 1) {
		return fmt.Errorf("%w: alpha must be in [0,1], got %g", ErrInvalidArgument, q.Alpha)
	}
	return nil
}

// Normalized returns the canonical query text used for cache keying:
// lowercased, whitespace collapsed.
func (q Query) Normalized() string {
	return strings.Join(strings.Fields(strings.ToLower(q.Text)), " ")
}

// Response is what the engine hands back for one query.
type Response struct {
	Results  []SearchResult
	CacheHit bool
	// Degraded lists ranking stages that failed and were skipped.
	// Empty means every requested stage ran.
	Degraded []string
	Took     time.Duration
}

// EmbeddingResult carries a vector and the token usage that produced it.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}
