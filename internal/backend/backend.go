// Package backend defines the retrieval backend contract the engine
// drives: vector, keyword, and hybrid query over an external store, plus
// document mutation and health reporting. Implementations must be safe
// for concurrent use.
package backend

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/recall/internal/domain"
)

// Document is one indexable unit.
type Document struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]string
}

// Statistics describes the state of the underlying index.
type Statistics struct {
	IndexName     string
	DocumentCount int
	VectorDim     int
}

// Backend is the contract over an external vector/keyword store.
// Every method except Close may block on I/O and must surface transient
// failures as errors classifiable by the retry policy. Calling any method
// after Close returns domain.ErrBackendClosed.
type Backend interface {
	AddDocuments(ctx context.Context, docs []Document) error
	// QueryVector runs KNN similarity search, ranked by descending score.
	QueryVector(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]domain.SearchResult, error)
	// QueryKeyword runs BM25 text search, ranked by descending score.
	QueryKeyword(ctx context.Context, text string, topK int, filter map[string]string) ([]domain.SearchResult, error)
	// QueryHybrid fuses vector and keyword rankings. alpha in [0,1] weights
	// the vector contribution; out-of-range alpha is a caller error.
	QueryHybrid(ctx context.Context, embedding []float32, text string, topK int, alpha float64, filter map[string]string) ([]domain.SearchResult, error)
	// DeleteDocuments removes documents by id and/or metadata filter and
	// returns the number removed. At least one selector is required.
	DeleteDocuments(ctx context.Context, ids []string, filter map[string]string) (int, error)
	Statistics(ctx context.Context) (Statistics, error)
	Health(ctx context.Context) error
	Close() error
}

// ValidateAlpha rejects hybrid weights outside [0,1].
func ValidateAlpha(alpha float64) error {
	if alpha < 0 || alpha > 1 {
		return fmt.Errorf("%w: alpha must be in [0,1], got %g", domain.ErrInvalidArgument, alpha)
	}
	return nil
}

// ValidateDeleteSelector rejects delete calls with neither ids nor filter.
func ValidateDeleteSelector(ids []string, filter map[string]string) error {
	if len(ids) == 0 && len(filter) == 0 {
		return fmt.Errorf("%w: delete requires ids or a filter", domain.ErrInvalidArgument)
	}
	return nil
}
