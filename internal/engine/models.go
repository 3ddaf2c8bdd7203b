package engine

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/cache"
	"github.com/kailas-cloud/recall/internal/rerank"
)

// ScorerFactory builds a scoring model by name. Construction may be
// expensive (remote handshakes, weight loads); the pool caches the result.
type ScorerFactory func(model string) (rerank.Scorer, error)

// ModelPool keeps scoring models alive across requests. Models are loaded
// on first use and the least recently used one is released when the pool
// is full. Models that implement io.Closer are closed on the way out.
type ModelPool struct {
	cache   *cache.ResourceCache[string, rerank.Scorer]
	factory ScorerFactory
}

// NewModelPool creates a pool holding at most capacity loaded models.
func NewModelPool(capacity int, factory ScorerFactory, logger *zap.Logger) (*ModelPool, error) {
	rc, err := cache.NewResourceCache(capacity, closeScorer, logger)
	if err != nil {
		return nil, err
	}
	return &ModelPool{cache: rc, factory: factory}, nil
}

func closeScorer(_ string, s rerank.Scorer) error {
	if closer, ok := s.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Scorer returns a pool-backed scorer for model. The underlying model is
// resolved through the pool on every call, so it survives eviction and
// reload transparently.
func (p *ModelPool) Scorer(model string) rerank.Scorer {
	return &pooledScorer{pool: p, model: model}
}

// Stats reports pool activity.
func (p *ModelPool) Stats() cache.ResourceStats {
	return p.cache.Stats()
}

// Close releases every loaded model.
func (p *ModelPool) Close() {
	p.cache.Clear()
}

func (p *ModelPool) acquire(model string) (rerank.Scorer, error) {
	return p.cache.GetOrLoad(model, func() (rerank.Scorer, error) {
		return p.factory(model)
	})
}

// pooledScorer defers model loading to the pool on each use.
type pooledScorer struct {
	pool  *ModelPool
	model string
}

func (s *pooledScorer) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	scorer, err := s.pool.acquire(s.model)
	if err != nil {
		return nil, err
	}
	return scorer.Score(ctx, query, documents)
}

func (s *pooledScorer) Model() string { return s.model }
