// Package engine orchestrates one retrieval request: query cache lookup,
// backend search under the retry policy on a miss, reranking, cache
// store. One Engine instance owns its caches; construct one per process
// (or per test) and pass it by reference, there is no ambient state.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/backend"
	"github.com/kailas-cloud/recall/internal/cache"
	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/metrics"
	"github.com/kailas-cloud/recall/internal/retry"
)

// Embedder vectorizes query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Pipeline re-ranks raw backend results, reporting skipped stages.
type Pipeline interface {
	Rerank(ctx context.Context, query string, results []domain.SearchResult, topK int) ([]domain.SearchResult, []string)
}

// Config holds engine settings.
type Config struct {
	CacheCapacity int
	Logger        *zap.Logger
}

// cachedResults is one query cache entry. The degraded-stage list travels
// with the results so a hit replays the degradation note for as long as
// the never-reranked results are served.
type cachedResults struct {
	results  []domain.SearchResult
	degraded []string
}

// Engine is the retrieval orchestrator.
type Engine struct {
	backend  backend.Backend
	embedder Embedder
	pipeline Pipeline
	policy   *retry.Policy
	results  *cache.LRU[string, cachedResults]
	logger   *zap.Logger

	queryCount  atomic.Uint64
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	lastAccess  atomic.Int64 // unix nanos
}

// New creates an engine.
func New(be backend.Backend, embedder Embedder, pipeline Pipeline, policy *retry.Policy, cfg Config) (*Engine, error) {
	results, err := cache.NewLRU[string, cachedResults](cfg.CacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		backend:  be,
		embedder: embedder,
		pipeline: pipeline,
		policy:   policy,
		results:  results,
		logger:   logger,
	}
	e.lastAccess.Store(time.Now().UnixNano())
	return e, nil
}

// Query serves one retrieval request. It returns cached results when
// available; otherwise it queries the backend under the retry policy,
// re-ranks, caches, and returns. Reranking failures degrade the response
// (noted in Response.Degraded), they never fail the query.
func (e *Engine) Query(ctx context.Context, q domain.Query) (domain.Response, error) {
	start := time.Now()

	if err := q.Validate(); err != nil {
		metrics.QueriesTotal.WithLabelValues(string(q.Mode), "invalid").Inc()
		return domain.Response{}, err
	}

	e.queryCount.Add(1)
	e.lastAccess.Store(start.UnixNano())

	key := cacheKey(q)
	if entry, ok := e.results.Get(key); ok {
		e.cacheHits.Add(1)
		metrics.QueryCacheTotal.WithLabelValues("hit").Inc()
		metrics.QueriesTotal.WithLabelValues(string(q.Mode), "success").Inc()
		metrics.QueryDuration.WithLabelValues(string(q.Mode)).Observe(time.Since(start).Seconds())
		return domain.Response{
			Results:  entry.results,
			CacheHit: true,
			Degraded: entry.degraded,
			Took:     time.Since(start),
		}, nil
	}
	e.cacheMisses.Add(1)
	metrics.QueryCacheTotal.WithLabelValues("miss").Inc()

	raw, err := e.search(ctx, q)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(string(q.Mode), "error").Inc()
		return domain.Response{}, err
	}

	ranked, degraded := e.pipeline.Rerank(ctx, q.Text, raw, q.TopK)

	e.results.Put(key, cachedResults{results: ranked, degraded: degraded})

	metrics.QueriesTotal.WithLabelValues(string(q.Mode), "success").Inc()
	metrics.QueryDuration.WithLabelValues(string(q.Mode)).Observe(time.Since(start).Seconds())
	return domain.Response{Results: ranked, Degraded: degraded, Took: time.Since(start)}, nil
}

// search runs the backend leg of a query under the retry policy.
func (e *Engine) search(ctx context.Context, q domain.Query) ([]domain.SearchResult, error) {
	var embedding []float32
	if q.Mode != domain.ModeKeyword {
		result, err := retry.Do(ctx, e.policy, "embed", func(ctx context.Context) (domain.EmbeddingResult, error) {
			return e.embedder.Embed(ctx, q.Text)
		})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		embedding = result.Embedding
	}

	return retry.Do(ctx, e.policy, "search", func(ctx context.Context) ([]domain.SearchResult, error) {
		switch q.Mode {
		case domain.ModeVector:
			return e.backend.QueryVector(ctx, embedding, q.TopK, q.Filter)
		case domain.ModeKeyword:
			return e.backend.QueryKeyword(ctx, q.Text, q.TopK, q.Filter)
		default:
			return e.backend.QueryHybrid(ctx, embedding, q.Text, q.TopK, q.Alpha, q.Filter)
		}
	})
}

// InvalidateCache drops all cached query results. The heartbeat calls
// this after a rebuild so queries see the fresh index.
func (e *Engine) InvalidateCache() {
	dropped := e.results.Len()
	e.results.Clear()
	e.logger.Debug("query cache invalidated", zap.Int("dropped", dropped))
}

// Stats returns the engine health snapshot.
func (e *Engine) Stats(ctx context.Context) (domain.EngineStats, error) {
	stats := domain.EngineStats{
		QueryCount:      e.queryCount.Load(),
		CacheHits:       e.cacheHits.Load(),
		CacheMisses:     e.cacheMisses.Load(),
		SinceLastAccess: time.Since(time.Unix(0, e.lastAccess.Load())),
	}
	if total := stats.CacheHits + stats.CacheMisses; total > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(total)
	}

	cs := e.results.Stats()
	stats.CacheSize = cs.Size
	stats.CacheCapacity = cs.Capacity

	bs, err := e.backend.Statistics(ctx)
	if err != nil {
		return stats, fmt.Errorf("backend statistics: %w", err)
	}
	stats.DocumentCount = bs.DocumentCount
	return stats, nil
}

// cacheKey hashes the canonical form of a query. Every parameter that
// affects results participates; filter keys are sorted so equal queries
// always map to the same entry.
func cacheKey(q domain.Query) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%g|%s", q.Mode, q.TopK, q.Alpha, q.Normalized())
	keys := make([]string, 0, len(q.Filter))
	for k := range q.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%s", k, q.Filter[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
