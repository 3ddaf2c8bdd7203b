package rerank

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/metrics"
)

// Pipeline composes rerankers in order. A failing stage is logged and
// skipped; the best results obtained so far carry on to the next stage.
// Final score and dense rank are assigned once, after the last stage.
type Pipeline struct {
	stages []Reranker
	logger *zap.Logger
}

// NewPipeline creates a pipeline. A pipeline with no stages passes
// results through untouched (apart from final rank assignment).
func NewPipeline(logger *zap.Logger, stages ...Reranker) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{stages: stages, logger: logger}
}

// Rerank runs every stage and returns the final ranking plus the names of
// stages that failed and were skipped.
func (p *Pipeline) Rerank(
	ctx context.Context, query string, results []domain.SearchResult, topK int,
) (out []domain.SearchResult, degraded []string) {
	out = results

	for _, stage := range p.stages {
		info := stage.Info()
		start := time.Now()

		next, err := stage.Rerank(ctx, query, out, topK)

		metrics.RerankStageDuration.WithLabelValues(info.Stage).Observe(time.Since(start).Seconds())

		if err != nil {
			degraded = append(degraded, info.Stage)
			p.logger.Warn("reranking stage failed, skipping",
				zap.String("stage", info.Stage),
				zap.String("model", info.Model),
				zap.Error(err),
			)
			continue
		}

		metrics.RerankScoreDelta.WithLabelValues(info.Stage).Observe(meanScoreDelta(out, next))
		out = next
	}

	domain.AssignRanks(out, priorScore)
	return out, degraded
}

// Stages reports the composed stage descriptors.
func (p *Pipeline) Stages() []Info {
	infos := make([]Info, len(p.stages))
	for i, s := range p.stages {
		infos[i] = s.Info()
	}
	return infos
}

// meanScoreDelta measures how much a stage moved the scores of documents
// surviving it.
func meanScoreDelta(before, after []domain.SearchResult) float64 {
	if len(after) == 0 {
		return 0
	}
	prior := make(map[string]float64, len(before))
	for _, r := range before {
		prior[r.ID] = priorScore(r)
	}
	var sum float64
	for _, r := range after {
		sum += math.Abs(priorScore(r) - prior[r.ID])
	}
	return sum / float64(len(after))
}
