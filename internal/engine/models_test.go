package engine

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/rerank"
)

// closableScorer is a scorer whose teardown is observable.
type closableScorer struct {
	model  string
	scores int
	closed bool
}

func (s *closableScorer) Score(_ context.Context, _ string, documents []string) ([]float64, error) {
	s.scores++
	out := make([]float64, len(documents))
	for i := range out {
		out[i] = 0.5
	}
	return out, nil
}

func (s *closableScorer) Model() string { return s.model }
func (s *closableScorer) Close() error  { s.closed = true; return nil }

func TestModelPool_LoadsOnce(t *testing.T) {
	loads := 0
	pool, err := NewModelPool(2, func(model string) (rerank.Scorer, error) {
		loads++
		return &closableScorer{model: model}, nil
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewModelPool: %v", err)
	}

	scorer := pool.Scorer("bge-small")
	for range 3 {
		if _, err := scorer.Score(context.Background(), "q", []string{"d"}); err != nil {
			t.Fatalf("Score: %v", err)
		}
	}
	if loads != 1 {
		t.Errorf("model loaded %d times, want 1", loads)
	}
	if scorer.Model() != "bge-small" {
		t.Errorf("Model() = %q", scorer.Model())
	}
}

func TestModelPool_EvictionClosesModel(t *testing.T) {
	built := map[string]*closableScorer{}
	pool, err := NewModelPool(1, func(model string) (rerank.Scorer, error) {
		s := &closableScorer{model: model}
		built[model] = s
		return s, nil
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewModelPool: %v", err)
	}

	if _, err := pool.Scorer("first").Score(context.Background(), "q", []string{"d"}); err != nil {
		t.Fatalf("Score: %v", err)
	}
	if _, err := pool.Scorer("second").Score(context.Background(), "q", []string{"d"}); err != nil {
		t.Fatalf("Score: %v", err)
	}

	if !built["first"].closed {
		t.Error("evicted model must be closed")
	}
	if built["second"].closed {
		t.Error("live model must not be closed")
	}

	// Evicted model reloads transparently through the same handle.
	if _, err := pool.Scorer("first").Score(context.Background(), "q", []string{"d"}); err != nil {
		t.Fatalf("Score after eviction: %v", err)
	}
	if pool.Stats().Loads != 3 {
		t.Errorf("Loads = %d, want 3", pool.Stats().Loads)
	}
}

func TestModelPool_FactoryErrorNotCached(t *testing.T) {
	fail := true
	pool, err := NewModelPool(2, func(model string) (rerank.Scorer, error) {
		if fail {
			return nil, errors.New("weights unavailable")
		}
		return &closableScorer{model: model}, nil
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewModelPool: %v", err)
	}

	scorer := pool.Scorer("m")
	if _, err := scorer.Score(context.Background(), "q", []string{"d"}); err == nil {
		t.Fatal("expected factory error")
	}

	fail = false
	if _, err := scorer.Score(context.Background(), "q", []string{"d"}); err != nil {
		t.Fatalf("recovery after factory error: %v", err)
	}
}

func TestModelPool_CloseReleasesAll(t *testing.T) {
	built := map[string]*closableScorer{}
	pool, err := NewModelPool(4, func(model string) (rerank.Scorer, error) {
		s := &closableScorer{model: model}
		built[model] = s
		return s, nil
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewModelPool: %v", err)
	}

	for _, m := range []string{"a", "b", "c"} {
		if _, err := pool.Scorer(m).Score(context.Background(), "q", []string{"d"}); err != nil {
			t.Fatalf("Score: %v", err)
		}
	}
	pool.Close()

	for m, s := range built {
		if !s.closed {
			t.Errorf("model %s not closed", m)
		}
	}
}
