package rerank

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestPipeline_AssignsFinalRanks(t *testing.T) {
	p := NewPipeline(zap.NewNop())

	out, degraded := p.Rerank(context.Background(), "q", makeResults(3), 10)
	if len(degraded) != 0 {
		t.Fatalf("unexpected degradation: %v", degraded)
	}
	for i, r := range out {
		if r.Rank != i+1 {
			t.Errorf("expected dense rank %d, got %d", i+1, r.Rank)
		}
		if r.FinalScore != r.Score {
			t.Errorf("final score should mirror the last stage score, got %g vs %g", r.FinalScore, r.Score)
		}
	}
}

func TestPipeline_RelevanceThenDiversity(t *testing.T) {
	results := makeResults(3)
	scorer := &mockScorer{scores: map[string]float64{
		results[0].Content: 0.1,
		results[1].Content: 0.9,
		results[2].Content: 0.5,
	}}
	div, _ := NewDiversity(0)
	p := NewPipeline(zap.NewNop(), NewRelevance(scorer, 0), div)

	out, degraded := p.Rerank(context.Background(), "q", results, 10)
	if len(degraded) != 0 {
		t.Fatalf("unexpected degradation: %v", degraded)
	}
	if out[0].ID != "doc-1" {
		t.Errorf("expected doc-1 first after relevance feed, got %s", out[0].ID)
	}
	if out[0].FinalScore != 0.9 || out[0].Rank != 1 {
		t.Errorf("unexpected final score/rank: %g / %d", out[0].FinalScore, out[0].Rank)
	}
}

func TestPipeline_ZeroRerankScoreIsFinal(t *testing.T) {
	results := makeResults(2)
	// doc-1 carries a high fused score but the scoring model rates it at
	// the floor; the zero must stand as its final score, not fall back.
	results[1].FusedScore = 0.9
	scorer := &mockScorer{scores: map[string]float64{
		results[0].Content: 0.7,
		results[1].Content: -0.3, // clamps to 0
	}}
	p := NewPipeline(zap.NewNop(), NewRelevance(scorer, 0))

	out, degraded := p.Rerank(context.Background(), "q", results, 10)
	if len(degraded) != 0 {
		t.Fatalf("unexpected degradation: %v", degraded)
	}
	if out[1].ID != "doc-1" {
		t.Fatalf("expected zero-scored doc-1 last, got %s", out[1].ID)
	}
	if out[1].FinalScore != 0 {
		t.Errorf("final score = %g, want 0 (fused score must not leak through)", out[1].FinalScore)
	}
}

func TestPipeline_FailSoftSkipsStage(t *testing.T) {
	div, _ := NewDiversity(0)
	p := NewPipeline(zap.NewNop(), failingReranker{}, div)

	results := makeResults(3)
	out, degraded := p.Rerank(context.Background(), "q", results, 10)

	if len(degraded) != 1 || degraded[0] != "relevance" {
		t.Fatalf("expected relevance stage degraded, got %v", degraded)
	}
	if len(out) != 3 {
		t.Fatalf("expected prior results to survive, got %d", len(out))
	}
	// Order falls back to the raw scores; ranks still assigned.
	for i, r := range out {
		if r.ID != results[i].ID {
			t.Errorf("position %d: expected %s, got %s", i, results[i].ID, r.ID)
		}
		if r.Rank != i+1 {
			t.Errorf("expected rank %d, got %d", i+1, r.Rank)
		}
	}
}

func TestPipeline_AllStagesFailStillReturnsResults(t *testing.T) {
	p := NewPipeline(zap.NewNop(), failingReranker{}, failingReranker{})

	out, degraded := p.Rerank(context.Background(), "q", makeResults(2), 10)
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if len(degraded) != 2 {
		t.Errorf("expected both stages reported degraded, got %v", degraded)
	}
}

func TestPipeline_Stages(t *testing.T) {
	div, _ := NewDiversity(0.4)
	p := NewPipeline(zap.NewNop(), NewRelevance(&mockScorer{}, 0), div)

	infos := p.Stages()
	if len(infos) != 2 || infos[0].Stage != "relevance" || infos[1].Stage != "diversity" {
		t.Errorf("unexpected stages: %+v", infos)
	}
}
