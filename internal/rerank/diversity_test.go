package rerank

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/kailas-cloud/recall/internal/domain"
)

func TestNewDiversity_ValidatesParameter(t *testing.T) {
	for _, d := range []float64{-0.1, 1.01} {
		if _, err := NewDiversity(d); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("diversity %g: expected ErrInvalidArgument, got %v", d, err)
		}
	}
}

func TestDiversity_ZeroKeepsRelevanceOrder(t *testing.T) {
	d, _ := NewDiversity(0)
	results := makeResults(4)

	out, err := d.Rerank(context.Background(), "q", results, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range results {
		if out[i].ID != results[i].ID {
			t.Errorf("position %d: expected %s, got %s", i, results[i].ID, out[i].ID)
		}
	}
}

func TestDiversity_Deterministic(t *testing.T) {
	d, _ := NewDiversity(0.5)
	results := []domain.SearchResult{
		{ID: "a", Content: "redis cache eviction policy", Score: 0.9},
		{ID: "b", Content: "redis cache eviction policy details", Score: 0.89},
		{ID: "c", Content: "vector search embeddings", Score: 0.85},
		{ID: "d", Content: "keyword ranking bm25", Score: 0.8},
	}

	first, err := d.Rerank(context.Background(), "q", results, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := d.Rerank(context.Background(), "q", results, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs must yield identical ordering")
	}
}

func TestDiversity_PenalizesNearDuplicates(t *testing.T) {
	d, _ := NewDiversity(0.7)
	results := []domain.SearchResult{
		{ID: "a", Content: "go concurrency patterns with channels", Score: 0.95},
		{ID: "a2", Content: "go concurrency patterns with channels", Score: 0.94},
		{ID: "b", Content: "postgres index tuning", Score: 0.70},
	}

	out, err := d.Rerank(context.Background(), "q", results, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].ID != "a" {
		t.Fatalf("most relevant must be selected first, got %s", out[0].ID)
	}
	if out[1].ID != "b" {
		t.Errorf("duplicate of the first pick should be deferred, got %s", out[1].ID)
	}
}

func TestDiversity_UsesVectorsWhenPresent(t *testing.T) {
	d, _ := NewDiversity(0.6)
	results := []domain.SearchResult{
		{ID: "a", Vector: []float32{1, 0}, Score: 0.9},
		{ID: "a2", Vector: []float32{1, 0.01}, Score: 0.89},
		{ID: "b", Vector: []float32{0, 1}, Score: 0.6},
	}

	out, err := d.Rerank(context.Background(), "q", results, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[1].ID != "b" {
		t.Errorf("orthogonal vector should beat a near-duplicate, got %s", out[1].ID)
	}
}

func TestDiversity_TruncatesToTopK(t *testing.T) {
	d, _ := NewDiversity(0.3)
	out, err := d.Rerank(context.Background(), "q", makeResults(6), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("expected 2 results, got %d", len(out))
	}
}
