package backend

import (
	"errors"
	"testing"

	"github.com/kailas-cloud/recall/internal/domain"
)

func res(id string, score float64) domain.SearchResult {
	return domain.SearchResult{ID: id, Score: score, Content: "doc " + id}
}

func rankOf(t *testing.T, results []domain.SearchResult, id string) int {
	t.Helper()
	for i, r := range results {
		if r.ID == id {
			return i
		}
	}
	t.Fatalf("document %s missing from fused results", id)
	return -1
}

func TestFuseRRF_Monotonicity(t *testing.T) {
	// A above B in both input rankings must keep A above B for any alpha.
	vector := []domain.SearchResult{res("a", 0.95), res("b", 0.90), res("c", 0.80)}
	keyword := []domain.SearchResult{res("a", 12.0), res("b", 8.0), res("d", 3.0)}

	for _, alpha := range []float64{0.1, 0.25, 0.5, 0.75, 0.9} {
		fused := FuseRRF(vector, keyword, 10, alpha)
		if rankOf(t, fused, "a") >= rankOf(t, fused, "b") {
			t.Errorf("alpha=%g: a must rank above b", alpha)
		}
	}
}

func TestFuseRRF_AlphaExtremes(t *testing.T) {
	vector := []domain.SearchResult{res("v1", 0.9), res("v2", 0.8)}
	keyword := []domain.SearchResult{res("k1", 10.0), res("v2", 5.0)}

	pure := FuseRRF(vector, keyword, 10, 1.0)
	if pure[0].ID != "v1" || pure[1].ID != "v2" {
		t.Errorf("alpha=1 should reproduce the vector order, got %v %v", pure[0].ID, pure[1].ID)
	}
	if rankOf(t, pure, "k1") < 2 {
		t.Error("alpha=1: keyword-only document must sort below vector hits")
	}

	pure = FuseRRF(vector, keyword, 10, 0.0)
	if pure[0].ID != "k1" || pure[1].ID != "v2" {
		t.Errorf("alpha=0 should reproduce the keyword order, got %v %v", pure[0].ID, pure[1].ID)
	}
}

func TestFuseRRF_BothListsBeatOne(t *testing.T) {
	vector := []domain.SearchResult{res("both", 0.9), res("vec-only", 0.89)}
	keyword := []domain.SearchResult{res("both", 7.0)}

	fused := FuseRRF(vector, keyword, 10, 0.5)
	if fused[0].ID != "both" {
		t.Errorf("document in both lists should win, got %s", fused[0].ID)
	}
	if fused[0].FusedScore <= fused[1].FusedScore {
		t.Error("fused score must strictly exceed the single-list score")
	}
}

func TestFuseRRF_TopKTruncates(t *testing.T) {
	vector := []domain.SearchResult{res("a", 0.9), res("b", 0.8), res("c", 0.7)}
	fused := FuseRRF(vector, nil, 2, 1.0)
	if len(fused) != 2 {
		t.Errorf("expected 2 results, got %d", len(fused))
	}
}

func TestFuseRRF_KeepsVectorPayload(t *testing.T) {
	v := res("a", 0.9)
	v.Vector = []float32{0.1, 0.2}
	fused := FuseRRF([]domain.SearchResult{v}, []domain.SearchResult{res("a", 5.0)}, 10, 0.5)
	if fused[0].Vector == nil {
		t.Error("vector-side payload should survive fusion")
	}
}

func TestValidateAlpha(t *testing.T) {
	for _, alpha := range []float64{-0.1, 1.1} {
		if err := ValidateAlpha(alpha); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("alpha %g: expected ErrInvalidArgument, got %v", alpha, err)
		}
	}
	for _, alpha := range []float64{0, 0.5, 1} {
		if err := ValidateAlpha(alpha); err != nil {
			t.Errorf("alpha %g: unexpected error %v", alpha, err)
		}
	}
}

func TestValidateDeleteSelector(t *testing.T) {
	if err := ValidateDeleteSelector(nil, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if err := ValidateDeleteSelector([]string{"a"}, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateDeleteSelector(nil, map[string]string{"lang": "en"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
