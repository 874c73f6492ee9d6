package selection

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/fpang/post-composer/internal/asset"
	"github.com/fpang/post-composer/internal/scoring"
)

func scored(scores ...float64) []scoring.ScoredCandidate {
	out := make([]scoring.ScoredCandidate, len(scores))
	for i, s := range scores {
		out[i] = scoring.ScoredCandidate{
			Candidate: asset.Candidate{Index: i, ContentType: "image/jpeg"},
			Score:     s,
		}
	}
	return out
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name         string
		scores       []float64
		threshold    float64
		wantPos      int
		wantFallback bool
	}{
		{"above threshold", []float64{0.4, 0.9, 0.7}, 0.6, 1, false},
		{"fallback when none pass", []float64{0.2, 0.4, 0.1}, 0.6, 1, true},
		{"tie goes to earliest", []float64{0.8, 0.8, 0.5}, 0.6, 0, false},
		{"exactly at threshold", []float64{0.59, 0.6}, 0.6, 1, false},
		{"fallback tie", []float64{0.3, 0.1, 0.3}, 0.9, 0, true},
		{"single", []float64{0.0}, 0.5, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Select(scored(tt.scores...), tt.threshold)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if got.Position != tt.wantPos {
				t.Errorf("Select().Position = %d, want %d", got.Position, tt.wantPos)
			}
			if got.Fallback != tt.wantFallback {
				t.Errorf("Select().Fallback = %v, want %v", got.Fallback, tt.wantFallback)
			}
			if got.Candidate.Index != tt.wantPos {
				t.Errorf("Select().Candidate.Index = %d, want %d", got.Candidate.Index, tt.wantPos)
			}
		})
	}
}

func TestSelect_Empty(t *testing.T) {
	if _, err := Select(nil, 0.5); !errors.Is(err, ErrSelectionEmpty) {
		t.Errorf("Select(nil) error = %v, want ErrSelectionEmpty", err)
	}
}

// TestSelect_Properties checks membership and maximality on random inputs.
func TestSelect_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 500; iter++ {
		n := 1 + rng.Intn(12)
		scores := make([]float64, n)
		for i := range scores {
			scores[i] = float64(rng.Intn(11)) / 10
		}
		threshold := float64(rng.Intn(11)) / 10
		in := scored(scores...)

		got, err := Select(in, threshold)
		if err != nil {
			t.Fatalf("Select() error = %v", err)
		}
		if got.Position < 0 || got.Position >= n {
			t.Fatalf("Position %d out of range", got.Position)
		}

		anyPass := false
		for _, s := range scores {
			if s >= threshold {
				anyPass = true
			}
		}
		if anyPass && got.Candidate.Score < threshold {
			t.Errorf("scores %v t=%v: selected %v below threshold", scores, threshold, got.Candidate.Score)
		}
		if got.Fallback == anyPass {
			t.Errorf("scores %v t=%v: Fallback = %v", scores, threshold, got.Fallback)
		}
		for i, s := range scores {
			eligible := !anyPass || s >= threshold
			if !eligible {
				continue
			}
			if s > got.Candidate.Score {
				t.Errorf("scores %v t=%v: %v at %d beats selected %v", scores, threshold, s, i, got.Candidate.Score)
			}
			if s == got.Candidate.Score && i < got.Position {
				t.Errorf("scores %v t=%v: tie at %d precedes selected %d", scores, threshold, i, got.Position)
			}
		}

		if rank := Rank(in, threshold); rank[0] != got.Position {
			t.Errorf("scores %v t=%v: Rank()[0] = %d, Select() = %d", scores, threshold, rank[0], got.Position)
		}
	}
}

func TestRank(t *testing.T) {
	got := Rank(scored(0.2, 0.9, 0.7, 0.9, 0.5), 0.6)
	want := []int{1, 3, 2, 4, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Rank() = %v, want %v", got, want)
		}
	}
}
