// Package selection picks the background to use from scored candidates.
package selection

import (
	"errors"
	"sort"

	"github.com/fpang/post-composer/internal/scoring"
)

// ErrSelectionEmpty means there was nothing to choose from.
var ErrSelectionEmpty = errors.New("no candidates to select from")

// Result is the chosen candidate.
type Result struct {
	Candidate scoring.ScoredCandidate
	// Position is the candidate's index in the scored input.
	Position int
	// Fallback reports that no candidate met the threshold and the choice
	// was made over the full set.
	Fallback bool
}

// Select keeps candidates scoring at least threshold, or all of them when
// none qualify, and returns the highest score. Ties go to the earliest
// position.
func Select(scored []scoring.ScoredCandidate, threshold float64) (Result, error) {
	if len(scored) == 0 {
		return Result{}, ErrSelectionEmpty
	}

	best := -1
	for i, sc := range scored {
		if sc.Score < threshold {
			continue
		}
		if best == -1 || sc.Score > scored[best].Score {
			best = i
		}
	}
	if best >= 0 {
		return Result{Candidate: scored[best], Position: best}, nil
	}

	best = 0
	for i, sc := range scored {
		if sc.Score > scored[best].Score {
			best = i
		}
	}
	return Result{Candidate: scored[best], Position: best, Fallback: true}, nil
}

// Rank returns candidate positions ordered as Select would prefer them:
// qualifying candidates first, each group by descending score, ties by
// position. Rank(s, t)[0] is always Select(s, t).Position.
func Rank(scored []scoring.ScoredCandidate, threshold float64) []int {
	order := make([]int, len(scored))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := scored[order[a]], scored[order[b]]
		qa, qb := sa.Score >= threshold, sb.Score >= threshold
		if qa != qb {
			return qa
		}
		return sa.Score > sb.Score
	})
	return order
}
