// Package scoring implements the logarithmic scoring rule that rewards
// calibrated probability estimates.
package scoring

import (
	"math"

	"github.com/longshot-live/longshot/internal/models"
)

// minProbability floors the probability assigned to the realized outcome
// before taking the logarithm, so a fully-confident wrong guess scores a
// large finite penalty (~ -1228) instead of -Inf. JSON cannot encode
// infinities, and every score in the system crosses a JSON boundary.
const minProbability = 1e-4

// Score maps a probability guess and the realized outcome to points:
// 100 * (1 + log2(p)) where p is the probability the guess assigned to
// what actually happened. A guess of 0.5 scores 0 either way; a
// fully-confident correct guess scores 100. Callers validate guess into
// [0,1] before scoring.
func Score(guess float64, outcome bool) float64 {
	p := guess
	if !outcome {
		p = 1 - guess
	}
	if p < minProbability {
		p = minProbability
	}
	return 100 * (1 + math.Log2(p))
}

// Totals sums scores per player across a game's finished rounds. Players
// missing from a round's guess map were seeded at 0.5, which scores zero,
// so only recorded guesses contribute.
func Totals(rounds []models.FinishedRound) map[string]float64 {
	totals := make(map[string]float64)
	for _, r := range rounds {
		for playerID, guess := range r.Guesses {
			totals[playerID] += Score(guess, r.Answer)
		}
	}
	return totals
}
