package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longshot-live/longshot/internal/models"
)

func TestScore(t *testing.T) {
	t.Parallel()

	t.Run("confident correct guess scores maximum", func(t *testing.T) {
		t.Parallel()
		assert.InDelta(t, 100, Score(1, true), 1e-9)
		assert.InDelta(t, 100, Score(0, false), 1e-9)
	})

	t.Run("neutral guess scores zero either way", func(t *testing.T) {
		t.Parallel()
		assert.InDelta(t, 0, Score(0.5, true), 1e-9)
		assert.InDelta(t, 0, Score(0.5, false), 1e-9)
	})

	t.Run("symmetric in the outcome", func(t *testing.T) {
		t.Parallel()
		assert.InDelta(t, Score(0.7, true), Score(0.3, false), 1e-9)
		assert.InDelta(t, Score(0.9, true), Score(0.1, false), 1e-9)
	})

	t.Run("confident wrong guess scores large finite penalty", func(t *testing.T) {
		t.Parallel()
		got := Score(1, false)
		require.False(t, math.IsInf(got, -1))
		assert.InDelta(t, 100*(1+math.Log2(1e-4)), got, 1e-9)
		assert.Less(t, got, Score(0.01, false))
	})

	t.Run("monotonic in confidence on the realized side", func(t *testing.T) {
		t.Parallel()
		assert.Less(t, Score(0.6, true), Score(0.8, true))
		assert.Less(t, Score(0.8, true), Score(0.99, true))
	})
}

func TestTotals(t *testing.T) {
	t.Parallel()

	rounds := []models.FinishedRound{
		{
			Question: models.Question{Text: "q1"},
			Answer:   true,
			Guesses:  map[string]float64{"alice": 1, "bob": 0.5},
		},
		{
			Question: models.Question{Text: "q2"},
			Answer:   false,
			Guesses:  map[string]float64{"alice": 0, "bob": 0.5},
		},
	}

	totals := Totals(rounds)
	assert.InDelta(t, 200, totals["alice"], 1e-9)
	assert.InDelta(t, 0, totals["bob"], 1e-9)

	t.Run("empty history", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, Totals(nil))
	})
}
