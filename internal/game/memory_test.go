package game

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longshot-live/longshot/internal/models"
)

func seedGame(t *testing.T, repo *MemoryRepository, code string) *models.Game {
	t.Helper()
	g := &models.Game{
		ID:                 uuid.New(),
		Code:               code,
		RoundsRemaining:    2,
		SecondsPerQuestion: 15,
		Players:            map[string]models.Player{"alice": {}},
		Rounds:             []models.FinishedRound{},
	}
	require.NoError(t, repo.CreateGame(context.Background(), g))
	return g
}

func TestMemoryRepositoryIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryRepository()
	g := seedGame(t, repo, "AAAA")

	got, err := repo.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(g, got), "round-trip copy must be faithful")

	// Mutating the returned copy must not leak into the store.
	got.Players["mallory"] = models.Player{}
	got.RoundsRemaining = 99

	again, err := repo.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.NotContains(t, again.Players, "mallory")
	assert.Equal(t, 2, again.RoundsRemaining)
}

func TestMemoryRepositoryCodeReservation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryRepository()
	seedGame(t, repo, "AAAA")

	dup := &models.Game{
		ID:      uuid.New(),
		Code:    "AAAA",
		Players: map[string]models.Player{},
		Rounds:  []models.FinishedRound{},
	}
	assert.ErrorIs(t, repo.CreateGame(ctx, dup), ErrCodeTaken)
}

func TestMemoryRepositoryTickQueries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryRepository()

	base := time.Now()
	early := seedGame(t, repo, "AAAA")
	late := seedGame(t, repo, "BBBB")
	idle := seedGame(t, repo, "CCCC")

	require.NoError(t, repo.StartGame(ctx, early.ID, base.Add(1*time.Second)))
	require.NoError(t, repo.StartGame(ctx, late.ID, base.Add(5*time.Second)))
	_ = idle

	next, err := repo.FetchNextTick(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, early.ID, next.GameID)

	due, err := repo.FetchGamesDue(ctx, base.Add(10*time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{early.ID, late.ID}, due, "due games come back earliest first")

	due, err = repo.FetchGamesDue(ctx, base.Add(10*time.Second), 1)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{early.ID}, due)

	due, err = repo.FetchGamesDue(ctx, base, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, repo.ClearNextTick(ctx, early.ID))
	next, err = repo.FetchNextTick(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, late.ID, next.GameID)
}
