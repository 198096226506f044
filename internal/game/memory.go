package game

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/longshot-live/longshot/internal/models"
)

// MemoryRepository is an in-process Repository used for development and
// tests. A single mutex serializes every operation, which trivially gives
// the same atomicity the Postgres repository gets from transactions.
type MemoryRepository struct {
	mu     sync.Mutex
	games  map[uuid.UUID]*models.Game
	rounds map[uuid.UUID]*models.CurrentRound
	codes  map[string]uuid.UUID
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		games:  make(map[uuid.UUID]*models.Game),
		rounds: make(map[uuid.UUID]*models.CurrentRound),
		codes:  make(map[string]uuid.UUID),
	}
}

func (m *MemoryRepository) CreateGame(_ context.Context, g *models.Game) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.codes[g.Code]; taken {
		return ErrCodeTaken
	}
	m.games[g.ID] = copyGame(g)
	m.codes[g.Code] = g.ID
	return nil
}

func (m *MemoryRepository) GetGame(_ context.Context, id uuid.UUID) (*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[id]
	if !ok {
		return nil, ErrGameNotFound
	}
	return copyGame(g), nil
}

func (m *MemoryRepository) GetGameByCode(_ context.Context, code string) (*models.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.codes[code]
	if !ok {
		return nil, ErrGameNotFound
	}
	return copyGame(m.games[id]), nil
}

func (m *MemoryRepository) AddPlayer(_ context.Context, gameID uuid.UUID, playerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[gameID]
	if !ok {
		return false, ErrGameNotFound
	}
	if _, member := g.Players[playerID]; member {
		return false, nil
	}
	g.Players[playerID] = models.Player{}
	g.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryRepository) RemovePlayer(_ context.Context, gameID uuid.UUID, playerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[gameID]
	if !ok {
		return ErrGameNotFound
	}
	delete(g.Players, playerID)
	g.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) UpdateSettings(_ context.Context, gameID uuid.UUID, req UpdateSettingsRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[gameID]
	if !ok {
		return ErrGameNotFound
	}
	if g.Started {
		return ErrGameStarted
	}
	if req.RoundsRemaining != nil {
		g.RoundsRemaining = *req.RoundsRemaining
	}
	if req.SecondsPerQuestion != nil {
		g.SecondsPerQuestion = *req.SecondsPerQuestion
	}
	if req.PlayerName != nil {
		if _, member := g.Players[req.PlayerID]; member {
			g.Players[req.PlayerID] = models.Player{Name: *req.PlayerName}
		}
	}
	g.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) StartGame(_ context.Context, gameID uuid.UUID, tickAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[gameID]
	if !ok {
		return ErrGameNotFound
	}
	if g.Started {
		return ErrAlreadyStarted
	}
	if g.RoundsRemaining <= 0 {
		return ErrNoRoundsRemaining
	}
	g.Started = true
	g.NextTickAt = &tickAt
	g.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) ResetGame(_ context.Context, gameID uuid.UUID, defaultRounds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[gameID]
	if !ok {
		return ErrGameNotFound
	}
	g.Started = false
	g.RoundsRemaining = defaultRounds
	g.Rounds = []models.FinishedRound{}
	g.NextTickAt = nil
	g.UpdatedAt = time.Now()
	delete(m.rounds, gameID)
	return nil
}

func (m *MemoryRepository) GetCurrentRound(_ context.Context, gameID uuid.UUID) (*models.CurrentRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	round, ok := m.rounds[gameID]
	if !ok {
		return nil, ErrRoundNotFound
	}
	return copyRound(round), nil
}

func (m *MemoryRepository) OpenRound(_ context.Context, round *models.CurrentRound, tickAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[round.GameID]
	if !ok {
		return ErrGameNotFound
	}
	// A reset racing an in-flight tick lands here with a stale snapshot;
	// the lobby game must stay untouched.
	if !g.Started {
		return ErrGameNotStarted
	}
	if _, open := m.rounds[round.GameID]; open {
		return ErrRoundExists
	}
	m.rounds[round.GameID] = copyRound(round)
	g.RoundsRemaining--
	g.NextTickAt = &tickAt
	g.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) CloseRound(_ context.Context, gameID uuid.UUID, tickAt time.Time) (*models.FinishedRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[gameID]
	if !ok {
		return nil, ErrGameNotFound
	}
	if !g.Started {
		return nil, ErrGameNotStarted
	}
	round, open := m.rounds[gameID]
	if !open {
		return nil, ErrRoundNotFound
	}

	finished := models.FinishedRound{
		Question: round.Question,
		Answer:   round.Question.Answer,
		Guesses:  copyGuesses(round.Guesses),
	}
	g.Rounds = append(g.Rounds, finished)
	g.NextTickAt = &tickAt
	g.UpdatedAt = time.Now()
	delete(m.rounds, gameID)

	out := finished
	out.Guesses = copyGuesses(finished.Guesses)
	return &out, nil
}

func (m *MemoryRepository) UpsertRoundGuess(_ context.Context, gameID uuid.UUID, playerID, questionText string, guess float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	round, ok := m.rounds[gameID]
	if !ok {
		return ErrRoundNotFound
	}
	if round.Question.Text != questionText {
		return ErrQuestionMismatch
	}
	round.Guesses[playerID] = guess
	return nil
}

func (m *MemoryRepository) AmendLastFinishedGuess(_ context.Context, gameID uuid.UUID, playerID, questionText string, guess float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[gameID]
	if !ok {
		return ErrGameNotFound
	}
	if len(g.Rounds) == 0 {
		return ErrRoundNotFound
	}
	last := &g.Rounds[len(g.Rounds)-1]
	if last.Question.Text != questionText {
		return ErrQuestionMismatch
	}
	last.Guesses[playerID] = guess
	g.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) FetchNextTick(_ context.Context) (*NextTick, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *NextTick
	for id, g := range m.games {
		if g.NextTickAt == nil {
			continue
		}
		if next == nil || g.NextTickAt.Before(next.At) {
			next = &NextTick{GameID: id, At: *g.NextTickAt}
		}
	}
	return next, nil
}

func (m *MemoryRepository) FetchGamesDue(_ context.Context, now time.Time, limit int32) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type due struct {
		id uuid.UUID
		at time.Time
	}
	var dues []due
	for id, g := range m.games {
		if g.NextTickAt != nil && !g.NextTickAt.After(now) {
			dues = append(dues, due{id: id, at: *g.NextTickAt})
		}
	}
	sort.Slice(dues, func(i, j int) bool { return dues[i].at.Before(dues[j].at) })

	ids := make([]uuid.UUID, 0, len(dues))
	for _, d := range dues {
		if int32(len(ids)) >= limit {
			break
		}
		ids = append(ids, d.id)
	}
	return ids, nil
}

func (m *MemoryRepository) ClearNextTick(_ context.Context, gameID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.games[gameID]
	if !ok {
		return ErrGameNotFound
	}
	g.NextTickAt = nil
	g.UpdatedAt = time.Now()
	return nil
}

func copyGame(g *models.Game) *models.Game {
	out := *g
	out.Players = make(map[string]models.Player, len(g.Players))
	for id, p := range g.Players {
		out.Players[id] = p
	}
	out.Rounds = make([]models.FinishedRound, len(g.Rounds))
	for i, r := range g.Rounds {
		out.Rounds[i] = r
		out.Rounds[i].Guesses = copyGuesses(r.Guesses)
	}
	if g.NextTickAt != nil {
		at := *g.NextTickAt
		out.NextTickAt = &at
	}
	return &out
}

func copyRound(r *models.CurrentRound) *models.CurrentRound {
	out := *r
	out.Guesses = copyGuesses(r.Guesses)
	return &out
}

func copyGuesses(src map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
