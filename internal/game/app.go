package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/longshot-live/longshot/internal/events"
	"github.com/longshot-live/longshot/internal/joincode"
	"github.com/longshot-live/longshot/internal/models"
	"github.com/longshot-live/longshot/internal/questions"
	"github.com/longshot-live/longshot/internal/scoring"
)

// Repository defines what the app layer needs from the game store. Every
// method is one atomic unit with respect to concurrent operations on the
// same game; that atomicity is the only concurrency safety net the state
// machine relies on.
type Repository interface {
	CreateGame(ctx context.Context, g *models.Game) error
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	GetGameByCode(ctx context.Context, code string) (*models.Game, error)
	AddPlayer(ctx context.Context, gameID uuid.UUID, playerID string) (bool, error)
	RemovePlayer(ctx context.Context, gameID uuid.UUID, playerID string) error
	UpdateSettings(ctx context.Context, gameID uuid.UUID, req UpdateSettingsRequest) error
	StartGame(ctx context.Context, gameID uuid.UUID, tickAt time.Time) error
	ResetGame(ctx context.Context, gameID uuid.UUID, defaultRounds int) error
	GetCurrentRound(ctx context.Context, gameID uuid.UUID) (*models.CurrentRound, error)
	OpenRound(ctx context.Context, round *models.CurrentRound, tickAt time.Time) error
	CloseRound(ctx context.Context, gameID uuid.UUID, tickAt time.Time) (*models.FinishedRound, error)
	UpsertRoundGuess(ctx context.Context, gameID uuid.UUID, playerID, questionText string, guess float64) error
	AmendLastFinishedGuess(ctx context.Context, gameID uuid.UUID, playerID, questionText string, guess float64) error
	FetchNextTick(ctx context.Context) (*NextTick, error)
	FetchGamesDue(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error)
	ClearNextTick(ctx context.Context, gameID uuid.UUID) error
}

// Emitter defines what the app layer needs from the outbox. Emission
// failures are logged, never propagated: events are a side channel, not
// part of an operation's contract.
type Emitter interface {
	Emit(ctx context.Context, gameID uuid.UUID, eventType string, payload []byte) error
}

// App handles game business logic: the aggregate operations, guess
// intake, and the tick state machine that drives round lifecycle.
type App struct {
	repo    Repository
	pool    *questions.Pool
	codes   *joincode.Generator
	emitter Emitter
	clock   clockwork.Clock
}

// NewApp creates a game App. emitter may be nil (dev mode without an
// event bus).
func NewApp(repo Repository, pool *questions.Pool, emitter Emitter) *App {
	return &App{
		repo:    repo,
		pool:    pool,
		codes:   joincode.NewGenerator(),
		emitter: emitter,
		clock:   clockwork.NewRealClock(),
	}
}

// defaultRounds is min(DefaultRounds, pool size): a game can never be
// configured to ask more questions than the catalog holds.
func (a *App) defaultRounds() int {
	if a.pool.Size() < DefaultRounds {
		return a.pool.Size()
	}
	return DefaultRounds
}

// CreateGame allocates a game in lobby state seeded with the creating
// player. The join code is drawn until reservation succeeds; the unique
// index makes check-and-reserve atomic, so two games can never share a
// code.
func (a *App) CreateGame(ctx context.Context, playerID string) (*models.Game, error) {
	if playerID == "" {
		return nil, fmt.Errorf("%w: player id is required", ErrValidation)
	}

	now := a.clock.Now()
	g := &models.Game{
		ID:                 uuid.New(),
		Started:            false,
		RoundsRemaining:    a.defaultRounds(),
		SecondsPerQuestion: DefaultSecondsPerQuestion,
		Players:            map[string]models.Player{playerID: {}},
		Rounds:             []models.FinishedRound{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	for attempt := 1; ; attempt++ {
		g.Code = a.codes.Code()
		err := a.repo.CreateGame(ctx, g)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrCodeTaken) {
			return nil, fmt.Errorf("failed to create game: %w", err)
		}
		if attempt%26 == 0 {
			log.Warn().
				Int("attempts", attempt).
				Msg("join code space congested, still retrying")
		}
	}

	a.emit(ctx, g.ID, events.TypeGameCreated, events.GameCreatedPayload{
		GameID:    g.ID.String(),
		JoinCode:  g.Code,
		CreatedBy: playerID,
		CreatedAt: now,
	})

	log.Info().
		Str("game_id", g.ID.String()).
		Str("code", g.Code).
		Msg("game created")
	return g, nil
}

// JoinGame adds the player to the game with the given code. Joining is
// idempotent: an existing member keeps their display name and nothing is
// duplicated.
func (a *App) JoinGame(ctx context.Context, code, playerID string) (uuid.UUID, error) {
	if playerID == "" {
		return uuid.Nil, fmt.Errorf("%w: player id is required", ErrValidation)
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != a.codes.Length() {
		return uuid.Nil, fmt.Errorf("%w: malformed join code %q", ErrValidation, code)
	}

	g, err := a.repo.GetGameByCode(ctx, code)
	if err != nil {
		return uuid.Nil, err
	}

	added, err := a.repo.AddPlayer(ctx, g.ID, playerID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to join game: %w", err)
	}
	if added {
		a.emit(ctx, g.ID, events.TypePlayerJoined, events.PlayerJoinedPayload{
			PlayerID: playerID,
			JoinedAt: a.clock.Now(),
		})
	}
	return g.ID, nil
}

// LeaveGame removes the player from the membership map; a no-op if they
// are not a member. A guess already recorded for the open round stays
// where it is; orphaned guesses are harmless.
func (a *App) LeaveGame(ctx context.Context, gameID uuid.UUID, playerID string) error {
	if err := a.repo.RemovePlayer(ctx, gameID, playerID); err != nil {
		return err
	}
	a.emit(ctx, gameID, events.TypePlayerLeft, events.PlayerLeftPayload{
		PlayerID: playerID,
		LeftAt:   a.clock.Now(),
	})
	return nil
}

// UpdateSettings applies the supplied fields while the game is still in
// the lobby. A request with nothing set is valid and succeeds.
func (a *App) UpdateSettings(ctx context.Context, gameID uuid.UUID, req UpdateSettingsRequest) error {
	if req.RoundsRemaining != nil {
		if *req.RoundsRemaining < 1 || *req.RoundsRemaining > a.pool.Size() {
			return fmt.Errorf("%w: rounds must be between 1 and %d", ErrValidation, a.pool.Size())
		}
	}
	if req.SecondsPerQuestion != nil {
		if *req.SecondsPerQuestion < MinSecondsPerQuestion || *req.SecondsPerQuestion > MaxSecondsPerQuestion {
			return fmt.Errorf("%w: seconds per question must be between %d and %d",
				ErrValidation, MinSecondsPerQuestion, MaxSecondsPerQuestion)
		}
	}
	if req.PlayerName != nil && req.PlayerID == "" {
		return fmt.Errorf("%w: player id is required for a name update", ErrValidation)
	}

	return a.repo.UpdateSettings(ctx, gameID, req)
}

// StartGame flips the game to started and arms the scheduler with a
// zero-delay tick. A second start is an error, not a no-op.
func (a *App) StartGame(ctx context.Context, gameID uuid.UUID) error {
	if err := a.repo.StartGame(ctx, gameID, a.clock.Now()); err != nil {
		return err
	}

	g, err := a.repo.GetGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("failed to reload started game: %w", err)
	}
	a.emit(ctx, gameID, events.TypeGameStarted, events.GameStartedPayload{
		StartedAt:          a.clock.Now(),
		TotalRounds:        g.RoundsRemaining,
		SecondsPerQuestion: g.SecondsPerQuestion,
	})

	log.Info().Str("game_id", gameID.String()).Msg("game started")
	return nil
}

// ResetGame returns a game to lobby state: started=false, rounds restored
// to the default, history cleared. Any current round is deleted in the
// same transaction so an operator reset mid-game cannot leave a dangling
// round; a later duplicate tick then sees "not started" and stops.
func (a *App) ResetGame(ctx context.Context, gameID uuid.UUID) error {
	if err := a.repo.ResetGame(ctx, gameID, a.defaultRounds()); err != nil {
		return err
	}
	a.emit(ctx, gameID, events.TypeGameReset, events.GameResetPayload{
		ResetAt: a.clock.Now(),
	})
	log.Info().Str("game_id", gameID.String()).Msg("game reset to lobby")
	return nil
}

// GetGame retrieves a game by id.
func (a *App) GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	return a.repo.GetGame(ctx, gameID)
}

// GetCurrentRound retrieves the open round for a game, or nil when no
// round is open ("between rounds" and "game over" are told apart by the
// game's RoundsRemaining).
func (a *App) GetCurrentRound(ctx context.Context, gameID uuid.UUID) (*models.CurrentRound, error) {
	round, err := a.repo.GetCurrentRound(ctx, gameID)
	if errors.Is(err, ErrRoundNotFound) {
		return nil, nil
	}
	return round, err
}

// SetGuess records a player's probability estimate for the named
// question. If the round already closed under the client, the guess is
// applied to the matching last finished round instead, so a tick racing
// an in-flight submission never loses the guess. A question text matching
// neither is a staleness error and mutates nothing.
func (a *App) SetGuess(ctx context.Context, gameID uuid.UUID, playerID, questionText string, guess float64) error {
	if playerID == "" {
		return fmt.Errorf("%w: player id is required", ErrValidation)
	}
	if math.IsNaN(guess) || guess < 0 || guess > 1 {
		return fmt.Errorf("%w: guess must be within [0,1]", ErrValidation)
	}

	err := a.repo.UpsertRoundGuess(ctx, gameID, playerID, questionText, guess)
	if errors.Is(err, ErrRoundNotFound) {
		// Round closed between the client reading state and submitting.
		err = a.repo.AmendLastFinishedGuess(ctx, gameID, playerID, questionText, guess)
	}
	if err != nil {
		return err
	}

	a.emit(ctx, gameID, events.TypePlayerGuessed, events.PlayerGuessedPayload{
		PlayerID:  playerID,
		GuessedAt: a.clock.Now(),
	})
	return nil
}

// Tick advances the round state machine for one game. It is invoked only
// by the scheduler and must be safe against duplicate delivery: every
// branch re-derives the state from the records as they are now, so a
// replayed tick is absorbed rather than double-applied.
func (a *App) Tick(ctx context.Context, gameID uuid.UUID) error {
	g, err := a.repo.GetGame(ctx, gameID)
	if errors.Is(err, ErrGameNotFound) {
		// Cancelled or abandoned game; nothing to advance.
		log.Info().Str("game_id", gameID.String()).Msg("tick for missing game, dropping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("tick failed to load game: %w", err)
	}

	if !g.Started {
		// A tick must never fire before start. Clear the armed tick so
		// the scheduler does not spin on it, then surface the bug.
		if clearErr := a.repo.ClearNextTick(ctx, gameID); clearErr != nil {
			log.Error().Err(clearErr).Str("game_id", gameID.String()).Msg("failed to disarm bogus tick")
		}
		return fmt.Errorf("tick on un-started game %s: %w", gameID, ErrGameNotStarted)
	}

	now := a.clock.Now()

	round, err := a.repo.GetCurrentRound(ctx, gameID)
	if err != nil && !errors.Is(err, ErrRoundNotFound) {
		return fmt.Errorf("tick failed to load round: %w", err)
	}

	if round != nil {
		return a.closeRound(ctx, g, now)
	}

	if g.RoundsRemaining <= 0 {
		return a.finishGame(ctx, g, now)
	}

	return a.openRound(ctx, g, now)
}

// closeRound folds the open round into history and re-arms a tick after
// the inter-round delay to open the next one.
func (a *App) closeRound(ctx context.Context, g *models.Game, now time.Time) error {
	finished, err := a.repo.CloseRound(ctx, g.ID, now.Add(InterRoundDelay))
	if errors.Is(err, ErrRoundNotFound) {
		// A concurrent duplicate tick closed it first.
		log.Debug().Str("game_id", g.ID.String()).Msg("round already closed, absorbing duplicate tick")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to close round: %w", err)
	}

	scores := make(map[string]float64, len(finished.Guesses))
	for playerID, guess := range finished.Guesses {
		scores[playerID] = scoring.Score(guess, finished.Answer)
	}
	a.emit(ctx, g.ID, events.TypeRoundClosed, events.RoundClosedPayload{
		QuestionText: finished.Question.Text,
		Answer:       finished.Answer,
		Guesses:      finished.Guesses,
		Scores:       scores,
		ClosedAt:     now,
	})

	log.Info().
		Str("game_id", g.ID.String()).
		Str("question", finished.Question.Text).
		Int("guesses", len(finished.Guesses)).
		Msg("round closed")
	return nil
}

// finishGame is the terminal branch: no round open, none remaining. The
// armed tick is cleared and nothing is re-armed.
func (a *App) finishGame(ctx context.Context, g *models.Game, now time.Time) error {
	if err := a.repo.ClearNextTick(ctx, g.ID); err != nil {
		return fmt.Errorf("failed to disarm finished game: %w", err)
	}
	a.emit(ctx, g.ID, events.TypeGameOver, events.GameOverPayload{
		FinishedAt:   now,
		RoundsPlayed: len(g.Rounds),
	})
	log.Info().
		Str("game_id", g.ID.String()).
		Int("rounds_played", len(g.Rounds)).
		Msg("game over")
	return nil
}

// openRound samples an unasked question, creates the round with guesses
// seeded at 0.5 for every current player, decrements the rounds counter
// and re-arms a tick at the deadline. Round creation and the decrement
// are one transaction; partial application would desynchronize the state
// machine.
func (a *App) openRound(ctx context.Context, g *models.Game, now time.Time) error {
	asked := make(map[string]bool, len(g.Rounds))
	for _, r := range g.Rounds {
		asked[r.Question.Text] = true
	}

	q, ok := a.pool.SampleUnused(asked)
	if !ok {
		// Settings validation bounds rounds by pool size, so this is a
		// genuine fault, not a soft stop.
		return fmt.Errorf("game %s has rounds remaining but no unasked questions: %w", g.ID, ErrPoolExhausted)
	}

	guesses := make(map[string]float64, len(g.Players))
	for playerID := range g.Players {
		guesses[playerID] = 0.5
	}

	deadline := now.Add(time.Duration(g.SecondsPerQuestion) * time.Second)
	round := &models.CurrentRound{
		GameID:   g.ID,
		Question: q,
		Guesses:  guesses,
		Deadline: deadline,
	}

	err := a.repo.OpenRound(ctx, round, deadline)
	if errors.Is(err, ErrRoundExists) {
		// A concurrent duplicate tick opened it first.
		log.Debug().Str("game_id", g.ID.String()).Msg("round already open, absorbing duplicate tick")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open round: %w", err)
	}

	a.emit(ctx, g.ID, events.TypeRoundStarted, events.RoundStartedPayload{
		QuestionText:       q.Text,
		Left:               q.Left,
		Right:              q.Right,
		StartedAt:          now,
		Deadline:           deadline,
		SecondsPerQuestion: g.SecondsPerQuestion,
		RoundsRemaining:    g.RoundsRemaining - 1,
	})

	log.Info().
		Str("game_id", g.ID.String()).
		Str("question", q.Text).
		Time("deadline", deadline).
		Msg("round opened")
	return nil
}

// FetchNextTick exposes the earliest armed tick to the scheduler.
func (a *App) FetchNextTick(ctx context.Context) (*NextTick, error) {
	return a.repo.FetchNextTick(ctx)
}

// FetchGamesDue exposes due games to the scheduler.
func (a *App) FetchGamesDue(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than 0")
	}
	return a.repo.FetchGamesDue(ctx, now, limit)
}

func (a *App) emit(ctx context.Context, gameID uuid.UUID, eventType string, payload any) {
	if a.emitter == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		return
	}
	if err := a.emitter.Emit(ctx, gameID, eventType, data); err != nil {
		// Events are best-effort; the operation itself already committed.
		log.Error().Err(err).
			Str("event_type", eventType).
			Str("game_id", gameID.String()).
			Msg("failed to emit event")
	}
}
