package game

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/longshot-live/longshot/internal/models"
	"github.com/longshot-live/longshot/internal/sqlutil"
)

// PostgresRepository implements Repository on Postgres. Every write is a
// single transaction that locks the games row first (SELECT ... FOR
// UPDATE), so concurrent operations on one game serialize in a uniform
// lock order and the current_rounds row is only ever touched under the
// game lock.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a Postgres-backed game repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (r *PostgresRepository) CreateGame(ctx context.Context, g *models.Game) error {
	players, err := json.Marshal(g.Players)
	if err != nil {
		return fmt.Errorf("failed to marshal players: %w", err)
	}
	rounds, err := json.Marshal(g.Rounds)
	if err != nil {
		return fmt.Errorf("failed to marshal rounds: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO games (id, code, started, rounds_remaining, seconds_per_question,
		                   players, rounds, next_tick_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		g.ID, g.Code, g.Started, g.RoundsRemaining, g.SecondsPerQuestion,
		players, rounds, g.NextTickAt, g.CreatedAt, g.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrCodeTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert game: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	return r.getGame(ctx, r.db, `WHERE id = $1`, id)
}

func (r *PostgresRepository) GetGameByCode(ctx context.Context, code string) (*models.Game, error) {
	return r.getGame(ctx, r.db, `WHERE code = $1`, code)
}

// querier covers *sql.DB and *sql.Tx for the shared read helpers.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *PostgresRepository) getGame(ctx context.Context, q querier, where string, arg any) (*models.Game, error) {
	var (
		g       models.Game
		players []byte
		rounds  []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, code, started, rounds_remaining, seconds_per_question,
		       players, rounds, next_tick_at, created_at, updated_at
		FROM games `+where,
		arg,
	).Scan(
		&g.ID, &g.Code, &g.Started, &g.RoundsRemaining, &g.SecondsPerQuestion,
		&players, &rounds, &g.NextTickAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}

	if err := json.Unmarshal(players, &g.Players); err != nil {
		return nil, fmt.Errorf("failed to unmarshal players: %w", err)
	}
	if err := json.Unmarshal(rounds, &g.Rounds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rounds: %w", err)
	}
	return &g, nil
}

// lockGame takes the per-game write lock; every mutating transaction goes
// through it first.
func lockGame(ctx context.Context, tx *sql.Tx, gameID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM games WHERE id = $1 FOR UPDATE`, gameID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrGameNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock game: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AddPlayer(ctx context.Context, gameID uuid.UUID, playerID string) (bool, error) {
	var added bool
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		players, err := lockPlayers(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if _, member := players[playerID]; member {
			return nil
		}
		players[playerID] = models.Player{}
		if err := writePlayers(ctx, tx, gameID, players); err != nil {
			return err
		}
		added = true
		return nil
	})
	return added, err
}

func (r *PostgresRepository) RemovePlayer(ctx context.Context, gameID uuid.UUID, playerID string) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		players, err := lockPlayers(ctx, tx, gameID)
		if err != nil {
			return err
		}
		if _, member := players[playerID]; !member {
			return nil
		}
		delete(players, playerID)
		return writePlayers(ctx, tx, gameID, players)
	})
}

func lockPlayers(ctx context.Context, tx *sql.Tx, gameID uuid.UUID) (map[string]models.Player, error) {
	var raw []byte
	err := tx.QueryRowContext(ctx,
		`SELECT players FROM games WHERE id = $1 FOR UPDATE`, gameID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock game: %w", err)
	}

	var players map[string]models.Player
	if err := json.Unmarshal(raw, &players); err != nil {
		return nil, fmt.Errorf("failed to unmarshal players: %w", err)
	}
	return players, nil
}

func writePlayers(ctx context.Context, tx *sql.Tx, gameID uuid.UUID, players map[string]models.Player) error {
	raw, err := json.Marshal(players)
	if err != nil {
		return fmt.Errorf("failed to marshal players: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE games SET players = $2, updated_at = NOW() WHERE id = $1`,
		gameID, raw,
	); err != nil {
		return fmt.Errorf("failed to update players: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateSettings(ctx context.Context, gameID uuid.UUID, req UpdateSettingsRequest) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		var (
			started bool
			raw     []byte
		)
		err := tx.QueryRowContext(ctx,
			`SELECT started, players FROM games WHERE id = $1 FOR UPDATE`, gameID,
		).Scan(&started, &raw)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrGameNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock game: %w", err)
		}
		if started {
			return ErrGameStarted
		}

		if req.RoundsRemaining != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE games SET rounds_remaining = $2, updated_at = NOW() WHERE id = $1`,
				gameID, *req.RoundsRemaining,
			); err != nil {
				return fmt.Errorf("failed to update rounds: %w", err)
			}
		}
		if req.SecondsPerQuestion != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE games SET seconds_per_question = $2, updated_at = NOW() WHERE id = $1`,
				gameID, *req.SecondsPerQuestion,
			); err != nil {
				return fmt.Errorf("failed to update seconds per question: %w", err)
			}
		}
		if req.PlayerName != nil {
			var players map[string]models.Player
			if err := json.Unmarshal(raw, &players); err != nil {
				return fmt.Errorf("failed to unmarshal players: %w", err)
			}
			if _, member := players[req.PlayerID]; member {
				players[req.PlayerID] = models.Player{Name: *req.PlayerName}
				if err := writePlayers(ctx, tx, gameID, players); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (r *PostgresRepository) StartGame(ctx context.Context, gameID uuid.UUID, tickAt time.Time) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		var (
			started         bool
			roundsRemaining int
		)
		err := tx.QueryRowContext(ctx,
			`SELECT started, rounds_remaining FROM games WHERE id = $1 FOR UPDATE`, gameID,
		).Scan(&started, &roundsRemaining)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrGameNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock game: %w", err)
		}
		if started {
			return ErrAlreadyStarted
		}
		if roundsRemaining <= 0 {
			return ErrNoRoundsRemaining
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE games SET started = TRUE, next_tick_at = $2, updated_at = NOW() WHERE id = $1`,
			gameID, tickAt,
		); err != nil {
			return fmt.Errorf("failed to start game: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) ResetGame(ctx context.Context, gameID uuid.UUID, defaultRounds int) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockGame(ctx, tx, gameID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE games
			SET started = FALSE, rounds_remaining = $2, rounds = '[]',
			    next_tick_at = NULL, updated_at = NOW()
			WHERE id = $1`,
			gameID, defaultRounds,
		); err != nil {
			return fmt.Errorf("failed to reset game: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM current_rounds WHERE game_id = $1`, gameID,
		); err != nil {
			return fmt.Errorf("failed to delete current round: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) GetCurrentRound(ctx context.Context, gameID uuid.UUID) (*models.CurrentRound, error) {
	var (
		round    models.CurrentRound
		question []byte
		guesses  []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT game_id, question, guesses, deadline
		FROM current_rounds WHERE game_id = $1`,
		gameID,
	).Scan(&round.GameID, &question, &guesses, &round.Deadline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoundNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current round: %w", err)
	}

	if err := json.Unmarshal(question, &round.Question); err != nil {
		return nil, fmt.Errorf("failed to unmarshal question: %w", err)
	}
	if err := json.Unmarshal(guesses, &round.Guesses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal guesses: %w", err)
	}
	return &round, nil
}

func (r *PostgresRepository) OpenRound(ctx context.Context, round *models.CurrentRound, tickAt time.Time) error {
	question, err := json.Marshal(round.Question)
	if err != nil {
		return fmt.Errorf("failed to marshal question: %w", err)
	}
	guesses, err := json.Marshal(round.Guesses)
	if err != nil {
		return fmt.Errorf("failed to marshal guesses: %w", err)
	}

	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		// Re-verify started under the row lock: a reset racing an
		// in-flight tick must not reopen a round on a lobby game.
		var started bool
		err := tx.QueryRowContext(ctx,
			`SELECT started FROM games WHERE id = $1 FOR UPDATE`, round.GameID,
		).Scan(&started)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrGameNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock game: %w", err)
		}
		if !started {
			return ErrGameNotStarted
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO current_rounds (game_id, question, guesses, deadline)
			VALUES ($1, $2, $3, $4)`,
			round.GameID, question, guesses, round.Deadline,
		)
		if isUniqueViolation(err) {
			return ErrRoundExists
		}
		if err != nil {
			return fmt.Errorf("failed to insert round: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE games
			SET rounds_remaining = rounds_remaining - 1, next_tick_at = $2, updated_at = NOW()
			WHERE id = $1`,
			round.GameID, tickAt,
		); err != nil {
			return fmt.Errorf("failed to decrement rounds: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) CloseRound(ctx context.Context, gameID uuid.UUID, tickAt time.Time) (*models.FinishedRound, error) {
	var finished *models.FinishedRound
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		var (
			started   bool
			rawRounds []byte
		)
		err := tx.QueryRowContext(ctx,
			`SELECT started, rounds FROM games WHERE id = $1 FOR UPDATE`, gameID,
		).Scan(&started, &rawRounds)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrGameNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock game: %w", err)
		}
		if !started {
			return ErrGameNotStarted
		}

		var (
			question []byte
			guesses  []byte
		)
		err = tx.QueryRowContext(ctx,
			`SELECT question, guesses FROM current_rounds WHERE game_id = $1`, gameID,
		).Scan(&question, &guesses)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRoundNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get current round: %w", err)
		}

		var fr models.FinishedRound
		if err := json.Unmarshal(question, &fr.Question); err != nil {
			return fmt.Errorf("failed to unmarshal question: %w", err)
		}
		if err := json.Unmarshal(guesses, &fr.Guesses); err != nil {
			return fmt.Errorf("failed to unmarshal guesses: %w", err)
		}
		fr.Answer = fr.Question.Answer

		var rounds []models.FinishedRound
		if err := json.Unmarshal(rawRounds, &rounds); err != nil {
			return fmt.Errorf("failed to unmarshal rounds: %w", err)
		}
		rounds = append(rounds, fr)
		updated, err := json.Marshal(rounds)
		if err != nil {
			return fmt.Errorf("failed to marshal rounds: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM current_rounds WHERE game_id = $1`, gameID,
		); err != nil {
			return fmt.Errorf("failed to delete current round: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE games SET rounds = $2, next_tick_at = $3, updated_at = NOW()
			WHERE id = $1`,
			gameID, updated, tickAt,
		); err != nil {
			return fmt.Errorf("failed to append round history: %w", err)
		}

		finished = &fr
		return nil
	})
	return finished, err
}

func (r *PostgresRepository) UpsertRoundGuess(ctx context.Context, gameID uuid.UUID, playerID, questionText string, guess float64) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		if err := lockGame(ctx, tx, gameID); err != nil {
			return err
		}

		var (
			question []byte
			raw      []byte
		)
		err := tx.QueryRowContext(ctx,
			`SELECT question, guesses FROM current_rounds WHERE game_id = $1`, gameID,
		).Scan(&question, &raw)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRoundNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get current round: %w", err)
		}

		var q models.Question
		if err := json.Unmarshal(question, &q); err != nil {
			return fmt.Errorf("failed to unmarshal question: %w", err)
		}
		if q.Text != questionText {
			return ErrQuestionMismatch
		}

		var guesses map[string]float64
		if err := json.Unmarshal(raw, &guesses); err != nil {
			return fmt.Errorf("failed to unmarshal guesses: %w", err)
		}
		guesses[playerID] = guess
		updated, err := json.Marshal(guesses)
		if err != nil {
			return fmt.Errorf("failed to marshal guesses: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE current_rounds SET guesses = $2 WHERE game_id = $1`,
			gameID, updated,
		); err != nil {
			return fmt.Errorf("failed to update guesses: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) AmendLastFinishedGuess(ctx context.Context, gameID uuid.UUID, playerID, questionText string, guess float64) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		var raw []byte
		err := tx.QueryRowContext(ctx,
			`SELECT rounds FROM games WHERE id = $1 FOR UPDATE`, gameID,
		).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrGameNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock game: %w", err)
		}

		var rounds []models.FinishedRound
		if err := json.Unmarshal(raw, &rounds); err != nil {
			return fmt.Errorf("failed to unmarshal rounds: %w", err)
		}
		if len(rounds) == 0 {
			return ErrRoundNotFound
		}
		last := &rounds[len(rounds)-1]
		if last.Question.Text != questionText {
			return ErrQuestionMismatch
		}
		if last.Guesses == nil {
			last.Guesses = map[string]float64{}
		}
		last.Guesses[playerID] = guess

		updated, err := json.Marshal(rounds)
		if err != nil {
			return fmt.Errorf("failed to marshal rounds: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE games SET rounds = $2, updated_at = NOW() WHERE id = $1`,
			gameID, updated,
		); err != nil {
			return fmt.Errorf("failed to update round history: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) FetchNextTick(ctx context.Context) (*NextTick, error) {
	var next NextTick
	err := r.db.QueryRowContext(ctx, `
		SELECT id, next_tick_at FROM games
		WHERE next_tick_at IS NOT NULL
		ORDER BY next_tick_at ASC
		LIMIT 1`,
	).Scan(&next.GameID, &next.At)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch next tick: %w", err)
	}
	return &next, nil
}

func (r *PostgresRepository) FetchGamesDue(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM games
		WHERE next_tick_at IS NOT NULL AND next_tick_at <= $1
		ORDER BY next_tick_at ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due games: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan due game: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRepository) ClearNextTick(ctx context.Context, gameID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE games SET next_tick_at = NULL, updated_at = NOW() WHERE id = $1`,
		gameID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear next tick: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrGameNotFound
	}
	return nil
}
