package models

import (
	"time"

	"github.com/google/uuid"
)

// Player is one member of a game, keyed in Game.Players by an opaque
// player id. The id carries no authentication guarantee.
type Player struct {
	Name string `json:"name"`
}

// FinishedRound is one closed round folded into a game's history. The
// question is snapshotted so later catalog changes cannot leak into old
// rounds. Guesses maps player id -> probability in [0,1]; a player with no
// entry is treated as the neutral 0.5 downstream.
type FinishedRound struct {
	Question Question           `json:"question"`
	Answer   bool               `json:"answer"`
	Guesses  map[string]float64 `json:"guesses"`
}

// Game is the authoritative record of one session: configuration,
// membership and round history. Started is monotonic false->true within a
// game's lifetime (only a full reset returns it to false), and
// RoundsRemaining only decreases while started.
type Game struct {
	ID                 uuid.UUID
	Code               string
	Started            bool
	RoundsRemaining    int
	SecondsPerQuestion int
	Players            map[string]Player
	Rounds             []FinishedRound
	NextTickAt         *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CurrentRound is the transient child of a game while a round is open; at
// most one exists per game. Its presence is the sole signal that a round
// is open. Guesses is seeded at 0.5 for every player present at creation.
type CurrentRound struct {
	GameID   uuid.UUID
	Question Question
	Guesses  map[string]float64
	Deadline time.Time
}

// GameStatus is the derived logical state of a game with respect to
// rounds. Storage only materializes Started/RoundsRemaining and the
// presence of a CurrentRound; StatusOf folds those into the explicit
// four-state machine.
type GameStatus string

const (
	StatusLobby         GameStatus = "LOBBY"
	StatusRoundOpen     GameStatus = "ROUND_OPEN"
	StatusBetweenRounds GameStatus = "BETWEEN_ROUNDS"
	StatusGameOver      GameStatus = "GAME_OVER"
)

// StatusOf derives the logical state from a game and its current round
// (nil when no round is open).
func StatusOf(g *Game, round *CurrentRound) GameStatus {
	switch {
	case !g.Started:
		return StatusLobby
	case round != nil:
		return StatusRoundOpen
	case g.RoundsRemaining > 0:
		return StatusBetweenRounds
	default:
		return StatusGameOver
	}
}
