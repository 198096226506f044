// Package events defines the domain-event types and payloads shared
// between the game core, the outbox and the gateway.
package events

import (
	"time"
)

// Event type names as they appear in the outbox and on the wire.
const (
	TypeGameCreated   = "GameCreated"
	TypePlayerJoined  = "PlayerJoined"
	TypePlayerLeft    = "PlayerLeft"
	TypeGameStarted   = "GameStarted"
	TypeRoundStarted  = "RoundStarted"
	TypePlayerGuessed = "PlayerGuessed"
	TypeRoundClosed   = "RoundClosed"
	TypeGameOver      = "GameOver"
	TypeGameReset     = "GameReset"
)

// GameCreatedPayload is the payload for a GameCreated event.
type GameCreatedPayload struct {
	GameID    string    `json:"game_id"`
	JoinCode  string    `json:"join_code"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// PlayerJoinedPayload is the payload for a PlayerJoined event.
type PlayerJoinedPayload struct {
	PlayerID string    `json:"player_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// PlayerLeftPayload is the payload for a PlayerLeft event.
type PlayerLeftPayload struct {
	PlayerID string    `json:"player_id"`
	LeftAt   time.Time `json:"left_at"`
}

// GameStartedPayload is the payload for a GameStarted event.
type GameStartedPayload struct {
	StartedAt          time.Time `json:"started_at"`
	TotalRounds        int       `json:"total_rounds"`
	SecondsPerQuestion int       `json:"seconds_per_question"`
}

// RoundStartedPayload is the payload for a RoundStarted event. The answer
// is deliberately absent; it is only revealed in RoundClosed.
type RoundStartedPayload struct {
	QuestionText       string    `json:"question_text"`
	Left               string    `json:"left"`
	Right              string    `json:"right"`
	StartedAt          time.Time `json:"started_at"`
	Deadline           time.Time `json:"deadline"`
	SecondsPerQuestion int       `json:"seconds_per_question"`
	RoundsRemaining    int       `json:"rounds_remaining"`
}

// PlayerGuessedPayload announces that a player locked in a guess. The
// value stays server-side until the round closes.
type PlayerGuessedPayload struct {
	PlayerID  string    `json:"player_id"`
	GuessedAt time.Time `json:"guessed_at"`
}

// RoundClosedPayload is the payload for a RoundClosed event.
type RoundClosedPayload struct {
	QuestionText string             `json:"question_text"`
	Answer       bool               `json:"answer"`
	Guesses      map[string]float64 `json:"guesses"`
	Scores       map[string]float64 `json:"scores"`
	ClosedAt     time.Time          `json:"closed_at"`
}

// GameOverPayload is the payload for a GameOver event.
type GameOverPayload struct {
	FinishedAt   time.Time `json:"finished_at"`
	RoundsPlayed int       `json:"rounds_played"`
}

// GameResetPayload is the payload for a GameReset event.
type GameResetPayload struct {
	ResetAt time.Time `json:"reset_at"`
}
