package game

import (
	"time"

	"github.com/google/uuid"
)

// Defaults and bounds for game settings.
const (
	DefaultRounds             = 10
	DefaultSecondsPerQuestion = 15
	MinSecondsPerQuestion     = 1
	MaxSecondsPerQuestion     = 60

	// InterRoundDelay is the pause between closing one round and opening
	// the next.
	InterRoundDelay = 300 * time.Millisecond
)

// UpdateSettingsRequest carries the optional lobby-settings fields; only
// non-nil fields are applied. PlayerName updates the display name of
// PlayerID when set.
type UpdateSettingsRequest struct {
	RoundsRemaining    *int
	SecondsPerQuestion *int
	PlayerID           string
	PlayerName         *string
}

// NextTick is the earliest pending tick across all games.
type NextTick struct {
	GameID uuid.UUID
	At     time.Time
}
