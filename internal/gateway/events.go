// Package gateway fans domain events out to WebSocket clients. It only
// transports events; it holds no game state and makes no game decisions.
package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/longshot-live/longshot/internal/events"
)

// GameEvent is the wire format sent to WebSocket clients.
type GameEvent struct {
	ID        string          `json:"id"`        // Event UUID
	GameID    string          `json:"game_id"`   // Game UUID
	Type      string          `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// ParseEventPayload parses event data into the appropriate payload struct.
func ParseEventPayload(event *GameEvent) (interface{}, error) {
	switch event.Type {
	case events.TypeGameCreated:
		var payload events.GameCreatedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypePlayerJoined:
		var payload events.PlayerJoinedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypePlayerLeft:
		var payload events.PlayerLeftPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeGameStarted:
		var payload events.GameStartedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeRoundStarted:
		var payload events.RoundStartedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypePlayerGuessed:
		var payload events.PlayerGuessedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeRoundClosed:
		var payload events.RoundClosedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeGameOver:
		var payload events.GameOverPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case events.TypeGameReset:
		var payload events.GameResetPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}
}
