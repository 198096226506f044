package outbox

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Repository stores and drains outbox rows. Emit satisfies the game
// app's Emitter interface, so wiring the outbox in is just passing the
// repository to the app constructor.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Emit inserts one event row. The row is relayed asynchronously by the
// worker.
func (r *Repository) Emit(ctx context.Context, gameID uuid.UUID, eventType string, payload []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox (id, game_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, NOW())`,
		uuid.New(), gameID, eventType, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s outbox event: %w", eventType, err)
	}
	return nil
}

// FetchUnsentOutbox claims up to limit unsent events inside tx, oldest
// first. SKIP LOCKED lets concurrent workers drain disjoint batches.
func (r *Repository) FetchUnsentOutbox(ctx context.Context, tx *sql.Tx, limit int32) ([]OutboxEvent, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, game_id, event_type, payload, created_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.GameID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkOutboxSent stamps sent_at for the given events inside tx.
func (r *Repository) MarkOutboxSent(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE outbox SET sent_at = NOW() WHERE id = ANY($1)`,
		pq.Array(ids),
	); err != nil {
		return fmt.Errorf("failed to mark outbox events as sent: %w", err)
	}
	return nil
}
