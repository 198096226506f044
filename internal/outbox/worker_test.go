package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishWithRetry(t *testing.T) {
	t.Parallel()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		publisher := publisherFunc(func(context.Context, OutboxEvent) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})
		w := NewWorker(nil, nil, publisher, Config{MaxRetries: 3, RetryDelay: time.Millisecond})

		err := w.publishWithRetry(context.Background(), OutboxEvent{ID: uuid.New()})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		t.Parallel()
		publisher := publisherFunc(func(context.Context, OutboxEvent) error {
			return errors.New("down")
		})
		w := NewWorker(nil, nil, publisher, Config{MaxRetries: 2, RetryDelay: time.Millisecond})

		err := w.publishWithRetry(context.Background(), OutboxEvent{ID: uuid.New()})
		assert.Error(t, err)
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		t.Parallel()
		publisher := publisherFunc(func(context.Context, OutboxEvent) error {
			return errors.New("down")
		})
		w := NewWorker(nil, nil, publisher, Config{MaxRetries: 10, RetryDelay: time.Hour})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := w.publishWithRetry(ctx, OutboxEvent{ID: uuid.New()})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMockPublisher(t *testing.T) {
	t.Parallel()

	m := &MockPublisher{}
	event := OutboxEvent{ID: uuid.New(), EventType: "GameOver"}
	require.NoError(t, m.Publish(context.Background(), event))

	published := m.Published()
	require.Len(t, published, 1)
	assert.Equal(t, event.ID, published[0].ID)

	m.Err = errors.New("bus down")
	assert.Error(t, m.Publish(context.Background(), OutboxEvent{}))
	assert.Len(t, m.Published(), 1)
}

type publisherFunc func(ctx context.Context, event OutboxEvent) error

func (f publisherFunc) Publish(ctx context.Context, event OutboxEvent) error {
	return f(ctx, event)
}
