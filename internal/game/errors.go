package game

import "errors"

var (
	// ErrGameNotFound is returned when no game matches the given id or
	// join code.
	ErrGameNotFound = errors.New("game not found")

	// ErrRoundNotFound is returned when a game has no open round (and,
	// for guess intake, no matching finished round to fall back to).
	ErrRoundNotFound = errors.New("round not found")

	// ErrRoundExists is returned when opening a round that is already
	// open; a duplicate tick delivery hits this and is absorbed.
	ErrRoundExists = errors.New("round already open")

	// ErrCodeTaken is returned when a freshly drawn join code lost the
	// reservation race; game creation retries with a new code.
	ErrCodeTaken = errors.New("join code already taken")

	// ErrGameStarted guards lobby-only operations.
	ErrGameStarted = errors.New("cannot update settings after start")

	// ErrAlreadyStarted is returned by a second start call; starting is
	// deliberately not idempotent.
	ErrAlreadyStarted = errors.New("game already started")

	// ErrGameNotStarted is returned when a tick fires on an un-started
	// game, which indicates a scheduling bug.
	ErrGameNotStarted = errors.New("game not started")

	// ErrNoRoundsRemaining blocks starting a game with nothing to play.
	ErrNoRoundsRemaining = errors.New("no rounds remaining")

	// ErrQuestionMismatch is returned when a guess names a question that
	// is neither the open round nor the last finished round. It signals a
	// stale client, not a bug.
	ErrQuestionMismatch = errors.New("question text does not match")

	// ErrPoolExhausted is returned when a round should open but every
	// question has been asked. Validated settings make this unreachable;
	// if it happens anyway it must fail loudly.
	ErrPoolExhausted = errors.New("question pool exhausted")

	// ErrValidation wraps malformed client input rejected before any
	// mutation.
	ErrValidation = errors.New("validation failed")
)
