package game

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longshot-live/longshot/internal/models"
	"github.com/longshot-live/longshot/internal/questions"
)

type fakeWaker struct{ wakes int }

func (f *fakeWaker) Wake() { f.wakes++ }

func newTestServer(t *testing.T) (*httptest.Server, *App, *fakeWaker) {
	t.Helper()

	qs := []models.Question{
		{Text: "q-one", Left: "no", Right: "yes", Answer: true},
		{Text: "q-two", Left: "no", Right: "yes", Answer: false},
	}
	pool, err := questions.New(qs)
	require.NoError(t, err)

	app := NewApp(NewMemoryRepository(), pool, nil)
	app.clock = clockwork.NewFakeClock()

	waker := &fakeWaker{}
	mux := http.NewServeMux()
	NewService(app, waker).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, app, waker
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	fields := map[string]json.RawMessage{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&fields))
	}
	return resp, fields
}

func errorCode(t *testing.T, fields map[string]json.RawMessage) string {
	t.Helper()
	var detail struct {
		Code string `json:"code"`
	}
	require.Contains(t, fields, "error")
	require.NoError(t, json.Unmarshal(fields["error"], &detail))
	return detail.Code
}

func str(t *testing.T, fields map[string]json.RawMessage, key string) string {
	t.Helper()
	var s string
	require.Contains(t, fields, key)
	require.NoError(t, json.Unmarshal(fields[key], &s))
	return s
}

func TestServiceCreateAndJoin(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	resp, fields := doJSON(t, http.MethodPost, srv.URL+"/api/games", map[string]string{"player_id": "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	gameID := str(t, fields, "game_id")
	code := str(t, fields, "join_code")
	assert.Equal(t, "alice", str(t, fields, "player_id"))

	resp, fields = doJSON(t, http.MethodPost, srv.URL+"/api/games/join", map[string]string{"code": code})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, gameID, str(t, fields, "game_id"))
	assert.NotEmpty(t, str(t, fields, "player_id"), "player id is minted when omitted")

	resp, fields = doJSON(t, http.MethodPost, srv.URL+"/api/games/join", map[string]string{"code": "ZZZZ"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "game_not_found", errorCode(t, fields))
}

func TestServiceGameFlow(t *testing.T) {
	t.Parallel()
	srv, app, waker := newTestServer(t)
	ctx := context.Background()

	_, fields := doJSON(t, http.MethodPost, srv.URL+"/api/games", map[string]string{"player_id": "alice"})
	gameID := str(t, fields, "game_id")
	base := srv.URL + "/api/games/" + gameID

	t.Run("round before start is 404", func(t *testing.T) {
		resp, fields := doJSON(t, http.MethodGet, base+"/round", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "round_not_found", errorCode(t, fields))
	})

	resp, _ := doJSON(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, waker.wakes, "start nudges the scheduler")

	t.Run("second start conflicts", func(t *testing.T) {
		resp, fields := doJSON(t, http.MethodPost, base+"/start", nil)
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "already_started", errorCode(t, fields))
	})

	t.Run("settings after start conflict", func(t *testing.T) {
		resp, fields := doJSON(t, http.MethodPost, base+"/settings", map[string]int{"rounds_remaining": 1})
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "game_started", errorCode(t, fields))
	})

	// Drive the round open server-side; the scheduler is not running here.
	gid := mustParseUUID(t, gameID)
	require.NoError(t, app.Tick(ctx, gid))

	var question string
	t.Run("open round hides the answer", func(t *testing.T) {
		resp, fields := doJSON(t, http.MethodGet, base+"/round", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		question = str(t, fields, "question_text")
		assert.NotContains(t, fields, "answer")
	})

	t.Run("guess validation", func(t *testing.T) {
		resp, fields := doJSON(t, http.MethodPost, base+"/guess", map[string]any{
			"player_id": "alice", "question_text": question, "guess": 1.5,
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "validation", errorCode(t, fields))
	})

	resp, _ = doJSON(t, http.MethodPost, base+"/guess", map[string]any{
		"player_id": "alice", "question_text": question, "guess": 0.9,
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	t.Run("stale question conflicts", func(t *testing.T) {
		resp, fields := doJSON(t, http.MethodPost, base+"/guess", map[string]any{
			"player_id": "alice", "question_text": "not the question", "guess": 0.9,
		})
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "question_mismatch", errorCode(t, fields))
	})

	require.NoError(t, app.Tick(ctx, gid)) // close the round

	t.Run("game view carries totals and history", func(t *testing.T) {
		resp, fields := doJSON(t, http.MethodGet, base, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(models.StatusBetweenRounds), str(t, fields, "status"))

		var totals map[string]float64
		require.NoError(t, json.Unmarshal(fields["totals"], &totals))
		assert.Contains(t, totals, "alice")

		var rounds []finishedRoundDTO
		require.NoError(t, json.Unmarshal(fields["rounds"], &rounds))
		require.Len(t, rounds, 1)
		assert.Equal(t, question, rounds[0].QuestionText)
		assert.Equal(t, 0.9, rounds[0].Guesses["alice"])
	})

	resp, _ = doJSON(t, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	t.Run("reset returns the lobby", func(t *testing.T) {
		resp, fields := doJSON(t, http.MethodGet, base, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(models.StatusLobby), str(t, fields, "status"))
	})
}

func TestServiceMalformedRequests(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	resp, fields := doJSON(t, http.MethodGet, srv.URL+"/api/games/not-a-uuid", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", errorCode(t, fields))

	resp, fields = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/games/%s", srv.URL, mustParseUUID(t, "11111111-1111-1111-1111-111111111111")), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "game_not_found", errorCode(t, fields))
}

func mustParseUUID(t *testing.T, s string) (id uuid.UUID) {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}
