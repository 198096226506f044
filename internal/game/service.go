package game

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/longshot-live/longshot/internal/joincode"
	"github.com/longshot-live/longshot/internal/models"
	"github.com/longshot-live/longshot/internal/scoring"
)

// Waker lets handlers nudge the scheduler after arming a zero-delay
// tick, so game start does not wait out an idle poll interval.
type Waker interface {
	Wake()
}

// Service exposes the game App over JSON HTTP.
type Service struct {
	app   *App
	waker Waker
}

// NewService creates the HTTP service. waker may be nil.
func NewService(app *App, waker Waker) *Service {
	return &Service{app: app, waker: waker}
}

// RegisterRoutes mounts the game endpoints on mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/games", s.handleCreateGame)
	mux.HandleFunc("POST /api/games/join", s.handleJoinGame)
	mux.HandleFunc("GET /api/games/{id}", s.handleGetGame)
	mux.HandleFunc("GET /api/games/{id}/round", s.handleGetRound)
	mux.HandleFunc("POST /api/games/{id}/leave", s.handleLeaveGame)
	mux.HandleFunc("POST /api/games/{id}/settings", s.handleUpdateSettings)
	mux.HandleFunc("POST /api/games/{id}/start", s.handleStartGame)
	mux.HandleFunc("POST /api/games/{id}/reset", s.handleResetGame)
	mux.HandleFunc("POST /api/games/{id}/guess", s.handleSetGuess)
}

type createGameRequest struct {
	PlayerID string `json:"player_id,omitempty"`
}

type createGameResponse struct {
	GameID   string `json:"game_id"`
	JoinCode string `json:"join_code"`
	PlayerID string `json:"player_id"`
}

func (s *Service) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if req.PlayerID == "" {
		req.PlayerID = joincode.NewPlayerID()
	}

	g, err := s.app.CreateGame(r.Context(), req.PlayerID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createGameResponse{
		GameID:   g.ID.String(),
		JoinCode: g.Code,
		PlayerID: req.PlayerID,
	})
}

type joinGameRequest struct {
	Code     string `json:"code"`
	PlayerID string `json:"player_id,omitempty"`
}

type joinGameResponse struct {
	GameID   string `json:"game_id"`
	PlayerID string `json:"player_id"`
}

func (s *Service) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	var req joinGameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if req.PlayerID == "" {
		req.PlayerID = joincode.NewPlayerID()
	}

	gameID, err := s.app.JoinGame(r.Context(), req.Code, req.PlayerID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, joinGameResponse{
		GameID:   gameID.String(),
		PlayerID: req.PlayerID,
	})
}

type playerDTO struct {
	Name string `json:"name"`
}

type finishedRoundDTO struct {
	QuestionText string             `json:"question_text"`
	Left         string             `json:"left"`
	Right        string             `json:"right"`
	Answer       bool               `json:"answer"`
	Guesses      map[string]float64 `json:"guesses"`
}

type gameResponse struct {
	GameID             string               `json:"game_id"`
	JoinCode           string               `json:"join_code"`
	Status             models.GameStatus    `json:"status"`
	RoundsRemaining    int                  `json:"rounds_remaining"`
	SecondsPerQuestion int                  `json:"seconds_per_question"`
	Players            map[string]playerDTO `json:"players"`
	Totals             map[string]float64   `json:"totals"`
	Rounds             []finishedRoundDTO   `json:"rounds"`
}

func (s *Service) handleGetGame(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}

	g, err := s.app.GetGame(r.Context(), gameID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	round, err := s.app.GetCurrentRound(r.Context(), gameID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	players := make(map[string]playerDTO, len(g.Players))
	for id, p := range g.Players {
		players[id] = playerDTO{Name: p.Name}
	}
	rounds := make([]finishedRoundDTO, len(g.Rounds))
	for i, fr := range g.Rounds {
		rounds[i] = finishedRoundDTO{
			QuestionText: fr.Question.Text,
			Left:         fr.Question.Left,
			Right:        fr.Question.Right,
			Answer:       fr.Answer,
			Guesses:      fr.Guesses,
		}
	}

	writeJSON(w, http.StatusOK, gameResponse{
		GameID:             g.ID.String(),
		JoinCode:           g.Code,
		Status:             models.StatusOf(g, round),
		RoundsRemaining:    g.RoundsRemaining,
		SecondsPerQuestion: g.SecondsPerQuestion,
		Players:            players,
		Totals:             scoring.Totals(g.Rounds),
		Rounds:             rounds,
	})
}

// roundResponse deliberately omits the answer; it is only revealed once
// the round closes.
type roundResponse struct {
	QuestionText string    `json:"question_text"`
	Left         string    `json:"left"`
	Right        string    `json:"right"`
	Deadline     time.Time `json:"deadline"`
}

func (s *Service) handleGetRound(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}

	round, err := s.app.GetCurrentRound(r.Context(), gameID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	if round == nil {
		writeError(w, http.StatusNotFound, "round_not_found", "no round is open")
		return
	}
	writeJSON(w, http.StatusOK, roundResponse{
		QuestionText: round.Question.Text,
		Left:         round.Question.Left,
		Right:        round.Question.Right,
		Deadline:     round.Deadline,
	})
}

type leaveGameRequest struct {
	PlayerID string `json:"player_id"`
}

func (s *Service) handleLeaveGame(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}
	var req leaveGameRequest
	if err := decodeBody(r, &req); err != nil || req.PlayerID == "" {
		writeError(w, http.StatusBadRequest, "validation", "player_id is required")
		return
	}

	if err := s.app.LeaveGame(r.Context(), gameID, req.PlayerID); err != nil {
		s.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateSettingsRequest struct {
	RoundsRemaining    *int    `json:"rounds_remaining,omitempty"`
	SecondsPerQuestion *int    `json:"seconds_per_question,omitempty"`
	PlayerID           string  `json:"player_id,omitempty"`
	PlayerName         *string `json:"player_name,omitempty"`
}

func (s *Service) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}
	var req updateSettingsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	err := s.app.UpdateSettings(r.Context(), gameID, UpdateSettingsRequest{
		RoundsRemaining:    req.RoundsRemaining,
		SecondsPerQuestion: req.SecondsPerQuestion,
		PlayerID:           req.PlayerID,
		PlayerName:         req.PlayerName,
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleStartGame(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}

	if err := s.app.StartGame(r.Context(), gameID); err != nil {
		s.writeAppError(w, err)
		return
	}
	if s.waker != nil {
		s.waker.Wake()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleResetGame(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}

	if err := s.app.ResetGame(r.Context(), gameID); err != nil {
		s.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setGuessRequest struct {
	PlayerID     string  `json:"player_id"`
	QuestionText string  `json:"question_text"`
	Guess        float64 `json:"guess"`
}

func (s *Service) handleSetGuess(w http.ResponseWriter, r *http.Request) {
	gameID, ok := pathGameID(w, r)
	if !ok {
		return
	}
	var req setGuessRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	err := s.app.SetGuess(r.Context(), gameID, req.PlayerID, req.QuestionText, req.Guess)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathGameID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed game id")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeAppError maps domain sentinels onto the HTTP error taxonomy.
func (s *Service) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrGameNotFound):
		writeError(w, http.StatusNotFound, "game_not_found", "game not found")
	case errors.Is(err, ErrRoundNotFound):
		writeError(w, http.StatusNotFound, "round_not_found", "no matching round")
	case errors.Is(err, ErrQuestionMismatch):
		writeError(w, http.StatusConflict, "question_mismatch", "question is no longer current")
	case errors.Is(err, ErrGameStarted):
		writeError(w, http.StatusConflict, "game_started", "settings are frozen after start")
	case errors.Is(err, ErrAlreadyStarted):
		writeError(w, http.StatusConflict, "already_started", "game already started")
	case errors.Is(err, ErrNoRoundsRemaining):
		writeError(w, http.StatusConflict, "no_rounds_remaining", "no rounds remaining")
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
