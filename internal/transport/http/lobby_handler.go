package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"quizlobby-service/internal/app"
	"quizlobby-service/internal/domain"
)

type LobbyHandler struct {
	game *app.Game
	log  logrus.FieldLogger
}

func NewLobbyHandler(game *app.Game, log logrus.FieldLogger) *LobbyHandler {
	return &LobbyHandler{game: game, log: log}
}

type membership struct {
	Lobby  domain.Lobby  `json:"lobby"`
	Player domain.Player `json:"player"`
}

type joinRequest struct {
	PIN string `json:"pin"`
}

type advanceRequest struct {
	FromIndex int `json:"from_index"`
}

type countResponse struct {
	Count int `json:"count"`
}

func (h *LobbyHandler) Create(w http.ResponseWriter, r *http.Request) {
	acct, _ := AccountFrom(r.Context())
	var cfg domain.LobbyConfig
	if !h.decode(w, r, &cfg) {
		return
	}
	lobby, player, err := h.game.CreateLobby(r.Context(), cfg, acct)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, membership{Lobby: lobby, Player: player})
}

func (h *LobbyHandler) Join(w http.ResponseWriter, r *http.Request) {
	acct, _ := AccountFrom(r.Context())
	var req joinRequest
	if !h.decode(w, r, &req) {
		return
	}
	lobby, player, err := h.game.Join(r.Context(), req.PIN, acct)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, membership{Lobby: lobby, Player: player})
}

func (h *LobbyHandler) Get(w http.ResponseWriter, r *http.Request) {
	lobby, err := h.game.Lobby(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, lobby, err)
}

func (h *LobbyHandler) ByPIN(w http.ResponseWriter, r *http.Request) {
	lobby, err := h.game.LobbyByPIN(r.Context(), chi.URLParam(r, "pin"))
	h.respond(w, r, lobby, err)
}

func (h *LobbyHandler) Players(w http.ResponseWriter, r *http.Request) {
	players, err := h.game.Players(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, players, err)
}

func (h *LobbyHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	players, err := h.game.Leaderboard(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, players, err)
}

func (h *LobbyHandler) Questions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.game.Questions(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, questions, err)
}

func (h *LobbyHandler) AnswerCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.game.AnswerCount(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "questionID"))
	h.respond(w, r, countResponse{Count: n}, err)
}

func (h *LobbyHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	acct, _ := AccountFrom(r.Context())
	var req domain.AnswerRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.LobbyID = chi.URLParam(r, "id")
	res, err := h.game.SubmitAnswer(r.Context(), acct.ID, req)
	h.respond(w, r, res, err)
}

func (h *LobbyHandler) Start(w http.ResponseWriter, r *http.Request) {
	acct, _ := AccountFrom(r.Context())
	lobby, err := h.game.Start(r.Context(), chi.URLParam(r, "id"), acct.ID)
	h.respond(w, r, lobby, err)
}

func (h *LobbyHandler) Advance(w http.ResponseWriter, r *http.Request) {
	acct, _ := AccountFrom(r.Context())
	var req advanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	lobby, err := h.game.Advance(r.Context(), chi.URLParam(r, "id"), acct.ID, req.FromIndex)
	h.respond(w, r, lobby, err)
}

func (h *LobbyHandler) End(w http.ResponseWriter, r *http.Request) {
	acct, _ := AccountFrom(r.Context())
	lobby, err := h.game.End(r.Context(), chi.URLParam(r, "id"), acct.ID)
	h.respond(w, r, lobby, err)
}

func (h *LobbyHandler) RetryGeneration(w http.ResponseWriter, r *http.Request) {
	acct, _ := AccountFrom(r.Context())
	lobby, err := h.game.RetryGeneration(r.Context(), chi.URLParam(r, "id"), acct.ID)
	h.respond(w, r, lobby, err)
}

func (h *LobbyHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Code: "bad_request"})
		return false
	}
	return true
}

func (h *LobbyHandler) respond(w http.ResponseWriter, r *http.Request, v interface{}, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *LobbyHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := statusFor(err)
	entry := h.log.WithError(err).WithFields(logrus.Fields{"path": r.URL.Path, "status": status})
	if lobbyID := chi.URLParam(r, "id"); lobbyID != "" {
		entry = entry.WithField("lobby_id", lobbyID)
	}
	if status == http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	writeError(w, err)
}
