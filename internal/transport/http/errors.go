package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"quizlobby-service/internal/domain"
)

type errorCode struct {
	err    error
	status int
	code   string
}

// errorCodes maps domain sentinels to HTTP statuses and stable wire codes.
// The remote backend uses the code to restore the sentinel on the client side.
var errorCodes = []errorCode{
	{domain.ErrLobbyNotFound, http.StatusNotFound, "lobby_not_found"},
	{domain.ErrPlayerNotFound, http.StatusNotFound, "player_not_found"},
	{domain.ErrQuestionNotFound, http.StatusNotFound, "question_not_found"},
	{domain.ErrAnswerNotFound, http.StatusNotFound, "answer_not_found"},
	{domain.ErrNotHost, http.StatusForbidden, "not_host"},
	{domain.ErrInvalidConfig, http.StatusBadRequest, "invalid_config"},
	{domain.ErrInvalidQuestionSet, http.StatusUnprocessableEntity, "invalid_question_set"},
	{domain.ErrLobbyClosed, http.StatusConflict, "lobby_closed"},
	{domain.ErrLobbyNotPlaying, http.StatusConflict, "lobby_not_playing"},
	{domain.ErrLobbyNotReady, http.StatusConflict, "lobby_not_ready"},
	{domain.ErrNotEnoughPlayers, http.StatusConflict, "not_enough_players"},
	{domain.ErrQuestionNotActive, http.StatusConflict, "question_not_active"},
	{domain.ErrStaleIndex, http.StatusConflict, "stale_index"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrDuplicate, http.StatusConflict, "duplicate"},
	{domain.ErrAlreadyAnswered, http.StatusConflict, "already_answered"},
	{domain.ErrPINExhausted, http.StatusServiceUnavailable, "pin_exhausted"},
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func statusFor(err error) (int, string) {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.status, ec.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// errorFor restores the sentinel for a wire code, or nil if the code is unknown.
func errorFor(code string) error {
	for _, ec := range errorCodes {
		if ec.code == code {
			return ec.err
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}
