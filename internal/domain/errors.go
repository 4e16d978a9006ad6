package domain

import "errors"

var (
	// ErrLobbyNotFound is returned when no lobby matches an id or live PIN.
	ErrLobbyNotFound = errors.New("lobby not found")
	// ErrPlayerNotFound is returned when an account has not joined the lobby.
	ErrPlayerNotFound = errors.New("player not found in lobby")
	// ErrQuestionNotFound indicates a submitted question ID is invalid for the lobby.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrAnswerNotFound is returned when a player has not answered a question.
	ErrAnswerNotFound = errors.New("answer not found")
	// ErrQuestionNotActive indicates an answer for a question the game has not reached yet.
	ErrQuestionNotActive = errors.New("question is not active")
	// ErrLobbyClosed is returned when joining a lobby that is playing or finished.
	ErrLobbyClosed = errors.New("this game has already started or finished")
	// ErrLobbyNotPlaying is returned when answering outside of the playing state.
	ErrLobbyNotPlaying = errors.New("lobby is not playing")
	// ErrPINExhausted is returned when no free PIN was found within the attempt budget.
	ErrPINExhausted = errors.New("could not allocate a free lobby PIN")
	// ErrDuplicate reports a unique constraint violation in a store.
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict reports a lost compare-and-swap on a lobby row.
	ErrConflict = errors.New("lobby was modified concurrently")
	// ErrInvalidTransition is returned for lifecycle events not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid lobby transition")
	// ErrStaleIndex is returned when advancing from an index the lobby already left.
	ErrStaleIndex = errors.New("question index already advanced")
	// ErrLobbyNotReady is returned when starting a lobby whose questions are not ready.
	ErrLobbyNotReady = errors.New("lobby is not ready to start")
	// ErrNotEnoughPlayers is returned when starting with fewer than the minimum players.
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	// ErrNotHost is returned when a non-host attempts a host-only action.
	ErrNotHost = errors.New("only the host can do that")
	// ErrInvalidConfig indicates an invalid lobby configuration.
	ErrInvalidConfig = errors.New("invalid lobby configuration")
	// ErrInvalidQuestionSet indicates generated questions failed validation.
	ErrInvalidQuestionSet = errors.New("invalid question set")
	// ErrAlreadyAnswered is returned by the sync client when the current question was answered.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrNavigationInFlight is returned when a navigation for this phase already started.
	ErrNavigationInFlight = errors.New("navigation already in progress")
	// ErrPhaseClosed is returned for client actions that do not apply to the current phase.
	ErrPhaseClosed = errors.New("action not available in this phase")
)
