package gamesync

import (
	"time"

	"quizlobby-service/internal/domain"
)

// SignalKind tells the presentation layer what changed.
type SignalKind int

const (
	SignalLobbyUpdated SignalKind = iota + 1
	SignalPlayersUpdated
	SignalGenerationFailed
	SignalQuestion
	SignalLeaderboard
	SignalLeaderboardUpdated
	SignalPodium
)

func (k SignalKind) String() string {
	switch k {
	case SignalLobbyUpdated:
		return "lobby_updated"
	case SignalPlayersUpdated:
		return "players_updated"
	case SignalGenerationFailed:
		return "generation_failed"
	case SignalQuestion:
		return "navigate_question"
	case SignalLeaderboard:
		return "navigate_leaderboard"
	case SignalLeaderboardUpdated:
		return "leaderboard_updated"
	case SignalPodium:
		return "navigate_podium"
	}
	return "unknown"
}

// Signal is emitted on Client.Signals. Fields not relevant to Kind are zero.
type Signal struct {
	Kind          SignalKind
	Lobby         domain.Lobby
	QuestionIndex int
	Question      *domain.QuestionView
	Deadline      time.Time
	Players       []domain.Player
	// Forced is set when the leaderboard was entered after the answer checks
	// ran out rather than because every player answered.
	Forced bool
}
