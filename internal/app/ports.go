package app

import (
	"context"

	"quizlobby-service/internal/domain"
)

// LobbyStore persists lobbies. CompareAndSwapLobby must only write next when
// the stored row still has old's status and question index, and must return
// domain.ErrConflict otherwise.
type LobbyStore interface {
	InsertLobby(ctx context.Context, lobby domain.Lobby) error
	GetLobby(ctx context.Context, id string) (domain.Lobby, error)
	GetLobbyByPIN(ctx context.Context, pin string) (domain.Lobby, error)
	PINInUse(ctx context.Context, pin string) (bool, error)
	CompareAndSwapLobby(ctx context.Context, old, next domain.Lobby) error
}

// PlayerStore persists lobby membership and scores. InsertPlayer fills in
// JoinedAt and JoinSeq and returns domain.ErrDuplicate for a second row with
// the same lobby and account.
type PlayerStore interface {
	InsertPlayer(ctx context.Context, player *domain.Player) error
	GetPlayer(ctx context.Context, id string) (domain.Player, error)
	GetPlayerByAccount(ctx context.Context, lobbyID, userID string) (domain.Player, error)
	ListPlayers(ctx context.Context, lobbyID string) ([]domain.Player, error)
	CountPlayers(ctx context.Context, lobbyID string) (int, error)
}

// QuestionStore persists generated questions. InsertQuestions is all or nothing.
type QuestionStore interface {
	InsertQuestions(ctx context.Context, questions []domain.Question) error
	ListQuestions(ctx context.Context, lobbyID string) ([]domain.Question, error)
}

// AnswerStore persists answers; at most one per (question, player).
// RecordAnswer stores the answer and adds its PointsEarned to the player's
// total as one step, returning the updated player. A second answer for the
// same question returns domain.ErrDuplicate and changes nothing.
type AnswerStore interface {
	RecordAnswer(ctx context.Context, answer *domain.Answer) (domain.Player, error)
	GetAnswer(ctx context.Context, questionID, playerID string) (domain.Answer, error)
	CountAnswers(ctx context.Context, questionID string) (int, error)
}

// ChangeFeed streams row changes. Callers must invoke cancel to avoid leaks.
type ChangeFeed interface {
	Subscribe(ctx context.Context, filter domain.Filter) (<-chan domain.Change, func(), error)
}

// Store is everything the game needs from persistence.
type Store interface {
	LobbyStore
	PlayerStore
	QuestionStore
	AnswerStore
	ChangeFeed
}

// QuestionCache reads a lobby's question list through a cache.
type QuestionCache interface {
	GetQuestions(ctx context.Context, lobbyID string) ([]domain.Question, error)
}

// PINReserver holds short-lived PIN claims outside the database.
type PINReserver interface {
	Reserve(ctx context.Context, pin string) (bool, error)
	Release(ctx context.Context, pin string) error
}

// GenerationDone reports the outcome of a generation job for lobbyID.
type GenerationDone func(ctx context.Context, lobbyID string, err error)

// QuestionProvider produces a lobby's question set asynchronously.
type QuestionProvider interface {
	RequestGeneration(lobby domain.Lobby, done GenerationDone)
}
