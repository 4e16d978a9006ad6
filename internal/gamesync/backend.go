// Package gamesync keeps one participant's view of a lobby in step with the
// authoritative state and drives the phase navigation of a game.
package gamesync

import (
	"context"

	"quizlobby-service/internal/app"
	"quizlobby-service/internal/domain"
)

// Backend is the server surface a client talks to, bound to one account.
type Backend interface {
	Lobby(ctx context.Context, lobbyID string) (domain.Lobby, error)
	Players(ctx context.Context, lobbyID string) ([]domain.Player, error)
	Questions(ctx context.Context, lobbyID string) ([]domain.QuestionView, error)
	AnswerCount(ctx context.Context, lobbyID, questionID string) (int, error)
	Leaderboard(ctx context.Context, lobbyID string) ([]domain.Player, error)
	SubmitAnswer(ctx context.Context, req domain.AnswerRequest) (domain.AnswerResult, error)
	Start(ctx context.Context, lobbyID string) (domain.Lobby, error)
	Advance(ctx context.Context, lobbyID string, fromIndex int) (domain.Lobby, error)
	End(ctx context.Context, lobbyID string) (domain.Lobby, error)
	RetryGeneration(ctx context.Context, lobbyID string) (domain.Lobby, error)
	Subscribe(ctx context.Context, filter domain.Filter) (<-chan domain.Change, func(), error)
}

// LocalBackend calls an in-process game on behalf of one account.
type LocalBackend struct {
	game      *app.Game
	accountID string
}

func NewLocalBackend(game *app.Game, accountID string) *LocalBackend {
	return &LocalBackend{game: game, accountID: accountID}
}

func (b *LocalBackend) Lobby(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	return b.game.Lobby(ctx, lobbyID)
}

func (b *LocalBackend) Players(ctx context.Context, lobbyID string) ([]domain.Player, error) {
	return b.game.Players(ctx, lobbyID)
}

func (b *LocalBackend) Questions(ctx context.Context, lobbyID string) ([]domain.QuestionView, error) {
	return b.game.Questions(ctx, lobbyID)
}

func (b *LocalBackend) AnswerCount(ctx context.Context, lobbyID, questionID string) (int, error) {
	return b.game.AnswerCount(ctx, lobbyID, questionID)
}

func (b *LocalBackend) Leaderboard(ctx context.Context, lobbyID string) ([]domain.Player, error) {
	return b.game.Leaderboard(ctx, lobbyID)
}

func (b *LocalBackend) SubmitAnswer(ctx context.Context, req domain.AnswerRequest) (domain.AnswerResult, error) {
	return b.game.SubmitAnswer(ctx, b.accountID, req)
}

func (b *LocalBackend) Start(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	return b.game.Start(ctx, lobbyID, b.accountID)
}

func (b *LocalBackend) Advance(ctx context.Context, lobbyID string, fromIndex int) (domain.Lobby, error) {
	return b.game.Advance(ctx, lobbyID, b.accountID, fromIndex)
}

func (b *LocalBackend) End(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	return b.game.End(ctx, lobbyID, b.accountID)
}

func (b *LocalBackend) RetryGeneration(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	return b.game.RetryGeneration(ctx, lobbyID, b.accountID)
}

func (b *LocalBackend) Subscribe(ctx context.Context, filter domain.Filter) (<-chan domain.Change, func(), error) {
	return b.game.Subscribe(ctx, filter)
}
