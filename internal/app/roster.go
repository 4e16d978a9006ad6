package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"quizlobby-service/internal/domain"
)

// Roster manages lobby membership.
type Roster struct {
	lobbies LobbyStore
	players PlayerStore
	log     logrus.FieldLogger
}

func NewRoster(lobbies LobbyStore, players PlayerStore, log logrus.FieldLogger) *Roster {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Roster{lobbies: lobbies, players: players, log: log}
}

// Join adds the account to the live lobby with the given PIN. Joining twice
// returns the existing membership.
func (r *Roster) Join(ctx context.Context, pin string, who domain.Account) (domain.Lobby, domain.Player, error) {
	lobby, err := r.lobbies.GetLobbyByPIN(ctx, pin)
	if err != nil {
		return domain.Lobby{}, domain.Player{}, err
	}
	player, err := r.JoinLobby(ctx, lobby, who)
	return lobby, player, err
}

// JoinLobby adds the account to lobby, which must not be playing or finished.
func (r *Roster) JoinLobby(ctx context.Context, lobby domain.Lobby, who domain.Account) (domain.Player, error) {
	if lobby.Status == domain.StatusPlaying || lobby.Status == domain.StatusFinished {
		return domain.Player{}, domain.ErrLobbyClosed
	}

	existing, err := r.players.GetPlayerByAccount(ctx, lobby.ID, who.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrPlayerNotFound) {
		return domain.Player{}, err
	}

	player := domain.Player{
		LobbyID:  lobby.ID,
		UserID:   who.ID,
		Username: who.Username,
		Avatar:   who.Avatar,
	}
	if err := r.players.InsertPlayer(ctx, &player); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// concurrent join by the same account
			return r.players.GetPlayerByAccount(ctx, lobby.ID, who.ID)
		}
		return domain.Player{}, fmt.Errorf("insert player: %w", err)
	}

	r.log.WithFields(logrus.Fields{"lobby_id": lobby.ID, "player_id": player.ID, "user_id": who.ID}).Info("player joined")
	return player, nil
}

// List returns the lobby's players in join order.
func (r *Roster) List(ctx context.Context, lobbyID string) ([]domain.Player, error) {
	return r.players.ListPlayers(ctx, lobbyID)
}

// Leaderboard returns the lobby's players ranked by score.
func (r *Roster) Leaderboard(ctx context.Context, lobbyID string) ([]domain.Player, error) {
	players, err := r.players.ListPlayers(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	return domain.Rank(players), nil
}
