package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizlobby-service/internal/domain"
	"quizlobby-service/internal/infra/memory"
)

// racyAnswers reports no prior answer but then loses the insert race, as when
// two submissions for the same player arrive together.
type racyAnswers struct {
	stored  domain.Answer
	gets    int
	records int
}

func (r *racyAnswers) RecordAnswer(context.Context, *domain.Answer) (domain.Player, error) {
	r.records++
	return domain.Player{}, domain.ErrDuplicate
}

func (r *racyAnswers) GetAnswer(context.Context, string, string) (domain.Answer, error) {
	r.gets++
	if r.gets == 1 {
		return domain.Answer{}, domain.ErrAnswerNotFound
	}
	return r.stored, nil
}

func (r *racyAnswers) CountAnswers(context.Context, string) (int, error) { return 1, nil }

type fixedPlayers struct {
	PlayerStore
	player domain.Player
}

func (f *fixedPlayers) GetPlayer(context.Context, string) (domain.Player, error) {
	return f.player, nil
}

func TestSubmitTreatsInsertRaceAsDuplicate(t *testing.T) {
	answers := &racyAnswers{stored: domain.Answer{PlayerID: "p1", PointsEarned: 1200, IsCorrect: true}}
	players := &fixedPlayers{player: domain.Player{ID: "p1", TotalScore: 1200}}
	engine := NewScoringEngine(answers, players, nil, discard())

	res, err := engine.Submit(context.Background(), domain.Submission{
		QuestionID: "q1", PlayerID: "p1", SelectedAnswer: "4", CorrectAnswer: "4", TimeTakenMs: 0, TimeLimitSec: 10,
	})

	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 1200, res.Points)
	assert.Equal(t, 1200, res.TotalScore)
	assert.Equal(t, 1, answers.records)
}

var errConnReset = errors.New("connection reset")

// flakyAnswers fails the first RecordAnswer the way a rolled back
// transaction does: nothing is stored and nothing is credited.
type flakyAnswers struct {
	*memory.Store
	failures int
}

func (f *flakyAnswers) RecordAnswer(ctx context.Context, a *domain.Answer) (domain.Player, error) {
	if f.failures > 0 {
		f.failures--
		return domain.Player{}, errConnReset
	}
	return f.Store.RecordAnswer(ctx, a)
}

func TestSubmitRetryAfterFailedWriteCreditsPoints(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.InsertLobby(ctx, domain.Lobby{ID: "l1", PIN: "12345", Status: domain.StatusPlaying, NumQuestions: 1, TimeLimit: 15}))
	player := &domain.Player{LobbyID: "l1", UserID: "u1"}
	require.NoError(t, store.InsertPlayer(ctx, player))

	answers := &flakyAnswers{Store: store, failures: 1}
	engine := NewScoringEngine(answers, store, nil, discard())
	sub := domain.Submission{
		LobbyID: "l1", QuestionID: "q1", PlayerID: player.ID,
		SelectedAnswer: "4", CorrectAnswer: "4", TimeTakenMs: 0, TimeLimitSec: 15,
	}

	_, err := engine.Submit(ctx, sub)
	require.ErrorIs(t, err, errConnReset)
	n, _ := store.CountAnswers(ctx, "q1")
	assert.Zero(t, n, "a failed write must not leave an answer behind")

	res, err := engine.Submit(ctx, sub)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 1500, res.Points)
	assert.Equal(t, 1500, res.TotalScore)

	again, err := engine.Submit(ctx, sub)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, 1500, again.TotalScore)

	stored, err := store.GetPlayer(ctx, player.ID)
	require.NoError(t, err)
	assert.Equal(t, 1500, stored.TotalScore)
}
