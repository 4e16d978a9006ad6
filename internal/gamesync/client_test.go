package gamesync_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizlobby-service/internal/app"
	"quizlobby-service/internal/domain"
	"quizlobby-service/internal/gamesync"
	"quizlobby-service/internal/generator"
	"quizlobby-service/internal/infra/memory"
)

var (
	host  = domain.Account{ID: "acct-host", Username: "Hana"}
	alice = domain.Account{ID: "acct-alice", Username: "Alice"}
	bob   = domain.Account{ID: "acct-bob", Username: "Bob"}
)

type table struct {
	clock *clock.Mock
	store *memory.Store
	game  *app.Game
	lobby domain.Lobby
	log   logrus.FieldLogger
}

func newTable(t *testing.T, numQuestions int, guests ...domain.Account) *table {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	store := memory.NewStoreWithClock(mock.Now)
	runner := app.NewGenerationRunner(generator.NewStatic(), store, time.Second, log)
	game := app.NewGame(store, nil, nil, runner, app.Options{Now: mock.Now, Logger: log})

	ctx := context.Background()
	lobby, _, err := game.CreateLobby(ctx, domain.LobbyConfig{Topics: []string{"math"}, TimeLimit: 10, NumQuestions: numQuestions, Difficulty: domain.DifficultyMild}, host)
	require.NoError(t, err)
	runner.Wait()
	for _, g := range guests {
		_, _, err := game.Join(ctx, lobby.PIN, g)
		require.NoError(t, err)
	}
	lobby, err = game.Lobby(ctx, lobby.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusReady, lobby.Status)
	return &table{clock: mock, store: store, game: game, lobby: lobby, log: log}
}

func (tb *table) client(t *testing.T, ctx context.Context, who domain.Account) *gamesync.Client {
	t.Helper()
	return tb.clientWith(t, ctx, who, gamesync.NewLocalBackend(tb.game, who.ID))
}

func (tb *table) clientWith(t *testing.T, ctx context.Context, who domain.Account, backend gamesync.Backend) *gamesync.Client {
	t.Helper()
	c := gamesync.NewClient(backend, tb.lobby.ID, who.ID, gamesync.Options{Clock: tb.clock, Logger: tb.log})
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() {
		select {
		case <-c.Done():
		case <-time.After(2 * time.Second):
			t.Errorf("client %s did not stop", who.Username)
		}
	})
	return c
}

// next waits for the first signal of kind, skipping others.
func next(t *testing.T, c *gamesync.Client, kind gamesync.SignalKind) gamesync.Signal {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s, ok := <-c.Signals():
			if !ok {
				t.Fatalf("signals closed while waiting for %s", kind)
			}
			if s.Kind == kind {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

// advanceUntil moves the mock clock in steps until c emits kind.
func advanceUntil(t *testing.T, mock *clock.Mock, c *gamesync.Client, kind gamesync.SignalKind, step, max time.Duration) gamesync.Signal {
	t.Helper()
	for elapsed := time.Duration(0); elapsed <= max; elapsed += step {
		select {
		case s := <-c.Signals():
			if s.Kind == kind {
				return s
			}
			continue
		default:
		}
		mock.Add(step)
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s within %s of clock time", kind, max)
	return gamesync.Signal{}
}

func drainNo(t *testing.T, c *gamesync.Client, kind gamesync.SignalKind) {
	t.Helper()
	for {
		select {
		case s := <-c.Signals():
			if s.Kind == kind {
				t.Fatalf("unexpected %s signal", kind)
			}
		default:
			return
		}
	}
}

func TestClientsPlayFullGame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tb := newTable(t, 2, alice)

	hostC := tb.client(t, ctx, host)
	aliceC := tb.client(t, ctx, alice)

	lobbySig := next(t, hostC, gamesync.SignalLobbyUpdated)
	assert.Equal(t, domain.StatusReady, lobbySig.Lobby.Status)
	next(t, aliceC, gamesync.SignalLobbyUpdated)

	assert.ErrorIs(t, aliceC.Start(ctx), domain.ErrNotHost)
	require.NoError(t, hostC.Start(ctx))

	q0 := next(t, hostC, gamesync.SignalQuestion)
	require.NotNil(t, q0.Question)
	assert.Equal(t, 0, q0.QuestionIndex)
	assert.Len(t, q0.Question.Choices, 4)
	assert.Equal(t, tb.clock.Now().Add(10*time.Second), q0.Deadline)
	aq0 := next(t, aliceC, gamesync.SignalQuestion)
	assert.Equal(t, q0.Question.ID, aq0.Question.ID)

	qs, err := tb.store.ListQuestions(ctx, tb.lobby.ID)
	require.NoError(t, err)

	res, err := hostC.Answer(ctx, qs[0].CorrectAnswer)
	require.NoError(t, err)
	assert.True(t, res.IsCorrect)
	assert.Equal(t, 1500, res.Points)

	_, err = hostC.Answer(ctx, qs[0].CorrectAnswer)
	assert.ErrorIs(t, err, domain.ErrAlreadyAnswered)

	res, err = aliceC.Answer(ctx, qs[0].WrongAnswers[0])
	require.NoError(t, err)
	assert.False(t, res.IsCorrect)

	lb := next(t, hostC, gamesync.SignalLeaderboard)
	assert.False(t, lb.Forced)
	require.Len(t, lb.Players, 2)
	assert.Equal(t, "Hana", lb.Players[0].Username)
	next(t, aliceC, gamesync.SignalLeaderboard)

	assert.ErrorIs(t, aliceC.Continue(ctx), domain.ErrNotHost)
	require.NoError(t, hostC.Continue(ctx))

	q1 := next(t, hostC, gamesync.SignalQuestion)
	assert.Equal(t, 1, q1.QuestionIndex)
	next(t, aliceC, gamesync.SignalQuestion)

	// nobody answers: both countdowns expire and submit empty answers
	tb.clock.Add(10 * time.Second)
	next(t, hostC, gamesync.SignalLeaderboard)
	next(t, aliceC, gamesync.SignalLeaderboard)

	n, err := tb.game.AnswerCount(ctx, tb.lobby.ID, qs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, hostC.Continue(ctx))

	podium := next(t, hostC, gamesync.SignalPodium)
	require.Len(t, podium.Players, 2)
	assert.Equal(t, 1500, podium.Players[0].TotalScore)
	next(t, aliceC, gamesync.SignalPodium)

	<-hostC.Done()
	<-aliceC.Done()
	_, err = hostC.Answer(ctx, "late")
	assert.ErrorIs(t, err, gamesync.ErrClientStopped)

	final, err := tb.game.Lobby(ctx, tb.lobby.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, final.Status)
}

// With a silent third player, the host who answered falls back to the
// leaderboard once its checks run out, while alice, who did not answer,
// stays on the question.
func TestAnsweredClientForcesLeaderboardAfterChecks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tb := newTable(t, 1, alice, bob)

	hostC := tb.client(t, ctx, host)
	aliceC := tb.client(t, ctx, alice)

	next(t, hostC, gamesync.SignalLobbyUpdated)
	require.NoError(t, hostC.Start(ctx))
	next(t, hostC, gamesync.SignalQuestion)
	next(t, aliceC, gamesync.SignalQuestion)

	qs, err := tb.store.ListQuestions(ctx, tb.lobby.ID)
	require.NoError(t, err)
	_, err = hostC.Answer(ctx, qs[0].CorrectAnswer)
	require.NoError(t, err)

	lb := advanceUntil(t, tb.clock, hostC, gamesync.SignalLeaderboard, 100*time.Millisecond, 6*time.Second)
	assert.True(t, lb.Forced)
	drainNo(t, aliceC, gamesync.SignalLeaderboard)

	// alice reaches the leaderboard when her countdown expires
	advanceUntil(t, tb.clock, aliceC, gamesync.SignalLeaderboard, time.Second, 10*time.Second)
}

func TestHostStartChecksReadiness(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tb := newTable(t, 1)

	hostC := tb.client(t, ctx, host)
	next(t, hostC, gamesync.SignalLobbyUpdated)

	assert.ErrorIs(t, hostC.Start(ctx), domain.ErrNotEnoughPlayers)
	assert.ErrorIs(t, hostC.Continue(ctx), domain.ErrPhaseClosed)

	_, _, err := tb.game.Join(ctx, tb.lobby.PIN, alice)
	require.NoError(t, err)
	for {
		players := next(t, hostC, gamesync.SignalPlayersUpdated)
		if len(players.Players) == 2 {
			break
		}
	}

	require.NoError(t, hostC.Start(ctx))
	next(t, hostC, gamesync.SignalQuestion)
}

var errFlaky = errors.New("connection reset")

// flakyBackend drops push subscriptions when noPush is set and fails the
// next failAdvance Advance and failEnd End calls.
type flakyBackend struct {
	gamesync.Backend
	noPush bool

	mu          sync.Mutex
	failAdvance int
	failEnd     int
}

func (f *flakyBackend) Subscribe(ctx context.Context, filter domain.Filter) (<-chan domain.Change, func(), error) {
	if f.noPush {
		return nil, nil, errFlaky
	}
	return f.Backend.Subscribe(ctx, filter)
}

func (f *flakyBackend) Advance(ctx context.Context, lobbyID string, fromIndex int) (domain.Lobby, error) {
	f.mu.Lock()
	fail := f.failAdvance > 0
	if fail {
		f.failAdvance--
	}
	f.mu.Unlock()
	if fail {
		return domain.Lobby{}, errFlaky
	}
	return f.Backend.Advance(ctx, lobbyID, fromIndex)
}

func (f *flakyBackend) End(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	f.mu.Lock()
	fail := f.failEnd > 0
	if fail {
		f.failEnd--
	}
	f.mu.Unlock()
	if fail {
		return domain.Lobby{}, errFlaky
	}
	return f.Backend.End(ctx, lobbyID)
}

// The host's failed navigation leaves it on the leaderboard so it can retry,
// and alice, with no push updates at all, follows the game by polling.
func TestHostRetriesFailedNavigationAndPollingClientFollows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tb := newTable(t, 2, alice)

	hostC := tb.clientWith(t, ctx, host, &flakyBackend{Backend: gamesync.NewLocalBackend(tb.game, host.ID), failAdvance: 1, failEnd: 1})
	aliceC := tb.clientWith(t, ctx, alice, &flakyBackend{Backend: gamesync.NewLocalBackend(tb.game, alice.ID), noPush: true})

	next(t, hostC, gamesync.SignalLobbyUpdated)
	next(t, aliceC, gamesync.SignalLobbyUpdated)
	require.NoError(t, hostC.Start(ctx))
	next(t, hostC, gamesync.SignalQuestion)
	advanceUntil(t, tb.clock, aliceC, gamesync.SignalQuestion, 200*time.Millisecond, 3*time.Second)

	qs, err := tb.store.ListQuestions(ctx, tb.lobby.ID)
	require.NoError(t, err)
	_, err = hostC.Answer(ctx, qs[0].CorrectAnswer)
	require.NoError(t, err)
	_, err = aliceC.Answer(ctx, qs[0].WrongAnswers[0])
	require.NoError(t, err)

	advanceUntil(t, tb.clock, hostC, gamesync.SignalLeaderboard, 100*time.Millisecond, 2*time.Second)
	advanceUntil(t, tb.clock, aliceC, gamesync.SignalLeaderboard, 100*time.Millisecond, 2*time.Second)

	assert.ErrorIs(t, hostC.Continue(ctx), errFlaky)
	l, err := tb.game.Lobby(ctx, tb.lobby.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, l.CurrentQuestionIndex)

	require.NoError(t, hostC.Continue(ctx), "the host can retry after a failed advance")
	q1 := next(t, hostC, gamesync.SignalQuestion)
	assert.Equal(t, 1, q1.QuestionIndex)
	aq1 := advanceUntil(t, tb.clock, aliceC, gamesync.SignalQuestion, 100*time.Millisecond, 2*time.Second)
	assert.Equal(t, 1, aq1.QuestionIndex)

	tb.clock.Add(10 * time.Second)
	next(t, hostC, gamesync.SignalLeaderboard)
	next(t, aliceC, gamesync.SignalLeaderboard)

	assert.ErrorIs(t, hostC.Continue(ctx), errFlaky)
	l, err = tb.game.Lobby(ctx, tb.lobby.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPlaying, l.Status)

	require.NoError(t, hostC.Continue(ctx), "the host can retry after a failed end")
	next(t, hostC, gamesync.SignalPodium)
	advanceUntil(t, tb.clock, aliceC, gamesync.SignalPodium, 100*time.Millisecond, 2*time.Second)

	final, err := tb.game.Lobby(ctx, tb.lobby.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, final.Status)
}
