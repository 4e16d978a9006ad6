package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"quizlobby-service/internal/domain"
)

// Options tunes a Game. Zero values fall back to defaults.
type Options struct {
	PINAttempts int
	MinPlayers  int
	Now         func() time.Time
	Logger      logrus.FieldLogger
}

// Game is the use case facade shared by the HTTP transport and in-process clients.
type Game struct {
	store     Store
	questions QuestionCache
	pins      *PINAllocator
	lifecycle *Lifecycle
	roster    *Roster
	scoring   *ScoringEngine
	now       func() time.Time
	log       logrus.FieldLogger
}

// NewGame wires the game services. questions and reserver may be nil.
func NewGame(store Store, questions QuestionCache, reserver PINReserver, provider QuestionProvider, opts Options) *Game {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if questions == nil {
		questions = storeQuestions{store: store}
	}
	pins := NewPINAllocator(store, reserver, opts.PINAttempts, log)
	return &Game{
		store:     store,
		questions: questions,
		pins:      pins,
		lifecycle: NewLifecycle(store, store, pins, provider, opts.MinPlayers, now, log),
		roster:    NewRoster(store, store, log),
		scoring:   NewScoringEngine(store, store, now, log),
		now:       now,
		log:       log,
	}
}

// PINs exposes the allocator, mainly so tests can pin the random source.
func (g *Game) PINs() *PINAllocator { return g.pins }

// CreateLobby creates a lobby and joins the host as its first player.
func (g *Game) CreateLobby(ctx context.Context, cfg domain.LobbyConfig, host domain.Account) (domain.Lobby, domain.Player, error) {
	lobby, err := g.lifecycle.Create(ctx, cfg, host)
	if err != nil {
		return domain.Lobby{}, domain.Player{}, err
	}
	player, err := g.roster.JoinLobby(ctx, lobby, host)
	if err != nil {
		return lobby, domain.Player{}, err
	}
	return lobby, player, nil
}

func (g *Game) Join(ctx context.Context, pin string, who domain.Account) (domain.Lobby, domain.Player, error) {
	return g.roster.Join(ctx, pin, who)
}

func (g *Game) Lobby(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	return g.store.GetLobby(ctx, lobbyID)
}

func (g *Game) LobbyByPIN(ctx context.Context, pin string) (domain.Lobby, error) {
	return g.store.GetLobbyByPIN(ctx, pin)
}

func (g *Game) Players(ctx context.Context, lobbyID string) ([]domain.Player, error) {
	return g.roster.List(ctx, lobbyID)
}

func (g *Game) Leaderboard(ctx context.Context, lobbyID string) ([]domain.Player, error) {
	return g.roster.Leaderboard(ctx, lobbyID)
}

// Questions returns the lobby's questions in order. Correct answers are only
// revealed once the game is finished.
func (g *Game) Questions(ctx context.Context, lobbyID string) ([]domain.QuestionView, error) {
	lobby, err := g.store.GetLobby(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	qs, err := g.questions.GetQuestions(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	reveal := lobby.Status == domain.StatusFinished
	views := make([]domain.QuestionView, len(qs))
	for i, q := range qs {
		views[i] = q.View(reveal)
	}
	return views, nil
}

func (g *Game) AnswerCount(ctx context.Context, lobbyID, questionID string) (int, error) {
	if _, err := g.question(ctx, lobbyID, questionID); err != nil {
		return 0, err
	}
	return g.store.CountAnswers(ctx, questionID)
}

func (g *Game) Start(ctx context.Context, lobbyID, accountID string) (domain.Lobby, error) {
	if err := g.requireHost(ctx, lobbyID, accountID); err != nil {
		return domain.Lobby{}, err
	}
	return g.lifecycle.Start(ctx, lobbyID)
}

func (g *Game) Advance(ctx context.Context, lobbyID, accountID string, fromIndex int) (domain.Lobby, error) {
	if err := g.requireHost(ctx, lobbyID, accountID); err != nil {
		return domain.Lobby{}, err
	}
	return g.lifecycle.Advance(ctx, lobbyID, fromIndex)
}

func (g *Game) End(ctx context.Context, lobbyID, accountID string) (domain.Lobby, error) {
	if err := g.requireHost(ctx, lobbyID, accountID); err != nil {
		return domain.Lobby{}, err
	}
	return g.lifecycle.End(ctx, lobbyID)
}

func (g *Game) RetryGeneration(ctx context.Context, lobbyID, accountID string) (domain.Lobby, error) {
	if err := g.requireHost(ctx, lobbyID, accountID); err != nil {
		return domain.Lobby{}, err
	}
	return g.lifecycle.RetryGeneration(ctx, lobbyID)
}

// SubmitAnswer scores an answer for the account's player in the lobby.
func (g *Game) SubmitAnswer(ctx context.Context, accountID string, req domain.AnswerRequest) (domain.AnswerResult, error) {
	lobby, err := g.store.GetLobby(ctx, req.LobbyID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if lobby.Status != domain.StatusPlaying {
		return domain.AnswerResult{}, domain.ErrLobbyNotPlaying
	}
	player, err := g.store.GetPlayerByAccount(ctx, lobby.ID, accountID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	q, err := g.question(ctx, lobby.ID, req.QuestionID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if q.QuestionIndex > lobby.CurrentQuestionIndex {
		return domain.AnswerResult{}, domain.ErrQuestionNotActive
	}

	return g.scoring.Submit(ctx, domain.Submission{
		LobbyID:        lobby.ID,
		QuestionID:     q.ID,
		PlayerID:       player.ID,
		SelectedAnswer: req.SelectedAnswer,
		CorrectAnswer:  q.CorrectAnswer,
		TimeTakenMs:    g.elapsed(lobby, q, req.TimeTakenMs),
		TimeLimitSec:   lobby.TimeLimit,
	})
}

// elapsed never lets a client claim less time than the server has seen pass
// since the question opened. Answers to earlier questions score as timed out.
func (g *Game) elapsed(lobby domain.Lobby, q domain.Question, claimedMs int64) int64 {
	if q.QuestionIndex < lobby.CurrentQuestionIndex {
		return max(claimedMs, int64(lobby.TimeLimit)*1000)
	}
	if lobby.QuestionStartedAt == nil {
		return claimedMs
	}
	return max(claimedMs, g.now().Sub(*lobby.QuestionStartedAt).Milliseconds())
}

// Subscribe streams row changes matching filter.
func (g *Game) Subscribe(ctx context.Context, filter domain.Filter) (<-chan domain.Change, func(), error) {
	return g.store.Subscribe(ctx, filter)
}

func (g *Game) requireHost(ctx context.Context, lobbyID, accountID string) error {
	lobby, err := g.store.GetLobby(ctx, lobbyID)
	if err != nil {
		return err
	}
	if !lobby.IsHost(accountID) {
		return domain.ErrNotHost
	}
	return nil
}

func (g *Game) question(ctx context.Context, lobbyID, questionID string) (domain.Question, error) {
	qs, err := g.questions.GetQuestions(ctx, lobbyID)
	if err != nil {
		return domain.Question{}, err
	}
	for _, q := range qs {
		if q.ID == questionID {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

type storeQuestions struct {
	store QuestionStore
}

func (s storeQuestions) GetQuestions(ctx context.Context, lobbyID string) ([]domain.Question, error) {
	return s.store.ListQuestions(ctx, lobbyID)
}
