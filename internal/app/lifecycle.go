package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quizlobby-service/internal/domain"
)

const (
	DefaultMinPlayers = 2
	casAttempts       = 3
	createAttempts    = 3
)

// Lifecycle owns every lobby status and question index change. All writes
// go through domain.Transition and a compare-and-swap on the lobby row.
type Lifecycle struct {
	lobbies    LobbyStore
	players    PlayerStore
	pins       *PINAllocator
	provider   QuestionProvider
	minPlayers int
	now        func() time.Time
	log        logrus.FieldLogger
}

func NewLifecycle(lobbies LobbyStore, players PlayerStore, pins *PINAllocator, provider QuestionProvider, minPlayers int, now func() time.Time, log logrus.FieldLogger) *Lifecycle {
	if minPlayers <= 0 {
		minPlayers = DefaultMinPlayers
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Lifecycle{
		lobbies:    lobbies,
		players:    players,
		pins:       pins,
		provider:   provider,
		minPlayers: minPlayers,
		now:        now,
		log:        log,
	}
}

// Create stores a new lobby in the generating state and starts question generation.
func (m *Lifecycle) Create(ctx context.Context, cfg domain.LobbyConfig, host domain.Account) (domain.Lobby, error) {
	if err := cfg.Validate(); err != nil {
		return domain.Lobby{}, err
	}

	var lobby domain.Lobby
	for attempt := 1; ; attempt++ {
		pin, err := m.pins.Allocate(ctx)
		if err != nil {
			return domain.Lobby{}, err
		}
		lobby = domain.Lobby{
			ID:           uuid.NewString(),
			PIN:          pin,
			HostID:       host.ID,
			HostUsername: host.Username,
			HostAvatar:   host.Avatar,
			Topics:       cfg.Topics,
			TimeLimit:    cfg.TimeLimit,
			NumQuestions: cfg.NumQuestions,
			Difficulty:   cfg.Difficulty,
			Status:       domain.StatusGenerating,
			CreatedAt:    m.now(),
		}
		err = m.lobbies.InsertLobby(ctx, lobby)
		if err == nil {
			break
		}
		m.pins.Release(ctx, pin)
		if !errors.Is(err, domain.ErrDuplicate) || attempt >= createAttempts {
			return domain.Lobby{}, fmt.Errorf("insert lobby: %w", err)
		}
		m.log.WithField("pin", pin).Debug("pin taken between check and insert, retrying")
	}

	m.log.WithFields(logrus.Fields{"lobby_id": lobby.ID, "pin": lobby.PIN}).Info("lobby created")
	m.requestGeneration(lobby)
	return lobby, nil
}

// RetryGeneration moves a lobby whose generation failed back to generating.
func (m *Lifecycle) RetryGeneration(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	lobby, err := m.apply(ctx, lobbyID, domain.Event{Kind: domain.EventGenerationRequested})
	if err != nil {
		return lobby, err
	}
	m.requestGeneration(lobby)
	return lobby, nil
}

// Start begins the game at question 0 once enough players joined.
func (m *Lifecycle) Start(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	count, err := m.players.CountPlayers(ctx, lobbyID)
	if err != nil {
		return domain.Lobby{}, err
	}
	if count < m.minPlayers {
		return domain.Lobby{}, fmt.Errorf("%w: %d of %d", domain.ErrNotEnoughPlayers, count, m.minPlayers)
	}
	return m.apply(ctx, lobbyID, domain.Event{Kind: domain.EventStart})
}

// Advance moves from question fromIndex to the next one, or finishes the game
// after the last question. Repeating it for an index already left returns the
// current lobby without changing anything.
func (m *Lifecycle) Advance(ctx context.Context, lobbyID string, fromIndex int) (domain.Lobby, error) {
	lobby, err := m.apply(ctx, lobbyID, domain.Event{Kind: domain.EventAdvance, FromIndex: fromIndex})
	if err == nil {
		return lobby, nil
	}
	if lobby.Status == domain.StatusFinished || (lobby.Status == domain.StatusPlaying && lobby.CurrentQuestionIndex > fromIndex) {
		return lobby, nil
	}
	return lobby, err
}

// End finishes a playing lobby. Ending a finished lobby is a no-op.
func (m *Lifecycle) End(ctx context.Context, lobbyID string) (domain.Lobby, error) {
	lobby, err := m.apply(ctx, lobbyID, domain.Event{Kind: domain.EventEnd})
	if err != nil && lobby.Status == domain.StatusFinished {
		return lobby, nil
	}
	return lobby, err
}

func (m *Lifecycle) requestGeneration(lobby domain.Lobby) {
	m.provider.RequestGeneration(lobby, m.generationDone)
}

func (m *Lifecycle) generationDone(ctx context.Context, lobbyID string, genErr error) {
	log := m.log.WithField("lobby_id", lobbyID)
	ev := domain.Event{Kind: domain.EventQuestionsReady}
	if genErr != nil {
		log.WithError(genErr).Warn("question generation failed")
		ev.Kind = domain.EventGenerationFailed
	}
	if _, err := m.apply(ctx, lobbyID, ev); err != nil {
		log.WithError(err).WithField("event", ev.Kind.String()).Error("apply generation outcome")
	}
}

// apply loads the lobby, computes the next state and writes it with a
// compare-and-swap, retrying when another writer got there first. The
// returned lobby is the latest known state, also on error.
func (m *Lifecycle) apply(ctx context.Context, lobbyID string, ev domain.Event) (domain.Lobby, error) {
	var cur domain.Lobby
	for attempt := 0; attempt < casAttempts; attempt++ {
		var err error
		cur, err = m.lobbies.GetLobby(ctx, lobbyID)
		if err != nil {
			return domain.Lobby{}, err
		}
		next, err := domain.Transition(cur, ev, m.now())
		if err != nil {
			return cur, err
		}
		err = m.lobbies.CompareAndSwapLobby(ctx, cur, next)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return cur, err
		}

		m.log.WithFields(logrus.Fields{
			"lobby_id":       lobbyID,
			"event":          ev.Kind.String(),
			"status":         next.Status,
			"question_index": next.CurrentQuestionIndex,
		}).Info("lobby transition")
		if next.Status == domain.StatusFinished {
			m.pins.Release(ctx, next.PIN)
		}
		return next, nil
	}
	return cur, domain.ErrConflict
}
