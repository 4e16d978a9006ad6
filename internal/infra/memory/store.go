package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizlobby-service/internal/domain"
	"quizlobby-service/internal/feed"
)

type answerKey struct {
	questionID string
	playerID   string
}

// Store is an in-memory implementation of app.Store. It enforces the same
// uniqueness rules as the Postgres schema and publishes row changes to its feed.
type Store struct {
	now  func() time.Time
	feed *feed.Broker

	mu           sync.RWMutex
	lobbies      map[string]domain.Lobby
	players      map[string]domain.Player
	questions    map[string][]domain.Question
	answers      map[answerKey]domain.Answer
	answerCounts map[string]int
	seq          int64
}

func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock allows deterministic timestamps in tests.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{
		now:          now,
		feed:         feed.NewBroker(feed.DefaultBuffer),
		lobbies:      make(map[string]domain.Lobby),
		players:      make(map[string]domain.Player),
		questions:    make(map[string][]domain.Question),
		answers:      make(map[answerKey]domain.Answer),
		answerCounts: make(map[string]int),
	}
}

func (s *Store) Subscribe(ctx context.Context, filter domain.Filter) (<-chan domain.Change, func(), error) {
	return s.feed.Subscribe(ctx, filter)
}

func (s *Store) InsertLobby(_ context.Context, lobby domain.Lobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lobbies[lobby.ID]; ok {
		return fmt.Errorf("%w: lobby %s", domain.ErrDuplicate, lobby.ID)
	}
	if lobby.Status != domain.StatusFinished {
		if _, ok := s.liveByPINLocked(lobby.PIN); ok {
			return fmt.Errorf("%w: pin %s", domain.ErrDuplicate, lobby.PIN)
		}
	}
	if lobby.CreatedAt.IsZero() {
		lobby.CreatedAt = s.now()
	}
	lobby = cloneLobby(lobby)
	s.lobbies[lobby.ID] = lobby
	s.publishLobbyLocked(domain.OpInsert, lobby)
	return nil
}

func (s *Store) GetLobby(_ context.Context, id string) (domain.Lobby, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lobby, ok := s.lobbies[id]
	if !ok {
		return domain.Lobby{}, domain.ErrLobbyNotFound
	}
	return cloneLobby(lobby), nil
}

func (s *Store) GetLobbyByPIN(_ context.Context, pin string) (domain.Lobby, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lobby, ok := s.liveByPINLocked(pin)
	if !ok {
		return domain.Lobby{}, domain.ErrLobbyNotFound
	}
	return cloneLobby(lobby), nil
}

func (s *Store) PINInUse(_ context.Context, pin string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.liveByPINLocked(pin)
	return ok, nil
}

func (s *Store) CompareAndSwapLobby(_ context.Context, old, next domain.Lobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.lobbies[old.ID]
	if !ok {
		return domain.ErrLobbyNotFound
	}
	if cur.Status != old.Status || cur.CurrentQuestionIndex != old.CurrentQuestionIndex {
		return domain.ErrConflict
	}
	next = cloneLobby(next)
	s.lobbies[next.ID] = next
	s.publishLobbyLocked(domain.OpUpdate, next)
	return nil
}

func (s *Store) InsertPlayer(_ context.Context, player *domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lobbies[player.LobbyID]; !ok {
		return domain.ErrLobbyNotFound
	}
	for _, p := range s.players {
		if p.LobbyID == player.LobbyID && p.UserID == player.UserID {
			return fmt.Errorf("%w: account %s already in lobby", domain.ErrDuplicate, player.UserID)
		}
	}
	if player.ID == "" {
		player.ID = uuid.NewString()
	}
	if _, ok := s.players[player.ID]; ok {
		return fmt.Errorf("%w: player %s", domain.ErrDuplicate, player.ID)
	}
	s.seq++
	player.JoinSeq = s.seq
	player.JoinedAt = s.now()
	s.players[player.ID] = *player
	s.publishPlayerLocked(domain.OpInsert, *player)
	return nil
}

func (s *Store) GetPlayer(_ context.Context, id string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return p, nil
}

func (s *Store) GetPlayerByAccount(_ context.Context, lobbyID, userID string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.players {
		if p.LobbyID == lobbyID && p.UserID == userID {
			return p, nil
		}
	}
	return domain.Player{}, domain.ErrPlayerNotFound
}

func (s *Store) ListPlayers(_ context.Context, lobbyID string) ([]domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Player, 0)
	for _, p := range s.players {
		if p.LobbyID == lobbyID {
			out = append(out, p)
		}
	}
	domain.SortByJoin(out)
	return out, nil
}

func (s *Store) CountPlayers(ctx context.Context, lobbyID string) (int, error) {
	players, err := s.ListPlayers(ctx, lobbyID)
	return len(players), err
}

func (s *Store) InsertQuestions(_ context.Context, questions []domain.Question) error {
	if len(questions) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lobbyID := questions[0].LobbyID
	if _, ok := s.lobbies[lobbyID]; !ok {
		return domain.ErrLobbyNotFound
	}
	taken := make(map[int]struct{}, len(s.questions[lobbyID])+len(questions))
	for _, q := range s.questions[lobbyID] {
		taken[q.QuestionIndex] = struct{}{}
	}
	now := s.now()
	batch := make([]domain.Question, 0, len(questions))
	for _, q := range questions {
		if q.LobbyID != lobbyID {
			return fmt.Errorf("questions span lobbies %s and %s", lobbyID, q.LobbyID)
		}
		if _, dup := taken[q.QuestionIndex]; dup {
			return fmt.Errorf("%w: question index %d", domain.ErrDuplicate, q.QuestionIndex)
		}
		taken[q.QuestionIndex] = struct{}{}
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		if q.CreatedAt.IsZero() {
			q.CreatedAt = now
		}
		q.WrongAnswers = append([]string(nil), q.WrongAnswers...)
		batch = append(batch, q)
	}

	all := append(s.questions[lobbyID], batch...)
	sort.Slice(all, func(i, j int) bool { return all[i].QuestionIndex < all[j].QuestionIndex })
	s.questions[lobbyID] = all
	return nil
}

func (s *Store) ListQuestions(_ context.Context, lobbyID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Question, len(s.questions[lobbyID]))
	copy(out, s.questions[lobbyID])
	return out, nil
}

func (s *Store) RecordAnswer(_ context.Context, answer *domain.Answer) (domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey{questionID: answer.QuestionID, playerID: answer.PlayerID}
	if _, ok := s.answers[key]; ok {
		return domain.Player{}, fmt.Errorf("%w: player %s already answered %s", domain.ErrDuplicate, answer.PlayerID, answer.QuestionID)
	}
	p, ok := s.players[answer.PlayerID]
	if !ok {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	if answer.ID == "" {
		answer.ID = uuid.NewString()
	}
	if answer.AnsweredAt.IsZero() {
		answer.AnsweredAt = s.now()
	}
	s.answers[key] = *answer
	s.answerCounts[answer.QuestionID]++

	notice := answer.Redacted()
	s.feed.Publish(domain.Change{Table: domain.TableAnswers, Op: domain.OpInsert, Answer: &notice})

	if answer.PointsEarned > 0 {
		p.TotalScore += answer.PointsEarned
		s.players[p.ID] = p
		s.publishPlayerLocked(domain.OpUpdate, p)
	}
	return p, nil
}

func (s *Store) GetAnswer(_ context.Context, questionID, playerID string) (domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.answers[answerKey{questionID: questionID, playerID: playerID}]
	if !ok {
		return domain.Answer{}, domain.ErrAnswerNotFound
	}
	return a, nil
}

func (s *Store) CountAnswers(_ context.Context, questionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answerCounts[questionID], nil
}

func (s *Store) liveByPINLocked(pin string) (domain.Lobby, bool) {
	for _, l := range s.lobbies {
		if l.PIN == pin && l.Status != domain.StatusFinished {
			return l, true
		}
	}
	return domain.Lobby{}, false
}

func (s *Store) publishLobbyLocked(op domain.Op, l domain.Lobby) {
	l = cloneLobby(l)
	s.feed.Publish(domain.Change{Table: domain.TableLobbies, Op: op, Lobby: &l})
}

func (s *Store) publishPlayerLocked(op domain.Op, p domain.Player) {
	s.feed.Publish(domain.Change{Table: domain.TablePlayers, Op: op, Player: &p})
}

func cloneLobby(l domain.Lobby) domain.Lobby {
	l.Topics = append([]string(nil), l.Topics...)
	return l
}
