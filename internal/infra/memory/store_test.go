package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"quizlobby-service/internal/domain"
)

func newLobby(id, pin string, status domain.Status) domain.Lobby {
	return domain.Lobby{ID: id, PIN: pin, HostID: "host", Topics: []string{"history"}, TimeLimit: 10, NumQuestions: 2, Difficulty: domain.DifficultyMild, Status: status}
}

func TestStoreLivePINIsUnique(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	if err := store.InsertLobby(ctx, newLobby("l1", "12345", domain.StatusGenerating)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.InsertLobby(ctx, newLobby("l2", "12345", domain.StatusWaiting)); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("expected duplicate pin, got %v", err)
	}
	inUse, _ := store.PINInUse(ctx, "12345")
	if !inUse {
		t.Fatalf("expected pin in use")
	}

	l1, _ := store.GetLobby(ctx, "l1")
	finished := l1
	finished.Status = domain.StatusFinished
	if err := store.CompareAndSwapLobby(ctx, l1, finished); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := store.InsertLobby(ctx, newLobby("l2", "12345", domain.StatusGenerating)); err != nil {
		t.Fatalf("pin should be reusable after finish: %v", err)
	}
	got, err := store.GetLobbyByPIN(ctx, "12345")
	if err != nil || got.ID != "l2" {
		t.Fatalf("expected live lobby l2, got %+v %v", got, err)
	}
}

func TestStoreCompareAndSwapDetectsConflict(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	l := newLobby("l1", "11111", domain.StatusPlaying)
	if err := store.InsertLobby(ctx, l); err != nil {
		t.Fatalf("insert: %v", err)
	}

	next := l
	next.CurrentQuestionIndex = 1
	if err := store.CompareAndSwapLobby(ctx, l, next); err != nil {
		t.Fatalf("first swap: %v", err)
	}
	if err := store.CompareAndSwapLobby(ctx, l, next); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestStorePlayersOrderedByJoin(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	store := NewStoreWithClock(func() time.Time { return at })
	if err := store.InsertLobby(ctx, newLobby("l1", "11111", domain.StatusWaiting)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	for _, user := range []string{"u1", "u2", "u3"} {
		p := &domain.Player{LobbyID: "l1", UserID: user, Username: user}
		if err := store.InsertPlayer(ctx, p); err != nil {
			t.Fatalf("insert player %s: %v", user, err)
		}
	}
	if err := store.InsertPlayer(ctx, &domain.Player{LobbyID: "l1", UserID: "u2"}); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("expected duplicate membership, got %v", err)
	}

	players, _ := store.ListPlayers(ctx, "l1")
	if len(players) != 3 {
		t.Fatalf("expected 3 players, got %d", len(players))
	}
	for i, want := range []string{"u1", "u2", "u3"} {
		if players[i].UserID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, players[i].UserID)
		}
	}
}

func TestStoreAnswersAreUniqueAndPublished(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if err := store.InsertLobby(ctx, newLobby("l1", "11111", domain.StatusPlaying)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	p := &domain.Player{LobbyID: "l1", UserID: "u1"}
	if err := store.InsertPlayer(ctx, p); err != nil {
		t.Fatalf("insert player: %v", err)
	}

	ch, cancel, err := store.Subscribe(ctx, domain.Filter{Table: domain.TableAnswers, Column: "question_id", Value: "q1"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	answer := &domain.Answer{LobbyID: "l1", QuestionID: "q1", PlayerID: p.ID, SelectedAnswer: "4", IsCorrect: true, PointsEarned: 1200}
	if _, err := store.RecordAnswer(ctx, answer); err != nil {
		t.Fatalf("record answer: %v", err)
	}
	if _, err := store.RecordAnswer(ctx, &domain.Answer{LobbyID: "l1", QuestionID: "q1", PlayerID: p.ID}); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("expected duplicate answer, got %v", err)
	}
	if n, _ := store.CountAnswers(ctx, "q1"); n != 1 {
		t.Fatalf("expected 1 answer, got %d", n)
	}

	select {
	case c := <-ch:
		if c.Answer == nil || c.Answer.PlayerID != p.ID || c.Answer.ID != answer.ID {
			t.Fatalf("unexpected change %+v", c)
		}
		if c.Answer.SelectedAnswer != "" || c.Answer.IsCorrect || c.Answer.PointsEarned != 0 {
			t.Fatalf("answer notification leaks the outcome: %+v", c.Answer)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected answer notification")
	}
}

func TestStoreQuestionsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if err := store.InsertLobby(ctx, newLobby("l1", "11111", domain.StatusGenerating)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.InsertQuestions(ctx, sampleQuestions("l1")[:1]); err != nil {
		t.Fatalf("insert questions: %v", err)
	}
	if err := store.InsertQuestions(ctx, sampleQuestions("l1")); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("expected duplicate index, got %v", err)
	}
	qs, _ := store.ListQuestions(ctx, "l1")
	if len(qs) != 1 {
		t.Fatalf("expected failed batch to be discarded, got %d questions", len(qs))
	}
}

func TestStoreRecordAnswerCreditsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if err := store.InsertLobby(ctx, newLobby("l1", "11111", domain.StatusPlaying)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	p := &domain.Player{LobbyID: "l1", UserID: "u1"}
	if err := store.InsertPlayer(ctx, p); err != nil {
		t.Fatalf("insert player: %v", err)
	}

	got, err := store.RecordAnswer(ctx, &domain.Answer{LobbyID: "l1", QuestionID: "q1", PlayerID: p.ID, PointsEarned: 1500})
	if err != nil || got.TotalScore != 1500 {
		t.Fatalf("record: %+v %v", got, err)
	}
	if _, err := store.RecordAnswer(ctx, &domain.Answer{LobbyID: "l1", QuestionID: "q1", PlayerID: p.ID, PointsEarned: 1500}); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	got, err = store.RecordAnswer(ctx, &domain.Answer{LobbyID: "l1", QuestionID: "q2", PlayerID: p.ID})
	if err != nil || got.TotalScore != 1500 {
		t.Fatalf("zero-point answer: %+v %v", got, err)
	}
	if _, err := store.RecordAnswer(ctx, &domain.Answer{LobbyID: "l1", QuestionID: "q3", PlayerID: "ghost", PointsEarned: 1000}); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Fatalf("expected unknown player, got %v", err)
	}
	if n, _ := store.CountAnswers(ctx, "q3"); n != 0 {
		t.Fatalf("rejected answer was stored")
	}
	final, _ := store.GetPlayer(ctx, p.ID)
	if final.TotalScore != 1500 {
		t.Fatalf("expected total 1500, got %d", final.TotalScore)
	}
}
