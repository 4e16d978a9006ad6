package postgres

import (
	"testing"

	"quizlobby-service/internal/domain"
)

func TestDecodeLobbyChange(t *testing.T) {
	payload := `{"table":"lobbies","op":"UPDATE","row":{"id":"l1","pin":"12345","host_id":"h",
		"topics":["math"],"time_limit":15,"num_questions":3,"difficulty":"mild","status":"playing",
		"current_question_index":1,"question_started_at":"2024-05-01T12:00:05.123456+00:00",
		"created_at":"2024-05-01T11:59:00+00:00","started_at":"2024-05-01T12:00:00+00:00","ended_at":null}}`

	c, err := decodeChange([]byte(payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Table != domain.TableLobbies || c.Op != domain.OpUpdate {
		t.Fatalf("unexpected header %s %s", c.Table, c.Op)
	}
	if c.Lobby == nil || c.Lobby.Status != domain.StatusPlaying || c.Lobby.CurrentQuestionIndex != 1 {
		t.Fatalf("unexpected lobby %+v", c.Lobby)
	}
	if c.Lobby.QuestionStartedAt == nil || c.Lobby.EndedAt != nil {
		t.Fatalf("unexpected timestamps %+v", c.Lobby)
	}
	if c.LobbyID() != "l1" {
		t.Fatalf("expected lobby id l1, got %q", c.LobbyID())
	}
}

func TestDecodeAnswerChange(t *testing.T) {
	payload := `{"table":"answers","op":"INSERT","row":{"id":"a1","lobby_id":"l1","question_id":"q1",
		"player_id":"p1","answered_at":"2024-05-01T12:00:02+00:00"}}`

	c, err := decodeChange([]byte(payload))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Answer == nil || c.Answer.QuestionID != "q1" || c.Answer.PlayerID != "p1" || c.Answer.AnsweredAt.IsZero() {
		t.Fatalf("unexpected answer %+v", c.Answer)
	}
	f := domain.Filter{Table: domain.TableAnswers, Column: "question_id", Value: "q1"}
	if !f.Matches(c) {
		t.Fatalf("expected filter to match decoded change")
	}
}

func TestDecodeRejectsUnknownTable(t *testing.T) {
	if _, err := decodeChange([]byte(`{"table":"sessions","op":"INSERT","row":{}}`)); err == nil {
		t.Fatalf("expected error for unknown table")
	}
	if _, err := decodeChange([]byte(`not json`)); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}
