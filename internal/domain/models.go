package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lobby lifecycle state.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusGenerating Status = "generating"
	StatusReady      Status = "ready"
	StatusPlaying    Status = "playing"
	StatusFinished   Status = "finished"
)

// Rank orders statuses along the forward lifecycle.
func (s Status) Rank() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusGenerating:
		return 1
	case StatusReady:
		return 2
	case StatusPlaying:
		return 3
	case StatusFinished:
		return 4
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.Rank() >= 0 }

// Difficulty is passed through to question generation.
type Difficulty string

const (
	DifficultyMild       Difficulty = "mild"
	DifficultySpicy      Difficulty = "spicy"
	DifficultyExtraSpicy Difficulty = "extra_spicy"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyMild, DifficultySpicy, DifficultyExtraSpicy:
		return true
	}
	return false
}

const (
	MaxTopics       = 10
	MaxQuestions    = 50
	MaxTimeLimitSec = 300
	WrongAnswers    = 3
)

// LobbyConfig is the host supplied game setup.
type LobbyConfig struct {
	Topics       []string   `json:"topics"`
	TimeLimit    int        `json:"time_limit"`
	NumQuestions int        `json:"num_questions"`
	Difficulty   Difficulty `json:"difficulty"`
}

// Validate checks the configuration bounds and trims topics.
func (c *LobbyConfig) Validate() error {
	topics := make([]string, 0, len(c.Topics))
	for _, t := range c.Topics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	switch {
	case len(topics) == 0:
		return fmt.Errorf("%w: at least one topic is required", ErrInvalidConfig)
	case len(topics) > MaxTopics:
		return fmt.Errorf("%w: at most %d topics", ErrInvalidConfig, MaxTopics)
	case c.TimeLimit <= 0 || c.TimeLimit > MaxTimeLimitSec:
		return fmt.Errorf("%w: time limit must be between 1 and %d seconds", ErrInvalidConfig, MaxTimeLimitSec)
	case c.NumQuestions <= 0 || c.NumQuestions > MaxQuestions:
		return fmt.Errorf("%w: question count must be between 1 and %d", ErrInvalidConfig, MaxQuestions)
	case !c.Difficulty.Valid():
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidConfig, c.Difficulty)
	}
	c.Topics = topics
	return nil
}

// Account identifies an authenticated user acting on a lobby.
type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Lobby is the authoritative shared game state.
type Lobby struct {
	ID                   string     `json:"id"`
	PIN                  string     `json:"pin"`
	HostID               string     `json:"host_id"`
	HostUsername         string     `json:"host_username"`
	HostAvatar           string     `json:"host_avatar"`
	Topics               []string   `json:"topics"`
	TimeLimit            int        `json:"time_limit"`
	NumQuestions         int        `json:"num_questions"`
	Difficulty           Difficulty `json:"difficulty"`
	Status               Status     `json:"status"`
	CurrentQuestionIndex int        `json:"current_question_index"`
	QuestionStartedAt    *time.Time `json:"question_started_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
}

// IsHost reports whether accountID created the lobby.
func (l Lobby) IsHost(accountID string) bool { return l.HostID == accountID }

// IsLastQuestion reports whether the current question is the final one.
func (l Lobby) IsLastQuestion() bool { return l.CurrentQuestionIndex+1 >= l.NumQuestions }

// Deadline is the moment the current question times out.
func (l Lobby) Deadline() (time.Time, bool) {
	if l.QuestionStartedAt == nil {
		return time.Time{}, false
	}
	return l.QuestionStartedAt.Add(time.Duration(l.TimeLimit) * time.Second), true
}

// OlderThan reports whether l is a stale observation compared to cur.
// Lobby state only moves forward, except generating falling back to waiting.
func (l Lobby) OlderThan(cur Lobby) bool {
	if l.Status == cur.Status {
		return l.CurrentQuestionIndex < cur.CurrentQuestionIndex
	}
	if l.Status == StatusWaiting && cur.Status == StatusGenerating {
		return false
	}
	return l.Status.Rank() < cur.Status.Rank()
}

// Player is one account's membership in one lobby.
type Player struct {
	ID         string    `json:"id"`
	LobbyID    string    `json:"lobby_id"`
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Avatar     string    `json:"avatar"`
	TotalScore int       `json:"total_score"`
	JoinedAt   time.Time `json:"joined_at"`
	JoinSeq    int64     `json:"join_seq"`
}

// Question is one generated multiple choice question.
type Question struct {
	ID            string    `json:"id"`
	LobbyID       string    `json:"lobby_id"`
	QuestionIndex int       `json:"question_index"`
	QuestionText  string    `json:"question_text"`
	CorrectAnswer string    `json:"correct_answer"`
	WrongAnswers  []string  `json:"wrong_answers"`
	CreatedAt     time.Time `json:"created_at"`
}

// GeneratedQuestion is the raw output of a question generator.
type GeneratedQuestion struct {
	Question      string   `json:"question"`
	CorrectAnswer string   `json:"correct_answer"`
	WrongAnswers  []string `json:"wrong_answers"`
}

// GenerationRequest describes the question set a lobby needs.
type GenerationRequest struct {
	LobbyID    string
	Topics     []string
	Difficulty Difficulty
	Count      int
}

// Answer is a player's single recorded response to a question.
type Answer struct {
	ID             string    `json:"id"`
	LobbyID        string    `json:"lobby_id"`
	QuestionID     string    `json:"question_id"`
	PlayerID       string    `json:"player_id"`
	SelectedAnswer string    `json:"selected_answer"`
	IsCorrect      bool      `json:"is_correct"`
	TimeTaken      int64     `json:"time_taken"`
	PointsEarned   int       `json:"points_earned"`
	AnsweredAt     time.Time `json:"answered_at"`
}

// Redacted keeps only who answered which question, so change feeds can
// announce an answer without giving away the choice or its outcome.
func (a Answer) Redacted() Answer {
	return Answer{
		ID:         a.ID,
		LobbyID:    a.LobbyID,
		QuestionID: a.QuestionID,
		PlayerID:   a.PlayerID,
		AnsweredAt: a.AnsweredAt,
	}
}

// Submission is a scoring request. An empty SelectedAnswer means time ran out.
type Submission struct {
	LobbyID        string
	QuestionID     string
	PlayerID       string
	SelectedAnswer string
	CorrectAnswer  string
	TimeTakenMs    int64
	TimeLimitSec   int
}

// AnswerResult is returned to the answering player.
type AnswerResult struct {
	Points     int  `json:"points"`
	IsCorrect  bool `json:"is_correct"`
	Duplicate  bool `json:"duplicate"`
	TotalScore int  `json:"total_score"`
}

// AnswerRequest is what a client sends when answering. The server resolves
// the correct answer and time limit itself.
type AnswerRequest struct {
	LobbyID        string `json:"lobby_id"`
	QuestionID     string `json:"question_id"`
	SelectedAnswer string `json:"selected_answer"`
	TimeTakenMs    int64  `json:"time_taken"`
}
