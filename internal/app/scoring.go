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

// ScoringEngine records answers and credits points exactly once per
// (question, player). The answer row and the score change are written
// together, so a failed submission can be retried without losing points.
type ScoringEngine struct {
	answers AnswerStore
	players PlayerStore
	now     func() time.Time
	log     logrus.FieldLogger
}

func NewScoringEngine(answers AnswerStore, players PlayerStore, now func() time.Time, log logrus.FieldLogger) *ScoringEngine {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ScoringEngine{answers: answers, players: players, now: now, log: log}
}

// Submit scores and stores one answer. A repeated submission is not an error:
// it returns the originally recorded result with Duplicate set.
func (e *ScoringEngine) Submit(ctx context.Context, s domain.Submission) (domain.AnswerResult, error) {
	if existing, err := e.answers.GetAnswer(ctx, s.QuestionID, s.PlayerID); err == nil {
		return e.duplicate(ctx, existing)
	} else if !errors.Is(err, domain.ErrAnswerNotFound) {
		return domain.AnswerResult{}, err
	}

	taken := s.TimeTakenMs
	if taken < 0 {
		taken = 0
	}
	points, correct := domain.Score(s.SelectedAnswer, s.CorrectAnswer, taken, s.TimeLimitSec)
	answer := domain.Answer{
		ID:             uuid.NewString(),
		LobbyID:        s.LobbyID,
		QuestionID:     s.QuestionID,
		PlayerID:       s.PlayerID,
		SelectedAnswer: s.SelectedAnswer,
		IsCorrect:      correct,
		TimeTaken:      taken,
		PointsEarned:   points,
		AnsweredAt:     e.now(),
	}
	player, err := e.answers.RecordAnswer(ctx, &answer)
	if errors.Is(err, domain.ErrDuplicate) {
		existing, getErr := e.answers.GetAnswer(ctx, s.QuestionID, s.PlayerID)
		if getErr != nil {
			return domain.AnswerResult{}, getErr
		}
		return e.duplicate(ctx, existing)
	}
	if err != nil {
		return domain.AnswerResult{}, fmt.Errorf("record answer: %w", err)
	}
	result := domain.AnswerResult{Points: points, IsCorrect: correct, TotalScore: player.TotalScore}

	e.log.WithFields(logrus.Fields{
		"lobby_id":    s.LobbyID,
		"player_id":   s.PlayerID,
		"question_id": s.QuestionID,
		"points":      points,
		"correct":     correct,
	}).Debug("answer recorded")
	return result, nil
}

func (e *ScoringEngine) duplicate(ctx context.Context, existing domain.Answer) (domain.AnswerResult, error) {
	result := domain.AnswerResult{
		Points:    existing.PointsEarned,
		IsCorrect: existing.IsCorrect,
		Duplicate: true,
	}
	if player, err := e.players.GetPlayer(ctx, existing.PlayerID); err == nil {
		result.TotalScore = player.TotalScore
	}
	return result, nil
}
