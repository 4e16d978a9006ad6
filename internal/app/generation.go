package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quizlobby-service/internal/domain"
)

const (
	DefaultGenerationTimeout = 60 * time.Second
	outcomeTimeout           = 10 * time.Second
)

// Generator produces raw questions for a lobby.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) ([]domain.GeneratedQuestion, error)
}

// GenerationRunner runs generation jobs in the background, validates the
// result and stores it in a single batch.
type GenerationRunner struct {
	generator Generator
	questions QuestionStore
	timeout   time.Duration
	log       logrus.FieldLogger
	wg        sync.WaitGroup
}

func NewGenerationRunner(generator Generator, questions QuestionStore, timeout time.Duration, log logrus.FieldLogger) *GenerationRunner {
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &GenerationRunner{generator: generator, questions: questions, timeout: timeout, log: log}
}

// RequestGeneration starts a job for lobby and reports its outcome to done.
func (r *GenerationRunner) RequestGeneration(lobby domain.Lobby, done GenerationDone) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.generate(ctx, lobby)
		cancel()

		outCtx, outCancel := context.WithTimeout(context.Background(), outcomeTimeout)
		defer outCancel()
		done(outCtx, lobby.ID, err)
	}()
}

// Wait blocks until every started job reported its outcome.
func (r *GenerationRunner) Wait() {
	r.wg.Wait()
}

func (r *GenerationRunner) generate(ctx context.Context, lobby domain.Lobby) error {
	log := r.log.WithField("lobby_id", lobby.ID)
	started := time.Now()

	items, err := r.generator.Generate(ctx, domain.GenerationRequest{
		LobbyID:    lobby.ID,
		Topics:     lobby.Topics,
		Difficulty: lobby.Difficulty,
		Count:      lobby.NumQuestions,
	})
	if err != nil {
		return fmt.Errorf("generate questions: %w", err)
	}
	if err := domain.ValidateGenerated(items, lobby.NumQuestions); err != nil {
		return err
	}

	questions := make([]domain.Question, len(items))
	for i, item := range items {
		questions[i] = domain.Question{
			ID:            uuid.NewString(),
			LobbyID:       lobby.ID,
			QuestionIndex: i,
			QuestionText:  item.Question,
			CorrectAnswer: item.CorrectAnswer,
			WrongAnswers:  item.WrongAnswers,
		}
	}
	if err := r.questions.InsertQuestions(ctx, questions); err != nil {
		if !errors.Is(err, domain.ErrDuplicate) {
			return fmt.Errorf("store questions: %w", err)
		}
		// a previous attempt already stored a full set
		existing, listErr := r.questions.ListQuestions(ctx, lobby.ID)
		if listErr != nil || len(existing) != lobby.NumQuestions {
			return fmt.Errorf("store questions: %w", err)
		}
	}

	log.WithFields(logrus.Fields{"count": len(questions), "elapsed": time.Since(started).String()}).Info("questions generated")
	return nil
}
