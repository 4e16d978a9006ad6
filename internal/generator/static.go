// Package generator produces question sets for lobbies.
package generator

import (
	"context"
	"fmt"
	"strconv"

	"quizlobby-service/internal/domain"
)

// Static builds deterministic arithmetic questions. It needs no network and
// is used for local runs, bots and tests.
type Static struct{}

func NewStatic() *Static { return &Static{} }

func (Static) Generate(ctx context.Context, req domain.GenerationRequest) ([]domain.GeneratedQuestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	step := 1
	switch req.Difficulty {
	case domain.DifficultySpicy:
		step = 7
	case domain.DifficultyExtraSpicy:
		step = 23
	}

	out := make([]domain.GeneratedQuestion, req.Count)
	for i := range out {
		a, b := (i+1)*step, (i+2)*step+3
		sum := a + b
		topic := "math"
		if len(req.Topics) > 0 {
			topic = req.Topics[i%len(req.Topics)]
		}
		out[i] = domain.GeneratedQuestion{
			Question:      fmt.Sprintf("[%s] What is %d + %d?", topic, a, b),
			CorrectAnswer: strconv.Itoa(sum),
			WrongAnswers:  []string{strconv.Itoa(sum + 1), strconv.Itoa(sum - 1), strconv.Itoa(sum + 10)},
		}
	}
	return out, nil
}
