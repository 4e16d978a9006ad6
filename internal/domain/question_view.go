package domain

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
)

// QuestionView is the client facing form of a question. CorrectAnswer is
// only populated once the lobby is finished.
type QuestionView struct {
	ID            string   `json:"id"`
	LobbyID       string   `json:"lobby_id"`
	QuestionIndex int      `json:"question_index"`
	QuestionText  string   `json:"question_text"`
	Choices       []string `json:"choices"`
	CorrectAnswer string   `json:"correct_answer,omitempty"`
}

// View builds the shuffled choice list for q. The order is stable per question
// so every client and every poll sees the same layout.
func (q Question) View(revealAnswer bool) QuestionView {
	choices := make([]string, 0, 1+len(q.WrongAnswers))
	choices = append(choices, q.CorrectAnswer)
	choices = append(choices, q.WrongAnswers...)

	h := fnv.New64a()
	_, _ = h.Write([]byte(q.ID))
	rnd := rand.New(rand.NewSource(int64(h.Sum64())))
	rnd.Shuffle(len(choices), func(i, j int) { choices[i], choices[j] = choices[j], choices[i] })

	v := QuestionView{
		ID:            q.ID,
		LobbyID:       q.LobbyID,
		QuestionIndex: q.QuestionIndex,
		QuestionText:  q.QuestionText,
		Choices:       choices,
	}
	if revealAnswer {
		v.CorrectAnswer = q.CorrectAnswer
	}
	return v
}

// ValidateGenerated checks a generated set has exactly count questions, each
// with a correct answer and exactly three distinct wrong answers.
func ValidateGenerated(items []GeneratedQuestion, count int) error {
	if len(items) != count {
		return fmt.Errorf("%w: expected %d questions, got %d", ErrInvalidQuestionSet, count, len(items))
	}
	for i, item := range items {
		if strings.TrimSpace(item.Question) == "" || strings.TrimSpace(item.CorrectAnswer) == "" {
			return fmt.Errorf("%w: question %d is missing text or answer", ErrInvalidQuestionSet, i)
		}
		if len(item.WrongAnswers) != WrongAnswers {
			return fmt.Errorf("%w: question %d has %d wrong answers", ErrInvalidQuestionSet, i, len(item.WrongAnswers))
		}
		seen := map[string]struct{}{strings.TrimSpace(item.CorrectAnswer): {}}
		for _, w := range item.WrongAnswers {
			w = strings.TrimSpace(w)
			if w == "" {
				return fmt.Errorf("%w: question %d has an empty wrong answer", ErrInvalidQuestionSet, i)
			}
			if _, dup := seen[w]; dup {
				return fmt.Errorf("%w: question %d repeats answer %q", ErrInvalidQuestionSet, i, w)
			}
			seen[w] = struct{}{}
		}
	}
	return nil
}
