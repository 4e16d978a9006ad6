package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"quizlobby-service/internal/domain"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// Gemini asks a Gemini model for a question set in JSON.
type Gemini struct {
	client *genai.Client
	model  string
	log    logrus.FieldLogger
}

// NewGemini creates a client. An empty apiKey lets the SDK read GEMINI_API_KEY
// or GOOGLE_API_KEY from the environment.
func NewGemini(ctx context.Context, apiKey, model string, log logrus.FieldLogger) (*Gemini, error) {
	var cfg *genai.ClientConfig
	if apiKey != "" {
		cfg = &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Gemini{client: client, model: model, log: log}, nil
}

func (g *Gemini) Generate(ctx context.Context, req domain.GenerationRequest) ([]domain.GeneratedQuestion, error) {
	log := g.log.WithField("lobby_id", req.LobbyID)

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(Prompt(req)), nil)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	raw := result.Text()
	if raw == "" {
		return nil, errors.New("empty model response")
	}
	log.WithField("bytes", len(raw)).Debug("gemini response")

	questions, err := ParseQuestions(raw)
	if err != nil {
		log.WithError(err).Warn("decode gemini questions")
		return nil, err
	}
	return questions, nil
}

// Prompt renders the generation instructions for req.
func Prompt(req domain.GenerationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d multiple choice trivia questions about: %s.\n", req.Count, strings.Join(req.Topics, ", "))
	fmt.Fprintf(&b, "Difficulty: %s.\n", difficultyHint(req.Difficulty))
	b.WriteString("Each question has exactly one correct answer and exactly three distinct wrong answers.\n")
	b.WriteString(`Reply with only a JSON array of objects shaped {"question": string, "correct_answer": string, "wrong_answers": [string, string, string]}.`)
	return b.String()
}

// ParseQuestions decodes a model reply, tolerating a fenced code block.
func ParseQuestions(raw string) ([]domain.GeneratedQuestion, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.Trim(clean, "`")

	var questions []domain.GeneratedQuestion
	if err := json.Unmarshal([]byte(clean), &questions); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidQuestionSet, err)
	}
	return questions, nil
}

func difficultyHint(d domain.Difficulty) string {
	switch d {
	case domain.DifficultySpicy:
		return "medium, for people who follow the topic"
	case domain.DifficultyExtraSpicy:
		return "hard, for experts"
	default:
		return "easy, for a general audience"
	}
}
