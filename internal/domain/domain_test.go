package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreSpeedBonusDecaysLinearly(t *testing.T) {
	cases := []struct {
		name     string
		selected string
		taken    int64
		limit    int
		points   int
		correct  bool
	}{
		{"instant", "Paris", 0, 15, 1500, true},
		{"at limit", "Paris", 15000, 15, 1000, true},
		{"past limit", "Paris", 20000, 15, 1000, true},
		{"two seconds of ten", "Paris", 2000, 10, 1400, true},
		{"wrong", "Lyon", 0, 15, 0, false},
		{"timed out", "", 15000, 15, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			points, correct := Score(tc.selected, "Paris", tc.taken, tc.limit)
			assert.Equal(t, tc.points, points)
			assert.Equal(t, tc.correct, correct)
		})
	}
}

func TestRankOrdersByScoreThenJoinOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	players := []Player{
		{ID: "c", TotalScore: 1200, JoinedAt: base.Add(2 * time.Second)},
		{ID: "a", TotalScore: 1500, JoinedAt: base.Add(1 * time.Second)},
		{ID: "b", TotalScore: 1200, JoinedAt: base},
	}

	ranked := Rank(players)

	require.Len(t, ranked, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{ranked[0].ID, ranked[1].ID, ranked[2].ID})
	assert.Equal(t, "c", players[0].ID, "input must not be reordered")
}

func TestRankIsStableForEqualTimestamps(t *testing.T) {
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	players := []Player{
		{ID: "p2", JoinedAt: at, JoinSeq: 2},
		{ID: "p1", JoinedAt: at, JoinSeq: 1},
	}
	ranked := Rank(players)
	assert.Equal(t, "p1", ranked[0].ID)
}

func TestTransitionLifecycle(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	l := Lobby{ID: "l1", Status: StatusGenerating, NumQuestions: 2, TimeLimit: 10}

	l, err := Transition(l, Event{Kind: EventQuestionsReady}, now)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, l.Status)

	l, err = Transition(l, Event{Kind: EventStart}, now)
	require.NoError(t, err)
	assert.Equal(t, StatusPlaying, l.Status)
	assert.Equal(t, 0, l.CurrentQuestionIndex)
	require.NotNil(t, l.QuestionStartedAt)
	require.NotNil(t, l.StartedAt)

	later := now.Add(30 * time.Second)
	l, err = Transition(l, Event{Kind: EventAdvance, FromIndex: 0}, later)
	require.NoError(t, err)
	assert.Equal(t, 1, l.CurrentQuestionIndex)
	assert.True(t, l.QuestionStartedAt.Equal(later))

	_, err = Transition(l, Event{Kind: EventAdvance, FromIndex: 0}, later)
	assert.True(t, errors.Is(err, ErrStaleIndex))

	l, err = Transition(l, Event{Kind: EventAdvance, FromIndex: 1}, later)
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, l.Status)
	assert.Equal(t, 1, l.CurrentQuestionIndex)
	require.NotNil(t, l.EndedAt)

	_, err = Transition(l, Event{Kind: EventEnd}, later)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestTransitionRejectsOutOfOrderEvents(t *testing.T) {
	now := time.Now()
	_, err := Transition(Lobby{Status: StatusGenerating}, Event{Kind: EventStart}, now)
	assert.True(t, errors.Is(err, ErrLobbyNotReady))

	_, err = Transition(Lobby{Status: StatusReady}, Event{Kind: EventGenerationFailed}, now)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	l, err := Transition(Lobby{Status: StatusGenerating}, Event{Kind: EventGenerationFailed}, now)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, l.Status)

	l, err = Transition(l, Event{Kind: EventGenerationRequested}, now)
	require.NoError(t, err)
	assert.Equal(t, StatusGenerating, l.Status)
}

func TestOlderThan(t *testing.T) {
	playing2 := Lobby{Status: StatusPlaying, CurrentQuestionIndex: 2}
	assert.True(t, Lobby{Status: StatusPlaying, CurrentQuestionIndex: 1}.OlderThan(playing2))
	assert.False(t, Lobby{Status: StatusPlaying, CurrentQuestionIndex: 2}.OlderThan(playing2))
	assert.True(t, Lobby{Status: StatusReady}.OlderThan(playing2))
	assert.False(t, Lobby{Status: StatusFinished, CurrentQuestionIndex: 0}.OlderThan(playing2))
	assert.False(t, Lobby{Status: StatusWaiting}.OlderThan(Lobby{Status: StatusGenerating}))
	assert.True(t, Lobby{Status: StatusWaiting}.OlderThan(Lobby{Status: StatusReady}))
}

func TestFilterMatches(t *testing.T) {
	change := Change{Table: TableAnswers, Op: OpInsert, Answer: &Answer{LobbyID: "l1", QuestionID: "q1", PlayerID: "p1"}}

	assert.True(t, Filter{Table: TableAnswers, Column: "question_id", Value: "q1"}.Matches(change))
	assert.False(t, Filter{Table: TableAnswers, Column: "question_id", Value: "q2"}.Matches(change))
	assert.True(t, Filter{Table: TableAnswers}.Matches(change))
	assert.False(t, Filter{Table: TablePlayers, Column: "lobby_id", Value: "l1"}.Matches(change))
	assert.False(t, Filter{Table: TableAnswers, Column: "bogus", Value: "q1"}.Matches(change))

	assert.True(t, Filter{Table: TableLobbies, Column: "id"}.Valid())
	assert.False(t, Filter{Table: TableLobbies, Column: "status"}.Valid())
	assert.Equal(t, "l1", change.LobbyID())
}

func TestLobbyConfigValidate(t *testing.T) {
	cfg := LobbyConfig{Topics: []string{" history ", ""}, TimeLimit: 15, NumQuestions: 5, Difficulty: DifficultySpicy}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"history"}, cfg.Topics)

	bad := LobbyConfig{Topics: []string{"x"}, TimeLimit: 0, NumQuestions: 5, Difficulty: DifficultyMild}
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidConfig))

	bad = LobbyConfig{Topics: []string{"x"}, TimeLimit: 10, NumQuestions: 5, Difficulty: "hot"}
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidConfig))
}

func TestQuestionViewHidesAnswerAndIsStable(t *testing.T) {
	q := Question{ID: "q1", QuestionText: "Capital of France?", CorrectAnswer: "Paris", WrongAnswers: []string{"Lyon", "Nice", "Lille"}}

	v1 := q.View(false)
	v2 := q.View(false)

	assert.Empty(t, v1.CorrectAnswer)
	assert.ElementsMatch(t, []string{"Paris", "Lyon", "Nice", "Lille"}, v1.Choices)
	assert.Equal(t, v1.Choices, v2.Choices)
	assert.Equal(t, "Paris", q.View(true).CorrectAnswer)
}

func TestValidateGenerated(t *testing.T) {
	good := []GeneratedQuestion{{Question: "2+2?", CorrectAnswer: "4", WrongAnswers: []string{"3", "5", "22"}}}
	require.NoError(t, ValidateGenerated(good, 1))

	assert.True(t, errors.Is(ValidateGenerated(good, 2), ErrInvalidQuestionSet))

	dup := []GeneratedQuestion{{Question: "2+2?", CorrectAnswer: "4", WrongAnswers: []string{"3", "4", "22"}}}
	assert.True(t, errors.Is(ValidateGenerated(dup, 1), ErrInvalidQuestionSet))

	short := []GeneratedQuestion{{Question: "2+2?", CorrectAnswer: "4", WrongAnswers: []string{"3", "5"}}}
	assert.True(t, errors.Is(ValidateGenerated(short, 1), ErrInvalidQuestionSet))
}
