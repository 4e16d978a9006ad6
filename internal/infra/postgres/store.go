package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizlobby-service/internal/domain"
	"quizlobby-service/internal/feed"
)

const uniqueViolation = "23505"

// Store implements app.Store on Postgres. Row changes reach subscribers through
// the broker, which a Listener feeds from LISTEN/NOTIFY.
type Store struct {
	pool *pgxpool.Pool
	feed *feed.Broker
}

func NewStore(pool *pgxpool.Pool, broker *feed.Broker) *Store {
	return &Store{pool: pool, feed: broker}
}

func (s *Store) Subscribe(ctx context.Context, filter domain.Filter) (<-chan domain.Change, func(), error) {
	return s.feed.Subscribe(ctx, filter)
}

const lobbyColumns = `id, pin, host_id, host_username, host_avatar, topics, time_limit, num_questions,
	difficulty, status, current_question_index, question_started_at, created_at, started_at, ended_at`

func (s *Store) InsertLobby(ctx context.Context, l domain.Lobby) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO lobbies (`+lobbyColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		l.ID, l.PIN, l.HostID, l.HostUsername, l.HostAvatar, l.Topics, l.TimeLimit, l.NumQuestions,
		string(l.Difficulty), string(l.Status), l.CurrentQuestionIndex, l.QuestionStartedAt,
		l.CreatedAt, l.StartedAt, l.EndedAt)
	if err != nil {
		return fmt.Errorf("insert lobby: %w", mapErr(err))
	}
	return nil
}

func (s *Store) GetLobby(ctx context.Context, id string) (domain.Lobby, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+lobbyColumns+` FROM lobbies WHERE id=$1`, id)
	return scanLobby(row)
}

func (s *Store) GetLobbyByPIN(ctx context.Context, pin string) (domain.Lobby, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+lobbyColumns+` FROM lobbies
		WHERE pin=$1 AND status <> 'finished' ORDER BY created_at DESC LIMIT 1`, pin)
	return scanLobby(row)
}

func (s *Store) PINInUse(ctx context.Context, pin string) (bool, error) {
	var inUse bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lobbies WHERE pin=$1 AND status <> 'finished')`, pin).Scan(&inUse)
	if err != nil {
		return false, fmt.Errorf("check pin: %w", err)
	}
	return inUse, nil
}

func (s *Store) CompareAndSwapLobby(ctx context.Context, old, next domain.Lobby) error {
	tag, err := s.pool.Exec(ctx, `UPDATE lobbies SET status=$4, current_question_index=$5,
			question_started_at=$6, started_at=$7, ended_at=$8
		WHERE id=$1 AND status=$2 AND current_question_index=$3`,
		old.ID, string(old.Status), old.CurrentQuestionIndex,
		string(next.Status), next.CurrentQuestionIndex, next.QuestionStartedAt, next.StartedAt, next.EndedAt)
	if err != nil {
		return fmt.Errorf("update lobby: %w", mapErr(err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM lobbies WHERE id=$1)`, old.ID).Scan(&exists); err != nil {
		return fmt.Errorf("update lobby: %w", err)
	}
	if !exists {
		return domain.ErrLobbyNotFound
	}
	return domain.ErrConflict
}

const playerColumns = `id, lobby_id, user_id, username, avatar, total_score, joined_at, join_seq`

func (s *Store) InsertPlayer(ctx context.Context, p *domain.Player) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `INSERT INTO players (id, lobby_id, user_id, username, avatar, total_score)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING joined_at, join_seq`,
		p.ID, p.LobbyID, p.UserID, p.Username, p.Avatar, p.TotalScore).Scan(&p.JoinedAt, &p.JoinSeq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return domain.ErrLobbyNotFound
		}
		return fmt.Errorf("insert player: %w", mapErr(err))
	}
	return nil
}

func (s *Store) GetPlayer(ctx context.Context, id string) (domain.Player, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id=$1`, id)
	return scanPlayer(row)
}

func (s *Store) GetPlayerByAccount(ctx context.Context, lobbyID, userID string) (domain.Player, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE lobby_id=$1 AND user_id=$2`, lobbyID, userID)
	return scanPlayer(row)
}

func (s *Store) ListPlayers(ctx context.Context, lobbyID string) ([]domain.Player, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+playerColumns+` FROM players
		WHERE lobby_id=$1 ORDER BY joined_at, join_seq, id`, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Player, 0)
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CountPlayers(ctx context.Context, lobbyID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM players WHERE lobby_id=$1`, lobbyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count players: %w", err)
	}
	return n, nil
}

func (s *Store) InsertQuestions(ctx context.Context, questions []domain.Question) error {
	if len(questions) == 0 {
		return nil
	}
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		for _, q := range questions {
			if q.ID == "" {
				q.ID = uuid.NewString()
			}
			_, err := tx.Exec(ctx, `INSERT INTO questions (id, lobby_id, question_index, question_text, correct_answer, wrong_answers)
				VALUES ($1,$2,$3,$4,$5,$6)`,
				q.ID, q.LobbyID, q.QuestionIndex, q.QuestionText, q.CorrectAnswer, q.WrongAnswers)
			if err != nil {
				return mapErr(err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}
	return nil
}

func (s *Store) ListQuestions(ctx context.Context, lobbyID string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, lobby_id, question_index, question_text, correct_answer, wrong_answers, created_at
		FROM questions WHERE lobby_id=$1 ORDER BY question_index`, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Question, 0)
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.LobbyID, &q.QuestionIndex, &q.QuestionText, &q.CorrectAnswer, &q.WrongAnswers, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

const answerColumns = `id, lobby_id, question_id, player_id, selected_answer, is_correct, time_taken, points_earned, answered_at`

// RecordAnswer inserts the answer and credits its points in one transaction.
// The NOTIFY raised by the insert is only delivered if the credit commits too.
func (s *Store) RecordAnswer(ctx context.Context, a *domain.Answer) (domain.Player, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	var player domain.Player
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO answers (id, lobby_id, question_id, player_id, selected_answer, is_correct, time_taken, points_earned)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING answered_at`,
			a.ID, a.LobbyID, a.QuestionID, a.PlayerID, a.SelectedAnswer, a.IsCorrect, a.TimeTaken, a.PointsEarned).Scan(&a.AnsweredAt)
		if err != nil {
			return mapErr(err)
		}
		if a.PointsEarned > 0 {
			player, err = scanPlayer(tx.QueryRow(ctx, `UPDATE players SET total_score = total_score + $2
				WHERE id=$1 RETURNING `+playerColumns, a.PlayerID, a.PointsEarned))
		} else {
			player, err = scanPlayer(tx.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id=$1`, a.PlayerID))
		}
		return err
	})
	if err != nil {
		return domain.Player{}, fmt.Errorf("record answer: %w", err)
	}
	return player, nil
}

func (s *Store) GetAnswer(ctx context.Context, questionID, playerID string) (domain.Answer, error) {
	var a domain.Answer
	err := s.pool.QueryRow(ctx, `SELECT `+answerColumns+` FROM answers WHERE question_id=$1 AND player_id=$2`,
		questionID, playerID).Scan(&a.ID, &a.LobbyID, &a.QuestionID, &a.PlayerID, &a.SelectedAnswer,
		&a.IsCorrect, &a.TimeTaken, &a.PointsEarned, &a.AnsweredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Answer{}, domain.ErrAnswerNotFound
	}
	if err != nil {
		return domain.Answer{}, fmt.Errorf("get answer: %w", err)
	}
	return a, nil
}

func (s *Store) CountAnswers(ctx context.Context, questionID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM answers WHERE question_id=$1`, questionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}
	return n, nil
}

func scanLobby(row pgx.Row) (domain.Lobby, error) {
	var (
		l                  domain.Lobby
		difficulty, status string
	)
	err := row.Scan(&l.ID, &l.PIN, &l.HostID, &l.HostUsername, &l.HostAvatar, &l.Topics, &l.TimeLimit,
		&l.NumQuestions, &difficulty, &status, &l.CurrentQuestionIndex, &l.QuestionStartedAt,
		&l.CreatedAt, &l.StartedAt, &l.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lobby{}, domain.ErrLobbyNotFound
	}
	if err != nil {
		return domain.Lobby{}, fmt.Errorf("scan lobby: %w", err)
	}
	l.Difficulty = domain.Difficulty(difficulty)
	l.Status = domain.Status(status)
	return l, nil
}

func scanPlayer(row pgx.Row) (domain.Player, error) {
	var p domain.Player
	err := row.Scan(&p.ID, &p.LobbyID, &p.UserID, &p.Username, &p.Avatar, &p.TotalScore, &p.JoinedAt, &p.JoinSeq)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	if err != nil {
		return domain.Player{}, fmt.Errorf("scan player: %w", err)
	}
	return p, nil
}

// mapErr translates unique violations into domain.ErrDuplicate.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", domain.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
