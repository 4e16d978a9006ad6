package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"

	"quizlobby-service/internal/domain"
	"quizlobby-service/internal/feed"
)

// Channel is the NOTIFY channel the schema triggers publish to.
const Channel = "quiz_changes"

const maxBackoff = 10 * time.Second

// Listener relays LISTEN/NOTIFY row changes into a broker.
type Listener struct {
	pool   *pgxpool.Pool
	broker *feed.Broker
	log    logrus.FieldLogger

	listening chan struct{}
	once      sync.Once
}

func NewListener(pool *pgxpool.Pool, broker *feed.Broker, log logrus.FieldLogger) *Listener {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Listener{pool: pool, broker: broker, log: log, listening: make(chan struct{})}
}

// Listening is closed once the first LISTEN succeeded.
func (l *Listener) Listening() <-chan struct{} { return l.listening }

// Run listens until ctx is cancelled, reconnecting with backoff after errors.
// Notifications sent while disconnected are lost; clients reconcile by polling.
func (l *Listener) Run(ctx context.Context) error {
	backoff := 250 * time.Millisecond
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.log.WithError(err).WithField("retry_in", backoff).Warn("change listener disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.log.WithField("channel", Channel).Info("listening for row changes")
	l.once.Do(func() { close(l.listening) })

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		change, err := decodeChange([]byte(n.Payload))
		if err != nil {
			l.log.WithError(err).Warn("drop malformed change notification")
			continue
		}
		l.broker.Publish(change)
	}
}

type notification struct {
	Table domain.Table    `json:"table"`
	Op    domain.Op       `json:"op"`
	Row   json.RawMessage `json:"row"`
}

func decodeChange(payload []byte) (domain.Change, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return domain.Change{}, err
	}
	c := domain.Change{Table: n.Table, Op: n.Op}
	var target interface{}
	switch n.Table {
	case domain.TableLobbies:
		c.Lobby = &domain.Lobby{}
		target = c.Lobby
	case domain.TablePlayers:
		c.Player = &domain.Player{}
		target = c.Player
	case domain.TableAnswers:
		c.Answer = &domain.Answer{}
		target = c.Answer
	default:
		return domain.Change{}, fmt.Errorf("unknown table %q", n.Table)
	}
	if err := json.Unmarshal(n.Row, target); err != nil {
		return domain.Change{}, fmt.Errorf("decode %s row: %w", n.Table, err)
	}
	return c, nil
}
