package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"quizlobby-service/internal/domain"
)

// QuestionLoader fetches a lobby's questions from the backing store.
type QuestionLoader interface {
	ListQuestions(ctx context.Context, lobbyID string) ([]domain.Question, error)
}

// QuestionCache caches question lists in Redis (hash per lobby) and falls back
// to a loader on miss. Questions are stored as:
// HSET quiz:lobby:{lobbyID}:questions {questionIndex} {question JSON}
type QuestionCache struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	log    logrus.FieldLogger

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionCache(client *redis.Client, loader QuestionLoader, ttl time.Duration, log logrus.FieldLogger) *QuestionCache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionCache) GetQuestions(ctx context.Context, lobbyID string) ([]domain.Question, error) {
	key := r.key(lobbyID)
	if qs, ok := r.fromCache(ctx, key); ok {
		return qs, nil
	}

	result, err, _ := r.sf.Do(lobbyID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if qs, ok := r.fromCache(ctx, key); ok {
			return qs, nil
		}

		qs, err := r.loader.ListQuestions(ctx, lobbyID)
		if err != nil {
			return nil, err
		}
		if len(qs) == 0 {
			return qs, nil
		}

		fields := make(map[string]interface{}, len(qs))
		for _, q := range qs {
			raw, err := json.Marshal(q)
			if err != nil {
				return nil, err
			}
			fields[strconv.Itoa(q.QuestionIndex)] = raw
		}
		pipe := r.client.TxPipeline()
		pipe.HSet(ctx, key, fields)
		if ttl := r.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			r.log.WithError(err).WithField("lobby_id", lobbyID).Warn("cache questions")
		}
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionCache) fromCache(ctx context.Context, key string) ([]domain.Question, bool) {
	raw, err := r.client.HGetAll(ctx, key).Result()
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	qs := make([]domain.Question, 0, len(raw))
	for _, v := range raw {
		var q domain.Question
		if err := json.Unmarshal([]byte(v), &q); err != nil {
			return nil, false
		}
		qs = append(qs, q)
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i].QuestionIndex < qs[j].QuestionIndex })
	return qs, true
}

func (r *QuestionCache) key(lobbyID string) string {
	return "quiz:lobby:" + lobbyID + ":questions"
}

func (r *QuestionCache) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
