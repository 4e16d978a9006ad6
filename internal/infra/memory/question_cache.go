package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizlobby-service/internal/domain"
)

// QuestionLoader fetches a lobby's questions from the backing store.
type QuestionLoader interface {
	ListQuestions(ctx context.Context, lobbyID string) ([]domain.Question, error)
}

// QuestionCache caches question lists with TTL to avoid repeated store hits.
// Questions never change once written, so only non-empty lists are cached.
type QuestionCache struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.Mutex
	rnd   *rand.Rand
	cache map[string]cachedQuestions
}

type cachedQuestions struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionCache(loader QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuestions),
	}
}

func (r *QuestionCache) GetQuestions(ctx context.Context, lobbyID string) ([]domain.Question, error) {
	if qs, ok := r.lookup(lobbyID); ok {
		return qs, nil
	}

	result, err, _ := r.sf.Do(lobbyID, func() (interface{}, error) {
		if qs, ok := r.lookup(lobbyID); ok {
			return qs, nil
		}

		qs, err := r.loader.ListQuestions(ctx, lobbyID)
		if err != nil {
			return nil, err
		}
		if len(qs) == 0 {
			return qs, nil
		}

		r.mu.Lock()
		r.cache[lobbyID] = cachedQuestions{
			questions: qs,
			expiresAt: r.clock().Add(r.ttlWithJitterLocked()),
		}
		r.mu.Unlock()
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionCache) lookup(lobbyID string) ([]domain.Question, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[lobbyID]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.After(r.clock()) {
		delete(r.cache, lobbyID)
		return nil, false
	}
	return entry.questions, true
}

func (r *QuestionCache) ttlWithJitterLocked() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
