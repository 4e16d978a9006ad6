package app

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"quizlobby-service/internal/domain"
)

const (
	DefaultPINAttempts = 10
	pinMin             = 10000
	pinSpan            = 90000
)

// PINAllocator draws random five digit PINs that no live lobby uses.
type PINAllocator struct {
	lobbies  LobbyStore
	reserver PINReserver
	attempts int
	log      logrus.FieldLogger

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPINAllocator builds an allocator. reserver may be nil, in which case the
// store's live PIN uniqueness is the only guard.
func NewPINAllocator(lobbies LobbyStore, reserver PINReserver, attempts int, log logrus.FieldLogger) *PINAllocator {
	if attempts <= 0 {
		attempts = DefaultPINAttempts
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PINAllocator{
		lobbies:  lobbies,
		reserver: reserver,
		attempts: attempts,
		log:      log,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRand replaces the random source, for deterministic tests.
func (a *PINAllocator) WithRand(rnd *rand.Rand) *PINAllocator {
	a.mu.Lock()
	a.rnd = rnd
	a.mu.Unlock()
	return a
}

// Allocate returns a PIN that was free when checked. The store's unique
// constraint still decides races between concurrent creators.
func (a *PINAllocator) Allocate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= a.attempts; attempt++ {
		pin := a.draw()
		inUse, err := a.lobbies.PINInUse(ctx, pin)
		if err != nil {
			return "", fmt.Errorf("check pin: %w", err)
		}
		if inUse {
			a.log.WithFields(logrus.Fields{"pin": pin, "attempt": attempt}).Debug("pin collision")
			continue
		}
		if a.reserver != nil {
			ok, err := a.reserver.Reserve(ctx, pin)
			if err != nil {
				return "", fmt.Errorf("reserve pin: %w", err)
			}
			if !ok {
				a.log.WithFields(logrus.Fields{"pin": pin, "attempt": attempt}).Debug("pin reserved elsewhere")
				continue
			}
		}
		return pin, nil
	}
	return "", domain.ErrPINExhausted
}

// Release frees a reservation. Errors are logged; the reservation expires anyway.
func (a *PINAllocator) Release(ctx context.Context, pin string) {
	if a.reserver == nil || pin == "" {
		return
	}
	if err := a.reserver.Release(ctx, pin); err != nil {
		a.log.WithError(err).WithField("pin", pin).Warn("release pin reservation")
	}
}

func (a *PINAllocator) draw() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strconv.Itoa(pinMin + a.rnd.Intn(pinSpan))
}
