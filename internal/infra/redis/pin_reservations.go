package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// PINReservations claims lobby PINs across service instances with SETNX.
// A claim lives until the lobby finishes or its TTL runs out; the database's
// unique index on live PINs remains the final arbiter.
type PINReservations struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPINReservations(client *redis.Client, ttl time.Duration) *PINReservations {
	return &PINReservations{client: client, ttl: ttl}
}

// Reserve returns false when another creator holds the PIN.
func (s *PINReservations) Reserve(ctx context.Context, pin string) (bool, error) {
	return s.client.SetNX(ctx, s.key(pin), "1", s.ttl).Result()
}

func (s *PINReservations) Release(ctx context.Context, pin string) error {
	return s.client.Del(ctx, s.key(pin)).Err()
}

func (s *PINReservations) key(pin string) string {
	return "quiz:pin:" + pin
}
