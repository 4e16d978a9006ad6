// Package feed fans row-level lobby changes out to filtered subscribers.
package feed

import (
	"context"
	"sync"

	"quizlobby-service/internal/domain"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

type subscriber struct {
	filter domain.Filter
	ch     chan domain.Change
}

// Broker is an in-process publish/subscribe hub keyed by filter.
// Slow subscribers lose their oldest pending change rather than block publishers.
type Broker struct {
	mu     sync.Mutex
	buffer int
	subs   map[*subscriber]struct{}
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{buffer: buffer, subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a filter. The returned cancel function must be called to
// release the subscription; it is also released when ctx is done.
func (b *Broker) Subscribe(ctx context.Context, filter domain.Filter) (<-chan domain.Change, func(), error) {
	if !filter.Valid() {
		return nil, nil, domain.ErrInvalidConfig
	}
	sub := &subscriber{filter: filter, ch: make(chan domain.Change, b.buffer)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	stopped := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(stopped)
			b.mu.Lock()
			if _, ok := b.subs[sub]; ok {
				delete(b.subs, sub)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}
	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				cancel()
			case <-stopped:
			}
		}()
	}
	return sub.ch, cancel, nil
}

// Publish delivers c to every subscriber whose filter matches.
func (b *Broker) Publish(c domain.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if !sub.filter.Matches(c) {
			continue
		}
		select {
		case sub.ch <- c:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- c:
			default:
			}
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close cancels every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}
