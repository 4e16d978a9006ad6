package feed

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizlobby-service/internal/domain"
)

func lobbyChange(id string, index int) domain.Change {
	return domain.Change{Table: domain.TableLobbies, Op: domain.OpUpdate, Lobby: &domain.Lobby{ID: id, CurrentQuestionIndex: index}}
}

func TestBrokerDeliversOnlyMatchingChanges(t *testing.T) {
	b := NewBroker(4)
	ch, cancel, err := b.Subscribe(context.Background(), domain.Filter{Table: domain.TableLobbies, Column: "id", Value: "l1"})
	require.NoError(t, err)
	defer cancel()

	b.Publish(lobbyChange("l2", 0))
	b.Publish(lobbyChange("l1", 1))

	select {
	case c := <-ch:
		assert.Equal(t, "l1", c.Lobby.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a change")
	}
	select {
	case c := <-ch:
		t.Fatalf("unexpected change %+v", c)
	default:
	}
}

func TestBrokerDropsOldestForSlowSubscriber(t *testing.T) {
	b := NewBroker(2)
	ch, cancel, err := b.Subscribe(context.Background(), domain.Filter{Table: domain.TableLobbies})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 5; i++ {
		b.Publish(lobbyChange("l1", i))
	}

	first := <-ch
	second := <-ch
	assert.Equal(t, 3, first.Lobby.CurrentQuestionIndex)
	assert.Equal(t, 4, second.Lobby.CurrentQuestionIndex)
}

func TestBrokerCancelClosesChannel(t *testing.T) {
	b := NewBroker(1)
	ctx, stop := context.WithCancel(context.Background())
	ch, cancel, err := b.Subscribe(ctx, domain.Filter{Table: domain.TablePlayers, Column: "lobby_id", Value: "l1"})
	require.NoError(t, err)
	defer cancel()

	stop()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
	assert.Equal(t, 0, b.Subscribers())

	cancel()
}

// Subscriptions on a long lived context must not leave their watchers behind
// once cancelled.
func TestBrokerCancelReleasesWatcher(t *testing.T) {
	b := NewBroker(1)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	base := runtime.NumGoroutine()
	for i := 0; i < 100; i++ {
		_, cancel, err := b.Subscribe(ctx, domain.Filter{Table: domain.TableLobbies})
		require.NoError(t, err)
		cancel()
	}

	assert.Equal(t, 0, b.Subscribers())
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= base+5
	}, time.Second, 10*time.Millisecond)
}

func TestBrokerRejectsUnknownFilter(t *testing.T) {
	b := NewBroker(1)
	_, _, err := b.Subscribe(context.Background(), domain.Filter{Table: "scores"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
