package gamesync

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Loop calls tick on a fixed interval until stopped. Ticks never overlap; a
// tick that runs long causes later ones to be skipped.
type Loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartLoop starts ticking on clk. The ticker is armed before StartLoop returns.
func StartLoop(ctx context.Context, clk clock.Clock, interval time.Duration, tick func(context.Context)) *Loop {
	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{cancel: cancel, done: make(chan struct{})}
	ticker := clk.Ticker(interval)

	go func() {
		defer close(l.done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick(ctx)
			}
		}
	}()
	return l
}

// Stop cancels the loop and waits for the current tick to return.
func (l *Loop) Stop() {
	l.cancel()
	<-l.done
}
