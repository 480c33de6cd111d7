package jobs

import (
	"context"
	"sync"
	"time"
)

// loop runs fn on a fixed interval until stopped. Runs never overlap.
type loop struct {
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newLoop() *loop {
	return &loop{done: make(chan struct{})}
}

func (l *loop) start(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(interval)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer ticker.Stop()

		fn(ctx)
		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-ctx.Done():
				return
			case <-l.done:
				return
			}
		}
	}()
}

func (l *loop) stop() {
	l.stopOnce.Do(func() { close(l.done) })
	l.wg.Wait()
}
