package repository

import (
	"context"
	"sync"
	"time"
)

// startPoller calls tick every interval on its own goroutine until the
// returned stop func is called or ctx is done. stop waits for an in-flight
// tick to return, so nothing is delivered after it returns. tick must not
// call stop.
func startPoller(ctx context.Context, interval time.Duration, tick func(context.Context)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				tick(ctx)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
