package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

// extendFunc renews a held lock. False or an error means it is gone.
type extendFunc func(ctx context.Context) (bool, error)

// keepAlive renews a lock every third of its ttl until stop is called.
// The returned context ends when renewal fails, so work done under the
// lock stops before another holder can start.
func keepAlive(ctx context.Context, ttl time.Duration, extend extendFunc, log *slog.Logger) (context.Context, func()) {
	lockCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-lockCtx.Done():
				return
			case <-ticker.C:
			}
			ok, err := extend(lockCtx)
			if lockCtx.Err() != nil {
				return
			}
			if err != nil || !ok {
				log.Error("consumer lock lost", sl.Err(err))
				cancel()
				return
			}
		}
	}()

	return lockCtx, func() {
		cancel()
		<-done
	}
}
