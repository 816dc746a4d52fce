package jobs

import (
	"context"
	"log"
	"time"
)

type sessionStore interface {
	DeleteExpiredRefreshSessions(ctx context.Context, now time.Time) (int64, error)
}

// StartSessionReaper periodically deletes expired and revoked refresh
// sessions. Stops when ctx is cancelled.
func StartSessionReaper(ctx context.Context, store sessionStore, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				deleted, err := store.DeleteExpiredRefreshSessions(tickCtx, time.Now().UTC())
				cancel()
				if err != nil {
					log.Printf("session reaper error: %v", err)
					continue
				}
				if deleted > 0 {
					log.Printf("session reaper deleted %d sessions", deleted)
				}
			}
		}
	}()
}
