package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Run refreshes once, then every interval until ctx is done.
// Refresh failures are logged and the loop keeps going.
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	_ = s.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.pauseRefresh && s.State().InFlight > 0 {
				log.Debug().Msg("[chat] refresh skipped, mutation in flight")
				continue
			}
			_ = s.Refresh(ctx)
		}
	}
}

// Poke triggers an out-of-band refresh, e.g. on a push notification.
// It returns immediately; the refresh runs on its own goroutine.
func (s *Store) Poke(ctx context.Context) {
	go func() {
		_ = s.Refresh(ctx)
	}()
}
