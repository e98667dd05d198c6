package timeline

import (
	"context"
	"time"
)

// Loop calls tick every interval with the clock's current time until ctx is
// cancelled or tick returns false. It replaces self-rescheduling frame callbacks:
// the context is the only cancellation mechanism.
func Loop(ctx context.Context, clock Clock, interval time.Duration, tick func(now float64) bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if !tick(clock.Now()) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !tick(clock.Now()) {
				return
			}
		}
	}
}
