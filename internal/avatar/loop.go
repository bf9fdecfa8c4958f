package avatar

import (
	"context"
	"time"
)

// DefaultTickInterval is the control-loop cadence used when Run is given a
// non-positive interval.
const DefaultTickInterval = 50 * time.Millisecond

// Run drives Tick at a fixed cadence until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().Dur("interval", interval).Msg("Animation loop started")
	defer e.logger.Info().Msg("Animation loop stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			e.Tick()
		}
	}
}
