package session

import (
	"context"
	"time"
)

// RunRefreshJob checks every RefreshThreshold whether a silent token
// refresh is due and performs it. It blocks until ctx is cancelled;
// run it in its own goroutine.
func (m *Manager) RunRefreshJob(ctx context.Context) {
	interval := m.conf.RefreshThreshold
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refreshIfNeeded(ctx)
		}
	}
}
