package remote

import (
	"context"
	"log/slog"
	"time"
)

// Prober reports whether the backend is currently reachable.
type Prober interface {
	Ping(ctx context.Context) bool
}

// Monitor polls a Prober and reports online/offline transitions. The sync
// engine uses the offline→online transition to trigger a push-and-pull
// cycle; it never consults the monitor before attempting an operation
// (attempts are allowed to fail and be retried instead).
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   *slog.Logger
	onOnline func()
}

// NewMonitor creates a Monitor probing at the given interval. onOnline is
// called on every offline→online transition.
func NewMonitor(prober Prober, interval time.Duration, logger *slog.Logger, onOnline func()) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		logger:   logger,
		onOnline: onOnline,
	}
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	online := m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := m.probe(ctx)
			if now && !online {
				m.logger.Info("connectivity: back online")
				if m.onOnline != nil {
					m.onOnline()
				}
			}
			if !now && online {
				m.logger.Info("connectivity: offline")
			}
			online = now
		}
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.prober.Ping(probeCtx)
}
