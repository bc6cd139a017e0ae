package selector

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/yuka/telemetry"
)

// DefaultRefreshInterval is how often the order is recomputed when no interval is configured.
const DefaultRefreshInterval = 10 * time.Minute

// StartRefreshJob recomputes the order every interval until ctx is canceled.
// The first refresh happens one interval after start.
func StartRefreshJob(ctx context.Context, s *Selector, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	slog.Info("model refresh job started", slog.Duration("interval", interval), slog.String("component", "selector"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("model refresh job stopped", slog.String("component", "selector"))
			return
		case <-ticker.C:
			runRefresh(ctx, s)
		}
	}
}

func runRefresh(ctx context.Context, s *Selector) {
	telemetry.Init()
	var (
		changed bool
		err     error
	)
	telemetry.TimeFunc(telemetry.RefreshDuration, func() { changed, err = s.Refresh(ctx) })
	telemetry.ObserveRefresh(changed, err)
	if err != nil {
		slog.Error("model refresh failed", slog.Any("err", err), slog.String("component", "selector"))
		return
	}
	slog.Debug("model refresh complete", slog.Bool("changed", changed), slog.String("component", "selector"))
}
