package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

type uploadCounter interface {
	UploadCount(ctx context.Context) (int, error)
}

type subscriberCounter interface {
	Count() int
}

// RunStats logs ledger and feed stats every interval until ctx is canceled.
func RunStats(ctx context.Context, ledger uploadCounter, feed subscriberCounter, interval time.Duration) {
	runStats(ctx, clockwork.NewRealClock(), slog.Default(), ledger, feed, interval)
}

func runStats(ctx context.Context, clock clockwork.Clock, log *slog.Logger, ledger uploadCounter, feed subscriberCounter, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			uploads, err := ledger.UploadCount(ctx)
			if err != nil {
				log.Warn("[stats] count uploads", "err", err)
				continue
			}
			subscribers := feed.Count()
			// Only log when something changed or someone is listening.
			if uploads == last && subscribers == 0 {
				continue
			}
			added := 0
			if last >= 0 {
				added = uploads - last
			}
			last = uploads
			log.Info("[stats]", "uploads", uploads, "new", added, "subscribers", subscribers)
		}
	}
}
