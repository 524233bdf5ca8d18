// Package source provides the handles that deliver feedback snapshots. Each handle is
// built explicitly and passed to the services that need it.
package source

import (
	"context"
	"log/slog"
	"time"

	mxm "github.com/Daneel-Li/feedback-dash/internal/models"

	"golang.org/x/exp/slices"
)

// Source delivers full snapshots of one collection.
type Source interface {
	// Fetch reads the current snapshot once.
	Fetch(ctx context.Context) ([]mxm.Feedback, error)
	// Watch calls fn with every new snapshot until ctx is done or the source fails.
	// fn must not modify the slice it receives.
	Watch(ctx context.Context, fn func([]mxm.Feedback)) error
}

type fetchFunc func(ctx context.Context) ([]mxm.Feedback, error)

// poll fetches every interval and calls fn when the snapshot differs from the last one.
// Fetch errors are logged and retried on the next tick.
func poll(ctx context.Context, name string, interval time.Duration, fetch fetchFunc, fn func([]mxm.Feedback)) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last []mxm.Feedback
	delivered := false
	for {
		records, err := fetch(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			slog.Warn("poll snapshot failed", "source", name, "error", err)
		case !delivered || !slices.Equal(last, records):
			delivered = true
			last = records
			fn(slices.Clone(records))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
