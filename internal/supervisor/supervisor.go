// Package supervisor keeps long-running background tasks alive.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aiox-platform/chatbot/internal/metrics"
)

// errExited is reported when a task returns nil while ctx is still live.
var errExited = errors.New("task exited")

// Policy controls restart backoff.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// ResetAfter resets the backoff once a run lasted at least this long.
	ResetAfter time.Duration
}

// DefaultPolicy restarts after 1s, doubling up to 1m.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		ResetAfter:      5 * time.Minute,
	}
}

// Task is a long-running function that should only return when ctx is done.
type Task func(ctx context.Context) error

// Run executes task and restarts it with exponential backoff whenever it
// fails, panics or returns early. It returns nil once ctx is cancelled.
func Run(ctx context.Context, name string, task Task, policy Policy) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.MaxInterval = policy.MaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	logger := slog.Default().With("component", "supervisor", "task", name)

	for {
		started := time.Now()
		err := runSafely(ctx, task)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errExited
		}
		if policy.ResetAfter > 0 && time.Since(started) >= policy.ResetAfter {
			b.Reset()
		}

		wait := b.NextBackOff()
		metrics.TaskRestartsTotal.WithLabelValues(name).Inc()
		logger.Error("task failed, restarting", "error", err, "backoff", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func runSafely(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return task(ctx)
}
