// Package scheduler drives periodic work from a single cancellable goroutine
// so tests can single-step ticks instead of racing real timers.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type Loop struct {
	name     string
	interval time.Duration
	tick     func(context.Context)
}

func New(name string, interval time.Duration, tick func(context.Context)) (*Loop, error) {
	if interval <= 0 {
		return nil, errors.New("scheduler: interval must be > 0")
	}
	if tick == nil {
		return nil, errors.New("scheduler: tick func must not be nil")
	}
	return &Loop{name: name, interval: interval, tick: tick}, nil
}

// Run blocks until ctx is cancelled. The first tick fires immediately; a
// panicking tick is logged and the loop keeps going.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	slog.Info("scheduler started", "loop", l.name, "interval", l.interval.String())

	l.safeTick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped", "loop", l.name)
			return ctx.Err()
		case <-ticker.C:
			l.safeTick(ctx)
		}
	}
}

func (l *Loop) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler tick panic recovered", "loop", l.name, "panic", r)
		}
	}()
	l.tick(ctx)
}
