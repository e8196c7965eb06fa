// Package scheduler runs the PnL batch on a fixed, optionally
// bucket-aligned interval.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval with the bucket start time.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour. When AlignToStart is set, ticks
// fire on interval boundaries (for a 15m interval: :00, :15, :30, :45)
// and the tick receives the truncated bucket start.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives aligned execution of reconstruction batches. A tick
// that returns an error is logged and the loop continues; only context
// cancellation stops it.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks until ctx is cancelled, invoking tick once per interval.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := sleep(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	next := s.next(time.Now().UTC())
	for {
		if err := sleep(ctx, time.Until(next)); err != nil {
			return err
		}

		bucket := next
		if s.opts.AlignToStart {
			bucket = bucket.Truncate(s.opts.Interval)
		}
		s.logger.Info().Time("bucket", bucket).Msg("executing scheduled batch")

		if err := tick(ctx, bucket); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("batch execution failed")
		}

		// A slow tick can overrun one or more buckets; realign rather
		// than firing a burst of stale ones.
		next = next.Add(s.opts.Interval)
		if now := time.Now().UTC(); next.Before(now) {
			next = s.next(now)
		}
	}
}

// next returns the first fire time strictly after now.
func (s *Scheduler) next(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	aligned := now.Truncate(s.opts.Interval)
	for !aligned.After(now) {
		aligned = aligned.Add(s.opts.Interval)
	}
	return aligned
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
