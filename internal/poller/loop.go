package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/rpattn/sheetpipe/internal/domain"
	"github.com/rpattn/sheetpipe/internal/metrics"

	"go.uber.org/zap"
)

const (
	// DefaultIdleInterval is the pause after a cycle that found no work.
	DefaultIdleInterval = 10 * time.Second
	// DefaultErrorBackoff is the pause after a cycle that failed.
	DefaultErrorBackoff = 5 * time.Second
)

// Cycle handles one bounded batch of pending work.
type Cycle func(ctx context.Context) (domain.BatchResult, error)

// Loop drives a Cycle until its context is cancelled.
type Loop struct {
	flow    string
	cycle   Cycle
	idle    time.Duration
	backoff time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
	sleep   func(ctx context.Context, d time.Duration)
}

// Option configures a Loop.
type Option func(*Loop)

// WithIdleInterval sets the pause after a cycle that found nothing.
func WithIdleInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.idle = d
		}
	}
}

// WithErrorBackoff sets the pause after a failed cycle.
func WithErrorBackoff(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.backoff = d
		}
	}
}

// WithLogger sets the loop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics records cycle outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) {
		l.metrics = m
	}
}

// New creates a loop for flow.
func New(flow string, cycle Cycle, opts ...Option) *Loop {
	l := &Loop{
		flow:    flow,
		cycle:   cycle,
		idle:    DefaultIdleInterval,
		backoff: DefaultErrorBackoff,
		logger:  zap.NewNop(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(zap.String("flow", flow))
	return l
}

// Run polls until ctx is cancelled. A cycle that has started always
// finishes; cancellation is only observed between cycles and during sleeps.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("poll loop started",
		zap.Duration("idle_interval", l.idle),
		zap.Duration("error_backoff", l.backoff),
	)
	for {
		if ctx.Err() != nil {
			l.logger.Info("poll loop stopped")
			return nil
		}

		result, err := l.RunOnce(ctx)
		switch {
		case err != nil:
			l.logger.Error("poll cycle failed", zap.Error(err), zap.Duration("backoff", l.backoff))
			l.sleep(ctx, l.backoff)
		case result.Selected == 0:
			l.sleep(ctx, l.idle)
		default:
			l.logger.Info("poll cycle complete",
				zap.Int("selected", result.Selected),
				zap.Int("succeeded", result.Succeeded),
			)
		}
	}
}

// RunOnce runs a single cycle. A panic inside the cycle is returned as an error.
func (l *Loop) RunOnce(ctx context.Context) (result domain.BatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll cycle panicked: %v", r)
		}
		l.metrics.ObservePoll(l.flow, outcome(result, err))
	}()
	return l.cycle(ctx)
}

func outcome(result domain.BatchResult, err error) string {
	switch {
	case err != nil:
		return "error"
	case result.Selected == 0:
		return "idle"
	default:
		return "busy"
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
