package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rpattn/sheetpipe/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedCycle replays results in order and cancels the loop once they run out.
type scriptedCycle struct {
	results []domain.BatchResult
	errs    []error
	calls   int
	cancel  context.CancelFunc
}

func (s *scriptedCycle) run(context.Context) (domain.BatchResult, error) {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		s.cancel()
		return domain.BatchResult{}, nil
	}
	return s.results[i], s.errs[i]
}

func TestRunSleepsOnlyWhenIdleOrFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cycle := &scriptedCycle{
		results: []domain.BatchResult{
			{Selected: 3, Succeeded: 2},
			{},
			{Selected: 1},
			{},
		},
		errs:   []error{nil, nil, errors.New("db down"), nil},
		cancel: cancel,
	}

	var sleeps []time.Duration
	loop := New("process", cycle.run, WithIdleInterval(7*time.Second), WithErrorBackoff(3*time.Second))
	loop.sleep = func(_ context.Context, d time.Duration) { sleeps = append(sleeps, d) }

	require.NoError(t, loop.Run(ctx))
	assert.Equal(t, 5, cycle.calls)
	// The final scripted call cancels the context and reports idle.
	assert.Equal(t, []time.Duration{7 * time.Second, 3 * time.Second, 7 * time.Second, 7 * time.Second}, sleeps)
}

func TestRunStopsBeforeNextCycleWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	loop := New("import", func(context.Context) (domain.BatchResult, error) {
		calls++
		return domain.BatchResult{}, nil
	})
	require.NoError(t, loop.Run(ctx))
	assert.Zero(t, calls)
}

func TestRunOnceRecoversPanics(t *testing.T) {
	loop := New("import", func(context.Context) (domain.BatchResult, error) {
		panic("boom")
	})

	_, err := loop.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunSurvivesPanickingCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	loop := New("import", func(context.Context) (domain.BatchResult, error) {
		calls++
		if calls == 1 {
			panic("first cycle blew up")
		}
		cancel()
		return domain.BatchResult{Selected: 1, Succeeded: 1}, nil
	}, WithErrorBackoff(time.Millisecond))

	require.NoError(t, loop.Run(ctx))
	assert.Equal(t, 2, calls)
}

func TestSleepContextReturnsEarlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	started := time.Now()
	sleepContext(ctx, time.Minute)
	assert.Less(t, time.Since(started), time.Second)
}
