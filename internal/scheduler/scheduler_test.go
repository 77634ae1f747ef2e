package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/cvc-collector/internal/speed"
)

// mockRunner counts cycles and fails from cycle failOn onwards (0 never fails).
type mockRunner struct {
	calls  atomic.Int32
	failOn int32
	err    error
	block  chan struct{}
}

func (m *mockRunner) RunCycle(ctx context.Context) (speed.CycleReport, error) {
	n := m.calls.Add(1)
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return speed.CycleReport{}, ctx.Err()
		}
	}
	if m.failOn > 0 && n >= m.failOn {
		return speed.CycleReport{}, m.err
	}
	return speed.CycleReport{Points: 1}, nil
}

func TestRun_FirstCycleIsImmediate(t *testing.T) {
	runner := &mockRunner{}
	s := New(Config{Interval: time.Hour, Runner: runner})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.EqualValues(t, 1, runner.calls.Load())
}

func TestRun_RepeatsEveryInterval(t *testing.T) {
	runner := &mockRunner{}
	s := New(Config{Interval: time.Second, Runner: runner})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

// startRecorder keeps the start time of every cycle and runs each for d.
type startRecorder struct {
	mu     sync.Mutex
	starts []time.Time
	d      time.Duration
}

func (r *startRecorder) RunCycle(ctx context.Context) (speed.CycleReport, error) {
	r.mu.Lock()
	r.starts = append(r.starts, time.Now())
	r.mu.Unlock()

	select {
	case <-time.After(r.d):
	case <-ctx.Done():
	}
	return speed.CycleReport{}, nil
}

func (r *startRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts)
}

func TestRun_IntervalIsStartToStart(t *testing.T) {
	runner := &startRecorder{d: 600 * time.Millisecond}
	s := New(Config{Interval: time.Second, Runner: runner})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, s)

	require.Eventually(t, func() bool { return runner.count() >= 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	gap := runner.starts[1].Sub(runner.starts[0])
	// Measured from the end of the first cycle the gap would be about 1.6s.
	assert.Less(t, gap, 1400*time.Millisecond)
	assert.GreaterOrEqual(t, gap, 800*time.Millisecond)
}

func TestRun_ReturnsCycleError(t *testing.T) {
	boom := errors.New("write points: influx unreachable")
	runner := &mockRunner{failOn: 1, err: boom}
	s := New(Config{Interval: time.Hour, Runner: runner})

	select {
	case err := <-runAsync(context.Background(), s):
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return the cycle error")
	}
}

func TestRun_CancelDuringCycleIsClean(t *testing.T) {
	runner := &mockRunner{block: make(chan struct{})}
	s := New(Config{Interval: time.Hour, Runner: runner})

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s)

	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRun_InvalidInterval(t *testing.T) {
	s := New(Config{Runner: &mockRunner{}})
	assert.Error(t, s.Run(context.Background()))
}

func runAsync(ctx context.Context, s *Scheduler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}
