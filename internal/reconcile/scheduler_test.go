package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tower/internal/config"
)

const testInterval = 5 * time.Minute

// fakeClock is the part of clockwork's fake clock the tests drive.
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntil(n int)
}

// schedulerEnv wires a Scheduler to a testEnv engine with a fake clock and a
// channel receiving every cycle report.
type schedulerEnv struct {
	*testEnv
	clock   fakeClock
	sched   *Scheduler
	reports chan *CycleReport
}

func newSchedulerEnv(t *testing.T) *schedulerEnv {
	t.Helper()

	env := newTestEnv(t)
	var clock fakeClock = clockwork.NewFakeClock()
	reports := make(chan *CycleReport, 16)

	sched := NewScheduler(&SchedulerConfig{
		Engine:     env.engine,
		Interval:   testInterval,
		Clock:      clock,
		Logger:     testLogger(),
		AfterCycle: func(r *CycleReport) { reports <- r },
	})

	t.Cleanup(sched.Stop)

	return &schedulerEnv{testEnv: env, clock: clock, sched: sched, reports: reports}
}

func (s *schedulerEnv) awaitReport(t *testing.T) *CycleReport {
	t.Helper()

	select {
	case r := <-s.reports:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a cycle")
		return nil
	}
}

func (s *schedulerEnv) assertNoReport(t *testing.T) {
	t.Helper()

	select {
	case r := <-s.reports:
		t.Fatalf("unexpected cycle %s", r.CycleID)
	case <-time.After(100 * time.Millisecond):
	}
}

// blockFirstCall makes the first remote call wait until the returned release
// function is called. entered is closed once the call is blocked.
func (s *schedulerEnv) blockFirstCall() (entered <-chan struct{}, release func()) {
	in := make(chan struct{})
	gate := make(chan struct{})

	var once sync.Once

	s.reg.onCall = func() {
		first := false
		once.Do(func() { first = true })

		if first {
			close(in)
			<-gate
		}
	}

	return in, func() { close(gate) }
}

func TestScheduler_RunsImmediatelyThenEveryInterval(t *testing.T) {
	s := newSchedulerEnv(t)
	s.writeFile(t, "/w/a.txt", 1, baseTime)
	s.watches.add("/w")

	require.NoError(t, s.sched.Start(context.Background()))

	first := s.awaitReport(t)
	assert.Equal(t, 1, first.Registered)

	s.assertNoReport(t)

	s.clock.BlockUntil(1)
	s.clock.Advance(testInterval)

	second := s.awaitReport(t)
	assert.Equal(t, 1, second.Unchanged)

	s.writeFile(t, "/w/b.txt", 2, baseTime)
	s.clock.Advance(testInterval)

	third := s.awaitReport(t)
	assert.Equal(t, 1, third.Registered)
}

func TestScheduler_StartNotConfigured(t *testing.T) {
	env := newTestEnv(t)

	s := NewScheduler(&SchedulerConfig{Engine: env.engine, Interval: 0, Logger: testLogger()})
	require.ErrorIs(t, s.Start(context.Background()), config.ErrNotConfigured)

	unconfigured := NewEngine(&EngineConfig{Watches: &fakeWatches{}, Device: testDevice, Logger: testLogger()})
	s = NewScheduler(&SchedulerConfig{Engine: unconfigured, Interval: time.Minute, Logger: testLogger()})
	require.ErrorIs(t, s.Start(context.Background()), config.ErrNotConfigured)

	s = NewScheduler(&SchedulerConfig{Interval: time.Minute, Logger: testLogger()})
	require.ErrorIs(t, s.Start(context.Background()), config.ErrNotConfigured)

	// Stop on a never-started scheduler returns immediately.
	s.Stop()
}

func TestScheduler_TriggerRunsCycle(t *testing.T) {
	s := newSchedulerEnv(t)
	s.watches.add("/w")

	require.NoError(t, s.sched.Start(context.Background()))
	s.awaitReport(t)

	s.writeFile(t, "/w/a.txt", 1, baseTime)
	s.sched.Trigger()

	r := s.awaitReport(t)
	assert.Equal(t, 1, r.Registered)
}

func TestScheduler_TriggersCoalesce(t *testing.T) {
	s := newSchedulerEnv(t)
	s.writeFile(t, "/w/a.txt", 1, baseTime)
	s.watches.add("/w")

	entered, release := s.blockFirstCall()

	require.NoError(t, s.sched.Start(context.Background()))
	<-entered

	s.sched.Trigger()
	s.sched.Trigger()
	s.sched.Trigger()

	release()

	s.awaitReport(t)
	s.awaitReport(t)
	s.assertNoReport(t)
}

func TestScheduler_TickDuringCycleIsDropped(t *testing.T) {
	s := newSchedulerEnv(t)
	s.writeFile(t, "/w/a.txt", 1, baseTime)
	s.watches.add("/w")

	entered, release := s.blockFirstCall()

	require.NoError(t, s.sched.Start(context.Background()))
	<-entered

	s.clock.BlockUntil(1)
	s.clock.Advance(testInterval)

	release()

	s.awaitReport(t)
	s.assertNoReport(t)

	// The schedule continues afterwards.
	s.clock.Advance(testInterval)
	s.awaitReport(t)
}

func TestScheduler_StopWaitsForInFlightCycle(t *testing.T) {
	s := newSchedulerEnv(t)
	s.writeFile(t, "/w/a.txt", 1, baseTime)
	s.watches.add("/w")

	entered, release := s.blockFirstCall()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.sched.Start(ctx))
	<-entered

	stopped := make(chan struct{})

	go func() {
		// Cancelling the start context must not interrupt the cycle either.
		cancel()
		s.sched.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	release()
	<-stopped

	r := s.awaitReport(t)
	assert.Equal(t, 1, r.Registered)
	assert.Equal(t, 0, r.Failed)
	assert.Len(t, s.engine.State(), 1)

	// Idempotent.
	s.sched.Stop()
	s.sched.Stop()
}

func TestScheduler_StartAfterStop(t *testing.T) {
	s := newSchedulerEnv(t)
	s.sched.Stop()

	require.ErrorIs(t, s.sched.Start(context.Background()), ErrSchedulerStopped)
}

func TestScheduler_StartTwice(t *testing.T) {
	s := newSchedulerEnv(t)

	require.NoError(t, s.sched.Start(context.Background()))
	require.ErrorIs(t, s.sched.Start(context.Background()), errAlreadyStarted)
}

func TestScheduler_ContextCancelStopsLoop(t *testing.T) {
	s := newSchedulerEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.sched.Start(ctx))
	s.awaitReport(t)

	cancel()

	select {
	case <-s.sched.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not exit after context cancel")
	}
}

func TestScheduler_SkippedCycleStillReported(t *testing.T) {
	s := newSchedulerEnv(t)
	s.reg.setHealthy(false)

	require.NoError(t, s.sched.Start(context.Background()))

	r := s.awaitReport(t)
	assert.True(t, r.Skipped)
}
