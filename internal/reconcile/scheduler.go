package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tonimelisma/tower/internal/config"
)

// ErrSchedulerStopped is returned by Start after Stop has been called.
var ErrSchedulerStopped = errors.New("reconcile: scheduler stopped")

// errAlreadyStarted is returned by a second Start call.
var errAlreadyStarted = errors.New("reconcile: scheduler already started")

// Cycle triggers, used in log lines.
const (
	reasonStartup = "startup"
	reasonTimer   = "timer"
	reasonTrigger = "trigger"
)

// SchedulerConfig holds the options for NewScheduler.
type SchedulerConfig struct {
	Engine   *Engine
	Interval time.Duration
	Clock    clockwork.Clock // nil uses the real clock
	Logger   *slog.Logger

	// AfterCycle, if set, is called on the scheduler goroutine after every
	// cycle with its report.
	AfterCycle func(*CycleReport)
}

// Scheduler runs the engine once at start and then every Interval until
// stopped. Cycles never overlap: a tick that fires while a cycle is running is
// dropped, and on-demand triggers coalesce into a single pending request.
type Scheduler struct {
	engine     *Engine
	interval   time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
	afterCycle func(*CycleReport)

	trigger chan struct{}
	stopCh  chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
}

// NewScheduler creates a Scheduler. Nothing runs until Start.
func NewScheduler(cfg *SchedulerConfig) *Scheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		engine:     cfg.Engine,
		interval:   cfg.Interval,
		clock:      clock,
		logger:     logger,
		afterCycle: cfg.AfterCycle,
		trigger:    make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start validates configuration, then runs the first cycle and the recurring
// schedule on a background goroutine. It returns an error wrapping
// config.ErrNotConfigured when the engine is incomplete or the interval is not
// positive. Cancelling ctx stops the schedule like Stop does.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.engine == nil {
		return fmt.Errorf("%w: no engine", config.ErrNotConfigured)
	}

	if s.interval <= 0 {
		return fmt.Errorf("%w: sync interval must be positive, got %s", config.ErrNotConfigured, s.interval)
	}

	if err := s.engine.Configured(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.stopCh:
		return ErrSchedulerStopped
	default:
	}

	if s.started {
		return errAlreadyStarted
	}

	s.started = true

	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))

	go s.loop(ctx)

	return nil
}

// Trigger requests an immediate cycle. It never blocks; requests made while
// one is already pending are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the schedule and waits for an in-flight cycle to finish. It
// never interrupts a running cycle. Safe to call more than once and before
// Start.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.done
	}
}

// Done is closed when the scheduler loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	defer s.logger.Info("scheduler stopped")

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	// Cycles run detached from ctx so that shutdown lets them finish; the
	// registry client's per-call timeouts bound how long that takes.
	cycleCtx := context.WithoutCancel(ctx)

	s.runCycle(cycleCtx, reasonStartup, ticker)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if s.stopping(ctx) {
				return
			}

			s.runCycle(cycleCtx, reasonTimer, ticker)
		case <-s.trigger:
			if s.stopping(ctx) {
				return
			}

			s.runCycle(cycleCtx, reasonTrigger, ticker)
		}
	}
}

// stopping reports whether a stop was requested, so that a tick racing with
// Stop does not start another cycle.
func (s *Scheduler) stopping(ctx context.Context) bool {
	select {
	case <-s.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (s *Scheduler) runCycle(ctx context.Context, reason string, ticker clockwork.Ticker) {
	s.logger.Debug("starting cycle", slog.String("reason", reason))

	report, err := s.engine.RunCycle(ctx)
	if err != nil {
		s.logger.Warn("cycle did not run", slog.String("reason", reason), slog.String("error", err.Error()))
		return
	}

	// Ticks that fired during the cycle are dropped rather than queued.
	select {
	case <-ticker.Chan():
		s.logger.Debug("dropping tick that fired during cycle")
	default:
	}

	if s.afterCycle != nil {
		s.afterCycle(report)
	}
}
