// Package reconcile keeps the remote registry consistent with the files under
// the watched paths. The Engine runs one reconciliation cycle at a time:
// probe the registry, snapshot every watch root, diff against the in-memory
// FileState cache, and apply the resulting register/delete calls. The
// Scheduler drives the Engine on a fixed interval and on demand.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/tower/internal/config"
	"github.com/tonimelisma/tower/internal/registry"
	"github.com/tonimelisma/tower/internal/snapshot"
	"github.com/tonimelisma/tower/internal/watchlist"
)

// defaultConcurrency bounds in-flight remote calls when no value is given.
const defaultConcurrency = 4

// ErrCycleInProgress is returned by RunCycle when another cycle is running.
var ErrCycleInProgress = errors.New("reconcile: a cycle is already in progress")

// Phase is the engine's position within a cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseProbing
	PhaseDiffing
	PhaseApplying
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseProbing:
		return "probing"
	case PhaseDiffing:
		return "diffing"
	case PhaseApplying:
		return "applying"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Registry is the remote side of reconciliation. Satisfied by
// *registry.Client.
type Registry interface {
	HealthCheck(ctx context.Context) bool
	Register(ctx context.Context, md *registry.FileMetadata) (*registry.RegisterResult, error)
	DeleteByPath(ctx context.Context, absPath, device string) (int, error)
}

// WatchList supplies the watch roots. Satisfied by *watchlist.Registry.
// Reload is called at the start of every cycle so edits made by other
// processes are picked up.
type WatchList interface {
	Reload() error
	List() []watchlist.WatchEntry
}

// EngineConfig holds the options for NewEngine.
type EngineConfig struct {
	Registry    Registry
	Watches     WatchList
	Snapshotter *snapshot.Snapshotter // nil uses the OS filesystem
	Device      config.DeviceConfig
	Concurrency int // parallel remote calls while applying; <= 0 uses 4
	Logger      *slog.Logger
}

// OpError records one failed operation within a cycle.
type OpError struct {
	Op          Op
	Err         error
	Consecutive int // failures in a row for this path, including this one
}

// CycleReport summarizes one reconciliation cycle.
type CycleReport struct {
	CycleID    string
	StartedAt  time.Time
	Duration   time.Duration
	Skipped    bool // registry unreachable; nothing was attempted
	Canceled   bool // context ended before applying; nothing was attempted
	WatchRoots int
	Registered int
	Deleted    int
	Unchanged  int
	Failed     int
	Errors     []OpError
}

// Engine owns the FileState cache and runs reconciliation cycles. At most one
// cycle runs at a time.
type Engine struct {
	registry    Registry
	watches     WatchList
	snap        *snapshot.Snapshotter
	device      config.DeviceConfig
	concurrency int
	logger      *slog.Logger

	state    *stateMap
	failures *failureTracker

	phase   atomic.Int32
	running atomic.Bool

	lastMu sync.Mutex
	last   *CycleReport

	nowFunc func() time.Time // injectable for testing
}

// NewEngine creates an Engine with an empty FileState cache.
func NewEngine(cfg *EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	snap := cfg.Snapshotter
	if snap == nil {
		snap = snapshot.New(nil, logger)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Engine{
		registry:    cfg.Registry,
		watches:     cfg.Watches,
		snap:        snap,
		device:      cfg.Device,
		concurrency: concurrency,
		logger:      logger,
		state:       newStateMap(),
		failures:    newFailureTracker(),
		nowFunc:     time.Now,
	}
}

// Configured returns an error wrapping config.ErrNotConfigured unless the
// engine has a registry, a watch list, and a complete device identity.
func (e *Engine) Configured() error {
	switch {
	case e.registry == nil:
		return fmt.Errorf("%w: no registry client", config.ErrNotConfigured)
	case e.watches == nil:
		return fmt.Errorf("%w: no watch list", config.ErrNotConfigured)
	case e.device.Name == "" || e.device.IP == "" || e.device.User == "":
		return fmt.Errorf("%w: device identity incomplete", config.ErrNotConfigured)
	}

	return nil
}

// Phase returns the current cycle phase.
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

func (e *Engine) setPhase(p Phase) {
	e.phase.Store(int32(p))
}

// State returns a copy of the FileState cache sorted by path.
func (e *Engine) State() []FileState {
	return e.state.snapshot()
}

// Failures returns the paths whose most recent operation failed.
func (e *Engine) Failures() []PathFailure {
	return e.failures.list()
}

// LastReport returns the report of the most recently finished cycle, or nil.
func (e *Engine) LastReport() *CycleReport {
	e.lastMu.Lock()
	defer e.lastMu.Unlock()

	return e.last
}

// RunCycle runs one reconciliation cycle. Remote and filesystem failures never
// escape: they are logged, counted in the report, and retried next cycle. The
// only errors returned are ErrCycleInProgress and config.ErrNotConfigured.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer e.running.Store(false)
	defer e.setPhase(PhaseIdle)

	if err := e.Configured(); err != nil {
		return nil, err
	}

	report := &CycleReport{CycleID: uuid.NewString(), StartedAt: e.nowFunc()}
	logger := e.logger.With(slog.String("cycle_id", report.CycleID))

	defer func() {
		report.Duration = e.nowFunc().Sub(report.StartedAt)

		e.lastMu.Lock()
		e.last = report
		e.lastMu.Unlock()
	}()

	e.setPhase(PhaseProbing)

	if !e.registry.HealthCheck(ctx) {
		report.Skipped = true
		logger.Warn("registry unreachable, skipping cycle")

		return report, nil
	}

	e.setPhase(PhaseDiffing)

	plan, roots := e.diff(ctx, logger)
	report.WatchRoots = roots

	if ctx.Err() != nil {
		// A partial snapshot would read as mass deletion.
		report.Canceled = true
		logger.Warn("cycle canceled before applying", slog.String("error", ctx.Err().Error()))

		return report, nil
	}

	report.Unchanged = plan.Unchanged

	e.setPhase(PhaseApplying)
	e.apply(ctx, logger, plan.Ops, report)

	logger.Info("reconciliation cycle complete",
		slog.Int("watch_roots", report.WatchRoots),
		slog.Int("registered", report.Registered),
		slog.Int("deleted", report.Deleted),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", e.nowFunc().Sub(report.StartedAt)),
	)

	return report, nil
}

// diff snapshots every watch root and plans the remote operations. Returns the
// plan and the number of watch roots considered.
func (e *Engine) diff(ctx context.Context, logger *slog.Logger) (*Plan, int) {
	if err := e.watches.Reload(); err != nil {
		logger.Warn("reloading watch list failed, using last known list", slog.String("error", err.Error()))
	}

	entries := e.watches.List()
	roots := make([]rootSnapshot, 0, len(entries))

	for _, we := range entries {
		if ctx.Err() != nil {
			break
		}

		roots = append(roots, rootSnapshot{Root: we.Path, Files: e.snap.Take(ctx, we.Path)})
	}

	plan := buildPlan(roots, e.state.snapshot())

	for path, root := range plan.Retags {
		e.state.retag(path, root)
	}

	planned := make(map[string]bool, len(plan.Ops))
	for _, op := range plan.Ops {
		planned[op.Path] = true
	}

	e.failures.forget(planned)

	registers, deletes := plan.counts()
	logger.Debug("diff complete",
		slog.Int("watch_roots", len(entries)),
		slog.Int("to_register", registers),
		slog.Int("to_delete", deletes),
		slog.Int("unchanged", plan.Unchanged),
	)

	return plan, len(entries)
}
