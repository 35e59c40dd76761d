package reconcile

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/tower/internal/registry"
)

// apply executes every planned operation through a bounded errgroup. Each
// operation is independent: a failure is recorded and logged, the FileState
// entry is left untouched so the next cycle re-detects the change, and the
// remaining operations continue. Returns when all operations have finished.
func (e *Engine) apply(ctx context.Context, logger *slog.Logger, ops []Op, report *CycleReport) {
	var g errgroup.Group
	g.SetLimit(e.concurrency)

	var mu sync.Mutex

	for i := range ops {
		op := &ops[i]
		g.Go(func() error {
			err := e.execute(ctx, logger, op)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				n := e.failures.recordFailure(op.Path, err.Error())
				report.Failed++
				report.Errors = append(report.Errors, OpError{Op: *op, Err: err, Consecutive: n})

				logger.Warn("operation failed, will retry next cycle",
					slog.String("op", op.Kind.String()),
					slog.String("path", op.Path),
					slog.String("error", err.Error()),
					slog.Bool("transient", registry.IsTransient(err)),
					slog.Int("consecutive_failures", n),
				)

				return nil
			}

			e.failures.recordSuccess(op.Path)

			switch op.Kind {
			case OpRegister:
				report.Registered++
			case OpDelete:
				report.Deleted++
			}

			return nil
		})
	}

	_ = g.Wait() // workers never return errors
}

// execute performs one remote operation and, on success, updates the
// FileState cache.
func (e *Engine) execute(ctx context.Context, logger *slog.Logger, op *Op) error {
	switch op.Kind {
	case OpRegister:
		res, err := e.registry.Register(ctx, BuildMetadata(op.File, e.device))
		if err != nil {
			return err
		}

		e.state.set(FileState{
			Path:       op.Path,
			Root:       op.Root,
			ModifiedAt: op.File.ModifiedAt,
			Size:       op.File.Size,
		})

		logger.Debug("registered",
			slog.String("path", op.Path),
			slog.Int64("id", res.ID),
			slog.String("action", res.Action),
		)

	case OpDelete:
		n, err := e.registry.DeleteByPath(ctx, op.Path, e.device.Name)
		if err != nil {
			return err
		}

		e.state.remove(op.Path)

		logger.Debug("deleted", slog.String("path", op.Path), slog.Int("records", n))
	}

	return nil
}
