package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

// StaleHoldWindow is how long a hold may sit on a processing job before the
// sweeper treats the render as abandoned and refunds it.
const StaleHoldWindow = 24 * time.Hour

// SweepInterval is how often the periodic sweep job runs.
const SweepInterval = 10 * time.Minute

type ReconcileHoldsArgs struct{}

func (ReconcileHoldsArgs) Kind() string { return "reconcile_stale_holds" }

// HoldReconciler is implemented by the render service.
type HoldReconciler interface {
	ReconcileStaleHolds(ctx context.Context, window time.Duration) (int, error)
}

type ReconcileHoldsWorker struct {
	river.WorkerDefaults[ReconcileHoldsArgs]
	reconciler HoldReconciler
	window     time.Duration
	log        *slog.Logger
}

func NewReconcileHoldsWorker(reconciler HoldReconciler, window time.Duration, log *slog.Logger) *ReconcileHoldsWorker {
	if log == nil {
		log = slog.Default()
	}
	if window <= 0 {
		window = StaleHoldWindow
	}
	return &ReconcileHoldsWorker{reconciler: reconciler, window: window, log: log}
}

func (w *ReconcileHoldsWorker) Work(ctx context.Context, job *river.Job[ReconcileHoldsArgs]) error {
	refunded, err := w.reconciler.ReconcileStaleHolds(ctx, w.window)
	if err != nil {
		return err
	}
	if refunded > 0 {
		w.log.Info("stale hold sweep complete", "refunded", refunded)
	}
	return nil
}

// SweepPeriodicJob returns the periodic job definition for the sweeper,
// registered with the River client at boot.
func SweepPeriodicJob() *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(SweepInterval),
		func() (river.JobArgs, *river.InsertOpts) {
			return ReconcileHoldsArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
