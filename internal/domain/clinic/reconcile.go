package clinic

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const reconcileRunTimeout = 4 * time.Minute

// PendingReconciler is the part of Service the reconciler drives.
type PendingReconciler interface {
	ReconcilePending(ctx context.Context, olderThan time.Duration) (int, error)
}

// Reconciler periodically re-verifies gateway payments whose webhook never
// arrived. Overlapping runs are skipped.
type Reconciler struct {
	cron   *cron.Cron
	svc    PendingReconciler
	after  time.Duration
	logger zerolog.Logger
}

func NewReconciler(svc PendingReconciler, schedule string, after time.Duration, logger zerolog.Logger) (*Reconciler, error) {
	r := &Reconciler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		svc:    svc,
		after:  after,
		logger: logger.With().Str("component", "reconciler").Logger(),
	}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Reconciler) Start() {
	r.cron.Start()
	r.logger.Info().Dur("after", r.after).Msg("payment reconciler started")
}

// Stop waits for a running job to finish or ctx to expire.
func (r *Reconciler) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		r.logger.Warn().Msg("payment reconciler did not stop in time")
	}
}

func (r *Reconciler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileRunTimeout)
	defer cancel()

	n, err := r.svc.ReconcilePending(ctx, r.after)
	if err != nil {
		r.logger.Warn().Err(err).Int("resolved", n).Msg("payment reconciliation finished with errors")
		return
	}
	if n > 0 {
		r.logger.Info().Int("resolved", n).Msg("stale payments reconciled")
	}
}
