package reconcile

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"videoxt/internal/logging"
	"videoxt/internal/mediacache"
)

// ReconcileAll reconciles each key independently, at most maxParallel at a
// time. Keys with nothing staged are reported as skipped. Outcomes keep the
// order of keys; the returned error wraps ErrPartial when any key failed.
func (r *Reconciler) ReconcileAll(ctx context.Context, keys []mediacache.AnnotationKey) ([]Outcome, error) {
	outcomes := make([]Outcome, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel)

	for i, key := range keys {
		outcomes[i].Key = key
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i].Err = err
				return nil
			}
			res, err := r.Reconcile(gctx, key)
			switch {
			case err == nil:
				outcomes[i].Result = res
			case errors.Is(err, ErrNothingStaged):
				outcomes[i].Skipped = true
			default:
				outcomes[i].Err = err
			}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			r.logger.Warn("key reconciliation failed",
				logging.String("key", o.Key.String()),
				logging.Error(o.Err),
				logging.String(logging.FieldEventType, "reconcile_key_failed"),
			)
		}
	}
	if failed > 0 {
		return outcomes, fmt.Errorf("%w: %d of %d", ErrPartial, failed, len(keys))
	}
	return outcomes, nil
}
