// Package reconcile commits staged annotation edits into canonical tables.
//
// Reconcile merges every staged batch of a key into the canonical table with
// last-writer-wins semantics per timestamp: a staged batch replaces all
// canonical rows at its timestamp, and an empty batch deletes them. The
// whole run holds the key lock, so it never interleaves with another
// reconciliation or a stage call for the same key. A failure before the
// table is persisted leaves both the staged batches and the canonical table
// as they were.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"videoxt/internal/logging"
	"videoxt/internal/mediacache"
	"videoxt/internal/mediastore"
	"videoxt/internal/services"
	"videoxt/internal/staging"
	"videoxt/internal/table"
)

// Result reports how a reconciliation changed the canonical table.
type Result struct {
	Kept    int `json:"kept"`
	Created int `json:"created"`
}

// Reconciler merges staged batches into canonical annotation tables.
type Reconciler struct {
	staging *staging.Store
	caches  *mediacache.Caches
	writer  mediastore.AnnotationWriter
	logger  *slog.Logger

	maxParallel int
}

// New builds a reconciler. maxParallel bounds ReconcileAll; values below one
// mean one.
func New(store *staging.Store, caches *mediacache.Caches, writer mediastore.AnnotationWriter, maxParallel int, logger *slog.Logger) *Reconciler {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Reconciler{
		staging:     store,
		caches:      caches,
		writer:      writer,
		maxParallel: maxParallel,
		logger:      logging.NewComponentLogger(logger, "reconcile"),
	}
}

// Reconcile commits the batches staged for key. It fails with a conflict
// when the key is already being reconciled and with ErrNothingStaged, an
// invalid input, when nothing is staged.
func (r *Reconciler) Reconcile(ctx context.Context, key mediacache.AnnotationKey) (Result, error) {
	ctx = services.WithSource(ctx, key.Dataset, key.Camera)
	ctx = services.WithAnnotationKind(ctx, key.Kind)
	logger := logging.WithContext(ctx, r.logger)

	// Taking the lock creates the key's staging directory; check first so a
	// key with nothing staged is left untouched.
	if n, err := r.staging.Pending(key); err != nil {
		return Result{}, fmt.Errorf("list staged batches: %w", err)
	} else if n == 0 {
		return Result{}, nothingStaged(key)
	}

	unlock, err := r.staging.TryLockKey(key)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	started := time.Now()

	batches, err := r.staging.List(key)
	if err != nil {
		return Result{}, fmt.Errorf("list staged batches: %w", err)
	}
	if len(batches) == 0 {
		return Result{}, nothingStaged(key)
	}

	old, err := r.caches.Annotations(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("load canonical table: %w", err)
	}

	merged, result := Merge(old, batches)

	if err := r.writer.WriteAnnotationTable(ctx, key.Dataset, key.Camera, key.Kind, merged); err != nil {
		logging.ErrorWithContext(logger, "canonical table write failed", "reconcile_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "staged edits are intact; fix the media directory and retry"),
		)
		return Result{}, fmt.Errorf("persist canonical table: %w", err)
	}

	r.caches.InvalidateAnnotations(key)

	if err := r.staging.Delete(key, batches); err != nil {
		// The canonical table already holds the merge. Re-running with the
		// leftover batches produces the same table.
		logging.WarnWithContext(logger, "consumed batches not fully removed", "reconcile_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check staging_dir permissions, then reconcile again"),
			logging.String(logging.FieldImpact, "leftover batches will be re-applied on the next reconciliation"),
		)
		return result, fmt.Errorf("remove consumed batches: %w", err)
	}

	logger.Info("reconciled staged edits",
		logging.Int("batches", len(batches)),
		logging.Int("kept", result.Kept),
		logging.Int("created", result.Created),
		logging.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

// Merge applies staged batches to a canonical table. Rows of old at any
// staged timestamp are dropped; the remaining rows come first, followed by
// the staged records in batch order. Columns keep the old order; columns
// only staged records name follow in the order batches introduce them.
func Merge(old *table.Table, batches []staging.Batch) (*table.Table, Result) {
	replaced := make(map[float64]struct{}, len(batches))
	var created []table.Record
	var newColumns []string
	seen := map[string]struct{}{}
	for _, b := range batches {
		replaced[b.Timestamp] = struct{}{}
		for _, rec := range b.Records {
			if ts, ok := table.Timestamp(rec); ok {
				replaced[ts] = struct{}{}
			}
			created = append(created, rec)
			// Field order inside a record is not preserved, so ties sort.
			for _, name := range slices.Sorted(maps.Keys(rec)) {
				if _, ok := seen[name]; !ok {
					seen[name] = struct{}{}
					newColumns = append(newColumns, name)
				}
			}
		}
	}

	var kept []table.Record
	for _, rec := range old.Records() {
		ts, ok := table.Timestamp(rec)
		if ok {
			if _, drop := replaced[ts]; drop {
				continue
			}
		}
		kept = append(kept, rec)
	}

	final := make([]table.Record, 0, len(kept)+len(created))
	final = append(final, kept...)
	final = append(final, created...)
	columns := table.MergeColumns(old.Columns(), newColumns)
	return table.New(columns, final), Result{Kept: len(kept), Created: len(created)}
}

// Outcome is the per-key result of ReconcileAll.
type Outcome struct {
	Key     mediacache.AnnotationKey `json:"key"`
	Result  Result                   `json:"result"`
	Skipped bool                     `json:"skipped,omitempty"`
	Err     error                    `json:"-"`
}

// Error returns the failure message, if any.
func (o Outcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// ErrNothingStaged marks a reconciliation of a key without staged batches.
// Errors carrying it also match services.ErrInvalidInput.
var ErrNothingStaged = errors.New("nothing staged")

func nothingStaged(key mediacache.AnnotationKey) error {
	return services.Wrap(services.ErrInvalidInput, "reconcile", "reconcile", key.String(), ErrNothingStaged)
}

// ErrPartial marks a ReconcileAll run in which at least one key failed.
var ErrPartial = errors.New("some keys failed to reconcile")
