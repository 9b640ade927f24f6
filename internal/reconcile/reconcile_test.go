package reconcile_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"videoxt/internal/config"
	"videoxt/internal/logging"
	"videoxt/internal/mediacache"
	"videoxt/internal/mediastore"
	"videoxt/internal/reconcile"
	"videoxt/internal/services"
	"videoxt/internal/staging"
	"videoxt/internal/table"
	"videoxt/internal/testsupport"
)

type fixture struct {
	store   *testsupport.FakeStore
	handle  *testsupport.FakeHandle
	staging *staging.Store
	caches  *mediacache.Caches
	rec     *reconcile.Reconciler
}

var key = mediacache.AnnotationKey{Dataset: "set1", Camera: "cam", Kind: "boxes"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testsupport.NewFakeStore()
	handle := store.AddCamera("set1", "cam", 1, 2, 3, 4)
	stage, err := staging.New(t.TempDir(), 5*time.Millisecond, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	caches, err := mediacache.New(store, config.Default().Cache, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		store:   store,
		handle:  handle,
		staging: stage,
		caches:  caches,
		rec:     reconcile.New(stage, caches, store, 2, logging.NewNop()),
	}
}

func rows(label string, timestamps ...float64) []table.Record {
	out := make([]table.Record, 0, len(timestamps))
	for _, ts := range timestamps {
		out = append(out, table.Record{"timestamp": ts, "label": label})
	}
	return out
}

func (f *fixture) stage(t *testing.T, k mediacache.AnnotationKey, ts float64, records []table.Record) {
	t.Helper()
	if err := f.staging.Stage(context.Background(), k, ts, records); err != nil {
		t.Fatalf("stage %v: %v", ts, err)
	}
}

func TestReconcileMergesLastWriterWins(t *testing.T) {
	f := newFixture(t)
	f.handle.SetAnnotations("boxes", table.New([]string{"label"}, rows("old", 1, 2, 3)))
	f.stage(t, key, 4, rows("new", 4))
	f.stage(t, key, 2, rows("new", 2))

	res, err := f.rec.Reconcile(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if res != (reconcile.Result{Kept: 2, Created: 2}) {
		t.Fatalf("result = %+v, want kept 2 created 2", res)
	}

	tbl, err := f.caches.Annotations(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if got := tbl.Timestamps(); !reflect.DeepEqual(got, []float64{1, 3, 2, 4}) {
		t.Fatalf("timestamps = %v, want [1 3 2 4]", got)
	}
	labels := []any{}
	for _, r := range tbl.Records() {
		labels = append(labels, r["label"])
	}
	if !reflect.DeepEqual(labels, []any{"old", "old", "new", "new"}) {
		t.Fatalf("labels = %v", labels)
	}
	if n, _ := f.staging.Pending(key); n != 0 {
		t.Fatalf("pending = %d after reconcile", n)
	}
}

func TestReconcileEmptyBatchDeletesTimestamp(t *testing.T) {
	f := newFixture(t)
	f.handle.SetAnnotations("boxes", table.New([]string{"label"}, rows("old", 1, 2)))
	f.stage(t, key, 2, nil)

	res, err := f.rec.Reconcile(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if res != (reconcile.Result{Kept: 1, Created: 0}) {
		t.Fatalf("result = %+v", res)
	}
	tbl, _ := f.caches.Annotations(context.Background(), key)
	if got := tbl.Timestamps(); !reflect.DeepEqual(got, []float64{1}) {
		t.Fatalf("timestamps = %v, want [1]", got)
	}
}

func TestReconcileNothingStaged(t *testing.T) {
	f := newFixture(t)
	canonical := table.New([]string{"label"}, rows("old", 1))
	f.handle.SetAnnotations("boxes", canonical)
	other := mediacache.AnnotationKey{Dataset: "set1", Camera: "cam", Kind: "tags"}
	f.stage(t, other, 1, rows("tag", 1))

	_, err := f.rec.Reconcile(context.Background(), key)
	if !errors.Is(err, services.ErrInvalidInput) || !errors.Is(err, reconcile.ErrNothingStaged) {
		t.Fatalf("expected invalid input marked nothing staged, got %v", err)
	}
	if f.store.Writes() != 0 {
		t.Fatal("canonical table must not be written")
	}
	if _, statErr := os.Stat(filepath.Join(f.staging.Root(), "set1", "cam", "boxes")); !os.IsNotExist(statErr) {
		t.Fatalf("reconcile with nothing staged must not create the key directory: %v", statErr)
	}
	if n, _ := f.staging.Pending(other); n != 1 {
		t.Fatalf("other key pending = %d, want 1", n)
	}
}

func TestReconcileInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.handle.SetAnnotations("boxes", table.New([]string{"label"}, rows("old", 1)))

	before, err := f.caches.Annotations(ctx, key)
	if err != nil || before.Len() != 1 {
		t.Fatalf("warm cache: %v %v", before, err)
	}
	f.stage(t, key, 5, rows("new", 5))
	if _, err := f.rec.Reconcile(ctx, key); err != nil {
		t.Fatal(err)
	}

	after, err := f.caches.Annotations(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got := after.Timestamps(); !reflect.DeepEqual(got, []float64{1, 5}) {
		t.Fatalf("timestamps after reconcile = %v, want [1 5]", got)
	}
}

func TestReconcileConflictWhileInFlight(t *testing.T) {
	f := newFixture(t)
	f.stage(t, key, 1, rows("new", 1))

	unlock, err := f.staging.TryLockKey(key)
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.rec.Reconcile(context.Background(), key)
	unlock()
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if n, _ := f.staging.Pending(key); n != 1 {
		t.Fatalf("pending = %d, staged batch must survive a rejected run", n)
	}

	if _, err := f.rec.Reconcile(context.Background(), key); err != nil {
		t.Fatalf("retry after release: %v", err)
	}
}

func TestReconcileWriteFailureKeepsStagedBatches(t *testing.T) {
	f := newFixture(t)
	f.handle.SetAnnotations("boxes", table.New([]string{"label"}, rows("old", 1)))
	f.stage(t, key, 1, rows("new", 1))
	f.store.WriteErr = errors.New("disk full")

	if _, err := f.rec.Reconcile(context.Background(), key); err == nil {
		t.Fatal("expected write failure")
	}
	if n, _ := f.staging.Pending(key); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
	tbl, _ := f.caches.Annotations(context.Background(), key)
	if tbl.Records()[0]["label"] != "old" {
		t.Fatal("canonical table changed despite failed write")
	}
}

func TestReconcileRoundTripsThroughCanonicalCSV(t *testing.T) {
	media := t.TempDir()
	testsupport.WriteFrames(t, media, "set1", "cam", 4, 4, 1, 2)
	testsupport.WriteAnnotations(t, media, "set1", "cam", "boxes", "timestamp,label\n2,old\n")
	store := mediastore.NewFSStore(media)
	caches, err := mediacache.New(store, config.Default().Cache, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	stage, err := staging.New(t.TempDir(), 5*time.Millisecond, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	rec := reconcile.New(stage, caches, store, 1, logging.NewNop())
	ctx := context.Background()

	composite := []table.Record{{"bbox": []any{10.0, 20.0, 30.0, 40.0}, "label": "car"}}
	if err := stage.Stage(ctx, key, 1, composite); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("composite value should be rejected at stage time, got %v", err)
	}

	staged := table.Record{"label": "car", "score": 0.5, "occluded": true, "note": nil}
	if err := stage.Stage(ctx, key, 1, []table.Record{staged}); err != nil {
		t.Fatal(err)
	}
	if _, err := rec.Reconcile(ctx, key); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	tbl, err := caches.Annotations(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	got := tbl.Exact(1)
	want := table.Record{"timestamp": 1.0, "label": "car", "score": 0.5, "occluded": true, "note": nil}
	if len(got) != 1 || !reflect.DeepEqual(got[0], want) {
		t.Fatalf("committed row = %v, want %v", got, want)
	}
	if old := tbl.Exact(2); len(old) != 1 || old[0]["label"] != "old" {
		t.Fatalf("untouched row = %v", old)
	}
}

func TestMergeAppendsNewColumns(t *testing.T) {
	old := table.New([]string{"label"}, rows("old", 1))
	batches := []staging.Batch{{Timestamp: 2, Records: []table.Record{{"timestamp": 2.0, "label": "x", "score": 0.5}}}}
	merged, res := reconcile.Merge(old, batches)
	if got := merged.Columns(); !reflect.DeepEqual(got, []string{"timestamp", "label", "score"}) {
		t.Fatalf("columns = %v", got)
	}
	if res.Kept != 1 || res.Created != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestMergeOrdersNewColumnsByFirstBatch(t *testing.T) {
	old := table.New([]string{"label"}, rows("old", 1))
	batches := []staging.Batch{
		{Timestamp: 2, Records: []table.Record{{"timestamp": 2.0, "zeta": 1.0, "label": "x"}}},
		{Timestamp: 3, Records: []table.Record{{"timestamp": 3.0, "alpha": 2.0, "zeta": 4.0}}},
	}
	merged, _ := reconcile.Merge(old, batches)
	want := []string{"timestamp", "label", "zeta", "alpha"}
	if got := merged.Columns(); !reflect.DeepEqual(got, want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
}

func TestReconcileAll(t *testing.T) {
	f := newFixture(t)
	tags := mediacache.AnnotationKey{Dataset: "set1", Camera: "cam", Kind: "tags"}
	idle := mediacache.AnnotationKey{Dataset: "set1", Camera: "cam", Kind: "idle"}
	f.stage(t, key, 1, rows("a", 1))
	f.stage(t, tags, 2, rows("b", 2))

	outcomes, err := f.rec.ReconcileAll(context.Background(), []mediacache.AnnotationKey{key, idle, tags})
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d", len(outcomes))
	}
	if outcomes[0].Result.Created != 1 || outcomes[2].Result.Created != 1 {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	if !outcomes[1].Skipped || outcomes[1].Err != nil {
		t.Fatalf("idle key should be skipped: %+v", outcomes[1])
	}
}

func TestReconcileAllSkipsOnlyNothingStaged(t *testing.T) {
	f := newFixture(t)
	busy := mediacache.AnnotationKey{Dataset: "set1", Camera: "cam", Kind: "busy"}
	f.stage(t, busy, 1, rows("a", 1))
	unlock, err := f.staging.TryLockKey(busy)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	outcomes, err := f.rec.ReconcileAll(context.Background(), []mediacache.AnnotationKey{busy})
	if !errors.Is(err, reconcile.ErrPartial) {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if outcomes[0].Skipped || !errors.Is(outcomes[0].Err, services.ErrConflict) {
		t.Fatalf("held key should fail with a conflict, got %+v", outcomes[0])
	}
}

func TestReconcileAllReportsFailures(t *testing.T) {
	f := newFixture(t)
	ghost := mediacache.AnnotationKey{Dataset: "nope", Camera: "cam", Kind: "boxes"}
	f.stage(t, ghost, 1, rows("a", 1))

	outcomes, err := f.rec.ReconcileAll(context.Background(), []mediacache.AnnotationKey{ghost})
	if !errors.Is(err, reconcile.ErrPartial) {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if !errors.Is(outcomes[0].Err, services.ErrNotFound) {
		t.Fatalf("outcome error = %v, want not found", outcomes[0].Err)
	}
}
