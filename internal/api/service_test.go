package api_test

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"videoxt/internal/api"
	"videoxt/internal/config"
	"videoxt/internal/logging"
	"videoxt/internal/mediacache"
	"videoxt/internal/reconcile"
	"videoxt/internal/services"
	"videoxt/internal/staging"
	"videoxt/internal/subsets"
	"videoxt/internal/table"
	"videoxt/internal/testsupport"
)

type env struct {
	svc    *api.Service
	store  *testsupport.FakeStore
	handle *testsupport.FakeHandle
}

func newEnv(t *testing.T) env {
	t.Helper()
	store := testsupport.NewFakeStore()
	handle := store.AddCamera("set1", "rig/left", 0.5, 1, 1.5)
	handle.SetSeries("imu", table.New([]string{"ax", "ay"}, []table.Record{
		{"timestamp": 0.5, "ax": 1.0, "ay": 2.0},
		{"timestamp": 1.0, "ax": 3.0, "ay": 4.0},
	}))

	caches, err := mediacache.New(store, config.Default().Cache, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	stage, err := staging.New(t.TempDir(), 5*time.Millisecond, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	subs, err := subsets.Open(filepath.Join(t.TempDir(), "subsets.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = subs.Close() })

	svc, err := api.NewService(api.Deps{
		Store:      store,
		Caches:     caches,
		Staging:    stage,
		Reconciler: reconcile.New(stage, caches, store, 2, logging.NewNop()),
		Subsets:    subs,
		Logger:     logging.NewNop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return env{svc: svc, store: store, handle: handle}
}

func TestNewServiceRequiresDeps(t *testing.T) {
	if _, err := api.NewService(api.Deps{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestReadOperations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	datasets, err := e.svc.Datasets(ctx)
	if err != nil || !reflect.DeepEqual(datasets, map[string][]string{"set1": {"rig/left"}}) {
		t.Fatalf("datasets = %v, %v", datasets, err)
	}
	ts, err := e.svc.Timestamps(ctx, "set1", "rig/left")
	if err != nil || !reflect.DeepEqual(ts, []float64{0.5, 1, 1.5}) {
		t.Fatalf("timestamps = %v, %v", ts, err)
	}
	names, err := e.svc.SeriesOptions(ctx, "set1", "rig/left")
	if err != nil || !reflect.DeepEqual(names, []string{"imu"}) {
		t.Fatalf("series options = %v, %v", names, err)
	}
	cols, err := e.svc.SeriesColumns(ctx, "set1", "rig/left", "imu")
	if err != nil || !reflect.DeepEqual(cols, []string{"timestamp", "ax", "ay"}) {
		t.Fatalf("columns = %v, %v", cols, err)
	}

	data, err := e.svc.SeriesData(ctx, "set1", "rig/left", "imu", "ay")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(data.X, []any{0.5, 1.0}) || !reflect.DeepEqual(data.Columns["ay"], []any{2.0, 4.0}) {
		t.Fatalf("series data = %+v", data)
	}
	if _, ok := data.Columns["ax"]; ok {
		t.Fatal("unrequested column returned")
	}
	if _, err := e.svc.SeriesData(ctx, "set1", "rig/left", "imu", "speed"); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("unknown column: %v", err)
	}

	exact, err := e.svc.SeriesAt(ctx, "set1", "rig/left", "imu", 0.9, false)
	if err != nil || len(exact) != 0 {
		t.Fatalf("exact lookup = %v, %v", exact, err)
	}
	near, err := e.svc.SeriesAt(ctx, "set1", "rig/left", "imu", 0.9, true)
	if err != nil || len(near) != 1 || near[0]["ax"] != 3.0 {
		t.Fatalf("nearest lookup = %v, %v", near, err)
	}
}

func TestValidationAndNotFound(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.svc.Timestamps(ctx, "", "cam"); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("missing dataset: %v", err)
	}
	if _, err := e.svc.Timestamps(ctx, "set9", "cam"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("unknown dataset: %v", err)
	}
	if _, err := e.svc.SeriesColumns(ctx, "set1", "rig/left", "gps"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("unknown series: %v", err)
	}
	ref := api.AnnotationRef{Dataset: "set9", Camera: "cam", Kind: "boxes"}
	if _, err := e.svc.StageEdit(ctx, ref, 1, nil); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("stage on unknown camera: %v", err)
	}
}

func TestFrameOperations(t *testing.T) {
	e := newEnv(t)
	e.handle.Width, e.handle.Height = 40, 30
	ctx := context.Background()

	frame, err := e.svc.FrameJPEG(ctx, "set1", "rig/left", 1.4)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Timestamp != 1.5 {
		t.Fatalf("frame timestamp = %v, want 1.5", frame.Timestamp)
	}
	img, err := jpeg.Decode(bytes.NewReader(frame.JPEG))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Fatalf("bounds = %v", b)
	}

	size, err := e.svc.FrameSize(ctx, "set1", "rig/left")
	if err != nil || size != (mediacache.Size{Width: 40, Height: 30}) {
		t.Fatalf("size = %+v, %v", size, err)
	}
}

func TestStageAndReconcileFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ref := api.AnnotationRef{Dataset: "set1", Camera: "rig/left", Kind: "boxes"}

	resp, err := e.svc.StageEdit(ctx, ref, 1, []table.Record{{"label": "car"}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Pending != 1 {
		t.Fatalf("pending = %d", resp.Pending)
	}
	pending, err := e.svc.PendingEdits(ctx)
	if err != nil || len(pending) != 1 || pending[0].Key != ref {
		t.Fatalf("pending edits = %+v, %v", pending, err)
	}

	result, err := e.svc.Reconcile(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if result.Created != 1 || result.Kept != 0 {
		t.Fatalf("result = %+v", result)
	}
	rows, err := e.svc.AnnotationAt(ctx, ref, 1)
	if err != nil || len(rows) != 1 || rows[0]["label"] != "car" {
		t.Fatalf("annotation at = %v, %v", rows, err)
	}
	kinds, _ := e.svc.AnnotationOptions(ctx, "set1", "rig/left")
	if !reflect.DeepEqual(kinds, []string{"boxes"}) {
		t.Fatalf("annotation options = %v", kinds)
	}

	if _, err := e.svc.Reconcile(ctx, ref); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("second reconcile should find nothing staged: %v", err)
	}
}

func TestSubsetsAndSubsetReconcile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	entries := []subsets.Entry{
		{Dataset: "set1", Camera: "rig/left", Kind: "boxes"},
		{Dataset: "set1", Camera: "rig/left", Kind: "tags"},
	}
	if err := e.svc.SaveSubset(ctx, "review", entries); err != nil {
		t.Fatal(err)
	}
	list, err := e.svc.ListSubsets(ctx)
	if err != nil || len(list) != 1 || list[0].Entries != 2 {
		t.Fatalf("list = %+v, %v", list, err)
	}

	_, _ = e.svc.StageEdit(ctx, api.AnnotationRef{Dataset: "set1", Camera: "rig/left", Kind: "boxes"}, 1, nil)
	outcomes, err := e.svc.ReconcileSubset(ctx, "review")
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 2 || outcomes[0].Skipped || !outcomes[1].Skipped {
		t.Fatalf("outcomes = %+v", outcomes)
	}

	if err := e.svc.DeleteSubset(ctx, "review"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.LoadSubset(ctx, "review"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("load deleted subset: %v", err)
	}
}

func TestStatusReportsCaches(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, _ = e.svc.Timestamps(ctx, "set1", "rig/left")
	status, err := e.svc.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(status.Caches) != 5 || status.Caches[0].Name != "handles" || status.Caches[0].Size != 1 {
		t.Fatalf("status caches = %+v", status.Caches)
	}
}
