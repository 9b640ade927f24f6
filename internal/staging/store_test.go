package staging

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"videoxt/internal/logging"
	"videoxt/internal/mediacache"
	"videoxt/internal/services"
	"videoxt/internal/table"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), 5*time.Millisecond, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

var boxes = mediacache.AnnotationKey{Dataset: "set1", Camera: "rig/left", Kind: "boxes"}

func TestStageOverwritesSameTimestamp(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if err := s.Stage(ctx, boxes, 2, []table.Record{{"label": "car"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Stage(ctx, boxes, 2, []table.Record{{"label": "bus"}, {"label": "van"}}); err != nil {
		t.Fatal(err)
	}

	batches, err := s.List(boxes)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(batches))
	}
	if got := len(batches[0].Records); got != 2 {
		t.Fatalf("records = %d, want 2", got)
	}
	if ts, _ := table.Timestamp(batches[0].Records[0]); ts != 2 {
		t.Fatalf("record timestamp = %v, want batch timestamp 2", ts)
	}
}

func TestListSortsByTimestamp(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	for _, ts := range []float64{10, 2, 7.5} {
		if err := s.Stage(ctx, boxes, ts, nil); err != nil {
			t.Fatal(err)
		}
	}
	batches, err := s.List(boxes)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{2, 7.5, 10}
	for i, b := range batches {
		if b.Timestamp != want[i] {
			t.Fatalf("batch %d timestamp = %v, want %v", i, b.Timestamp, want[i])
		}
		if len(b.Records) != 0 {
			t.Fatalf("empty batch should round trip empty, got %v", b.Records)
		}
	}
}

func TestStageRejectsMismatchedTimestamp(t *testing.T) {
	s := newStore(t)
	err := s.Stage(context.Background(), boxes, 2, []table.Record{{"timestamp": 3.0}})
	if !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if n, _ := s.Pending(boxes); n != 0 {
		t.Fatalf("pending = %d after rejected stage", n)
	}
}

func TestStageRejectsCompositeValues(t *testing.T) {
	s := newStore(t)
	for _, rec := range []table.Record{
		{"bbox": []any{10.0, 20.0, 30.0, 40.0}},
		{"meta": map[string]any{"src": "x"}},
		{"": "unnamed"},
	} {
		err := s.Stage(context.Background(), boxes, 1, []table.Record{rec})
		if !errors.Is(err, services.ErrInvalidInput) {
			t.Fatalf("stage %v: expected invalid input, got %v", rec, err)
		}
	}
	if n, _ := s.Pending(boxes); n != 0 {
		t.Fatalf("pending = %d after rejected stages", n)
	}

	if err := s.Stage(context.Background(), boxes, 1, []table.Record{{"score": 3, "label": "car", "ok": true, "note": nil}}); err != nil {
		t.Fatalf("stage scalars: %v", err)
	}
	batches, err := s.List(boxes)
	if err != nil {
		t.Fatal(err)
	}
	if got := batches[0].Records[0]["score"]; got != 3.0 {
		t.Fatalf("integer score should be stored as 3.0, got %#v", got)
	}
}

func TestStageRejectsBadKey(t *testing.T) {
	s := newStore(t)
	err := s.Stage(context.Background(), mediacache.AnnotationKey{Dataset: "..", Camera: "c", Kind: "k"}, 1, nil)
	if !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestDeleteAndKeys(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	other := mediacache.AnnotationKey{Dataset: "set2", Camera: "cam", Kind: "tags"}
	_ = s.Stage(ctx, boxes, 1, nil)
	_ = s.Stage(ctx, boxes, 2, nil)
	_ = s.Stage(ctx, other, 1, nil)

	keys, err := s.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != boxes || keys[1] != other {
		t.Fatalf("keys = %v", keys)
	}

	batches, _ := s.List(boxes)
	if err := s.Delete(boxes, batches); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Pending(boxes); n != 0 {
		t.Fatalf("pending = %d after delete", n)
	}
	if n, _ := s.Pending(other); n != 1 {
		t.Fatalf("other key pending = %d, want 1", n)
	}
	keys, _ = s.Keys()
	if len(keys) != 1 || keys[0] != other {
		t.Fatalf("keys after delete = %v", keys)
	}
}

func TestTryLockKeyConflicts(t *testing.T) {
	s := newStore(t)
	unlock, err := s.TryLockKey(boxes)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.TryLockKey(boxes); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	otherUnlock, err := s.TryLockKey(mediacache.AnnotationKey{Dataset: "set1", Camera: "rig/left", Kind: "tags"})
	if err != nil {
		t.Fatalf("different key should lock independently: %v", err)
	}
	otherUnlock()
	unlock()
	again, err := s.TryLockKey(boxes)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	again()
}

func TestStageWaitsForKeyLock(t *testing.T) {
	s := newStore(t)
	unlock, err := s.TryLockKey(boxes)
	if err != nil {
		t.Fatal(err)
	}

	var staged atomic.Bool
	done := make(chan error, 1)
	go func() {
		err := s.Stage(context.Background(), boxes, 1, nil)
		staged.Store(true)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if staged.Load() {
		t.Fatal("stage finished while the key was locked")
	}
	unlock()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stage did not resume after unlock")
	}
	if n, _ := s.Pending(boxes); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}
}

func TestStageHonorsContextWhileWaiting(t *testing.T) {
	s := newStore(t)
	unlock, err := s.TryLockKey(boxes)
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := s.Stage(ctx, boxes, 1, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
