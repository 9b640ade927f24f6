package lrucache_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"videoxt/internal/logging"
	"videoxt/internal/lrucache"
	"videoxt/internal/services"
)

func newCache(t *testing.T, capacity int) *lrucache.Cache[string, int] {
	t.Helper()
	c, err := lrucache.New[string, int]("test", capacity, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func constant(v int) lrucache.ComputeFunc[string, int] {
	return func(string) (int, error) { return v, nil }
}

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		_, err := lrucache.New[string, int]("bad", capacity, nil)
		if !errors.Is(err, services.ErrInvalidInput) {
			t.Fatalf("capacity %d: expected invalid input, got %v", capacity, err)
		}
	}
}

func TestEvictsLeastRecentlyInserted(t *testing.T) {
	c := newCache(t, 2)
	for i, key := range []string{"a", "b", "c"} {
		if _, err := c.Get(key, constant(i)); err != nil {
			t.Fatal(err)
		}
	}
	if c.Contains("a") {
		t.Fatal("expected a to be evicted")
	}
	if !c.Contains("b") || !c.Contains("c") {
		t.Fatal("expected b and c to remain")
	}
	if got := c.Stats().Evictions; got != 1 {
		t.Fatalf("evictions = %d, want 1", got)
	}
}

func TestHitPromotesKey(t *testing.T) {
	c := newCache(t, 2)
	_, _ = c.Get("a", constant(1))
	_, _ = c.Get("b", constant(2))
	_, _ = c.Get("a", constant(99))
	_, _ = c.Get("c", constant(3))

	if !c.Contains("a") {
		t.Fatal("expected a to survive after promotion")
	}
	if c.Contains("b") {
		t.Fatal("expected b to be evicted")
	}
	v, _ := c.Peek("a")
	if v != 1 {
		t.Fatalf("hit must return the cached value, got %d", v)
	}
}

func TestFailedComputeLeavesCacheUnchanged(t *testing.T) {
	c := newCache(t, 2)
	_, _ = c.Get("a", constant(1))
	_, _ = c.Get("b", constant(2))
	before := c.Keys()

	boom := errors.New("disk gone")
	_, err := c.Get("c", func(string) (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected underlying error, got %v", err)
	}
	if !errors.Is(err, services.ErrCompute) {
		t.Fatalf("expected compute marker, got %v", err)
	}

	after := c.Keys()
	if len(after) != len(before) {
		t.Fatalf("keys changed: before %v after %v", before, after)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("keys changed: before %v after %v", before, after)
		}
	}
	if c.Contains("c") {
		t.Fatal("failed key must not be cached")
	}

	// Next lookup recomputes.
	v, err := c.Get("c", constant(3))
	if err != nil || v != 3 {
		t.Fatalf("retry = %d, %v", v, err)
	}
}

func TestMarkedComputeErrorKeepsKind(t *testing.T) {
	c := newCache(t, 1)
	_, err := c.Get("x", func(string) (int, error) {
		return 0, services.Wrap(services.ErrNotFound, "store", "open", "no such camera", nil)
	})
	if services.Classify(err) != services.KindNotFound {
		t.Fatalf("kind = %q, want not_found", services.Classify(err))
	}
}

func TestConcurrentMissComputesOnce(t *testing.T) {
	c := newCache(t, 4)
	var calls atomic.Int32
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, err := c.Get("k", func(string) (int, error) {
				calls.Add(1)
				return 7, nil
			})
			if err != nil || v != 7 {
				t.Errorf("Get = %d, %v", v, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("compute calls = %d, want 1", got)
	}
	stats := c.Stats()
	if stats.Misses != 1 || stats.Hits != 15 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestInvalidate(t *testing.T) {
	c := newCache(t, 3)
	_, _ = c.Get("a", constant(1))
	_, _ = c.Get("b", constant(2))

	if !c.Invalidate("a") {
		t.Fatal("expected a to be present")
	}
	if c.Invalidate("a") {
		t.Fatal("second invalidate should report absent")
	}
	if n := c.InvalidateFunc(func(k string) bool { return k == "b" }); n != 1 {
		t.Fatalf("InvalidateFunc removed %d", n)
	}
	stats := c.Stats()
	if stats.Size != 0 || stats.Invalidations != 2 || stats.Evictions != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}
