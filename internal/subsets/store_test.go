package subsets_test

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"videoxt/internal/services"
	"videoxt/internal/subsets"
)

func openStore(t *testing.T) *subsets.Store {
	t.Helper()
	store, err := subsets.Open(filepath.Join(t.TempDir(), "state", "subsets.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	entries := []subsets.Entry{
		{Dataset: "A", Camera: "camA", Kind: "k1"},
		{Dataset: "B", Camera: "camB", Kind: "k2"},
	}
	if err := store.Save(ctx, "n", entries); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(ctx, "n")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, entries) {
		t.Fatalf("loaded %v, want %v", got, entries)
	}
}

func TestSaveReplacesAndDefaultsKind(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	_ = store.Save(ctx, "n", []subsets.Entry{{Dataset: "A", Camera: "a"}, {Dataset: "B", Camera: "b"}})
	if err := store.Save(ctx, "n", []subsets.Entry{{Dataset: "C", Camera: "rig/left"}}); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(ctx, "n")
	if err != nil {
		t.Fatal(err)
	}
	want := []subsets.Entry{{Dataset: "C", Camera: "rig/left", Kind: subsets.DefaultKind}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("loaded %v, want %v", got, want)
	}
}

func TestLoadUnknownIsNotFound(t *testing.T) {
	store := openStore(t)
	_, err := store.Load(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEmptySubsetLoadsEmpty(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, "empty", nil); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(ctx, "empty")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no entries, got %v", got)
	}
}

func TestValidation(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, "  ", nil); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("blank name: %v", err)
	}
	if err := store.Save(ctx, "n", []subsets.Entry{{Dataset: "A"}}); !errors.Is(err, services.ErrInvalidInput) {
		t.Fatalf("missing camera: %v", err)
	}
}

func TestListAndDelete(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	_ = store.Save(ctx, "zeta", []subsets.Entry{{Dataset: "A", Camera: "a"}})
	_ = store.Save(ctx, "alpha", []subsets.Entry{{Dataset: "A", Camera: "a"}, {Dataset: "B", Camera: "b"}})

	list, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Name != "alpha" || list[0].Entries != 2 || list[1].Name != "zeta" {
		t.Fatalf("list = %+v", list)
	}

	if err := store.Delete(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "alpha"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	if _, err := store.Load(ctx, "alpha"); !subsets.IsNotFound(err) {
		t.Fatalf("load after delete: %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subsets.db")
	ctx := context.Background()
	store, err := subsets.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = store.Save(ctx, "n", []subsets.Entry{{Dataset: "A", Camera: "a", Kind: "k"}})
	_ = store.Close()

	store, err = subsets.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	got, err := store.Load(ctx, "n")
	if err != nil || len(got) != 1 {
		t.Fatalf("reopened load = %v, %v", got, err)
	}
}
