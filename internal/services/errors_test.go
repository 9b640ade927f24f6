package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"videoxt/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrCompute, "mediacache", "frames", "nearest frame failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrCompute) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"mediacache", "frames", "nearest frame failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToComputeMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrCompute) {
		t.Fatalf("expected compute marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Kind
	}{
		{"nil", nil, ""},
		{"not found", services.Wrap(services.ErrNotFound, "store", "open", "unknown dataset", nil), services.KindNotFound},
		{"invalid", fmt.Errorf("stage: %w", services.ErrInvalidInput), services.KindInvalidInput},
		{"conflict", services.Wrap(services.ErrConflict, "reconcile", "", "in flight", nil), services.KindConflict},
		{"compute", services.Wrap(services.ErrCompute, "cache", "", "", errors.New("io")), services.KindCompute},
		{"plain", errors.New("disk full"), services.KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Classify(tc.err); got != tc.want {
				t.Fatalf("Classify() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestHasMarker(t *testing.T) {
	if services.HasMarker(errors.New("plain")) {
		t.Fatal("plain error should not carry a marker")
	}
	if !services.HasMarker(services.Wrap(services.ErrNotFound, "x", "", "", nil)) {
		t.Fatal("expected marker")
	}
}
