package mediastore

import (
	"context"
	"fmt"
	"sort"

	"videoxt/internal/services"
)

// FrameLookup names how a handle locates frames.
type FrameLookup int

const (
	LookupNone FrameLookup = iota
	LookupTimestamp
	LookupIndex
)

func (l FrameLookup) String() string {
	switch l {
	case LookupTimestamp:
		return "timestamp"
	case LookupIndex:
		return "index"
	default:
		return "none"
	}
}

// Capabilities reports the frame lookup a handle supports. Timestamp seeking
// wins when a handle offers both.
func Capabilities(h Handle) FrameLookup {
	if _, ok := h.(TimestampFrameReader); ok {
		return LookupTimestamp
	}
	if _, ok := h.(IndexFrameReader); ok {
		return LookupIndex
	}
	return LookupNone
}

// Source is a handle bound to its frame lookup.
type Source struct {
	Handle
	lookup FrameLookup
}

// Open opens a handle and determines its frame lookup. A handle offering no
// frame lookup is rejected.
func Open(ctx context.Context, store Store, dataset, camera string) (*Source, error) {
	h, err := store.OpenHandle(ctx, dataset, camera)
	if err != nil {
		return nil, err
	}
	return Bind(h)
}

// Bind wraps an already opened handle.
func Bind(h Handle) (*Source, error) {
	lookup := Capabilities(h)
	if lookup == LookupNone {
		return nil, services.Wrap(services.ErrCompute, "mediastore", "open",
			fmt.Sprintf("handle %s/%s supports no frame lookup", h.Dataset(), h.Camera()), nil)
	}
	return &Source{Handle: h, lookup: lookup}, nil
}

// Lookup reports the bound frame lookup.
func (s *Source) Lookup() FrameLookup { return s.lookup }

// NearestFrame returns the frame closest to ts using the bound lookup.
func (s *Source) NearestFrame(ts float64) (Frame, error) {
	switch s.lookup {
	case LookupTimestamp:
		return s.Handle.(TimestampFrameReader).NearestFrame(ts)
	case LookupIndex:
		idx, ok := NearestIndex(s.Timestamps(), ts)
		if !ok {
			return Frame{}, services.Wrap(services.ErrNotFound, "mediastore", "nearest frame",
				fmt.Sprintf("%s/%s has no frames", s.Dataset(), s.Camera()), nil)
		}
		return s.Handle.(IndexFrameReader).FrameAt(idx)
	default:
		return Frame{}, services.Wrap(services.ErrCompute, "mediastore", "nearest frame", "no frame lookup bound", nil)
	}
}

// NearestIndex returns the position in the ascending list sorted closest to
// ts. Ties go to the earlier timestamp.
func NearestIndex(sorted []float64, ts float64) (int, bool) {
	if len(sorted) == 0 {
		return 0, false
	}
	i := sort.SearchFloat64s(sorted, ts)
	switch {
	case i == 0:
		return 0, true
	case i == len(sorted):
		return len(sorted) - 1, true
	}
	if ts-sorted[i-1] <= sorted[i]-ts {
		return i - 1, true
	}
	return i, true
}
