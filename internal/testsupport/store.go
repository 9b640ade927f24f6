package testsupport

import (
	"context"
	"fmt"
	"image"
	"maps"
	"slices"
	"sync"

	"videoxt/internal/mediastore"
	"videoxt/internal/services"
	"videoxt/internal/table"
)

// FakeStore is an in-memory media store that counts calls into it.
type FakeStore struct {
	mu        sync.Mutex
	handles   map[string]*FakeHandle
	openCalls map[string]int
	writes    int

	// WriteErr, when set, makes WriteAnnotationTable fail.
	WriteErr error
}

// NewFakeStore returns an empty in-memory media store.
func NewFakeStore() *FakeStore {
	return &FakeStore{handles: map[string]*FakeHandle{}, openCalls: map[string]int{}}
}

func sourceKey(dataset, camera string) string { return dataset + "\x00" + camera }

// AddCamera registers a camera with the given frame timestamps. The handle
// supports timestamp lookup unless changed through its Lookup field.
func (s *FakeStore) AddCamera(dataset, camera string, timestamps ...float64) *FakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &FakeHandle{
		dataset:     dataset,
		camera:      camera,
		timestamps:  slices.Clone(timestamps),
		series:      map[string]*table.Table{},
		annotations: map[string]*table.Table{},
		Lookup:      mediastore.LookupTimestamp,
		Width:       64,
		Height:      48,
	}
	s.handles[sourceKey(dataset, camera)] = h
	return h
}

func (s *FakeStore) ListDatasets(ctx context.Context) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string][]string{}
	for _, h := range s.handles {
		out[h.dataset] = append(out[h.dataset], h.camera)
	}
	for k := range out {
		slices.Sort(out[k])
	}
	return out, nil
}

func (s *FakeStore) OpenHandle(ctx context.Context, dataset, camera string) (mediastore.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sourceKey(dataset, camera)
	s.openCalls[key]++
	h, ok := s.handles[key]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "fakestore", "open", fmt.Sprintf("unknown camera %s/%s", dataset, camera), nil)
	}
	switch h.Lookup {
	case mediastore.LookupTimestamp:
		return timestampView{h}, nil
	case mediastore.LookupIndex:
		return indexView{h}, nil
	default:
		return h, nil
	}
}

func (s *FakeStore) WriteAnnotationTable(ctx context.Context, dataset, camera, kind string, tbl *table.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteErr != nil {
		return s.WriteErr
	}
	h, ok := s.handles[sourceKey(dataset, camera)]
	if !ok {
		return services.Wrap(services.ErrNotFound, "fakestore", "write", "unknown camera", nil)
	}
	s.writes++
	h.SetAnnotations(kind, tbl)
	return nil
}

// OpenCalls reports how often a camera was opened.
func (s *FakeStore) OpenCalls(dataset, camera string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openCalls[sourceKey(dataset, camera)]
}

// Writes reports how many annotation tables were written.
func (s *FakeStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// FakeHandle is one camera in a FakeStore.
type FakeHandle struct {
	mu          sync.Mutex
	dataset     string
	camera      string
	timestamps  []float64
	series      map[string]*table.Table
	annotations map[string]*table.Table

	frameCalls      int
	seriesCalls     int
	annotationCalls int

	// Lookup selects which frame reader the opened handle exposes.
	Lookup mediastore.FrameLookup
	// Width and Height size the generated frames.
	Width, Height int
	// FrameErr, when set, makes frame lookups fail.
	FrameErr error
}

func (h *FakeHandle) Dataset() string { return h.dataset }

func (h *FakeHandle) Camera() string { return h.camera }

func (h *FakeHandle) Timestamps() []float64 { return slices.Clone(h.timestamps) }

// SetSeries replaces the named series table.
func (h *FakeHandle) SetSeries(name string, tbl *table.Table) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.series[name] = tbl
}

// SetAnnotations replaces the canonical table for kind.
func (h *FakeHandle) SetAnnotations(kind string, tbl *table.Table) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.annotations[kind] = tbl
}

func (h *FakeHandle) SeriesNames() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Sorted(maps.Keys(h.series)), nil
}

func (h *FakeHandle) AnnotationKinds() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Sorted(maps.Keys(h.annotations)), nil
}

func (h *FakeHandle) LoadSeries(name string) (*table.Table, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seriesCalls++
	tbl, ok := h.series[name]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "fakestore", "series", name, nil)
	}
	return tbl, nil
}

func (h *FakeHandle) LoadAnnotationTable(kind string) (*table.Table, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.annotationCalls++
	tbl, ok := h.annotations[kind]
	return tbl, ok, nil
}

// FrameCalls reports how many frame lookups reached the handle.
func (h *FakeHandle) FrameCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frameCalls
}

// SeriesCalls reports how many series loads reached the handle.
func (h *FakeHandle) SeriesCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seriesCalls
}

// AnnotationCalls reports how many annotation loads reached the handle.
func (h *FakeHandle) AnnotationCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.annotationCalls
}

func (h *FakeHandle) frame(index int) (mediastore.Frame, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frameCalls++
	if h.FrameErr != nil {
		return mediastore.Frame{}, h.FrameErr
	}
	if index < 0 || index >= len(h.timestamps) {
		return mediastore.Frame{}, services.Wrap(services.ErrNotFound, "fakestore", "frame", "no frame", nil)
	}
	return mediastore.Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, h.Width, h.Height)),
		Timestamp: h.timestamps[index],
	}, nil
}

type timestampView struct{ *FakeHandle }

func (v timestampView) NearestFrame(ts float64) (mediastore.Frame, error) {
	idx, _ := mediastore.NearestIndex(v.timestamps, ts)
	if len(v.timestamps) == 0 {
		idx = -1
	}
	return v.frame(idx)
}

type indexView struct{ *FakeHandle }

func (v indexView) FrameAt(index int) (mediastore.Frame, error) {
	return v.frame(index)
}
