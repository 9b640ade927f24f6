// Package mediastore defines the media store the caches sit in front of and
// ships a filesystem-backed implementation.
//
// A store opens one Handle per (dataset, camera). Handles expose the frame
// timestamps, the series tables, and the annotation tables recorded for that
// camera. Frame lookup comes in two flavours: stores that can seek by
// timestamp implement TimestampFrameReader, stores that only address frames
// by position implement IndexFrameReader. Open inspects the handle once and
// binds the right lookup so callers never probe by trial and error.
package mediastore

import (
	"context"
	"image"

	"videoxt/internal/table"
)

// Store lists and opens media sources.
type Store interface {
	// ListDatasets maps each dataset name to its camera identifiers.
	ListDatasets(ctx context.Context) (map[string][]string, error)
	// OpenHandle opens the source for one camera. Unknown names yield
	// services.ErrNotFound.
	OpenHandle(ctx context.Context, dataset, camera string) (Handle, error)
}

// Handle is an opened (dataset, camera) source.
type Handle interface {
	Dataset() string
	Camera() string
	// Timestamps returns the frame timestamps in ascending order.
	Timestamps() []float64
	SeriesNames() ([]string, error)
	AnnotationKinds() ([]string, error)
	LoadSeries(name string) (*table.Table, error)
	// LoadAnnotationTable reports false when no canonical table exists yet.
	LoadAnnotationTable(kind string) (*table.Table, bool, error)
}

// TimestampFrameReader is implemented by handles that can seek to the frame
// nearest a timestamp.
type TimestampFrameReader interface {
	NearestFrame(ts float64) (Frame, error)
}

// IndexFrameReader is implemented by handles that address frames by their
// position in Timestamps().
type IndexFrameReader interface {
	FrameAt(index int) (Frame, error)
}

// AnnotationWriter replaces canonical annotation tables. Implementations must
// make the replacement atomic: readers observe the old table or the new one.
type AnnotationWriter interface {
	WriteAnnotationTable(ctx context.Context, dataset, camera, kind string, tbl *table.Table) error
}

// Frame is a decoded image and the timestamp it was captured at.
type Frame struct {
	Image     image.Image
	Timestamp float64
}

// Size reports the frame dimensions.
func (f Frame) Size() (width, height int) {
	if f.Image == nil {
		return 0, 0
	}
	b := f.Image.Bounds()
	return b.Dx(), b.Dy()
}
