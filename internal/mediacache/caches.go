// Package mediacache wires the bounded caches that sit in front of the media
// store.
//
// Caches is built once at startup and handed to whatever serves requests.
// Handles are opened once per (dataset, camera); series tables, annotation
// tables, frames, and frame sizes are computed through the cached handle.
// Each cache has its own lock, so a dependent cache may call into the handle
// cache while holding its own lock. The lock order is fixed: frame sizes,
// then frames, then handles; series and annotations only ever reach handles.
package mediacache

import (
	"context"
	"fmt"
	"log/slog"

	"videoxt/internal/config"
	"videoxt/internal/logging"
	"videoxt/internal/lrucache"
	"videoxt/internal/mediastore"
	"videoxt/internal/services"
	"videoxt/internal/table"
)

// HandleKey identifies one camera of one dataset.
type HandleKey struct {
	Dataset string
	Camera  string
}

// SeriesKey identifies a series table.
type SeriesKey struct {
	Dataset string
	Camera  string
	Name    string
}

// AnnotationKey identifies a canonical annotation table. Staging and
// reconciliation use the same key.
type AnnotationKey struct {
	Dataset string
	Camera  string
	Kind    string
}

// Source returns the camera part of the key.
func (k AnnotationKey) Source() HandleKey {
	return HandleKey{Dataset: k.Dataset, Camera: k.Camera}
}

func (k AnnotationKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Dataset, k.Camera, k.Kind)
}

// FrameKey identifies a frame by the requested timestamp.
type FrameKey struct {
	Dataset   string
	Camera    string
	Timestamp float64
}

// Size is a frame's pixel dimensions.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Caches holds every bounded cache in front of one media store.
type Caches struct {
	store  mediastore.Store
	logger *slog.Logger

	handles     *lrucache.Cache[HandleKey, *mediastore.Source]
	series      *lrucache.Cache[SeriesKey, *table.Table]
	annotations *lrucache.Cache[AnnotationKey, *table.Table]
	frames      *lrucache.Cache[FrameKey, mediastore.Frame]
	frameSizes  *lrucache.Cache[HandleKey, Size]
}

// New builds the caches with the configured capacities.
func New(store mediastore.Store, capacities config.Cache, logger *slog.Logger) (*Caches, error) {
	if store == nil {
		return nil, services.Wrap(services.ErrConfiguration, "mediacache", "new", "media store is required", nil)
	}
	logger = logging.NewComponentLogger(logger, "mediacache")
	c := &Caches{store: store, logger: logger}

	var err error
	if c.handles, err = lrucache.New[HandleKey, *mediastore.Source]("handles", capacities.Handles, logger); err != nil {
		return nil, err
	}
	if c.series, err = lrucache.New[SeriesKey, *table.Table]("series", capacities.Series, logger); err != nil {
		return nil, err
	}
	if c.annotations, err = lrucache.New[AnnotationKey, *table.Table]("annotations", capacities.Annotations, logger); err != nil {
		return nil, err
	}
	if c.frames, err = lrucache.New[FrameKey, mediastore.Frame]("frames", capacities.Frames, logger); err != nil {
		return nil, err
	}
	if c.frameSizes, err = lrucache.New[HandleKey, Size]("frame_sizes", capacities.FrameSizes, logger); err != nil {
		return nil, err
	}
	return c, nil
}

// Store returns the underlying media store.
func (c *Caches) Store() mediastore.Store { return c.store }

// Handle returns the opened source for a camera.
func (c *Caches) Handle(ctx context.Context, key HandleKey) (*mediastore.Source, error) {
	return c.handles.Get(key, func(k HandleKey) (*mediastore.Source, error) {
		src, err := mediastore.Open(ctx, c.store, k.Dataset, k.Camera)
		if err != nil {
			return nil, err
		}
		logging.WithContext(ctx, c.logger).Debug("opened media handle",
			logging.String(logging.FieldDataset, k.Dataset),
			logging.String(logging.FieldCamera, k.Camera),
			logging.String("frame_lookup", src.Lookup().String()),
		)
		return src, nil
	})
}

// Series returns a series table.
func (c *Caches) Series(ctx context.Context, key SeriesKey) (*table.Table, error) {
	return c.series.Get(key, func(k SeriesKey) (*table.Table, error) {
		src, err := c.Handle(ctx, HandleKey{Dataset: k.Dataset, Camera: k.Camera})
		if err != nil {
			return nil, err
		}
		return src.LoadSeries(k.Name)
	})
}

// Annotations returns the canonical annotation table. A kind with no
// canonical table yet yields an empty table.
func (c *Caches) Annotations(ctx context.Context, key AnnotationKey) (*table.Table, error) {
	return c.annotations.Get(key, func(k AnnotationKey) (*table.Table, error) {
		src, err := c.Handle(ctx, k.Source())
		if err != nil {
			return nil, err
		}
		tbl, ok, err := src.LoadAnnotationTable(k.Kind)
		if err != nil {
			return nil, err
		}
		if !ok {
			return table.Empty(), nil
		}
		return tbl, nil
	})
}

// InvalidateAnnotations drops the cached annotation table for key.
func (c *Caches) InvalidateAnnotations(key AnnotationKey) bool {
	return c.annotations.Invalidate(key)
}

// Frame returns the frame nearest the requested timestamp.
func (c *Caches) Frame(ctx context.Context, key FrameKey) (mediastore.Frame, error) {
	return c.frames.Get(key, func(k FrameKey) (mediastore.Frame, error) {
		src, err := c.Handle(ctx, HandleKey{Dataset: k.Dataset, Camera: k.Camera})
		if err != nil {
			return mediastore.Frame{}, err
		}
		return src.NearestFrame(k.Timestamp)
	})
}

// FrameSize returns the dimensions of a camera's frames, measured on the
// first timestamp the handle lists. A camera without frames is not found.
func (c *Caches) FrameSize(ctx context.Context, key HandleKey) (Size, error) {
	return c.frameSizes.Get(key, func(k HandleKey) (Size, error) {
		src, err := c.Handle(ctx, k)
		if err != nil {
			return Size{}, err
		}
		timestamps := src.Timestamps()
		if len(timestamps) == 0 {
			return Size{}, services.Wrap(services.ErrNotFound, "mediacache", "frame size",
				fmt.Sprintf("%s/%s has no frames", k.Dataset, k.Camera), nil)
		}
		frame, err := c.Frame(ctx, FrameKey{Dataset: k.Dataset, Camera: k.Camera, Timestamp: timestamps[0]})
		if err != nil {
			return Size{}, err
		}
		w, h := frame.Size()
		return Size{Width: w, Height: h}, nil
	})
}

// Stats returns a snapshot of every cache's counters.
func (c *Caches) Stats() []lrucache.Stats {
	return []lrucache.Stats{
		c.handles.Stats(),
		c.series.Stats(),
		c.annotations.Stats(),
		c.frames.Stats(),
		c.frameSizes.Stats(),
	}
}
