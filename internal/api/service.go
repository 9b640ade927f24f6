package api

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"math"
	"strings"
	"time"

	"videoxt/internal/logging"
	"videoxt/internal/mediacache"
	"videoxt/internal/mediastore"
	"videoxt/internal/reconcile"
	"videoxt/internal/services"
	"videoxt/internal/staging"
	"videoxt/internal/subsets"
	"videoxt/internal/table"
)

// jpegQuality is the encoder quality for served frames.
const jpegQuality = 95

// Deps lists the collaborators a Service needs.
type Deps struct {
	Store      mediastore.Store
	Caches     *mediacache.Caches
	Staging    *staging.Store
	Reconciler *reconcile.Reconciler
	Subsets    *subsets.Store
	Logger     *slog.Logger

	MediaDir string
}

// Service implements every read and write operation exposed to clients.
type Service struct {
	store      mediastore.Store
	caches     *mediacache.Caches
	staging    *staging.Store
	reconciler *reconcile.Reconciler
	subsets    *subsets.Store
	logger     *slog.Logger
	mediaDir   string
	startedAt  time.Time
}

// NewService wires a Service. All collaborators are required.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, services.Wrap(services.ErrConfiguration, "api", "new", "media store is required", nil)
	case deps.Caches == nil:
		return nil, services.Wrap(services.ErrConfiguration, "api", "new", "caches are required", nil)
	case deps.Staging == nil:
		return nil, services.Wrap(services.ErrConfiguration, "api", "new", "staging store is required", nil)
	case deps.Reconciler == nil:
		return nil, services.Wrap(services.ErrConfiguration, "api", "new", "reconciler is required", nil)
	case deps.Subsets == nil:
		return nil, services.Wrap(services.ErrConfiguration, "api", "new", "subset store is required", nil)
	}
	return &Service{
		store:      deps.Store,
		caches:     deps.Caches,
		staging:    deps.Staging,
		reconciler: deps.Reconciler,
		subsets:    deps.Subsets,
		logger:     logging.NewComponentLogger(deps.Logger, "api"),
		mediaDir:   deps.MediaDir,
		startedAt:  time.Now(),
	}, nil
}

func requireSource(dataset, camera string) (mediacache.HandleKey, error) {
	dataset, camera = strings.TrimSpace(dataset), strings.TrimSpace(camera)
	if dataset == "" || camera == "" {
		return mediacache.HandleKey{}, services.Wrap(services.ErrInvalidInput, "api", "validate", "dataset and camera are required", nil)
	}
	return mediacache.HandleKey{Dataset: dataset, Camera: camera}, nil
}

func requireName(what, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", services.Wrap(services.ErrInvalidInput, "api", "validate", what+" is required", nil)
	}
	return value, nil
}

func requireRef(ref AnnotationRef) (mediacache.AnnotationKey, error) {
	src, err := requireSource(ref.Dataset, ref.Camera)
	if err != nil {
		return mediacache.AnnotationKey{}, err
	}
	kind, err := requireName("annotation kind", ref.Kind)
	if err != nil {
		return mediacache.AnnotationKey{}, err
	}
	return mediacache.AnnotationKey{Dataset: src.Dataset, Camera: src.Camera, Kind: kind}, nil
}

// Datasets maps dataset names to their cameras.
func (s *Service) Datasets(ctx context.Context) (map[string][]string, error) {
	return s.store.ListDatasets(ctx)
}

// Timestamps returns the frame timestamps of a camera.
func (s *Service) Timestamps(ctx context.Context, dataset, camera string) ([]float64, error) {
	key, err := requireSource(dataset, camera)
	if err != nil {
		return nil, err
	}
	src, err := s.caches.Handle(ctx, key)
	if err != nil {
		return nil, err
	}
	return src.Timestamps(), nil
}

// SeriesOptions lists the series recorded for a camera.
func (s *Service) SeriesOptions(ctx context.Context, dataset, camera string) ([]string, error) {
	key, err := requireSource(dataset, camera)
	if err != nil {
		return nil, err
	}
	src, err := s.caches.Handle(ctx, key)
	if err != nil {
		return nil, err
	}
	return src.SeriesNames()
}

// AnnotationOptions lists the annotation kinds with a canonical table.
func (s *Service) AnnotationOptions(ctx context.Context, dataset, camera string) ([]string, error) {
	key, err := requireSource(dataset, camera)
	if err != nil {
		return nil, err
	}
	src, err := s.caches.Handle(ctx, key)
	if err != nil {
		return nil, err
	}
	return src.AnnotationKinds()
}

func (s *Service) series(ctx context.Context, dataset, camera, name string) (*table.Table, error) {
	key, err := requireSource(dataset, camera)
	if err != nil {
		return nil, err
	}
	name, err = requireName("series name", name)
	if err != nil {
		return nil, err
	}
	return s.caches.Series(ctx, mediacache.SeriesKey{Dataset: key.Dataset, Camera: key.Camera, Name: name})
}

// SeriesColumns lists the columns of a series table.
func (s *Service) SeriesColumns(ctx context.Context, dataset, camera, name string) ([]string, error) {
	tbl, err := s.series(ctx, dataset, camera, name)
	if err != nil {
		return nil, err
	}
	return tbl.Columns(), nil
}

// SeriesData returns the timestamps of a series plus the requested columns.
// With no columns named, every column is returned.
func (s *Service) SeriesData(ctx context.Context, dataset, camera, name string, columns ...string) (SeriesData, error) {
	tbl, err := s.series(ctx, dataset, camera, name)
	if err != nil {
		return SeriesData{}, err
	}
	if len(columns) == 0 {
		for _, c := range tbl.Columns() {
			if c != table.TimestampColumn {
				columns = append(columns, c)
			}
		}
	}
	projected, err := tbl.Project(columns...)
	if err != nil {
		return SeriesData{}, err
	}
	x, err := projected.Column(table.TimestampColumn)
	if err != nil {
		return SeriesData{}, err
	}
	out := SeriesData{X: x, Columns: make(map[string][]any, len(columns))}
	for _, c := range columns {
		values, err := projected.Column(c)
		if err != nil {
			return SeriesData{}, err
		}
		out.Columns[c] = values
	}
	return out, nil
}

// SeriesAt returns the series rows at ts. With nearest set, a timestamp with
// no exact rows yields the single closest row.
func (s *Service) SeriesAt(ctx context.Context, dataset, camera, name string, ts float64, nearest bool) ([]table.Record, error) {
	if err := requireFinite(ts); err != nil {
		return nil, err
	}
	tbl, err := s.series(ctx, dataset, camera, name)
	if err != nil {
		return nil, err
	}
	if nearest {
		return orEmpty(tbl.At(ts)), nil
	}
	return orEmpty(tbl.Exact(ts)), nil
}

// Annotations returns the canonical annotation table.
func (s *Service) Annotations(ctx context.Context, ref AnnotationRef) (*table.Table, error) {
	key, err := requireRef(ref)
	if err != nil {
		return nil, err
	}
	return s.caches.Annotations(ctx, key)
}

// AnnotationAt returns the canonical annotation rows at exactly ts.
func (s *Service) AnnotationAt(ctx context.Context, ref AnnotationRef, ts float64) ([]table.Record, error) {
	if err := requireFinite(ts); err != nil {
		return nil, err
	}
	tbl, err := s.Annotations(ctx, ref)
	if err != nil {
		return nil, err
	}
	return orEmpty(tbl.Exact(ts)), nil
}

// FrameJPEG returns the frame nearest ts encoded as JPEG.
func (s *Service) FrameJPEG(ctx context.Context, dataset, camera string, ts float64) (Frame, error) {
	key, err := requireSource(dataset, camera)
	if err != nil {
		return Frame{}, err
	}
	if err := requireFinite(ts); err != nil {
		return Frame{}, err
	}
	frame, err := s.caches.Frame(ctx, mediacache.FrameKey{Dataset: key.Dataset, Camera: key.Camera, Timestamp: ts})
	if err != nil {
		return Frame{}, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Frame{}, services.Wrap(services.ErrCompute, "api", "encode frame", "jpeg encode failed", err)
	}
	return Frame{JPEG: buf.Bytes(), Timestamp: frame.Timestamp}, nil
}

// FrameSize returns the frame dimensions of a camera.
func (s *Service) FrameSize(ctx context.Context, dataset, camera string) (mediacache.Size, error) {
	key, err := requireSource(dataset, camera)
	if err != nil {
		return mediacache.Size{}, err
	}
	return s.caches.FrameSize(ctx, key)
}

// StageEdit stages the records proposed for one timestamp. The camera must
// exist; the annotation kind may be new.
func (s *Service) StageEdit(ctx context.Context, ref AnnotationRef, ts float64, records []table.Record) (StageResponse, error) {
	key, err := requireRef(ref)
	if err != nil {
		return StageResponse{}, err
	}
	if err := requireFinite(ts); err != nil {
		return StageResponse{}, err
	}
	if _, err := s.caches.Handle(ctx, key.Source()); err != nil {
		return StageResponse{}, err
	}
	if err := s.staging.Stage(ctx, key, ts, records); err != nil {
		return StageResponse{}, err
	}
	pending, err := s.staging.Pending(key)
	if err != nil {
		return StageResponse{}, err
	}
	return StageResponse{Key: RefFromKey(key), Pending: pending}, nil
}

// StagedEdits returns the batches pending for one key.
func (s *Service) StagedEdits(ctx context.Context, ref AnnotationRef) ([]staging.Batch, error) {
	key, err := requireRef(ref)
	if err != nil {
		return nil, err
	}
	batches, err := s.staging.List(key)
	if err != nil {
		return nil, err
	}
	if batches == nil {
		batches = []staging.Batch{}
	}
	return batches, nil
}

// PendingEdits lists every key with staged batches.
func (s *Service) PendingEdits(ctx context.Context) ([]PendingKey, error) {
	keys, err := s.staging.Keys()
	if err != nil {
		return nil, err
	}
	out := make([]PendingKey, 0, len(keys))
	for _, k := range keys {
		n, err := s.staging.Pending(k)
		if err != nil {
			return nil, err
		}
		out = append(out, PendingKey{Key: RefFromKey(k), Batches: n})
	}
	return out, nil
}

// Reconcile commits the staged batches of one key.
func (s *Service) Reconcile(ctx context.Context, ref AnnotationRef) (ReconcileResponse, error) {
	key, err := requireRef(ref)
	if err != nil {
		return ReconcileResponse{}, err
	}
	res, err := s.reconciler.Reconcile(ctx, key)
	if err != nil {
		return ReconcileResponse{}, err
	}
	return ReconcileResponse{Key: RefFromKey(key), Kept: res.Kept, Created: res.Created}, nil
}

// ReconcileSubset reconciles every entry of a stored subset. Failures of
// individual keys are reported per outcome.
func (s *Service) ReconcileSubset(ctx context.Context, name string) ([]SubsetOutcome, error) {
	entries, err := s.LoadSubset(ctx, name)
	if err != nil {
		return nil, err
	}
	keys := make([]mediacache.AnnotationKey, 0, len(entries))
	seen := map[mediacache.AnnotationKey]struct{}{}
	for _, e := range entries {
		k := mediacache.AnnotationKey{Dataset: e.Dataset, Camera: e.Camera, Kind: e.Kind}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	outcomes, err := s.reconciler.ReconcileAll(ctx, keys)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "subset reconciliation incomplete", "subset_reconcile_partial",
			logging.String("subset", name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "some keys keep their staged edits"),
		)
	}
	return FromOutcomes(outcomes), nil
}

// ListSubsets lists stored subsets.
func (s *Service) ListSubsets(ctx context.Context) ([]SubsetSummary, error) {
	list, err := s.subsets.List(ctx)
	if err != nil {
		return nil, err
	}
	return FromSubsetSummaries(list), nil
}

// LoadSubset returns the entries of a subset.
func (s *Service) LoadSubset(ctx context.Context, name string) ([]subsets.Entry, error) {
	name, err := requireName("subset name", name)
	if err != nil {
		return nil, err
	}
	return s.subsets.Load(ctx, name)
}

// SaveSubset stores a subset, replacing any previous content.
func (s *Service) SaveSubset(ctx context.Context, name string, entries []subsets.Entry) error {
	return s.subsets.Save(ctx, name, entries)
}

// DeleteSubset removes a subset.
func (s *Service) DeleteSubset(ctx context.Context, name string) error {
	return s.subsets.Delete(ctx, name)
}

// Status reports cache statistics and pending work.
func (s *Service) Status(ctx context.Context) (Status, error) {
	keys, err := s.staging.Keys()
	if err != nil {
		return Status{}, err
	}
	return Status{
		StartedAt:   formatTime(s.startedAt),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
		MediaDir:    s.mediaDir,
		StagingDir:  s.staging.Root(),
		SubsetDB:    s.subsets.Path(),
		PendingKeys: len(keys),
		Caches:      s.caches.Stats(),
	}, nil
}

func requireFinite(ts float64) error {
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return services.Wrap(services.ErrInvalidInput, "api", "validate", fmt.Sprintf("timestamp %v is not finite", ts), nil)
	}
	return nil
}

func orEmpty(records []table.Record) []table.Record {
	if records == nil {
		return []table.Record{}
	}
	return records
}
