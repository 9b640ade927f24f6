package mediastore

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"videoxt/internal/fileutil"
	"videoxt/internal/services"
	"videoxt/internal/table"
	"videoxt/internal/textutil"
)

const (
	framesDir      = "frames"
	seriesDir      = "series"
	annotationsDir = "annotations"
	// frameIndexFile marks a frames directory addressed by position. Its
	// rows map a frame index to the capture timestamp.
	frameIndexFile = "index.csv"
	tableExt       = ".csv"
)

// FSStore reads media from a directory tree:
//
//	<root>/<dataset>/<camera>/frames/<timestamp>.jpg
//	<root>/<dataset>/<camera>/series/<name>.csv
//	<root>/<dataset>/<camera>/annotations/<kind>.csv
//
// Camera directories use the escaped camera identifier. A frames directory
// holding index.csv instead names frames by position (<index>.jpg) and the
// opened handle only supports index lookup.
type FSStore struct {
	root string
}

// NewFSStore returns a store rooted at root.
func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

// Root returns the media directory the store reads.
func (s *FSStore) Root() string { return s.root }

// ListDatasets implements Store.
func (s *FSStore) ListDatasets(ctx context.Context) (map[string][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	datasets, err := subdirs(s.root)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	out := make(map[string][]string, len(datasets))
	for _, dataset := range datasets {
		cameras, err := subdirs(filepath.Join(s.root, dataset))
		if err != nil {
			return nil, fmt.Errorf("list cameras for %s: %w", dataset, err)
		}
		names := make([]string, 0, len(cameras))
		for _, c := range cameras {
			names = append(names, textutil.UnescapeSegment(c))
		}
		out[dataset] = names
	}
	return out, nil
}

// OpenHandle implements Store.
func (s *FSStore) OpenHandle(ctx context.Context, dataset, camera string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.cameraDir(dataset, camera)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, services.Wrap(services.ErrNotFound, "mediastore", "open handle", fmt.Sprintf("unknown camera %s/%s", dataset, camera), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("stat camera dir: %w", err)
	}

	base := fsHandle{dataset: dataset, camera: camera, dir: dir}
	framePath := filepath.Join(dir, framesDir)
	indexPath := filepath.Join(framePath, frameIndexFile)
	if _, err := os.Stat(indexPath); err == nil {
		timestamps, files, err := readFrameIndex(framePath, indexPath)
		if err != nil {
			return nil, err
		}
		base.timestamps = timestamps
		return &indexHandle{fsHandle: base, files: files}, nil
	}

	timestamps, files, err := scanFrames(framePath)
	if err != nil {
		return nil, err
	}
	base.timestamps = timestamps
	return &timestampHandle{fsHandle: base, files: files}, nil
}

// WriteAnnotationTable implements AnnotationWriter.
func (s *FSStore) WriteAnnotationTable(ctx context.Context, dataset, camera, kind string, tbl *table.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !textutil.ValidSegment(kind) {
		return services.Wrap(services.ErrInvalidInput, "mediastore", "write annotations", fmt.Sprintf("invalid annotation kind %q", kind), nil)
	}
	dir, err := s.cameraDir(dataset, camera)
	if err != nil {
		return err
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return services.Wrap(services.ErrNotFound, "mediastore", "write annotations", fmt.Sprintf("unknown camera %s/%s", dataset, camera), nil)
	}
	path := filepath.Join(dir, annotationsDir, textutil.EscapeSegment(kind)+tableExt)
	return fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		return table.WriteCSV(w, tbl)
	})
}

func (s *FSStore) cameraDir(dataset, camera string) (string, error) {
	if !textutil.ValidSegment(dataset) || !textutil.ValidSegment(camera) || strings.Contains(dataset, "/") {
		return "", services.Wrap(services.ErrInvalidInput, "mediastore", "resolve", fmt.Sprintf("invalid source %q/%q", dataset, camera), nil)
	}
	return filepath.Join(s.root, dataset, textutil.EscapeSegment(camera)), nil
}

type fsHandle struct {
	dataset    string
	camera     string
	dir        string
	timestamps []float64
}

func (h *fsHandle) Dataset() string { return h.dataset }

func (h *fsHandle) Camera() string { return h.camera }

func (h *fsHandle) Timestamps() []float64 { return slices.Clone(h.timestamps) }

func (h *fsHandle) SeriesNames() ([]string, error) {
	return tableNames(filepath.Join(h.dir, seriesDir))
}

func (h *fsHandle) AnnotationKinds() ([]string, error) {
	return tableNames(filepath.Join(h.dir, annotationsDir))
}

func (h *fsHandle) LoadSeries(name string) (*table.Table, error) {
	tbl, ok, err := h.loadTable(seriesDir, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "mediastore", "load series", fmt.Sprintf("unknown series %q", name), nil)
	}
	return tbl, nil
}

func (h *fsHandle) LoadAnnotationTable(kind string) (*table.Table, bool, error) {
	return h.loadTable(annotationsDir, kind)
}

func (h *fsHandle) loadTable(sub, name string) (*table.Table, bool, error) {
	if !textutil.ValidSegment(name) {
		return nil, false, services.Wrap(services.ErrInvalidInput, "mediastore", "load table", fmt.Sprintf("invalid table name %q", name), nil)
	}
	path := filepath.Join(h.dir, sub, textutil.EscapeSegment(name)+tableExt)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	tbl, err := table.ReadCSV(f)
	if err != nil {
		return nil, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return tbl, true, nil
}

type timestampHandle struct {
	fsHandle
	files []string
}

// NearestFrame implements TimestampFrameReader.
func (h *timestampHandle) NearestFrame(ts float64) (Frame, error) {
	idx, ok := NearestIndex(h.timestamps, ts)
	if !ok {
		return Frame{}, services.Wrap(services.ErrNotFound, "mediastore", "nearest frame", fmt.Sprintf("%s/%s has no frames", h.dataset, h.camera), nil)
	}
	img, err := decodeImage(h.files[idx])
	if err != nil {
		return Frame{}, err
	}
	return Frame{Image: img, Timestamp: h.timestamps[idx]}, nil
}

type indexHandle struct {
	fsHandle
	files []string
}

// FrameAt implements IndexFrameReader.
func (h *indexHandle) FrameAt(index int) (Frame, error) {
	if index < 0 || index >= len(h.files) {
		return Frame{}, services.Wrap(services.ErrNotFound, "mediastore", "frame at", fmt.Sprintf("frame index %d out of range", index), nil)
	}
	img, err := decodeImage(h.files[index])
	if err != nil {
		return Frame{}, err
	}
	return Frame{Image: img, Timestamp: h.timestamps[index]}, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// scanFrames lists <timestamp>.<ext> files sorted by timestamp. A missing
// frames directory yields no frames.
func scanFrames(dir string) ([]float64, []string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read frames: %w", err)
	}
	type frameFile struct {
		ts   float64
		path string
	}
	frames := make([]frameFile, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isImage(name) {
			continue
		}
		ts, err := textutil.ParseTimestamp(strings.TrimSuffix(name, filepath.Ext(name)))
		if err != nil {
			continue
		}
		frames = append(frames, frameFile{ts: ts, path: filepath.Join(dir, name)})
	}
	slices.SortFunc(frames, func(a, b frameFile) int {
		switch {
		case a.ts < b.ts:
			return -1
		case a.ts > b.ts:
			return 1
		}
		return 0
	})
	timestamps := make([]float64, len(frames))
	files := make([]string, len(frames))
	for i, f := range frames {
		timestamps[i], files[i] = f.ts, f.path
	}
	return timestamps, files, nil
}

// readFrameIndex loads index.csv (columns index, timestamp). Rows are ordered
// by index and timestamps must ascend with it.
func readFrameIndex(dir, path string) ([]float64, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open frame index: %w", err)
	}
	defer f.Close()
	tbl, err := table.ReadCSV(f)
	if err != nil {
		return nil, nil, fmt.Errorf("parse frame index: %w", err)
	}
	records := tbl.Records()
	slices.SortFunc(records, func(a, b table.Record) int {
		ai, _ := a["index"].(float64)
		bi, _ := b["index"].(float64)
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	})

	timestamps := make([]float64, 0, len(records))
	files := make([]string, 0, len(records))
	for _, rec := range records {
		idx, ok := rec["index"].(float64)
		if !ok {
			return nil, nil, services.Wrap(services.ErrCompute, "mediastore", "frame index", "row without index", nil)
		}
		ts, _ := table.Timestamp(rec)
		if n := len(timestamps); n > 0 && ts < timestamps[n-1] {
			return nil, nil, services.Wrap(services.ErrCompute, "mediastore", "frame index", "timestamps not ascending", nil)
		}
		file, err := findIndexedFrame(dir, int(idx))
		if err != nil {
			return nil, nil, err
		}
		timestamps = append(timestamps, ts)
		files = append(files, file)
	}
	return timestamps, files, nil
}

func findIndexedFrame(dir string, index int) (string, error) {
	stem := strconv.Itoa(index)
	for _, ext := range []string{".jpg", ".jpeg", ".png"} {
		path := filepath.Join(dir, stem+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", services.Wrap(services.ErrCompute, "mediastore", "frame index", fmt.Sprintf("frame %d listed but missing", index), nil)
}

func tableNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, tableExt) || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, textutil.UnescapeSegment(strings.TrimSuffix(name, tableExt)))
	}
	slices.Sort(names)
	return names, nil
}

func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			out = append(out, entry.Name())
		}
	}
	slices.Sort(out)
	return out, nil
}
