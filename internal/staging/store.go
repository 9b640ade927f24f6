package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"videoxt/internal/fileutil"
	"videoxt/internal/logging"
	"videoxt/internal/mediacache"
	"videoxt/internal/services"
	"videoxt/internal/table"
	"videoxt/internal/textutil"
)

const batchExt = ".json"

// Batch is the set of records proposed for one timestamp. An empty batch
// deletes the canonical rows at that timestamp when reconciled.
type Batch struct {
	Timestamp float64        `json:"timestamp"`
	Records   []table.Record `json:"records"`
	StagedAt  time.Time      `json:"stagedAt"`

	path string
}

// Store persists batches beneath a root directory.
type Store struct {
	root       string
	retryDelay time.Duration
	logger     *slog.Logger
}

// New creates a store rooted at root. retryDelay controls how often a blocked
// Stage call polls the key lock.
func New(root string, retryDelay time.Duration, logger *slog.Logger) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "staging", "new", "staging root is required", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	return &Store{root: root, retryDelay: retryDelay, logger: logging.NewComponentLogger(logger, "staging")}, nil
}

// Root returns the directory batches are staged under.
func (s *Store) Root() string { return s.root }

func (s *Store) keyDir(key mediacache.AnnotationKey) (string, error) {
	if !textutil.ValidSegment(key.Dataset) || strings.Contains(key.Dataset, "/") ||
		!textutil.ValidSegment(key.Camera) || !textutil.ValidSegment(key.Kind) {
		return "", services.Wrap(services.ErrInvalidInput, "staging", "resolve key", fmt.Sprintf("invalid key %s", key), nil)
	}
	return filepath.Join(s.root, key.Dataset, textutil.EscapeSegment(key.Camera), textutil.EscapeSegment(key.Kind)), nil
}

// Stage writes the batch for one timestamp, replacing any batch already
// staged there. Records without a timestamp take the batch timestamp;
// records naming another timestamp are rejected, as are field values other
// than strings, booleans, finite numbers and null. Stage waits while the key
// is being reconciled.
func (s *Store) Stage(ctx context.Context, key mediacache.AnnotationKey, ts float64, records []table.Record) error {
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return services.Wrap(services.ErrInvalidInput, "staging", "stage", "timestamp must be finite", nil)
	}
	dir, err := s.keyDir(key)
	if err != nil {
		return err
	}
	normalized, err := normalizeRecords(ts, records)
	if err != nil {
		return err
	}

	unlock, err := s.LockKey(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	batch := Batch{Timestamp: ts, Records: normalized, StagedAt: time.Now().UTC()}
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	path := filepath.Join(dir, textutil.FormatTimestamp(ts)+batchExt)
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	logging.WithContext(ctx, s.logger).Debug("staged annotation batch",
		logging.String("key", key.String()),
		logging.Float64("timestamp", ts),
		logging.Int("records", len(normalized)),
	)
	return nil
}

func normalizeRecords(ts float64, records []table.Record) ([]table.Record, error) {
	out := make([]table.Record, 0, len(records))
	for i, rec := range records {
		clone := make(table.Record, len(rec)+1)
		for k, v := range rec {
			if strings.TrimSpace(k) == "" {
				return nil, services.Wrap(services.ErrInvalidInput, "staging", "stage", fmt.Sprintf("record %d has an empty field name", i), nil)
			}
			cell, ok := table.Scalar(v)
			if !ok {
				return nil, services.Wrap(services.ErrInvalidInput, "staging", "stage",
					fmt.Sprintf("record %d field %q: value %T cannot be stored in a table cell", i, k, v), nil)
			}
			clone[k] = cell
		}
		if _, present := rec[table.TimestampColumn]; !present || rec[table.TimestampColumn] == nil {
			clone[table.TimestampColumn] = ts
		} else {
			got, ok := table.Timestamp(rec)
			if !ok {
				return nil, services.Wrap(services.ErrInvalidInput, "staging", "stage", fmt.Sprintf("record %d has an invalid timestamp", i), nil)
			}
			if got != ts {
				return nil, services.Wrap(services.ErrInvalidInput, "staging", "stage",
					fmt.Sprintf("record %d timestamp %s does not match batch timestamp %s", i, textutil.FormatTimestamp(got), textutil.FormatTimestamp(ts)), nil)
			}
			clone[table.TimestampColumn] = got
		}
		out = append(out, clone)
	}
	return out, nil
}

// List returns the batches staged for key in ascending timestamp order.
func (s *Store) List(key mediacache.AnnotationKey) ([]Batch, error) {
	dir, err := s.keyDir(key)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read staging dir: %w", err)
	}

	var batches []Batch
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, batchExt) {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read batch %s: %w", name, err)
		}
		var batch Batch
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("decode batch %s: %w", name, err)
		}
		batch.path = path
		batches = append(batches, batch)
	}
	slices.SortFunc(batches, func(a, b Batch) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	})
	return batches, nil
}

// Delete removes the given batches. Batches already gone are ignored.
func (s *Store) Delete(key mediacache.AnnotationKey, batches []Batch) error {
	dir, err := s.keyDir(key)
	if err != nil {
		return err
	}
	var errs []error
	for _, b := range batches {
		path := b.path
		if path == "" {
			path = filepath.Join(dir, textutil.FormatTimestamp(b.Timestamp)+batchExt)
		}
		if filepath.Dir(path) != dir {
			errs = append(errs, fmt.Errorf("batch %s outside key %s", path, key))
			continue
		}
		if err := fileutil.RemoveIfExists(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending returns how many batches are staged for key.
func (s *Store) Pending(key mediacache.AnnotationKey) (int, error) {
	batches, err := s.List(key)
	return len(batches), err
}

// Keys returns every key with at least one staged batch, sorted.
func (s *Store) Keys() ([]mediacache.AnnotationKey, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "*", "*", "*", "*"+batchExt))
	if err != nil {
		return nil, err
	}
	seen := map[mediacache.AnnotationKey]struct{}{}
	var keys []mediacache.AnnotationKey
	for _, match := range matches {
		if strings.HasPrefix(filepath.Base(match), ".") {
			continue
		}
		kindDir := filepath.Dir(match)
		camDir := filepath.Dir(kindDir)
		key := mediacache.AnnotationKey{
			Dataset: filepath.Base(filepath.Dir(camDir)),
			Camera:  textutil.UnescapeSegment(filepath.Base(camDir)),
			Kind:    textutil.UnescapeSegment(filepath.Base(kindDir)),
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b mediacache.AnnotationKey) int {
		return strings.Compare(a.String(), b.String())
	})
	return keys, nil
}
