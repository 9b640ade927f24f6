package api

import (
	"time"

	"videoxt/internal/lrucache"
	"videoxt/internal/mediacache"
	"videoxt/internal/reconcile"
	"videoxt/internal/subsets"
	"videoxt/internal/table"
)

// RequestIDHeader carries the correlation id of every API request.
const RequestIDHeader = "X-Request-ID"

// FrameTimestampHeader carries the timestamp of the frame actually served.
const FrameTimestampHeader = "X-Frame-Timestamp"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Source names one camera of one dataset.
type Source struct {
	Dataset string `json:"dataset"`
	Camera  string `json:"camera"`
}

// AnnotationRef names one annotation table.
type AnnotationRef struct {
	Dataset string `json:"dataset"`
	Camera  string `json:"camera"`
	Kind    string `json:"kind"`
}

func (r AnnotationRef) key() mediacache.AnnotationKey {
	return mediacache.AnnotationKey{Dataset: r.Dataset, Camera: r.Camera, Kind: r.Kind}
}

// RefFromKey converts an internal key.
func RefFromKey(k mediacache.AnnotationKey) AnnotationRef {
	return AnnotationRef{Dataset: k.Dataset, Camera: k.Camera, Kind: k.Kind}
}

// SeriesData is a projected series: x holds the timestamps, columns holds
// each requested column in the same row order.
type SeriesData struct {
	X       []any            `json:"x"`
	Columns map[string][]any `json:"columns"`
}

// Frame is an encoded frame image.
type Frame struct {
	JPEG      []byte  `json:"-"`
	Timestamp float64 `json:"timestamp"`
}

// StageRequest is the body of a stage call.
type StageRequest struct {
	Timestamp *float64       `json:"timestamp"`
	Records   []table.Record `json:"records"`
}

// StageResponse reports the batches pending for the key after staging.
type StageResponse struct {
	Key     AnnotationRef `json:"key"`
	Pending int           `json:"pending"`
}

// PendingKey is a key with staged batches.
type PendingKey struct {
	Key     AnnotationRef `json:"key"`
	Batches int           `json:"batches"`
}

// ReconcileResponse carries the result of one reconciliation.
type ReconcileResponse struct {
	Key     AnnotationRef `json:"key"`
	Kept    int           `json:"kept"`
	Created int           `json:"created"`
}

// SubsetOutcome is one key of a subset-wide reconciliation.
type SubsetOutcome struct {
	Key     AnnotationRef `json:"key"`
	Kept    int           `json:"kept"`
	Created int           `json:"created"`
	Skipped bool          `json:"skipped"`
	Error   string        `json:"error,omitempty"`
}

// FromOutcomes converts reconcile outcomes.
func FromOutcomes(outcomes []reconcile.Outcome) []SubsetOutcome {
	out := make([]SubsetOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, SubsetOutcome{
			Key:     RefFromKey(o.Key),
			Kept:    o.Result.Kept,
			Created: o.Result.Created,
			Skipped: o.Skipped,
			Error:   o.Error(),
		})
	}
	return out
}

// SubsetSummary describes a stored subset.
type SubsetSummary struct {
	Name      string `json:"name"`
	Entries   int    `json:"entries"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// FromSubsetSummaries converts stored subset summaries.
func FromSubsetSummaries(in []subsets.Summary) []SubsetSummary {
	out := make([]SubsetSummary, 0, len(in))
	for _, s := range in {
		sum := SubsetSummary{Name: s.Name, Entries: s.Entries}
		if !s.UpdatedAt.IsZero() {
			sum.UpdatedAt = s.UpdatedAt.Format(dateTimeFormat)
		}
		out = append(out, sum)
	}
	return out
}

// Status summarizes the running daemon.
type Status struct {
	StartedAt   string           `json:"startedAt"`
	Uptime      string           `json:"uptime"`
	MediaDir    string           `json:"mediaDir"`
	StagingDir  string           `json:"stagingDir"`
	SubsetDB    string           `json:"subsetDb"`
	PendingKeys int              `json:"pendingKeys"`
	Caches      []lrucache.Stats `json:"caches"`
	PID         int              `json:"pid,omitempty"`
	LockFile    string           `json:"lockFile,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// SubsetRequest is the body of a subset save call.
type SubsetRequest struct {
	Entries []subsets.Entry `json:"entries"`
}

// SubsetResponse returns the entries of one subset.
type SubsetResponse struct {
	Name    string          `json:"name"`
	Entries []subsets.Entry `json:"entries"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
