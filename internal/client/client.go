package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"videoxt/internal/api"
	"videoxt/internal/logs"
	"videoxt/internal/mediacache"
	"videoxt/internal/services"
	"videoxt/internal/staging"
	"videoxt/internal/subsets"
	"videoxt/internal/table"
	"videoxt/internal/textutil"
)

// HTTPDoer describes the HTTP client used to reach the daemon.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the videoxt daemon API.
type Client struct {
	baseURL string
	http    HTTPDoer
}

// New returns a client for the daemon at baseURL. A nil doer uses an
// http.Client with a 60 second timeout.
func New(baseURL string, doer HTTPDoer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    doer,
	}
}

// BaseURL returns the daemon address the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// Health returns nil when the daemon answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out map[string]string
	return c.getJSON(ctx, "/api/health", nil, &out)
}

// Status returns daemon status and cache statistics.
func (c *Client) Status(ctx context.Context) (api.Status, error) {
	var out api.Status
	err := c.getJSON(ctx, "/api/status", nil, &out)
	return out, err
}

// Logs reads the daemon log. A negative offset returns the last limit lines;
// wait holds the request open until new lines arrive.
func (c *Client) Logs(ctx context.Context, q logs.Query) (logs.Chunk, error) {
	query := url.Values{}
	query.Set("offset", strconv.FormatInt(q.Offset, 10))
	query.Set("limit", strconv.Itoa(q.Limit))
	if q.Wait > 0 {
		query.Set("wait_ms", strconv.FormatInt(q.Wait.Milliseconds(), 10))
	}
	var out logs.Chunk
	err := c.getJSON(ctx, "/api/logs", query, &out)
	return out, err
}

// Datasets maps dataset names to their cameras.
func (c *Client) Datasets(ctx context.Context) (map[string][]string, error) {
	var out map[string][]string
	err := c.getJSON(ctx, "/api/datasets", nil, &out)
	return out, err
}

// Timestamps returns the frame timestamps of a camera.
func (c *Client) Timestamps(ctx context.Context, dataset, camera string) ([]float64, error) {
	var out []float64
	err := c.getJSON(ctx, sourcePath(dataset, camera, "timestamps"), nil, &out)
	return out, err
}

// SeriesOptions lists the series of a camera.
func (c *Client) SeriesOptions(ctx context.Context, dataset, camera string) ([]string, error) {
	var out []string
	err := c.getJSON(ctx, sourcePath(dataset, camera, "series"), nil, &out)
	return out, err
}

// SeriesColumns lists the columns of a series.
func (c *Client) SeriesColumns(ctx context.Context, dataset, camera, name string) ([]string, error) {
	var out []string
	err := c.getJSON(ctx, sourcePath(dataset, camera, "series", name, "columns"), nil, &out)
	return out, err
}

// SeriesData returns a projected series.
func (c *Client) SeriesData(ctx context.Context, dataset, camera, name string, columns ...string) (api.SeriesData, error) {
	var query url.Values
	if len(columns) > 0 {
		query = url.Values{"columns": {strings.Join(columns, ",")}}
	}
	var out api.SeriesData
	err := c.getJSON(ctx, sourcePath(dataset, camera, "series", name), query, &out)
	return out, err
}

// SeriesAt returns the series rows at ts.
func (c *Client) SeriesAt(ctx context.Context, dataset, camera, name string, ts float64, nearest bool) ([]table.Record, error) {
	query := url.Values{}
	if nearest {
		query.Set("nearest", "true")
	}
	var out []table.Record
	err := c.getJSON(ctx, sourcePath(dataset, camera, "series", name, "at", textutil.FormatTimestamp(ts)), query, &out)
	return out, err
}

// AnnotationOptions lists the annotation kinds of a camera.
func (c *Client) AnnotationOptions(ctx context.Context, dataset, camera string) ([]string, error) {
	var out []string
	err := c.getJSON(ctx, sourcePath(dataset, camera, "annotations"), nil, &out)
	return out, err
}

// Annotations returns a canonical annotation table.
func (c *Client) Annotations(ctx context.Context, ref api.AnnotationRef) (*table.Table, error) {
	out := table.Empty()
	err := c.getJSON(ctx, refPath(ref), nil, out)
	return out, err
}

// AnnotationAt returns the canonical annotation rows at ts.
func (c *Client) AnnotationAt(ctx context.Context, ref api.AnnotationRef, ts float64) ([]table.Record, error) {
	var out []table.Record
	err := c.getJSON(ctx, refPath(ref, "at", textutil.FormatTimestamp(ts)), nil, &out)
	return out, err
}

// Frame fetches the JPEG frame nearest ts.
func (c *Client) Frame(ctx context.Context, dataset, camera string, ts float64) (api.Frame, error) {
	resp, err := c.do(ctx, http.MethodGet, framePath(dataset, camera, textutil.FormatTimestamp(ts)), nil, nil)
	if err != nil {
		return api.Frame{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return api.Frame{}, fmt.Errorf("read frame: %w", err)
	}
	served, err := textutil.ParseTimestamp(resp.Header.Get(api.FrameTimestampHeader))
	if err != nil {
		served = ts
	}
	return api.Frame{JPEG: data, Timestamp: served}, nil
}

// FrameSize returns the frame dimensions of a camera.
func (c *Client) FrameSize(ctx context.Context, dataset, camera string) (mediacache.Size, error) {
	var out mediacache.Size
	err := c.getJSON(ctx, framePath(dataset, camera, "size"), nil, &out)
	return out, err
}

// Stage stages the records proposed for one timestamp.
func (c *Client) Stage(ctx context.Context, ref api.AnnotationRef, ts float64, records []table.Record) (api.StageResponse, error) {
	if records == nil {
		records = []table.Record{}
	}
	var out api.StageResponse
	err := c.sendJSON(ctx, http.MethodPost, refPath(ref, "stage"), api.StageRequest{Timestamp: &ts, Records: records}, &out)
	return out, err
}

// Staged lists the batches pending for one key.
func (c *Client) Staged(ctx context.Context, ref api.AnnotationRef) ([]staging.Batch, error) {
	var out []staging.Batch
	err := c.getJSON(ctx, refPath(ref, "staged"), nil, &out)
	return out, err
}

// Pending lists every key with staged batches.
func (c *Client) Pending(ctx context.Context) ([]api.PendingKey, error) {
	var out []api.PendingKey
	err := c.getJSON(ctx, "/api/pending", nil, &out)
	return out, err
}

// Reconcile commits the staged batches of one key.
func (c *Client) Reconcile(ctx context.Context, ref api.AnnotationRef) (api.ReconcileResponse, error) {
	var out api.ReconcileResponse
	err := c.sendJSON(ctx, http.MethodPost, refPath(ref, "reconcile"), nil, &out)
	return out, err
}

// Subsets lists stored subsets.
func (c *Client) Subsets(ctx context.Context) ([]api.SubsetSummary, error) {
	var out []api.SubsetSummary
	err := c.getJSON(ctx, "/api/subsets", nil, &out)
	return out, err
}

// Subset returns the entries of one subset.
func (c *Client) Subset(ctx context.Context, name string) ([]subsets.Entry, error) {
	var out api.SubsetResponse
	err := c.getJSON(ctx, subsetPath(name), nil, &out)
	return out.Entries, err
}

// SaveSubset stores a subset, replacing previous content.
func (c *Client) SaveSubset(ctx context.Context, name string, entries []subsets.Entry) error {
	if entries == nil {
		entries = []subsets.Entry{}
	}
	var out api.SubsetResponse
	return c.sendJSON(ctx, http.MethodPut, subsetPath(name), api.SubsetRequest{Entries: entries}, &out)
}

// DeleteSubset removes a subset.
func (c *Client) DeleteSubset(ctx context.Context, name string) error {
	return c.sendJSON(ctx, http.MethodDelete, subsetPath(name), nil, nil)
}

// ReconcileSubset reconciles every entry of a subset.
func (c *Client) ReconcileSubset(ctx context.Context, name string) ([]api.SubsetOutcome, error) {
	var out []api.SubsetOutcome
	err := c.sendJSON(ctx, http.MethodPost, subsetPath(name, "reconcile"), nil, &out)
	return out, err
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeBody(resp, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	resp, err := c.do(ctx, method, path, nil, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return decodeBody(resp, out)
}

// do issues a request and converts non-2xx responses into errors carrying
// the matching services marker.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact daemon at %s: %w", c.baseURL, err)
	}
	if resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, responseError(resp)
}

func decodeBody(resp *http.Response, out any) error {
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func responseError(resp *http.Response) error {
	var payload api.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(data))
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
	}
	message := fmt.Sprintf("daemon returned %d: %s", resp.StatusCode, payload.Error)
	if id := resp.Header.Get(api.RequestIDHeader); id != "" {
		message += " (request " + id + ")"
	}
	return &StatusError{Code: resp.StatusCode, Message: message, marker: markerForStatus(resp.StatusCode)}
}

// StatusError is a non-2xx daemon response.
type StatusError struct {
	Code    int
	Message string
	marker  error
}

func (e *StatusError) Error() string { return e.Message }

// Unwrap exposes the services marker matching the status code, so callers
// can use errors.Is with services.ErrNotFound and friends.
func (e *StatusError) Unwrap() error { return e.marker }

func markerForStatus(code int) error {
	switch code {
	case http.StatusNotFound:
		return services.ErrNotFound
	case http.StatusBadRequest:
		return services.ErrInvalidInput
	case http.StatusConflict:
		return services.ErrConflict
	default:
		return nil
	}
}

func sourcePath(dataset, camera string, rest ...string) string {
	parts := append([]string{"api", "datasets", dataset, textutil.EscapeSegment(camera)}, rest...)
	return joinPath(parts)
}

func refPath(ref api.AnnotationRef, rest ...string) string {
	return sourcePath(ref.Dataset, ref.Camera, append([]string{"annotations", ref.Kind}, rest...)...)
}

func framePath(dataset, camera, last string) string {
	return joinPath([]string{"api", "frames", dataset, textutil.EscapeSegment(camera), last})
}

func subsetPath(name string, rest ...string) string {
	return joinPath(append([]string{"api", "subsets", name}, rest...))
}

func joinPath(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	var statusErr *StatusError
	if err == nil || errors.As(err, &statusErr) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
