package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"videoxt/internal/api"
	"videoxt/internal/logging"
	"videoxt/internal/logs"
	"videoxt/internal/services"
	"videoxt/internal/textutil"
)

const (
	maxBodyBytes = 8 << 20
	maxLogWait   = 30 * time.Second
	defaultLogN  = 200
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	svc    *api.Service

	// logPath is the daemon log file served by /api/logs.
	logPath string

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind string, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(bind),
		logger: logger,
		daemon: d,
		svc:    d.svc,
	}
	if d.cfg != nil {
		srv.logPath = d.cfg.LogPath()
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/logs", s.handleLogs)

	mux.HandleFunc("GET /api/datasets", s.handleDatasets)
	mux.HandleFunc("GET /api/datasets/{dataset}/{camera}/timestamps", s.handleTimestamps)
	mux.HandleFunc("GET /api/datasets/{dataset}/{camera}/series", s.handleSeriesOptions)
	mux.HandleFunc("GET /api/datasets/{dataset}/{camera}/series/{name}", s.handleSeriesData)
	mux.HandleFunc("GET /api/datasets/{dataset}/{camera}/series/{name}/columns", s.handleSeriesColumns)
	mux.HandleFunc("GET /api/datasets/{dataset}/{camera}/series/{name}/at/{ts}", s.handleSeriesAt)
	mux.HandleFunc("GET /api/datasets/{dataset}/{camera}/annotations", s.handleAnnotationOptions)
	mux.HandleFunc("GET /api/datasets/{dataset}/{camera}/annotations/{kind}", s.handleAnnotations)
	mux.HandleFunc("GET /api/datasets/{dataset}/{camera}/annotations/{kind}/at/{ts}", s.handleAnnotationAt)
	mux.HandleFunc("POST /api/datasets/{dataset}/{camera}/annotations/{kind}/stage", s.handleStage)
	mux.HandleFunc("GET /api/datasets/{dataset}/{camera}/annotations/{kind}/staged", s.handleStaged)
	mux.HandleFunc("POST /api/datasets/{dataset}/{camera}/annotations/{kind}/reconcile", s.handleReconcile)

	mux.HandleFunc("GET /api/frames/{dataset}/{camera}/size", s.handleFrameSize)
	mux.HandleFunc("GET /api/frames/{dataset}/{camera}/{ts}", s.handleFrame)

	mux.HandleFunc("GET /api/pending", s.handlePending)

	mux.HandleFunc("GET /api/subsets", s.handleSubsets)
	mux.HandleFunc("GET /api/subsets/{name}", s.handleSubsetLoad)
	mux.HandleFunc("PUT /api/subsets/{name}", s.handleSubsetSave)
	mux.HandleFunc("DELETE /api/subsets/{name}", s.handleSubsetDelete)
	mux.HandleFunc("POST /api/subsets/{name}/reconcile", s.handleSubsetReconcile)

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "unknown endpoint")
	})
	return s.withRequestID(mux)
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequestID tags every request with a correlation id, honoring one sent
// by the caller.
func (s *apiServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(api.RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(api.RequestIDHeader, id)
		ctx := services.WithRequestID(r.Context(), id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		logging.WithContext(ctx, s.log()).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", rec.status),
			logging.Duration("elapsed", time.Since(started)),
		)
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleLogs serves the daemon log by offset. Without an offset it returns the
// last lines; wait_ms holds the request open until new lines arrive.
func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := logs.Query{Offset: -1, Limit: defaultLogN}
	values := r.URL.Query()
	if raw := values.Get("offset"); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid offset %q", raw))
			return
		}
		q.Offset = offset
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		q.Limit = limit
	}
	if raw := values.Get("wait_ms"); raw != "" {
		millis, err := strconv.Atoi(raw)
		if err != nil || millis < 0 {
			s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid wait_ms %q", raw))
			return
		}
		q.Wait = min(time.Duration(millis)*time.Millisecond, maxLogWait)
	}
	chunk, err := logs.Tail(r.Context(), s.logPath, q)
	if err != nil && r.Context().Err() == nil {
		s.writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: err.Error(), Kind: string(services.KindInternal)})
		return
	}
	s.writeJSON(w, http.StatusOK, chunk)
}

func (s *apiServer) handleDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.svc.Datasets(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, datasets)
}

func (s *apiServer) handleTimestamps(w http.ResponseWriter, r *http.Request) {
	ds, cam := sourceFromPath(r)
	ts, err := s.svc.Timestamps(r.Context(), ds, cam)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ts)
}

func (s *apiServer) handleSeriesOptions(w http.ResponseWriter, r *http.Request) {
	ds, cam := sourceFromPath(r)
	names, err := s.svc.SeriesOptions(r.Context(), ds, cam)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, names)
}

func (s *apiServer) handleSeriesColumns(w http.ResponseWriter, r *http.Request) {
	ds, cam := sourceFromPath(r)
	cols, err := s.svc.SeriesColumns(r.Context(), ds, cam, r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, cols)
}

func (s *apiServer) handleSeriesData(w http.ResponseWriter, r *http.Request) {
	ds, cam := sourceFromPath(r)
	data, err := s.svc.SeriesData(r.Context(), ds, cam, r.PathValue("name"), queryList(r, "columns")...)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, data)
}

func (s *apiServer) handleSeriesAt(w http.ResponseWriter, r *http.Request) {
	ds, cam := sourceFromPath(r)
	ts, err := timestampFromPath(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	nearest, _ := strconv.ParseBool(r.URL.Query().Get("nearest"))
	rows, err := s.svc.SeriesAt(r.Context(), ds, cam, r.PathValue("name"), ts, nearest)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *apiServer) handleAnnotationOptions(w http.ResponseWriter, r *http.Request) {
	ds, cam := sourceFromPath(r)
	kinds, err := s.svc.AnnotationOptions(r.Context(), ds, cam)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, kinds)
}

func (s *apiServer) handleAnnotations(w http.ResponseWriter, r *http.Request) {
	tbl, err := s.svc.Annotations(r.Context(), refFromPath(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tbl)
}

func (s *apiServer) handleAnnotationAt(w http.ResponseWriter, r *http.Request) {
	ts, err := timestampFromPath(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	rows, err := s.svc.AnnotationAt(r.Context(), refFromPath(r), ts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *apiServer) handleStage(w http.ResponseWriter, r *http.Request) {
	var req api.StageRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if req.Timestamp == nil {
		s.writeError(w, r, http.StatusBadRequest, "timestamp is required")
		return
	}
	resp, err := s.svc.StageEdit(r.Context(), refFromPath(r), *req.Timestamp, req.Records)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleStaged(w http.ResponseWriter, r *http.Request) {
	batches, err := s.svc.StagedEdits(r.Context(), refFromPath(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, batches)
}

func (s *apiServer) handleReconcile(w http.ResponseWriter, r *http.Request) {
	resp, err := s.svc.Reconcile(r.Context(), refFromPath(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	ds, cam := sourceFromPath(r)
	ts, err := timestampFromPath(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	frame, err := s.svc.FrameJPEG(r.Context(), ds, cam, ts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame.JPEG)))
	w.Header().Set(api.FrameTimestampHeader, textutil.FormatTimestamp(frame.Timestamp))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(frame.JPEG); err != nil {
		s.log().Debug("frame write failed", logging.Error(err))
	}
}

func (s *apiServer) handleFrameSize(w http.ResponseWriter, r *http.Request) {
	ds, cam := sourceFromPath(r)
	size, err := s.svc.FrameSize(r.Context(), ds, cam)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, size)
}

func (s *apiServer) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.svc.PendingEdits(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pending)
}

func (s *apiServer) handleSubsets(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.ListSubsets(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *apiServer) handleSubsetLoad(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	entries, err := s.svc.LoadSubset(r.Context(), name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SubsetResponse{Name: name, Entries: entries})
}

func (s *apiServer) handleSubsetSave(w http.ResponseWriter, r *http.Request) {
	var req api.SubsetRequest
	if err := s.decodeBody(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	name := r.PathValue("name")
	if err := s.svc.SaveSubset(r.Context(), name, req.Entries); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SubsetResponse{Name: name, Entries: req.Entries})
}

func (s *apiServer) handleSubsetDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteSubset(r.Context(), r.PathValue("name")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleSubsetReconcile(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.svc.ReconcileSubset(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, outcomes)
}

// sourceFromPath reads the dataset and camera segments. Cameras arrive with
// "/" escaped as "___".
func sourceFromPath(r *http.Request) (string, string) {
	return r.PathValue("dataset"), textutil.UnescapeSegment(r.PathValue("camera"))
}

func refFromPath(r *http.Request) api.AnnotationRef {
	ds, cam := sourceFromPath(r)
	return api.AnnotationRef{Dataset: ds, Camera: cam, Kind: r.PathValue("kind")}
}

func timestampFromPath(r *http.Request) (float64, error) {
	raw := r.PathValue("ts")
	ts, err := textutil.ParseTimestamp(raw)
	if err != nil {
		return 0, services.Wrap(services.ErrInvalidInput, "api", "parse timestamp", fmt.Sprintf("invalid timestamp %q", raw), err)
	}
	return ts, nil
}

// queryList accepts both repeated and comma separated values.
func queryList(r *http.Request, name string) []string {
	var out []string
	for _, value := range r.URL.Query()[name] {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func (s *apiServer) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return services.Wrap(services.ErrInvalidInput, "api", "decode body", "malformed request body", err)
	}
	return nil
}

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch services.Classify(err) {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindInvalidInput:
		return http.StatusBadRequest
	case services.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.log()), "api request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the media tree and daemon log"),
		)
	}
	s.writeJSON(w, status, api.ErrorResponse{Error: err.Error(), Kind: string(services.Classify(err))})
}

// writeJSON encodes payload before committing status, so a payload that
// cannot be encoded turns into a 500 instead of an empty success.
func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		logging.ErrorWithContext(s.log(), "failed to encode response", "api_encode_failed",
			logging.Error(err),
			logging.Int("status", status),
		)
		body, _ = json.Marshal(api.ErrorResponse{Error: "encode response: " + err.Error(), Kind: string(services.KindInternal)})
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func (s *apiServer) writeError(w http.ResponseWriter, _ *http.Request, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
