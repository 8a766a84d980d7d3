package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sciserver-casjobs/internal/auth"
	"sciserver-casjobs/internal/casjobs"
	"sciserver-casjobs/internal/config"
	"sciserver-casjobs/internal/models"
	"sciserver-casjobs/internal/ratelimit"
	"sciserver-casjobs/internal/store"
	"sciserver-casjobs/internal/telemetry"
)

// Tracker hands submitted jobs to the watcher.
type Tracker interface {
	Track(ctx context.Context, job models.TrackedJob) error
}

// AuditStore reads the job ledger and appends audit rows.
type AuditStore interface {
	GetJob(ctx context.Context, jobID int64) (models.TrackedJob, error)
	AppendAudit(ctx context.Context, jobID int64, event, detail string) error
	AuditTrail(ctx context.Context, jobID int64) ([]models.AuditLog, error)
}

// Limiter rations job submissions per subject.
type Limiter interface {
	Allow(ctx context.Context, subject string) (bool, float64, error)
}

// Server wires HTTP handlers that forward to CasJobs with the caller's token.
type Server struct {
	cfg     config.Config
	client  *casjobs.Client
	tracker Tracker
	audit   AuditStore
	limiter Limiter
	logger  *slog.Logger
}

// New constructs the gateway. tracker, audit and limiter may be nil.
func New(cfg config.Config, client *casjobs.Client, tracker Tracker, audit AuditStore, limiter Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		client:  client,
		tracker: tracker,
		audit:   audit,
		limiter: limiter,
		logger:  logger,
	}
}

type ctxKey int

const (
	tokenKey ctxKey = iota
	requestIDKey
)

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireToken)
		r.Post("/contexts/{context}/query", s.handleQuery)
		r.Post("/contexts/{context}/batch", s.handleBatch)
		r.Put("/contexts/{context}/jobs", s.handleSubmit)
		r.Get("/contexts/{context}/tables", s.handleTables)
		r.Post("/contexts/{context}/tables/{table}", s.handleUpload)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Get("/jobs/{id}/audit", s.handleAudit)
		r.Delete("/jobs/{id}", s.handleCancel)
		r.Get("/schema", s.handleSchema)
	})
	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		started := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
		s.logger.Debug("gateway request", "request_id", id, "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(started))
	})
}

func requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			http.Error(w, casjobs.ErrNotLoggedIn.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenKey, token)))
	})
}

func callerToken(r *http.Request) string {
	token, _ := r.Context().Value(tokenKey).(string)
	return token
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

// clientFor returns a client that authenticates as the caller.
func (s *Server) clientFor(r *http.Request) *casjobs.Client {
	return s.client.WithToken(auth.Static(callerToken(r)))
}

type queryRequest struct {
	Query    string `json:"query"`
	TaskName string `json:"task_name"`
}

func (q queryRequest) callOptions() []casjobs.CallOption {
	if q.TaskName == "" {
		return nil
	}
	return []casjobs.CallOption{casjobs.WithTaskName(q.TaskName)}
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return req, false
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

type tableResponse struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = "json"
	}
	if len(s.cfg.AllowedFormats) > 0 && !slices.Contains(s.cfg.AllowedFormats, name) {
		http.Error(w, fmt.Sprintf("format %q is not enabled on this gateway", name), http.StatusBadRequest)
		return
	}
	format, err := casjobs.ParseFormat(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	out, err := s.clientFor(r).ExecuteQuery(r.Context(), chi.URLParam(r, "context"), req.Query, format, req.callOptions()...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch format {
	case casjobs.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, out.Text)
	case casjobs.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		_, _ = io.WriteString(w, out.Text)
	case casjobs.FormatReadable, casjobs.FormatFITS:
		ctype := "text/plain"
		if format == casjobs.FormatFITS {
			ctype = "application/fits"
		}
		w.Header().Set("Content-Type", ctype)
		_, _ = io.Copy(w, out.Stream)
	case casjobs.FormatMap:
		writeJSON(w, http.StatusOK, out.Map)
	case casjobs.FormatTable:
		tables := make([]tableResponse, 0, len(out.Tables))
		for _, t := range out.Tables {
			tables = append(tables, tableResponse{Columns: t.Columns, Rows: t.Rows})
		}
		writeJSON(w, http.StatusOK, tables)
	}
}

type batchRequest struct {
	Queries  []string `json:"queries"`
	TaskName string   `json:"task_name"`
	Combine  bool     `json:"combine"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.Queries) == 0 {
		http.Error(w, "queries are required", http.StatusBadRequest)
		return
	}
	var opts []casjobs.CallOption
	if req.TaskName != "" {
		opts = append(opts, casjobs.WithTaskName(req.TaskName))
	}

	client := s.clientFor(r)
	dbContext := chi.URLParam(r, "context")
	if req.Combine {
		t, err := client.ExecuteBatchTable(r.Context(), dbContext, req.Queries, opts...)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tableResponse{Columns: t.Columns, Rows: t.Rows})
		return
	}
	results, err := client.ExecuteBatch(r.Context(), dbContext, req.Queries, opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type submitResponse struct {
	JobID   int64  `json:"job_id"`
	Tracked bool   `json:"tracked"`
	Request string `json:"request_id"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), ratelimit.Subject(callerToken(r)))
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	client := s.clientFor(r)
	dbContext := chi.URLParam(r, "context")
	id, err := client.SubmitJob(r.Context(), dbContext, req.Query, req.callOptions()...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := submitResponse{JobID: id, Request: requestIDFrom(r)}
	if s.tracker != nil {
		taskName := req.TaskName
		if taskName == "" {
			taskName = client.TaskName("SubmitJob")
		}
		err := s.tracker.Track(r.Context(), models.TrackedJob{
			JobID:       id,
			Context:     dbContext,
			Query:       req.Query,
			TaskName:    taskName,
			Status:      models.StatusReady,
			SubmittedAt: time.Now().UTC(),
		})
		if err != nil {
			// The job exists upstream, so report it even when tracking fails.
			s.logger.Warn("track job failed", "job_id", id, "request_id", resp.Request, "err", err)
		} else {
			resp.Tracked = true
		}
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func jobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	desc, err := s.clientFor(r).GetJobStatus(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	descs, err := s.clientFor(r).ListJobStatuses(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, descs)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	if err := s.clientFor(r).CancelJob(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.audit != nil {
		_ = s.audit.AppendAudit(r.Context(), id, "cancel_requested", "request_id="+requestIDFrom(r))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancel requested"})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	if s.audit == nil {
		http.Error(w, "job ledger is not configured", http.StatusNotFound)
		return
	}
	// Only callers who can see the job upstream may read its trail.
	if _, err := s.clientFor(r).GetJobStatus(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	payload := map[string]any{}
	job, err := s.audit.GetJob(r.Context(), id)
	switch {
	case err == nil:
		payload["job"] = job
	case !errors.Is(err, store.ErrNotFound):
		http.Error(w, "failed to read job ledger", http.StatusInternalServerError)
		return
	}
	trail, err := s.audit.AuditTrail(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to read audit trail", http.StatusInternalServerError)
		return
	}
	payload["items"] = trail
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.clientFor(r).GetTables(r.Context(), chi.URLParam(r, "context"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "csv body is required", http.StatusBadRequest)
		return
	}
	table := chi.URLParam(r, "table")
	if err := s.clientFor(r).UploadCSV(r.Context(), chi.URLParam(r, "context"), table, data); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"table": table})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	name, err := s.clientFor(r).GetSchemaName(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"schema": name})
}

// writeError maps client errors to gateway responses. Upstream HTTP failures keep
// their status code.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var httpErr *casjobs.HTTPError
	var formatErr *casjobs.FormatError
	var mismatch *casjobs.SchemaMismatchError
	switch {
	case errors.As(err, &httpErr):
		http.Error(w, err.Error(), httpErr.StatusCode)
	case errors.Is(err, casjobs.ErrNotLoggedIn):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.As(err, &formatErr), errors.As(err, &mismatch):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.Canceled):
		http.Error(w, "request canceled", http.StatusRequestTimeout)
	default:
		s.logger.Error("casjobs call failed", "request_id", requestIDFrom(r), "err", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
