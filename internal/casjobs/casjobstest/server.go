// Package casjobstest runs an in-memory CasJobs REST service for tests.
package casjobstest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"sciserver-casjobs/internal/models"
)

// ResultSet is one Columns/Data block returned for a query.
type ResultSet struct {
	Columns []string `json:"Columns"`
	Data    [][]any  `json:"Data"`
}

// Request is a recorded incoming call.
type Request struct {
	Method   string
	Path     string
	TaskName string
	Header   http.Header
	Body     []byte
}

// Failure makes matching calls answer with Status and Body.
type Failure struct {
	Status int
	Body   string
}

type job struct {
	id      int64
	context string
	query   string
	task    string
	script  []models.JobStatus
	step    int
}

// Server is a fake CasJobs service. Zero-value maps are created by NewServer.
type Server struct {
	*httptest.Server

	Token         string
	WebServicesID int64
	// JobScript is the status sequence each new job reports, one entry per poll.
	// The last entry repeats once reached.
	JobScript []models.JobStatus

	mu       sync.Mutex
	requests []Request
	results  map[string][]ResultSet
	delays   map[string]time.Duration
	failures map[string]Failure
	failAll  *Failure
	jobs     map[int64]*job
	nextID   int64
	tables   map[string][]byte
}

// NewServer starts a fake service that accepts token.
func NewServer(token string) *Server {
	s := &Server{
		Token:         token,
		WebServicesID: 1234567,
		JobScript:     []models.JobStatus{models.StatusFinished},
		results:       map[string][]ResultSet{},
		delays:        map[string]time.Duration{},
		failures:      map[string]Failure{},
		jobs:          map[int64]*job{},
		nextID:        1000,
		tables:        map[string][]byte{},
	}
	s.Server = httptest.NewServer(s.router())
	return s
}

// RESTURI is the REST root to configure clients with.
func (s *Server) RESTURI() string {
	return s.Server.URL + "/RestApi"
}

// SetResult defines the reply to sql.
func (s *Server) SetResult(sql string, sets ...ResultSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[sql] = sets
}

// Delay holds the reply to sql for d.
func (s *Server) Delay(sql string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[sql] = d
}

// FailQuery makes queries for sql fail.
func (s *Server) FailQuery(sql string, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[sql] = f
}

// FailAll makes every authenticated call fail.
func (s *Server) FailAll(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = &f
}

// Requests returns a copy of the recorded calls.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Uploaded returns the CSV body uploaded to context/table.
func (s *Server) Uploaded(context, table string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.tables[context+"."+table]
	return b, ok
}

// JobQuery returns the SQL a job was submitted with.
func (s *Server) JobQuery(id int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return "", false
	}
	return j.query, true
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Route("/RestApi", func(r chi.Router) {
		r.Use(s.record, s.authenticate)
		r.Get("/users/{user}", s.handleUser)
		r.Get("/contexts/{context}/Tables", s.handleTables)
		r.Post("/contexts/{context}/Tables/{table}", s.handleUpload)
		r.Post("/contexts/{context}/query", s.handleQuery)
		r.Put("/contexts/{context}/jobs", s.handleSubmit)
		r.Get("/jobs/", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleJobStatus)
		r.Delete("/jobs/{id}", s.handleCancel)
	})
	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:   r.Method,
			Path:     r.URL.Path,
			TaskName: r.URL.Query().Get("TaskName"),
			Header:   r.Header.Clone(),
			Body:     body,
		})
		s.mu.Unlock()
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth-Token") != s.Token {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		f := s.failAll
		s.mu.Unlock()
		if f != nil {
			w.WriteHeader(f.Status)
			_, _ = io.WriteString(w, f.Body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleUser(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"WebServicesId": s.WebServicesID})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	ctxName := chi.URLParam(r, "context")
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []map[string]any{}
	prefix := ctxName + "."
	for key, data := range s.tables {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, map[string]any{"Name": key[len(prefix):], "Rows": countLines(data) - 1, "Size": len(data), "Date": 1700000000})
		}
	}
	writeJSON(w, out)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.tables[chi.URLParam(r, "context")+"."+chi.URLParam(r, "table")] = body
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

type queryRequest struct {
	Query    string `json:"Query"`
	TaskName string `json:"TaskName"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	sets, ok := s.results[req.Query]
	delay := s.delays[req.Query]
	failure, failed := s.failures[req.Query]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if failed {
		w.WriteHeader(failure.Status)
		_, _ = io.WriteString(w, failure.Body)
		return
	}
	if !ok {
		sets = []ResultSet{{Columns: []string{"Column1"}, Data: [][]any{{req.Query}}}}
	}

	switch r.Header.Get("Accept") {
	case "application/json+array":
		writeJSON(w, map[string]any{"Result": sets})
	case "text/plain":
		w.Header().Set("Content-Type", "text/plain")
		cw := csv.NewWriter(w)
		_ = cw.Write(sets[0].Columns)
		for _, row := range sets[0].Data {
			rec := make([]string, len(row))
			for i, v := range row {
				rec[i] = fmt.Sprint(v)
			}
			_ = cw.Write(rec)
		}
		cw.Flush()
	case "application/fits":
		w.Header().Set("Content-Type", "application/fits")
		_, _ = w.Write(FITSBytes(req.Query))
	default:
		http.Error(w, "unsupported accept header", http.StatusNotAcceptable)
	}
}

// SubmittedAt is the TimeSubmitted value reported for every job. The client does not model it.
const SubmittedAt = "2024-05-01T10:00:00"

// FITSBytes is the body the fake returns for a FITS query.
func FITSBytes(sql string) []byte {
	return []byte("SIMPLE  =                    T\x00\x01\x02" + sql)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.nextID++
	j := &job{
		id:      s.nextID,
		context: chi.URLParam(r, "context"),
		query:   req.Query,
		task:    req.TaskName,
		script:  append([]models.JobStatus(nil), s.JobScript...),
	}
	s.jobs[j.id] = j
	s.mu.Unlock()
	_, _ = io.WriteString(w, strconv.FormatInt(j.id, 10))
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	j, ok := s.jobs[id]
	var desc map[string]any
	if ok {
		desc = j.describe()
		if j.step < len(j.script)-1 {
			j.step++
		}
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, fmt.Sprintf("job %d not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, desc)
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := make([]map[string]any, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.describe())
	}
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		j.script = []models.JobStatus{models.StatusCanceled}
		j.step = 0
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, fmt.Sprintf("job %d not found", id), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (j *job) describe() map[string]any {
	status := models.StatusReady
	if len(j.script) > 0 {
		status = j.script[j.step]
	}
	return map[string]any{
		"JobID":         j.id,
		"Status":        int(status),
		"Query":         j.query,
		"Target":        j.context,
		"TaskName":      j.task,
		"Message":       status.String(),
		"TimeSubmitted": SubmittedAt,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}
