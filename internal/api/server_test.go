package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sciserver-casjobs/internal/casjobs"
	"sciserver-casjobs/internal/casjobs/casjobstest"
	"sciserver-casjobs/internal/config"
	"sciserver-casjobs/internal/models"
	"sciserver-casjobs/internal/ratelimit"
	"sciserver-casjobs/internal/store"
)

const testToken = "caller-token"

type fakeLedger struct {
	mu      sync.Mutex
	tracked []models.TrackedJob
	audit   map[int64][]string
}

func (l *fakeLedger) Track(_ context.Context, job models.TrackedJob) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracked = append(l.tracked, job)
	return nil
}

func (l *fakeLedger) GetJob(_ context.Context, jobID int64) (models.TrackedJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, j := range l.tracked {
		if j.JobID == jobID {
			return j, nil
		}
	}
	return models.TrackedJob{}, store.ErrNotFound
}

func (l *fakeLedger) AppendAudit(_ context.Context, jobID int64, event, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.audit == nil {
		l.audit = map[int64][]string{}
	}
	l.audit[jobID] = append(l.audit[jobID], event)
	return nil
}

func (l *fakeLedger) AuditTrail(_ context.Context, jobID int64) ([]models.AuditLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.AuditLog
	for _, e := range l.audit[jobID] {
		out = append(out, models.AuditLog{JobID: jobID, Event: e, Recorded: time.Unix(0, 0)})
	}
	return out, nil
}

type gateway struct {
	http     *httptest.Server
	upstream *casjobstest.Server
	ledger   *fakeLedger
}

func newGateway(t *testing.T, capacity int) *gateway {
	t.Helper()
	t.Setenv("SCISERVER_TOKEN", "")
	upstream := casjobstest.NewServer(testToken)
	t.Cleanup(upstream.Close)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	limiter := ratelimit.NewTokenBucket(redis.NewClient(&redis.Options{Addr: mr.Addr()}), capacity, 0.001, time.Minute)

	cfg := config.Config{RESTURI: upstream.RESTURI(), AllowedFormats: []string{"json", "csv", "dict", "fits", "pandas"}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// The gateway's own token is never used: every call carries the caller's.
	client, err := casjobs.New(cfg, casjobs.WithLogger(logger))
	require.NoError(t, err)

	ledger := &fakeLedger{}
	srv := httptest.NewServer(New(cfg, client, ledger, ledger, limiter, logger).Router())
	t.Cleanup(srv.Close)
	return &gateway{http: srv, upstream: upstream, ledger: ledger}
}

func (g *gateway) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, g.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestHealthzNeedsNoToken(t *testing.T) {
	g := newGateway(t, 5)
	resp := g.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestMissingTokenIsRejected(t *testing.T) {
	g := newGateway(t, 5)
	resp := g.do(t, http.MethodPost, "/contexts/DR16/query", "", `{"query":"select 1"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, g.upstream.Requests())
}

func TestQueryForwardsCallerToken(t *testing.T) {
	g := newGateway(t, 5)
	g.upstream.SetResult("select ra from g", casjobstest.ResultSet{Columns: []string{"ra"}, Data: [][]any{{1.5}}})

	resp := g.do(t, http.MethodPost, "/contexts/DR16/query?format=csv", testToken, `{"query":"select ra from g","task_name":"notebook"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ra\n1.5\n", readBody(t, resp))

	req := g.upstream.Requests()[0]
	assert.Equal(t, testToken, req.Header.Get("X-Auth-Token"))
	assert.Equal(t, "/RestApi/contexts/DR16/query", req.Path)
	assert.Equal(t, "notebook", req.TaskName)
}

func TestQueryTableFormat(t *testing.T) {
	g := newGateway(t, 5)
	g.upstream.SetResult("select a", casjobstest.ResultSet{Columns: []string{"a"}, Data: [][]any{{7}}})

	resp := g.do(t, http.MethodPost, "/contexts/DR16/query?format=pandas", testToken, `{"query":"select a"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tables []tableResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tables))
	require.Len(t, tables, 1)
	assert.Equal(t, []string{"a"}, tables[0].Columns)
}

func TestQueryRejectsDisabledFormat(t *testing.T) {
	g := newGateway(t, 5)
	resp := g.do(t, http.MethodPost, "/contexts/DR16/query?format=readable", testToken, `{"query":"select 1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, g.upstream.Requests())
}

func TestUpstreamStatusIsKept(t *testing.T) {
	g := newGateway(t, 5)
	resp := g.do(t, http.MethodPost, "/contexts/DR16/query", "wrong-token", `{"query":"select 1"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "invalid token")
}

func TestBatchCombine(t *testing.T) {
	g := newGateway(t, 5)
	g.upstream.SetResult("q1", casjobstest.ResultSet{Columns: []string{"a"}, Data: [][]any{{1}}})
	g.upstream.SetResult("q2", casjobstest.ResultSet{Columns: []string{"a"}, Data: [][]any{{2}}})

	resp := g.do(t, http.MethodPost, "/contexts/DR16/batch", testToken, `{"queries":["q1","q2"],"combine":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var table tableResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&table))
	assert.Equal(t, [][]any{{float64(1)}, {float64(2)}}, table.Rows)
}

func TestSubmitTracksAndRateLimits(t *testing.T) {
	g := newGateway(t, 1)

	resp := g.do(t, http.MethodPut, "/contexts/MyDB/jobs", testToken, `{"query":"select 1 into mydb.t"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var sub submitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sub))
	assert.Equal(t, int64(1001), sub.JobID)
	assert.True(t, sub.Tracked)
	assert.NotEmpty(t, sub.Request)

	require.Len(t, g.ledger.tracked, 1)
	assert.Equal(t, "MyDB", g.ledger.tracked[0].Context)
	assert.Equal(t, "SciScript-Go.CasJobs.SubmitJob", g.ledger.tracked[0].TaskName)

	resp = g.do(t, http.MethodPut, "/contexts/MyDB/jobs", testToken, `{"query":"select 2 into mydb.t"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestJobStatusCancelAndAudit(t *testing.T) {
	g := newGateway(t, 5)
	g.upstream.JobScript = []models.JobStatus{models.StatusStarted}

	resp := g.do(t, http.MethodPut, "/contexts/MyDB/jobs", testToken, `{"query":"select 1"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = g.do(t, http.MethodGet, "/jobs/1001", testToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var desc models.JobDescription
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&desc))
	assert.Equal(t, models.StatusStarted, desc.Status)
	assert.Equal(t, casjobstest.SubmittedAt, desc.Raw["TimeSubmitted"])

	resp = g.do(t, http.MethodDelete, "/jobs/1001", testToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = g.do(t, http.MethodGet, "/jobs/1001/audit", testToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, "cancel_requested")
	assert.Contains(t, body, `"job_id":1001`)
	assert.Contains(t, body, `"query":"select 1"`)

	resp = g.do(t, http.MethodGet, "/jobs/abc", testToken, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = g.do(t, http.MethodGet, "/jobs/99", testToken, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadAndListTables(t *testing.T) {
	g := newGateway(t, 5)

	resp := g.do(t, http.MethodPost, "/contexts/MyDB/tables/Targets", testToken, "ra,dec\n1,2\n")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body, ok := g.upstream.Uploaded("MyDB", "Targets")
	require.True(t, ok)
	assert.Equal(t, "ra,dec\n1,2\n", string(body))

	resp = g.do(t, http.MethodGet, "/contexts/MyDB/tables", testToken, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `"Name":"Targets"`)
}
