package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"
)

// JobStatus is the CasJobs job lifecycle state as reported by the service.
type JobStatus int

const (
	StatusReady     JobStatus = 0
	StatusStarted   JobStatus = 1
	StatusCanceling JobStatus = 2
	StatusCanceled  JobStatus = 3
	StatusFailed    JobStatus = 4
	StatusFinished  JobStatus = 5
)

var statusNames = map[JobStatus]string{
	StatusReady:     "ready",
	StatusStarted:   "started",
	StatusCanceling: "canceling",
	StatusCanceled:  "canceled",
	StatusFailed:    "failed",
	StatusFinished:  "finished",
}

func (s JobStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCanceled, StatusFailed, StatusFinished:
		return true
	}
	return false
}

// UnmarshalJSON accepts the numeric code either bare or quoted.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("job status %s: %w", string(data), err)
	}
	*s = JobStatus(n)
	return nil
}

// JobDescription is the status record CasJobs returns for a job.
// Fields not modelled explicitly are kept in Raw.
type JobDescription struct {
	JobID    int64          `json:"JobID"`
	Status   JobStatus      `json:"Status"`
	Message  string         `json:"Message,omitempty"`
	Query    string         `json:"Query,omitempty"`
	Target   string         `json:"Target,omitempty"`
	TaskName string         `json:"TaskName,omitempty"`
	Raw      map[string]any `json:"-"`
}

// UnmarshalJSON decodes the typed fields leniently and keeps the full record in Raw.
func (d *JobDescription) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := JobDescription{Raw: raw}
	if v, ok := raw["JobID"]; ok {
		id, err := asInt64(v)
		if err != nil {
			return fmt.Errorf("JobID: %w", err)
		}
		out.JobID = id
	}
	v, ok := raw["Status"]
	if !ok {
		return errors.New("job status record has no Status field")
	}
	n, err := asInt64(v)
	if err != nil {
		return fmt.Errorf("Status: %w", err)
	}
	out.Status = JobStatus(n)
	out.Message = asString(raw["Message"])
	out.Query = asString(raw["Query"])
	out.Target = asString(raw["Target"])
	out.TaskName = asString(raw["TaskName"])
	*d = out
	return nil
}

// MarshalJSON writes the full upstream record when one was decoded, with the typed
// fields taking precedence over the raw values.
func (d JobDescription) MarshalJSON() ([]byte, error) {
	type plain JobDescription
	if d.Raw == nil {
		return json.Marshal(plain(d))
	}
	out := maps.Clone(d.Raw)
	out["JobID"] = d.JobID
	out["Status"] = int(d.Status)
	for key, val := range map[string]string{"Message": d.Message, "Query": d.Query, "Target": d.Target, "TaskName": d.TaskName} {
		if val != "" {
			out[key] = val
		}
	}
	return json.Marshal(out)
}

// TrackedJob is a submitted job recorded in the ledger and followed by the watcher.
type TrackedJob struct {
	JobID       int64      `json:"job_id"`
	Context     string     `json:"context"`
	Query       string     `json:"query"`
	TaskName    string     `json:"task_name"`
	Status      JobStatus  `json:"status"`
	Message     *string    `json:"message,omitempty"`
	Polls       int        `json:"polls"`
	SubmittedAt time.Time  `json:"submitted_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// AuditLog is a simple audit event row.
type AuditLog struct {
	JobID    int64     `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}

func asInt64(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	case json.Number:
		return t.Int64()
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
