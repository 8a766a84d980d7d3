package casjobs

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sciserver-casjobs/internal/models"
	"sciserver-casjobs/internal/telemetry"
)

// MinPollInterval is the shortest pause WaitForJob takes between status polls.
const MinPollInterval = 5 * time.Second

// SubmitJob queues sql as a batch job in dbContext and returns the CasJobs job id.
func (c *Client) SubmitJob(ctx context.Context, dbContext, sql string, opts ...CallOption) (int64, error) {
	token, err := c.token(ctx)
	if err != nil {
		return 0, err
	}
	header, err := requestHeader(token, FormatReadable)
	if err != nil {
		return 0, err
	}
	taskName := c.taskName("SubmitJob", opts)
	body, err := encodeQuery(sql, taskName)
	if err != nil {
		return 0, err
	}

	const onError = "Error when submitting a job."
	data, err := c.do(ctx, call{
		operation: "SubmitJob",
		method:    http.MethodPut,
		url:       c.urls.resolve(endpointSubmitJob, urlParams{Context: c.resolveContext(dbContext), TaskName: taskName}),
		header:    header,
		body:      body,
		onError:   onError,
	})
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(strings.Trim(strings.TrimSpace(string(data)), `"`), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse job id %q: %w", onError, string(data), err)
	}
	return id, nil
}

// GetJobStatus returns the status record of one job.
func (c *Client) GetJobStatus(ctx context.Context, jobID int64, opts ...CallOption) (*models.JobDescription, error) {
	var desc models.JobDescription
	if err := c.jobStatus(ctx, strconv.FormatInt(jobID, 10), opts, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// ListJobStatuses returns the status records of all of the user's jobs.
func (c *Client) ListJobStatuses(ctx context.Context, opts ...CallOption) ([]models.JobDescription, error) {
	var descs []models.JobDescription
	if err := c.jobStatus(ctx, "", opts, &descs); err != nil {
		return nil, err
	}
	return descs, nil
}

func (c *Client) jobStatus(ctx context.Context, jobID string, opts []CallOption, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	taskName := c.taskName("GetJobStatus", opts)
	url := c.urls.resolve(endpointJob, urlParams{JobID: jobID, TaskName: taskName})
	return c.getJSON(ctx, "GetJobStatus", url, fmt.Sprintf("Error when getting the status of job %s.", jobID), token, out)
}

// CancelJob asks CasJobs to cancel a submitted job.
func (c *Client) CancelJob(ctx context.Context, jobID int64, opts ...CallOption) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	header := jsonHeader(token)
	id := strconv.FormatInt(jobID, 10)
	taskName := c.taskName("CancelJob", opts)
	_, err = c.do(ctx, call{
		operation: "CancelJob",
		method:    http.MethodDelete,
		url:       c.urls.resolve(endpointJob, urlParams{JobID: id, TaskName: taskName}),
		header:    header,
		onError:   fmt.Sprintf("Error when canceling job %s.", id),
	})
	return err
}

// WaitForJob polls the job until it is canceled, failed or finished and returns the
// final status record. pollInterval below MinPollInterval is raised to it. There is no
// iteration limit; only ctx or a terminal status ends the wait.
func (c *Client) WaitForJob(ctx context.Context, jobID int64, pollInterval time.Duration, opts ...CallOption) (*models.JobDescription, error) {
	interval := max(pollInterval, MinPollInterval)
	for {
		desc, err := c.GetJobStatus(ctx, jobID, opts...)
		if err != nil {
			return nil, err
		}
		telemetry.StatusPolls.Inc()
		if desc.Status.Terminal() {
			c.logger.Debug("job done", "job_id", jobID, "status", desc.Status.String())
			return desc, nil
		}
		c.logger.Debug("waiting for job", "job_id", jobID, "status", desc.Status.String(), "interval", interval)
		if err := c.sleep(ctx, interval); err != nil {
			return nil, fmt.Errorf("wait for job %d: %w", jobID, err)
		}
	}
}
