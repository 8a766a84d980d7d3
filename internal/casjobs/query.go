package casjobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// ExecuteQuery runs sql synchronously in dbContext and decodes the reply as format.
func (c *Client) ExecuteQuery(ctx context.Context, dbContext, sql string, format Format, opts ...CallOption) (*Output, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	header, err := requestHeader(token, format)
	if err != nil {
		return nil, err
	}
	taskName := c.taskName("ExecuteQuery", opts)
	body, err := encodeQuery(sql, taskName)
	if err != nil {
		return nil, err
	}

	data, err := c.do(ctx, call{
		operation: "ExecuteQuery",
		method:    http.MethodPost,
		url:       c.urls.resolve(endpointQuery, urlParams{Context: c.resolveContext(dbContext), TaskName: taskName}),
		header:    header,
		body:      body,
		onError:   "Error when executing query.",
	})
	if err != nil {
		return nil, err
	}
	return format.Decode(data)
}

// QueryTable runs sql and parses the CSV reply into a Table with inferred column types.
func (c *Client) QueryTable(ctx context.Context, dbContext, sql string, opts ...CallOption) (*Table, error) {
	opts = append([]CallOption{WithTaskName(c.TaskName("QueryTable"))}, opts...)
	out, err := c.ExecuteQuery(ctx, dbContext, sql, FormatReadable, opts...)
	if err != nil {
		return nil, err
	}
	return ReadCSV(out.Stream)
}

// QueryMatrix runs sql and returns the result cells as float64 rows.
func (c *Client) QueryMatrix(ctx context.Context, dbContext, sql string, opts ...CallOption) ([][]float64, error) {
	opts = append([]CallOption{WithTaskName(c.TaskName("QueryMatrix"))}, opts...)
	t, err := c.QueryTable(ctx, dbContext, sql, opts...)
	if err != nil {
		return nil, err
	}
	return t.Matrix()
}

// WriteFITSFile runs sql and writes the FITS reply verbatim to path.
func (c *Client) WriteFITSFile(ctx context.Context, path, dbContext, sql string, opts ...CallOption) error {
	opts = append([]CallOption{WithTaskName(c.TaskName("WriteFITSFile"))}, opts...)
	out, err := c.ExecuteQuery(ctx, dbContext, sql, FormatFITS, opts...)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(out.Stream)
	if err != nil {
		return fmt.Errorf("read fits result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fits file %s: %w", path, err)
	}
	c.logger.Debug("wrote fits file", "path", path, "bytes", len(data))
	return nil
}
