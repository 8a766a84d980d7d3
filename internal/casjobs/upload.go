package casjobs

import (
	"context"
	"fmt"
	"net/http"
)

// UploadCSV creates tableName in dbContext from CSV data.
func (c *Client) UploadCSV(ctx context.Context, dbContext, tableName string, csv []byte, opts ...CallOption) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	taskName := c.taskName("UploadCSV", opts)
	_, err = c.do(ctx, call{
		operation: "UploadCSV",
		method:    http.MethodPost,
		url: c.urls.resolve(endpointUpload, urlParams{
			Context:  c.resolveContext(dbContext),
			Table:    tableName,
			TaskName: taskName,
		}),
		header:  authHeader(token),
		body:    csv,
		onError: fmt.Sprintf("Error when uploading CSV data into CasJobs table %s.", tableName),
	})
	return err
}

// UploadTable serialises t as CSV and uploads it. A named index is uploaded as a column.
func (c *Client) UploadTable(ctx context.Context, dbContext, tableName string, t *Table, opts ...CallOption) error {
	data, err := t.CSV()
	if err != nil {
		return fmt.Errorf("encode table %s: %w", tableName, err)
	}
	opts = append([]CallOption{WithTaskName(c.TaskName("UploadTable"))}, opts...)
	return c.UploadCSV(ctx, dbContext, tableName, data, opts...)
}
