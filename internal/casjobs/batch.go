package casjobs

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"golang.org/x/sync/errgroup"

	"sciserver-casjobs/internal/telemetry"
)

// ExecuteBatch sends every query concurrently over the shared connection pool and
// returns the result sets of each, in the order the queries were given.
// The first failure cancels the remaining requests and is returned.
func (c *Client) ExecuteBatch(ctx context.Context, dbContext string, queries []string, opts ...CallOption) ([][]ResultSet, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	header, err := requestHeader(token, FormatJSON)
	if err != nil {
		return nil, err
	}
	taskName := c.taskName("ExecuteBatch", opts)
	url := c.urls.resolve(endpointQuery, urlParams{Context: c.resolveContext(dbContext), TaskName: taskName})

	results := make([][]ResultSet, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, sql := range queries {
		g.Go(func() error {
			body, err := encodeQuery(sql, taskName)
			if err != nil {
				return err
			}
			data, err := c.do(gctx, call{
				operation: "ExecuteBatch",
				method:    http.MethodPost,
				url:       url,
				header:    header,
				body:      body,
				onError:   "Error when executing query.",
			})
			if err != nil {
				return err
			}
			sets, err := decodeResultSets(data)
			if err != nil {
				return err
			}
			results[i] = sets
			return nil
		})
	}
	telemetry.BatchQueries.Add(float64(len(queries)))
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ExecuteBatchTable runs ExecuteBatch and concatenates the first result set of every
// query into one table. All queries must return the same columns.
func (c *Client) ExecuteBatchTable(ctx context.Context, dbContext string, queries []string, opts ...CallOption) (*Table, error) {
	results, err := c.ExecuteBatch(ctx, dbContext, queries, opts...)
	if err != nil {
		return nil, err
	}
	return CombineResults(results)
}

// CombineResults concatenates the rows of each query's first result set.
func CombineResults(results [][]ResultSet) (*Table, error) {
	if len(results) == 0 || len(results[0]) == 0 {
		return nil, errors.New("cannot combine batch results: no result sets")
	}
	columns := results[0][0].Columns
	t := &Table{Columns: slices.Clone(columns)}
	for i, sets := range results {
		if len(sets) == 0 {
			return nil, &SchemaMismatchError{Query: i, Want: columns}
		}
		if !slices.Equal(sets[0].Columns, columns) {
			return nil, &SchemaMismatchError{Query: i, Want: columns, Got: sets[0].Columns}
		}
		t.Rows = append(t.Rows, sets[0].Data...)
	}
	return t, nil
}
