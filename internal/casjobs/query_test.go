package casjobs

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sciserver-casjobs/internal/casjobs/casjobstest"
)

const galaxiesSQL = "select top 2 objid, ra, dec from Galaxy"

func seedGalaxies(srv *casjobstest.Server) {
	srv.SetResult(galaxiesSQL, casjobstest.ResultSet{
		Columns: []string{"objid", "ra", "dec"},
		Data: [][]any{
			{1237645876861272065, 194.75, -0.5},
			{1237645876861272066, 195.25, 1.125},
		},
	})
}

func TestExecuteQueryFormats(t *testing.T) {
	c, srv := newTestClient(t)
	seedGalaxies(srv)
	ctx := context.Background()

	out, err := c.ExecuteQuery(ctx, "DR16", galaxiesSQL, FormatTable)
	require.NoError(t, err)
	table, err := out.Table()
	require.NoError(t, err)
	assert.Equal(t, []string{"objid", "ra", "dec"}, table.Columns)
	assert.Equal(t, []any{int64(1237645876861272066), 195.25, 1.125}, table.Rows[1])

	out, err = c.ExecuteQuery(ctx, "DR16", galaxiesSQL, FormatJSON)
	require.NoError(t, err)
	assert.Contains(t, out.Text, `"Columns":["objid","ra","dec"]`)

	out, err = c.ExecuteQuery(ctx, "DR16", galaxiesSQL, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "objid,ra,dec\n1237645876861272065,194.75,-0.5\n1237645876861272066,195.25,1.125\n", out.Text)

	out, err = c.ExecuteQuery(ctx, "DR16", galaxiesSQL, FormatMap)
	require.NoError(t, err)
	assert.Contains(t, out.Map, "Result")

	out, err = c.ExecuteQuery(ctx, "DR16", galaxiesSQL, FormatReadable)
	require.NoError(t, err)
	text, err := io.ReadAll(out.Stream)
	require.NoError(t, err)
	assert.Contains(t, string(text), "objid,ra,dec")

	out, err = c.ExecuteQuery(ctx, "DR16", galaxiesSQL, FormatFITS)
	require.NoError(t, err)
	raw, err := io.ReadAll(out.Stream)
	require.NoError(t, err)
	assert.Equal(t, casjobstest.FITSBytes(galaxiesSQL), raw)
}

func TestQueryTableInfersTypes(t *testing.T) {
	c, srv := newTestClient(t)
	seedGalaxies(srv)

	table, err := c.QueryTable(context.Background(), "DR16", galaxiesSQL)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1237645876861272065), 194.75, -0.5}, table.Rows[0])

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "text/plain", reqs[0].Header.Get("Accept"))
	assert.Equal(t, "SciScript-Go.CasJobs.QueryTable", reqs[0].TaskName)
}

func TestQueryMatrix(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetResult("select a, b", casjobstest.ResultSet{
		Columns: []string{"a", "b"},
		Data:    [][]any{{1, 2.5}, {3, 4}},
	})

	m, err := c.QueryMatrix(context.Background(), "", "select a, b")
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2.5}, {3, 4}}, m)
	assert.Equal(t, "SciScript-Go.CasJobs.QueryMatrix", srv.Requests()[0].TaskName)
}

func TestQueryMatrixRejectsText(t *testing.T) {
	c, srv := newTestClient(t)
	srv.SetResult("select name", casjobstest.ResultSet{Columns: []string{"name"}, Data: [][]any{{"M31"}}})

	_, err := c.QueryMatrix(context.Background(), "", "select name")
	assert.ErrorContains(t, err, `column "name"`)
}

func TestWriteFITSFile(t *testing.T) {
	c, srv := newTestClient(t)
	path := filepath.Join(t.TempDir(), "galaxies.fits")

	require.NoError(t, c.WriteFITSFile(context.Background(), path, "DR16", galaxiesSQL))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, casjobstest.FITSBytes(galaxiesSQL), data)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "application/fits", reqs[0].Header.Get("Accept"))
	assert.Equal(t, "SciScript-Go.CasJobs.WriteFITSFile", reqs[0].TaskName)
}

func TestTableMatrixEmptyCellIsNaN(t *testing.T) {
	tbl := &Table{Columns: []string{"a"}, Rows: [][]any{{nil}}}
	m, err := tbl.Matrix()
	require.NoError(t, err)
	assert.True(t, math.IsNaN(m[0][0]))
}

func TestTableMatrixRejectsRaggedRows(t *testing.T) {
	tbl := &Table{Columns: []string{"a"}, Rows: [][]any{{1.0}, {2.0, "x"}}}
	_, err := tbl.Matrix()
	assert.ErrorContains(t, err, "row 1 has 2 values for 1 columns")
}
