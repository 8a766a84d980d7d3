package casjobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sciserver-casjobs/internal/auth"
)

func TestUploadTableNamedIndexIsUploaded(t *testing.T) {
	c, srv := newTestClient(t)
	tbl := &Table{
		Columns: []string{"ra", "dec"},
		Rows:    [][]any{{194.75, -0.5}, {195.25, 1.125}},
		Index:   &Index{Name: "objid", Values: []any{int64(11), int64(12)}},
	}

	require.NoError(t, c.UploadTable(context.Background(), "", "Targets", tbl))

	body, ok := srv.Uploaded("MyDB", "Targets")
	require.True(t, ok)
	assert.Equal(t, "objid,ra,dec\n11,194.75,-0.5\n12,195.25,1.125\n", string(body))

	req := srv.Requests()[0]
	assert.Equal(t, "/RestApi/contexts/MyDB/Tables/Targets", req.Path)
	assert.Equal(t, "SciScript-Go.CasJobs.UploadTable", req.TaskName)
	assert.Empty(t, req.Header.Get("Content-Type"))
}

func TestUploadTableUnnamedIndexIsDropped(t *testing.T) {
	c, srv := newTestClient(t)
	tbl := &Table{
		Columns: []string{"ra", "dec"},
		Rows:    [][]any{{194.75, -0.5}},
		Index:   &Index{Values: []any{0}},
	}

	require.NoError(t, c.UploadTable(context.Background(), "", "Targets", tbl))

	body, _ := srv.Uploaded("MyDB", "Targets")
	assert.Equal(t, "ra,dec\n194.75,-0.5\n", string(body))
}

func TestUploadCSVThenListTables(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.UploadCSV(ctx, "MyDB", "Stars", []byte("id\n1\n2\n")))

	tables, err := c.GetTables(ctx, "")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "Stars", tables[0].Name)
	assert.Equal(t, int64(2), tables[0].Rows)
}

type fixedUser string

func (f fixedUser) KeystoneUser(context.Context, string) (auth.KeystoneUser, error) {
	return auth.KeystoneUser{ID: string(f), Name: "hubble"}, nil
}

func TestGetSchemaName(t *testing.T) {
	c, srv := newTestClient(t)
	c.users = fixedUser("u-42")

	name, err := c.GetSchemaName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wsid_1234567", name)
	assert.Equal(t, "/RestApi/users/u-42", srv.Requests()[0].Path)
}
