package sink

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sciserver-casjobs/internal/config"
)

func TestLocalPut(t *testing.T) {
	dir := t.TempDir()
	l := &Local{BaseDir: dir}

	where, err := l.Put(context.Background(), "/exports/../dr16/galaxies.fits", []byte("SIMPLE"), "application/fits")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "dr16", "galaxies.fits"), where)

	data, err := os.ReadFile(where)
	require.NoError(t, err)
	assert.Equal(t, "SIMPLE", string(data))
}

func TestOpenLocal(t *testing.T) {
	dir := t.TempDir()
	s, key, err := Open(context.Background(), config.Config{}, filepath.Join(dir, "out.csv"))
	require.NoError(t, err)
	assert.Equal(t, "out.csv", key)
	assert.Equal(t, &Local{BaseDir: dir}, s)
}

func TestOpenRejectsBadS3Path(t *testing.T) {
	_, _, err := Open(context.Background(), config.Config{}, "s3://bucket-only")
	assert.ErrorContains(t, err, "needs a bucket and a key")

	_, _, err = Open(context.Background(), config.Config{}, "")
	assert.Error(t, err)
}

func TestS3PutAgainstCompatibleEndpoint(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		ctype  string
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method, path, ctype = r.Method, r.URL.Path, r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Config{
		S3Region:    "us-east-1",
		S3Endpoint:  srv.URL,
		S3PathStyle: true,
		S3KeyID:     "key",
		S3Secret:    "secret",
	}
	s, key, err := Open(context.Background(), cfg, "s3://exports/dr16/galaxies.fits")
	require.NoError(t, err)
	assert.Equal(t, "dr16/galaxies.fits", key)

	where, err := s.Put(context.Background(), key, []byte("SIMPLE  =  T"), ContentType(key))
	require.NoError(t, err)
	assert.Equal(t, "s3://exports/dr16/galaxies.fits", where)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/exports/dr16/galaxies.fits", path)
	assert.Equal(t, "application/fits", ctype)
	assert.Contains(t, string(body), "SIMPLE  =  T")
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/fits", ContentType("a.FITS"))
	assert.Equal(t, "text/csv", ContentType("a.csv"))
	assert.Equal(t, "application/octet-stream", ContentType("a"))
}
