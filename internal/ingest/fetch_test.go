package ingest

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empowerher/riskgrid/internal/resilience"
)

func fastRetry(attempts int) resilience.RetryPolicy {
	return resilience.RetryPolicy{
		Attempts: attempts,
		Backoff:  resilience.Backoff{Initial: time.Millisecond, Max: time.Millisecond, Multiplier: 1},
	}
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/incidents.csv"))
	assert.True(t, IsRemote("http://example.com/incidents.csv"))
	assert.False(t, IsRemote("incidents.csv"))
	assert.False(t, IsRemote("/data/http.csv"))
}

func TestDownload(t *testing.T) {
	ua := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua <- r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(incidentsCSV))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(FetchOptions{UserAgent: "riskgrid-test"})
	path, err := f.Download(context.Background(), srv.URL+"/exports/incidents.csv?v=2", dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "incidents.csv"), path)
	assert.Equal(t, "riskgrid-test", <-ua)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, incidentsCSV, string(data))
}

func TestDownload_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher(FetchOptions{Retry: fastRetry(3)})
	path, err := f.Download(context.Background(), srv.URL+"/data.csv", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.FileExists(t, path)
}

func TestDownload_PermanentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(FetchOptions{Retry: fastRetry(3)})
	_, err := f.Download(context.Background(), srv.URL+"/data.csv", dir)

	var se *resilience.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, int32(1), calls.Load())
	assert.NoFileExists(t, filepath.Join(dir, "data.csv"))
}

func TestDownload_NoFileName(t *testing.T) {
	f := NewFetcher(FetchOptions{})
	_, err := f.Download(context.Background(), "https://example.com/", t.TempDir())
	assert.ErrorContains(t, err, "cannot derive a file name")
}

func TestExtractSingle(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "one.zip")
	writeZip(t, archive, map[string]string{"incidents.csv": incidentsCSV})

	out := filepath.Join(dir, "out")
	path, err := ExtractSingle(archive, out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "incidents.csv"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, incidentsCSV, string(data))
}

func TestExtractSingle_Rejects(t *testing.T) {
	dir := t.TempDir()

	many := filepath.Join(dir, "many.zip")
	writeZip(t, many, map[string]string{"a.csv": "x", "b.csv": "y"})
	_, err := ExtractSingle(many, filepath.Join(dir, "out"))
	assert.ErrorContains(t, err, "exactly 1 file, got 2")

	slip := filepath.Join(dir, "slip.zip")
	writeZip(t, slip, map[string]string{"../evil.csv": "x"})
	_, err = ExtractSingle(slip, filepath.Join(dir, "out"))
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "evil.csv"))

	_, err = ExtractSingle(filepath.Join(dir, "missing.zip"), dir)
	assert.Error(t, err)
}

func TestReadFile_Zip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "incidents.zip")
	writeZip(t, archive, map[string]string{"incidents.csv": incidentsCSV})

	res, err := ReadFile(context.Background(), archive)
	require.NoError(t, err)
	assert.Len(t, res.Incidents, 3)

	nested := filepath.Join(dir, "nested.zip")
	writeZip(t, nested, map[string]string{"inner.zip": "PK"})
	_, err = ReadFile(context.Background(), nested)
	assert.ErrorContains(t, err, "nested zip")
}
