package cachedstream_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commoncrawl-go/cclocate/pkg/cachedstream"
	"github.com/commoncrawl-go/cclocate/pkg/httpfetcher"
)

func newFetcher(t *testing.T) *httpfetcher.Fetcher {
	t.Helper()

	f, err := httpfetcher.New(httpfetcher.Options{
		Retry: httpfetcher.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	require.NoError(t, err)

	return f
}

func TestOpen_DownloadsAndReadsFullBody(t *testing.T) {
	t.Parallel()

	const body = "the quick brown fox jumps over the lazy dog"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))

			return
		}

		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	c, err := cachedstream.New(dir, newFetcher(t))
	require.NoError(t, err)

	r, err := c.Open(context.Background(), srv.URL, false)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestOpen_ResumesAfterShortFile(t *testing.T) {
	t.Parallel()

	const body = "0123456789abcdefghijklmnopqrstuvwxyz"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))

			return
		}

		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	c, err := cachedstream.New(dir, newFetcher(t))
	require.NoError(t, err)

	// No cache file exists yet; the first Open downloads the full body.
	entries, err := filepath.Glob(filepath.Join(dir, "*.cache"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	r, err := c.Open(context.Background(), srv.URL, false)
	require.NoError(t, err)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
	r.Close()

	// Now truncate the cache file on disk to simulate a crash, and reopen
	// with a fresh Cache instance (so the in-process "active" map doesn't
	// short-circuit the sanity check).
	entries, err = filepath.Glob(filepath.Join(dir, "*.cache"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, os.Truncate(entries[0], 5))

	c2, err := cachedstream.New(dir, newFetcher(t))
	require.NoError(t, err)

	r2, err := c2.Open(context.Background(), srv.URL, false)
	require.NoError(t, err)
	defer r2.Close()

	got2, err := io.ReadAll(r2)
	require.NoError(t, err)
	assert.Equal(t, body, string(got2))
}

func TestOpen_ReaderSeesBytesBeforeProducerFinishes(t *testing.T) {
	t.Parallel()

	block := bytes.Repeat([]byte("x"), 1<<20)
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(block)*2))

			return
		}

		flusher, _ := w.(http.Flusher)
		w.Write(block)

		if flusher != nil {
			flusher.Flush()
		}

		<-release
		w.Write(block)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	c, err := cachedstream.New(dir, newFetcher(t))
	require.NoError(t, err)

	r, err := c.Open(context.Background(), srv.URL, false)
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, len(block))
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, block, buf)

	close(release)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, block, rest)
}
