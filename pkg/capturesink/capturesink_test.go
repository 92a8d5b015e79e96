package capturesink_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commoncrawl-go/cclocate/pkg/capturesink"
	"github.com/commoncrawl-go/cclocate/pkg/httpfetcher"
	"github.com/commoncrawl-go/cclocate/pkg/shardscanner"
	"github.com/commoncrawl-go/cclocate/pkg/store"
)

func newSink(t *testing.T, ccDataBaseURL string) (*capturesink.Sink, int64) {
	t.Helper()

	dsn := "sqlite://" + filepath.Join(t.TempDir(), "test.db")

	db, _, err := store.Open(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, store.Migrate(context.Background(), db))

	crawl := &store.Crawl{Label: "CC-MAIN-2024-10", SourceURL: "x"}
	_, err = db.NewInsert().Model(crawl).Exec(context.Background())
	require.NoError(t, err)

	fetcher, err := httpfetcher.New(httpfetcher.Options{UserAgent: "test"})
	require.NoError(t, err)

	sink, err := capturesink.New(db, fetcher, ccDataBaseURL, nil)
	require.NoError(t, err)

	return sink, crawl.ID
}

func TestIngest_IsIdempotent(t *testing.T) {
	t.Parallel()

	var headCount int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			atomic.AddInt32(&headCount, 1)
			w.Header().Set("Content-Length", "1234")
		}
	}))
	defer srv.Close()

	sink, crawlID := newSink(t, srv.URL)

	capture := shardscanner.Capture{
		TLD: "com", Domain: "example", Subdomain: "www", Timestamp: "20240101120000",
		Metadata: map[string]any{
			"url":      "http://www.example.com/",
			"filename": "crawl-data/X.warc.gz",
			"length":   "100",
			"status":   "200",
		},
	}

	ctx := context.Background()

	require.NoError(t, sink.Ingest(ctx, crawlID, capture))
	require.NoError(t, sink.Ingest(ctx, crawlID, capture))

	assert.Equal(t, int32(1), atomic.LoadInt32(&headCount))

	warc, hosts := sink.Counts()
	assert.Equal(t, 1, warc["crawl-data/X.warc.gz"])
	assert.Equal(t, 1, hosts["www.example.com"])

	exists, err := sink.Exists(ctx, srv.URL+"/crawl-data/X.warc.gz")
	require.NoError(t, err)
	assert.True(t, exists)
}
