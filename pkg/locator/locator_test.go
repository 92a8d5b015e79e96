package locator_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commoncrawl-go/cclocate/pkg/boundarystore"
	"github.com/commoncrawl-go/cclocate/pkg/cachedstream"
	"github.com/commoncrawl-go/cclocate/pkg/capturesink"
	"github.com/commoncrawl-go/cclocate/pkg/crawldirectory"
	"github.com/commoncrawl-go/cclocate/pkg/httpfetcher"
	"github.com/commoncrawl-go/cclocate/pkg/indexbootstrapper"
	"github.com/commoncrawl-go/cclocate/pkg/locator"
	"github.com/commoncrawl-go/cclocate/pkg/store"
	"github.com/commoncrawl-go/cclocate/pkg/urlpattern"
)

func gzipBytes(t *testing.T, payload string) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// TestRun_EndToEnd bootstraps a 3-shard crawl, narrows a single pattern to
// its one candidate shard, and asserts the match it contains was persisted.
func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	const (
		shard0 = "com,aaa,)/ 20240101000000 {\"url\":\"http://aaa.com/\"}\n"
		shard1 = "com,eee,)/ 20240101010000 {\"url\":\"http://eee.com/\"}\n" +
			"com,example,www)/ 20240101020000 {\"url\":\"http://www.example.com/page1\"," +
			"\"filename\":\"crawl-data/CC-MAIN-2024-10/segments/1/warc/CC-MAIN-X.warc.gz\"," +
			"\"length\":\"100\",\"status\":\"200\"}\n"
		shard2 = "com,zzz,)/ 20240101030000 {\"url\":\"http://zzz.com/\"}\n"
	)

	mux := http.NewServeMux()

	mux.HandleFunc("/collinfo.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"CC-MAIN-2024-10","cdx-API":"x"}]`))
	})

	mux.HandleFunc("/crawl-data/CC-MAIN-2024-10/cc-index.paths.gz", func(w http.ResponseWriter, _ *http.Request) {
		paths := strings.Join([]string{
			"cc-index/collections/CC-MAIN-2024-10/indexes/cdx-00000.gz",
			"cc-index/collections/CC-MAIN-2024-10/indexes/cdx-00001.gz",
			"cc-index/collections/CC-MAIN-2024-10/indexes/cdx-00002.gz",
		}, "\n")
		_, _ = w.Write(gzipBytes(t, paths))
	})

	// Served for the IndexBootstrapper's first-row fetch.
	mux.HandleFunc("/cc-index/collections/CC-MAIN-2024-10/indexes/cdx-00000.gz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(gzipBytes(t, shard0))
	})
	mux.HandleFunc("/cc-index/collections/CC-MAIN-2024-10/indexes/cdx-00002.gz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(gzipBytes(t, shard2))
	})

	// Served for both the IndexBootstrapper's first-row fetch and ShardScanner's
	// full-shard fetch of the one candidate shard: the real Common Crawl layout
	// serves both from the same cc-index/collections path. The bootstrap fetch
	// sends a Range header; the scanner's does not, so the two are told apart
	// by that rather than by a shared hit count.
	var shard1FullFetches int

	mux.HandleFunc("/cc-index/collections/CC-MAIN-2024-10/indexes/cdx-00001.gz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}

		if r.Header.Get("Range") == "" {
			shard1FullFetches++
		}

		_, _ = w.Write(gzipBytes(t, shard1))
	})

	mux.HandleFunc("/crawl-data/CC-MAIN-2024-10/segments/1/warc/CC-MAIN-X.warc.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "9999")
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	fetcher, err := httpfetcher.New(httpfetcher.Options{UserAgent: "test"})
	require.NoError(t, err)

	dsn := "sqlite://" + filepath.Join(t.TempDir(), "test.db")

	db, _, err := store.Open(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, store.Migrate(context.Background(), db))

	boundaries := boundarystore.New(db)
	dir := crawldirectory.New(fetcher, srv.URL)
	bootstrapper := indexbootstrapper.New(fetcher, dir, boundaries, srv.URL)

	sink, err := capturesink.New(db, fetcher, srv.URL, nil)
	require.NoError(t, err)

	cache, err := cachedstream.New(t.TempDir(), fetcher)
	require.NoError(t, err)

	loc := locator.New(boundaries, bootstrapper, sink, cache, srv.URL)

	patterns := []urlpattern.UrlPattern{{TLD: "com", Domain: "example"}}

	require.NoError(t, loc.Run(context.Background(), "CC-MAIN-2024-10", patterns, nil, nil))

	warc, hosts := sink.Counts()
	assert.Equal(t, 1, warc["crawl-data/CC-MAIN-2024-10/segments/1/warc/CC-MAIN-X.warc.gz"])
	assert.Equal(t, 1, hosts["www.example.com"])
	assert.Equal(t, 1, shard1FullFetches, "only the narrowed-down shard should have been scanned")

	exists, err := sink.Exists(context.Background(), srv.URL+"/crawl-data/CC-MAIN-2024-10/segments/1/warc/CC-MAIN-X.warc.gz")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRun_RequiresAtLeastOnePattern(t *testing.T) {
	t.Parallel()

	loc := locator.New(nil, nil, nil, nil, "")
	err := loc.Run(context.Background(), "CC-MAIN-2024-10", nil, nil, nil)
	require.Error(t, err)
}
