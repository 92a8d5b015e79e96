package crawldirectory_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commoncrawl-go/cclocate/pkg/crawldirectory"
	"github.com/commoncrawl-go/cclocate/pkg/httpfetcher"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	var hits int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"CC-MAIN-2024-10","name":"March 2024 index","cdx-API":"https://index.commoncrawl.org/CC-MAIN-2024-10-index"}]`))
	}))
	defer srv.Close()

	fetcher, err := httpfetcher.New(httpfetcher.Options{UserAgent: "test"})
	require.NoError(t, err)

	dir := crawldirectory.New(fetcher, srv.URL)

	ctx := context.Background()

	e, err := dir.Resolve(ctx, "CC-MAIN-2024-10")
	require.NoError(t, err)
	assert.Equal(t, "March 2024 index", e.Name)

	// Second call hits the in-memory cache, not the server again.
	_, err = dir.Resolve(ctx, "CC-MAIN-2024-10")
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestResolve_UnknownLabel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	fetcher, err := httpfetcher.New(httpfetcher.Options{UserAgent: "test"})
	require.NoError(t, err)

	dir := crawldirectory.New(fetcher, srv.URL)

	_, err = dir.Resolve(context.Background(), "CC-MAIN-1999-01")
	require.ErrorIs(t, err, crawldirectory.ErrUnknownLabel)
}
