package boundarystore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commoncrawl-go/cclocate/pkg/boundarystore"
	"github.com/commoncrawl-go/cclocate/pkg/store"
	"github.com/commoncrawl-go/cclocate/pkg/urlpattern"
)

func newStore(t *testing.T) *boundarystore.Store {
	t.Helper()

	dsn := "sqlite://" + filepath.Join(t.TempDir(), "test.db")

	db, _, err := store.Open(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, store.Migrate(context.Background(), db))

	return boundarystore.New(db)
}

func TestInsertCrawl_IsIdempotent(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	c1, err := s.InsertCrawl(ctx, "CC-MAIN-2024-10", "https://example.com/a")
	require.NoError(t, err)

	c2, err := s.InsertCrawl(ctx, "CC-MAIN-2024-10", "https://example.com/b")
	require.NoError(t, err)

	assert.Equal(t, c1.ID, c2.ID)
}

func TestFindCandidateShards_NarrowsToLocalRegion(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	c, err := s.InsertCrawl(ctx, "CC-MAIN-2024-10", "https://example.com")
	require.NoError(t, err)

	records := []store.BoundaryRecord{
		{CrawlID: c.ID, ShardNum: 0, TLD: "com", Domain: "a"},
		{CrawlID: c.ID, ShardNum: 1, TLD: "com", Domain: "m"},
		{CrawlID: c.ID, ShardNum: 2, TLD: "com", Domain: "z"},
		{CrawlID: c.ID, ShardNum: 3, TLD: "net", Domain: "a"},
	}
	require.NoError(t, s.InsertBoundaries(ctx, records))

	got, err := s.FindCandidateShards(ctx, c.ID, urlpattern.UrlPattern{TLD: "com", Domain: "m"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].ShardNum)
}

func TestFindCandidateShards_UnknownTLDReturnsEmpty(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()

	c, err := s.InsertCrawl(ctx, "CC-MAIN-2024-10", "https://example.com")
	require.NoError(t, err)

	require.NoError(t, s.InsertBoundaries(ctx, []store.BoundaryRecord{
		{CrawlID: c.ID, ShardNum: 0, TLD: "com", Domain: "a"},
	}))

	got, err := s.FindCandidateShards(ctx, c.ID, urlpattern.UrlPattern{TLD: "org", Domain: "a"})
	require.NoError(t, err)
	assert.Empty(t, got)
}
