// Package indexbootstrapper enumerates the CDX shards of a crawl and
// persists each shard's first row into a BoundaryStore, per SPEC_FULL.md
// §4.5. Ported from original_source/ccdownloader.py's
// CCIndexBuilder.run/_get_cdx_urls/_get_cdx_first_rows/_save_cdx_first_rows.
package indexbootstrapper

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/commoncrawl-go/cclocate/pkg/boundarystore"
	"github.com/commoncrawl-go/cclocate/pkg/crawldirectory"
	"github.com/commoncrawl-go/cclocate/pkg/gzippartial"
	"github.com/commoncrawl-go/cclocate/pkg/httpfetcher"
	"github.com/commoncrawl-go/cclocate/pkg/store"
)

const (
	// firstRowRangeBytes bounds the compressed range fetched per shard when
	// looking for its first CDX row.
	firstRowRangeBytes = 2000

	// firstRowMaxUncompressed bounds the decompressed output of that range.
	firstRowMaxUncompressed = 2000

	// maxConcurrentShardFetches bounds the errgroup fan-out for per-shard
	// first-row fetches.
	maxConcurrentShardFetches = 16

	cdxTimestampLayout = "20060102150405"
)

var (
	shardPathRe = regexp.MustCompile(`.*/cdx-(\d{5})\.gz$`)
	cdxLineRe   = regexp.MustCompile(`^([^,)]*),([^,)]*),?([^)]*)\)(.*?)\s+(\d{14})\s+(\{.*\})$`)
)

// ProgressFunc observes IndexBootstrapper progress: crawl label, a
// human-readable status message, whether the bootstrap is complete, and
// done/total shard counts, per SPEC_FULL.md §6's "Index status" observer.
type ProgressFunc func(label, statusMsg string, complete bool, done, total int)

// Bootstrapper enumerates a crawl's shards and persists their boundary
// records.
type Bootstrapper struct {
	fetcher     *httpfetcher.Fetcher
	directory   *crawldirectory.Directory
	boundaries  *boundarystore.Store
	ccDataBaseURL string
}

// New returns a Bootstrapper. ccDataBaseURL is a full scheme+host, e.g.
// "https://data.commoncrawl.org" (the Locator builds this from
// config.Config.CCDataHostname).
func New(fetcher *httpfetcher.Fetcher, directory *crawldirectory.Directory, boundaries *boundarystore.Store, ccDataBaseURL string) *Bootstrapper {
	return &Bootstrapper{
		fetcher:       fetcher,
		directory:     directory,
		boundaries:    boundaries,
		ccDataBaseURL: strings.TrimSuffix(ccDataBaseURL, "/"),
	}
}

// Bootstrap ensures the Crawl row for label exists and that every shard's
// boundary record has been persisted. It is a no-op if the boundary count
// already matches the shard count enumerated from cc-index.paths.gz.
func (b *Bootstrapper) Bootstrap(ctx context.Context, label string, progress ProgressFunc) error {
	log := zerolog.Ctx(ctx).With().Str("crawl_label", label).Logger()

	if progress == nil {
		progress = func(string, string, bool, int, int) {}
	}

	entry, err := b.directory.Resolve(ctx, label)
	if err != nil {
		return fmt.Errorf("error resolving crawl %q: %w", label, err)
	}

	crawl, err := b.boundaries.InsertCrawl(ctx, label, entry.CdxAPI)
	if err != nil {
		return fmt.Errorf("error ensuring crawl row for %q: %w", label, err)
	}

	paths, err := b.fetchShardPaths(ctx, label)
	if err != nil {
		return fmt.Errorf("error fetching shard paths for %q: %w", label, err)
	}

	total := len(paths)

	if total == 0 {
		progress(label, "Crawl indices received", true, 0, 0)

		return nil
	}

	existing, err := b.boundaries.BoundaryCount(ctx, crawl.ID)
	if err != nil {
		return fmt.Errorf("error counting existing boundaries for %q: %w", label, err)
	}

	if existing >= total {
		progress(label, "Crawl indices received", true, existing, total)

		return nil
	}

	progress(label, "Crawl indices received", false, 0, total)

	records, err := b.fetchBoundaryRecords(ctx, crawl.ID, paths, label, total, progress, &log)
	if err != nil {
		return err
	}

	if err := b.boundaries.InsertBoundaries(ctx, records); err != nil {
		return fmt.Errorf("error persisting boundary records for %q: %w", label, err)
	}

	progress(label, "Crawl indices received", true, len(records), total)

	return nil
}

func (b *Bootstrapper) fetchShardPaths(ctx context.Context, label string) ([]shardPath, error) {
	url := fmt.Sprintf("%s/crawl-data/%s/cc-index.paths.gz", b.ccDataBaseURL, label)

	resp, err := b.fetcher.Get(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching %q: %w", url, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("error reading %q: %w", url, err)
	}

	decompressed := gzippartial.Decompress(buf.Bytes(), 0)

	var paths []shardPath

	for _, line := range strings.Split(string(decompressed), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		m := shardPathRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		num, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		paths = append(paths, shardPath{relPath: line, shardNum: num})
	}

	return paths, nil
}

type shardPath struct {
	relPath  string
	shardNum int
}

func (b *Bootstrapper) fetchBoundaryRecords(
	ctx context.Context,
	crawlID int64,
	paths []shardPath,
	label string,
	total int,
	progress ProgressFunc,
	log *zerolog.Logger,
) ([]store.BoundaryRecord, error) {
	records := make([]store.BoundaryRecord, 0, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentShardFetches)

	recordsCh := make(chan store.BoundaryRecord, len(paths))
	var doneCount atomic.Int64

	for _, p := range paths {
		p := p

		g.Go(func() error {
			rec, ok, err := b.fetchOneBoundary(ctx, crawlID, p)

			n := doneCount.Add(1)
			progress(label, fmt.Sprintf("fetched shard %05d", p.shardNum), false, int(n), total)

			if err != nil {
				log.Warn().Err(err).Int("shard_num", p.shardNum).Msg("transport failure fetching boundary row")

				return err
			}

			if ok {
				recordsCh <- rec
			} else {
				log.Warn().Int("shard_num", p.shardNum).Msg("skipping shard: unparseable boundary row")
			}

			return nil
		})
	}

	err := g.Wait()
	close(recordsCh)

	for rec := range recordsCh {
		records = append(records, rec)
	}

	if err != nil {
		return nil, fmt.Errorf("error fetching boundary rows: %w", err)
	}

	return records, nil
}

func (b *Bootstrapper) fetchOneBoundary(ctx context.Context, crawlID int64, p shardPath) (store.BoundaryRecord, bool, error) {
	url := fmt.Sprintf("%s/%s", b.ccDataBaseURL, strings.TrimPrefix(p.relPath, "/"))

	data, err := b.fetcher.GetRange(ctx, url, 0, firstRowRangeBytes-1)
	if err != nil {
		return store.BoundaryRecord{}, false, fmt.Errorf("error fetching first bytes of shard %05d: %w", p.shardNum, err)
	}

	decompressed := gzippartial.Decompress(data, firstRowMaxUncompressed)

	nl := bytes.IndexByte(decompressed, '\n')
	if nl >= 0 {
		decompressed = decompressed[:nl]
	}

	m := cdxLineRe.FindStringSubmatch(string(decompressed))
	if m == nil {
		return store.BoundaryRecord{}, false, nil
	}

	tld, domain, subdomain, path, timestamp, headers := m[1], m[2], m[3], m[4], m[5], m[6]

	if _, err := time.Parse(cdxTimestampLayout, timestamp); err != nil {
		return store.BoundaryRecord{}, false, nil
	}

	return store.BoundaryRecord{
		CrawlID:   crawlID,
		ShardNum:  p.shardNum,
		TLD:       tld,
		Domain:    domain,
		Subdomain: subdomain,
		Path:      path,
		Timestamp: timestamp,
		Headers:   headers,
	}, true, nil
}

// ShardCdxURL returns the fully-qualified URL of a shard's cdx-NNNNN.gz
// file, used by ShardScanner (SPEC_FULL.md §4.7 step 1).
func ShardCdxURL(ccDataBaseURL, crawlLabel string, shardNum int) string {
	return fmt.Sprintf("%s/cc-index/collections/%s/indexes/cdx-%05d.gz", strings.TrimSuffix(ccDataBaseURL, "/"), crawlLabel, shardNum)
}
