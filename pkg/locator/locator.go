// Package locator wires HttpFetcher, CachedStream, BoundaryStore,
// IndexBootstrapper, PatternRegex, ShardScanner, CaptureSink, and
// CrawlDirectory into the single top-level pipeline described by
// SPEC_FULL.md §4.10, ported from original_source/ccdownloader.py's
// CCPageLocator.run.
package locator

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/commoncrawl-go/cclocate/pkg/boundarystore"
	"github.com/commoncrawl-go/cclocate/pkg/cachedstream"
	"github.com/commoncrawl-go/cclocate/pkg/capturesink"
	"github.com/commoncrawl-go/cclocate/pkg/indexbootstrapper"
	"github.com/commoncrawl-go/cclocate/pkg/patternregex"
	"github.com/commoncrawl-go/cclocate/pkg/shardscanner"
	"github.com/commoncrawl-go/cclocate/pkg/urlpattern"
)

// Locator is the top-level orchestrator for one crawl-label run.
type Locator struct {
	boundaries    *boundarystore.Store
	bootstrapper  *indexbootstrapper.Bootstrapper
	sink          *capturesink.Sink
	cache         *cachedstream.Cache
	ccDataBaseURL string
}

// New returns a Locator wiring the given components. ccDataBaseURL is a
// full scheme+host, e.g. "https://data.commoncrawl.org", used to build each
// candidate shard's cdx-NNNNN.gz URL.
func New(
	boundaries *boundarystore.Store,
	bootstrapper *indexbootstrapper.Bootstrapper,
	sink *capturesink.Sink,
	cache *cachedstream.Cache,
	ccDataBaseURL string,
) *Locator {
	return &Locator{
		boundaries:    boundaries,
		bootstrapper:  bootstrapper,
		sink:          sink,
		cache:         cache,
		ccDataBaseURL: ccDataBaseURL,
	}
}

// IndexProgressFunc is an alias for the IndexBootstrapper observer shape.
type IndexProgressFunc = indexbootstrapper.ProgressFunc

// ScanProgressFunc observes per-shard scan progress. Run calls it once before
// each candidate shard is scanned, with the shard number, its 0-based index
// among the candidates, and the candidate count; it carries no status
// message, done flag, or within-shard percentage.
type ScanProgressFunc func(crawlLabel string, shardNum, shardIndex, shardTotal int)

// Run resolves label, bootstraps its boundary index if incomplete, narrows
// patterns down to their union of candidate shards, scans each one, and
// hands every match to the CaptureSink. A failure resolving, bootstrapping,
// or selecting shards aborts the run immediately; a failure scanning or
// ingesting one shard is logged and does not stop the remaining shards,
// per SPEC_FULL.md §7's distinction between invariant violations and
// per-record faults.
func (l *Locator) Run(ctx context.Context, label string, patterns []urlpattern.UrlPattern, indexProgress IndexProgressFunc, scanProgress ScanProgressFunc) error {
	if len(patterns) == 0 {
		return fmt.Errorf("locator: at least one URL pattern is required")
	}

	runID := uuid.NewString()

	log := zerolog.Ctx(ctx).With().Str("run_id", runID).Str("crawl_label", label).Logger()
	ctx = log.WithContext(ctx)

	if err := l.bootstrapper.Bootstrap(ctx, label, indexbootstrapper.ProgressFunc(indexProgress)); err != nil {
		return fmt.Errorf("error bootstrapping crawl %q: %w", label, err)
	}

	crawl, err := l.boundaries.GetCrawl(ctx, label)
	if err != nil {
		return fmt.Errorf("error fetching crawl %q after bootstrap: %w", label, err)
	}

	shards, err := l.candidateShards(ctx, crawl.ID, patterns)
	if err != nil {
		return fmt.Errorf("error selecting candidate shards for %q: %w", label, err)
	}

	if len(shards) == 0 {
		log.Info().Msg("no candidate shards for the given patterns")

		return nil
	}

	re, err := patternregex.Build(patterns)
	if err != nil {
		return fmt.Errorf("error building pattern regex: %w", err)
	}

	for i, shardNum := range shards {
		if scanProgress != nil {
			scanProgress(label, shardNum, i, len(shards))
		}

		shardURL := indexbootstrapper.ShardCdxURL(l.ccDataBaseURL, label, shardNum)

		captures, errc := shardscanner.Scan(ctx, l.cache, shardURL, re)

		for c := range captures {
			if err := l.sink.Ingest(ctx, crawl.ID, c); err != nil {
				log.Warn().Err(err).Int("shard_num", shardNum).Msg("skipping capture: ingest failed")
			}
		}

		select {
		case err := <-errc:
			if err != nil {
				log.Warn().Err(err).Int("shard_num", shardNum).Msg("shard scan aborted")
			}
		default:
		}
	}

	return nil
}

// candidateShards unions FindCandidateShards across every pattern and
// returns the distinct shard numbers in ascending order. Patterns are probed
// in SURT order so that adjacent lookups touch nearby boundary-store rows.
func (l *Locator) candidateShards(ctx context.Context, crawlID int64, patterns []urlpattern.UrlPattern) ([]int, error) {
	ordered := append([]urlpattern.UrlPattern(nil), patterns...)
	sort.Slice(ordered, func(i, j int) bool { return urlpattern.Less(ordered[i], ordered[j]) })

	seen := make(map[int]struct{})

	for _, p := range ordered {
		records, err := l.boundaries.FindCandidateShards(ctx, crawlID, p)
		if err != nil {
			return nil, err
		}

		for _, r := range records {
			seen[r.ShardNum] = struct{}{}
		}
	}

	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}

	sort.Ints(out)

	return out, nil
}
