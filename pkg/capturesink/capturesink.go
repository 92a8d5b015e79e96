// Package capturesink idempotently persists the Captures emitted by
// ShardScanner as WarcResourceRows, and aggregates per-WARC-filename and
// per-host counters, per SPEC_FULL.md §4.8. Grounded on
// original_source/ccdownloader.py's PageLocatorObserver
// (push_page_info -> fetch_page_info HEAD -> write_page_info).
package capturesink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"

	"github.com/commoncrawl-go/cclocate/pkg/httpfetcher"
	"github.com/commoncrawl-go/cclocate/pkg/shardscanner"
	"github.com/commoncrawl-go/cclocate/pkg/store"
)

// Sink persists Captures as store.CapturedResource rows, deduplicated by
// warc_url, and tracks aggregate counters.
type Sink struct {
	db            *bun.DB
	fetcher       *httpfetcher.Fetcher
	ccDataBaseURL string

	warcCounter *prometheus.CounterVec
	hostCounter *prometheus.CounterVec
}

// New returns a Sink. ccDataBaseURL is a full scheme+host, e.g.
// "https://data.commoncrawl.org"; registerer, if non-nil, receives the
// per-WARC-filename/per-host counter vectors.
func New(db *bun.DB, fetcher *httpfetcher.Fetcher, ccDataBaseURL string, registerer prometheus.Registerer) (*Sink, error) {
	s := &Sink{
		db:            db,
		fetcher:       fetcher,
		ccDataBaseURL: strings.TrimSuffix(ccDataBaseURL, "/"),
		warcCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cclocate_captures_per_warc_file_total",
			Help: "Number of captures inserted per source WARC filename.",
		}, []string{"filename"}),
		hostCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cclocate_captures_per_host_total",
			Help: "Number of captures inserted per page host.",
		}, []string{"host"}),
	}

	if registerer != nil {
		for _, c := range []prometheus.Collector{s.warcCounter, s.hostCounter} {
			if err := registerer.Register(c); err != nil {
				are := &prometheus.AlreadyRegisteredError{}
				if !errors.As(err, are) {
					return nil, fmt.Errorf("error registering capturesink collector: %w", err)
				}
			}
		}
	}

	return s, nil
}

// Exists reports whether a WarcResourceRow with the given warc_url has
// already been persisted.
func (s *Sink) Exists(ctx context.Context, warcURL string) (bool, error) {
	exists, err := s.db.NewSelect().Model((*store.CapturedResource)(nil)).
		Where("warc_url = ?", warcURL).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("error checking existence of %q: %w", warcURL, err)
	}

	return exists, nil
}

// Insert writes a WarcResourceRow. A duplicate-key error on warc_url is
// treated as benign (another caller won the race) rather than propagated.
func (s *Sink) Insert(ctx context.Context, crawlID int64, pageURL, warcURL, pageMetadata string, pageLength, warcLength int64) error {
	row := &store.CapturedResource{
		CrawlID:      crawlID,
		PageURL:      pageURL,
		WarcURL:      warcURL,
		PageMetadata: pageMetadata,
		PageLength:   pageLength,
		WarcLength:   warcLength,
	}

	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if store.IsDuplicateKeyError(err) {
			return nil
		}

		return fmt.Errorf("error inserting capture for %q: %w", warcURL, err)
	}

	return nil
}

// Counts returns a snapshot of the per-WARC-filename and per-page-host
// insertion counters.
func (s *Sink) Counts() (warc map[string]int, hosts map[string]int) {
	return snapshot(s.warcCounter), snapshot(s.hostCounter)
}

func snapshot(cv *prometheus.CounterVec) map[string]int {
	ch := make(chan prometheus.Metric)
	out := make(map[string]int)

	go func() {
		cv.Collect(ch)
		close(ch)
	}()

	for m := range ch {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			continue
		}

		if len(pb.Label) == 0 || pb.Counter == nil {
			continue
		}

		out[pb.Label[0].GetValue()] = int(pb.Counter.GetValue())
	}

	return out
}

// Ingest implements the per-Capture pipeline of §4.8: compute warc_url,
// skip if already persisted, HEAD the WARC file for its length, then
// insert and bump the counters. warc_url is
// "https://{CC_DATA_HOSTNAME}/{capture.filename}".
func (s *Sink) Ingest(ctx context.Context, crawlID int64, c shardscanner.Capture) error {
	filename, _ := c.Metadata["filename"].(string)
	if filename == "" {
		return fmt.Errorf("capturesink: capture is missing a filename field")
	}

	warcURL := s.ccDataBaseURL + "/" + strings.TrimPrefix(filename, "/")

	exists, err := s.Exists(ctx, warcURL)
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	resp, err := s.fetcher.Head(ctx, warcURL, nil)
	if err != nil {
		return fmt.Errorf("error issuing HEAD for %q: %w", warcURL, err)
	}
	resp.Body.Close()

	warcLength := resp.ContentLength
	if warcLength < 0 {
		warcLength = 0
	}

	pageURL, _ := c.Metadata["url"].(string)

	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("error marshaling capture metadata: %w", err)
	}

	pageLength := parsePageLength(c.Metadata["length"])

	if err := s.Insert(ctx, crawlID, pageURL, warcURL, string(metadata), pageLength, warcLength); err != nil {
		return err
	}

	s.warcCounter.WithLabelValues(filename).Inc()
	s.hostCounter.WithLabelValues(hostOf(pageURL)).Inc()

	return nil
}

func parsePageLength(v any) int64 {
	switch t := v.(type) {
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0
		}

		return n
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	return u.Host
}
