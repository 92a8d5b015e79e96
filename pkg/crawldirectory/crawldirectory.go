// Package crawldirectory resolves a crawl label against Common Crawl's
// published collection index, per SPEC_FULL.md §4.9. It is supplemented
// from original_source/ccdownloader.py's CCIndexOfCrawls: the distilled
// spec never fetches collinfo.json, but doing so supplies a Crawl's
// source_url and lets a run fail fast on an unknown label instead of
// discovering it deep inside the shard-path fetch.
package crawldirectory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/commoncrawl-go/cclocate/pkg/httpfetcher"
)

// ErrUnknownLabel is returned by Resolve when label is absent from
// collinfo.json.
var ErrUnknownLabel = errors.New("crawldirectory: unknown crawl label")

// Entry is one row of collinfo.json, keyed by ID (the crawl label).
type Entry struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Timegate string `json:"timegate"`
	CdxAPI  string `json:"cdx-API"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// Directory resolves crawl labels against a process-lifetime cache of
// collinfo.json, refreshed once per Resolve cold start.
type Directory struct {
	fetcher *httpfetcher.Fetcher
	baseURL string

	mu      sync.Mutex
	entries map[string]Entry
}

// New returns a Directory that fetches "{baseURL}/collinfo.json" on first
// use. baseURL is a full scheme+host, e.g. "https://index.commoncrawl.org"
// (the Locator builds this from config.Config.CCIndexHostname).
func New(fetcher *httpfetcher.Fetcher, baseURL string) *Directory {
	return &Directory{fetcher: fetcher, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Resolve returns the collinfo.json entry for label, fetching and caching
// the manifest on first call. It returns ErrUnknownLabel if label is not a
// published crawl.
func (d *Directory) Resolve(ctx context.Context, label string) (Entry, error) {
	entries, err := d.load(ctx)
	if err != nil {
		return Entry{}, err
	}

	e, ok := entries[label]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}

	return e, nil
}

func (d *Directory) load(ctx context.Context) (map[string]Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.entries != nil {
		return d.entries, nil
	}

	url := d.baseURL + "/collinfo.json"

	resp, err := d.fetcher.Get(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching collinfo.json: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading collinfo.json: %w", err)
	}

	var list []Entry
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("error parsing collinfo.json: %w", err)
	}

	entries := make(map[string]Entry, len(list))
	for _, e := range list {
		entries[e.ID] = e
	}

	d.entries = entries

	return entries, nil
}
