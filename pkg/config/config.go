// Package config holds the static, process-wide configuration for the
// locator. It is constructed once at process start and threaded through
// component constructors by value; no component reads the environment
// directly (see SPEC_FULL.md §9, "Dynamic-shape config").
package config

const (
	// DefaultCCDataHostname is the host that serves crawl data (cc-index
	// paths, CDX shards, and WARC files).
	DefaultCCDataHostname = "data.commoncrawl.org"

	// DefaultCCIndexHostname is the host that serves the collection index
	// (collinfo.json).
	DefaultCCIndexHostname = "index.commoncrawl.org"

	// DefaultUserAgent is used when Config.UserAgent is empty.
	DefaultUserAgent = "cclocate/0 (+https://commoncrawl.org)"
)

// Config enumerates every recognized configuration key and its effect.
type Config struct {
	// CCDataHostname serves crawl-data paths and WARC files.
	CCDataHostname string

	// CCIndexHostname serves collinfo.json.
	CCIndexHostname string

	// StoreDSN is the connection string for the persistent store, in the
	// form "sqlite:/path/to/db", "postgres://...", or "mysql://...".
	StoreDSN string

	// CacheDir is the local directory CachedStream uses to cache HTTP
	// bodies.
	CacheDir string

	// UserAgent is sent on every outgoing HTTP request.
	UserAgent string

	// CacheRequests is carried in the record but no component reads it:
	// CachedStream reuses any on-disk cache file that passes its sanity
	// check whatever this field holds.
	CacheRequests bool
}

// WithDefaults returns a copy of c with zero-valued fields replaced by their
// documented defaults.
func (c Config) WithDefaults() Config {
	if c.CCDataHostname == "" {
		c.CCDataHostname = DefaultCCDataHostname
	}

	if c.CCIndexHostname == "" {
		c.CCIndexHostname = DefaultCCIndexHostname
	}

	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	return c
}
