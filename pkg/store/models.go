package store

import (
	"time"

	"github.com/uptrace/bun"
)

// Crawl is a single bootstrapped Common Crawl crawl index, keyed by its
// human label (e.g. "CC-MAIN-2024-10").
type Crawl struct {
	bun.BaseModel `bun:"table:crawls,alias:c"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Label     string    `bun:"label,unique,notnull"`
	SourceURL string    `bun:"source_url,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// BoundaryRecord is the first CDX row of one cdx-NNNNN.gz shard of a crawl,
// as described by SPEC_FULL.md §4.2/§4.4.
type BoundaryRecord struct {
	bun.BaseModel `bun:"table:boundary_records,alias:b"`

	ID        int64  `bun:"id,pk,autoincrement"`
	CrawlID   int64  `bun:"crawl_id,notnull"`
	ShardNum  int    `bun:"shard_num,notnull"`
	TLD       string `bun:"tld,notnull"`
	Domain    string `bun:"domain,notnull"`
	Subdomain string `bun:"subdomain,notnull"`
	Path      string `bun:"path,notnull"`
	Timestamp string `bun:"timestamp,notnull"`
	Headers   string `bun:"headers,notnull"`

	Crawl *Crawl `bun:"rel:belongs-to,join:crawl_id=id"`
}

// CapturedResource is a single WARC record that matched a pattern search
// and was persisted per SPEC_FULL.md §4.8.
type CapturedResource struct {
	bun.BaseModel `bun:"table:captured_resources,alias:r"`

	ID           int64     `bun:"id,pk,autoincrement"`
	CrawlID      int64     `bun:"crawl_id,notnull"`
	PageURL      string    `bun:"page_url,notnull"`
	WarcURL      string    `bun:"warc_url,unique,notnull"`
	PageMetadata string    `bun:"page_metadata,notnull"` // raw JSON blob from the cdx line
	PageLength   int64     `bun:"page_length,notnull"`
	WarcLength   int64     `bun:"warc_length,notnull"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`

	Crawl *Crawl `bun:"rel:belongs-to,join:crawl_id=id"`
}
