// Package boundarystore persists the first-row-per-shard boundary records
// of a bootstrapped crawl and answers the range query that narrows a URL
// pattern down to its candidate shards, per SPEC_FULL.md §4.4.
//
// The range algorithm is ported exactly from
// original_source/dbschema/ccrawl.py's CdxFirstUrl.find_domain_cdxes.
package boundarystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/commoncrawl-go/cclocate/pkg/store"
	"github.com/commoncrawl-go/cclocate/pkg/urlpattern"
)

// Store wraps a bun.DB with the crawl/boundary operations this package
// exposes.
type Store struct {
	db *bun.DB
}

// New returns a Store backed by db. Callers are responsible for having run
// store.Migrate beforehand.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// InsertCrawl creates a new Crawl row for label, or returns the existing
// one if label is already present.
func (s *Store) InsertCrawl(ctx context.Context, label, sourceURL string) (store.Crawl, error) {
	c := store.Crawl{Label: label, SourceURL: sourceURL}

	if _, err := s.db.NewInsert().Model(&c).Exec(ctx); err != nil {
		if store.IsDuplicateKeyError(err) {
			return s.GetCrawl(ctx, label)
		}

		return store.Crawl{}, fmt.Errorf("error inserting crawl %q: %w", label, err)
	}

	return c, nil
}

// GetCrawl looks up a crawl by its label.
func (s *Store) GetCrawl(ctx context.Context, label string) (store.Crawl, error) {
	var c store.Crawl

	err := s.db.NewSelect().Model(&c).Where("label = ?", label).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Crawl{}, fmt.Errorf("crawl %q: %w", label, store.ErrNotFound)
	}

	if err != nil {
		return store.Crawl{}, fmt.Errorf("error fetching crawl %q: %w", label, err)
	}

	return c, nil
}

// BoundaryCount returns how many boundary records exist for crawlID.
func (s *Store) BoundaryCount(ctx context.Context, crawlID int64) (int, error) {
	n, err := s.db.NewSelect().Model((*store.BoundaryRecord)(nil)).
		Where("crawl_id = ?", crawlID).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("error counting boundaries for crawl %d: %w", crawlID, err)
	}

	return n, nil
}

// InsertBoundaries bulk-inserts records in a single transaction.
func (s *Store) InsertBoundaries(ctx context.Context, records []store.BoundaryRecord) error {
	if len(records) == 0 {
		return nil
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&records).Exec(ctx); err != nil {
			return fmt.Errorf("error bulk-inserting %d boundary records: %w", len(records), err)
		}

		return nil
	})
}

// FindCandidateShards narrows the boundary records of crawlID down to the
// contiguous sub-range that can contain a capture matching pattern, per the
// 4-query algorithm of SPEC_FULL.md §4.4.
func (s *Store) FindCandidateShards(ctx context.Context, crawlID int64, pattern urlpattern.UrlPattern) ([]store.BoundaryRecord, error) {
	tldLo, ok, err := s.shardNumBefore(ctx, crawlID, "tld < ?", pattern.TLD)
	if err != nil {
		return nil, err
	}

	if !ok {
		tldLo = -1
	}

	tldHi, ok, err := s.shardNumBefore(ctx, crawlID, "tld = ?", pattern.TLD)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, nil
	}

	domLo, ok, err := s.greatestInRange(ctx, crawlID, tldLo, tldHi, pattern.Domain)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, nil
	}

	domHi, ok, err := s.smallestAfter(ctx, crawlID, tldLo, tldHi, pattern.TLD, pattern.Domain)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, nil
	}

	var records []store.BoundaryRecord

	err = s.db.NewSelect().Model(&records).
		Where("crawl_id = ?", crawlID).
		Where("shard_num >= ? AND shard_num <= ?", domLo, domHi).
		OrderExpr("shard_num ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("error selecting candidate shards for crawl %d: %w", crawlID, err)
	}

	if len(records) <= 1 {
		return nil, nil
	}

	// Drop the final element: it is the first row of the shard immediately
	// after the last matching shard.
	return records[:len(records)-1], nil
}

// shardNumBefore returns the shard_num of the record with the greatest
// (tld, domain) satisfying extraWhere, ordered tld DESC, domain DESC.
func (s *Store) shardNumBefore(ctx context.Context, crawlID int64, extraWhere, arg string) (int, bool, error) {
	var r store.BoundaryRecord

	err := s.db.NewSelect().Model(&r).
		Where("crawl_id = ?", crawlID).
		Where(extraWhere, arg).
		OrderExpr("tld DESC, domain DESC").
		Limit(1).
		Scan(ctx)

	return scanShardNum(r, err)
}

func (s *Store) greatestInRange(ctx context.Context, crawlID int64, lo, hi int, domain string) (int, bool, error) {
	var r store.BoundaryRecord

	q := s.db.NewSelect().Model(&r).
		Where("crawl_id = ?", crawlID).
		Where("shard_num <= ?", hi).
		Where("domain <= ?", domain).
		OrderExpr("shard_num DESC").
		Limit(1)

	if lo >= 0 {
		q = q.Where("shard_num >= ?", lo)
	}

	err := q.Scan(ctx)

	return scanShardNum(r, err)
}

func (s *Store) smallestAfter(ctx context.Context, crawlID int64, lo, hi int, tld, domain string) (int, bool, error) {
	var r store.BoundaryRecord

	q := s.db.NewSelect().Model(&r).
		Where("crawl_id = ?", crawlID).
		Where("shard_num <= ?", hi).
		Where("tld >= ?", tld).
		Where("domain > ?", domain).
		OrderExpr("shard_num ASC").
		Limit(1)

	if lo >= 0 {
		q = q.Where("shard_num >= ?", lo)
	}

	err := q.Scan(ctx)

	return scanShardNum(r, err)
}

func scanShardNum(r store.BoundaryRecord, err error) (int, bool, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("error querying boundary records: %w", err)
	}

	return r.ShardNum, true, nil
}
