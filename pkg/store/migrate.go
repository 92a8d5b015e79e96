package store

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Migrate creates every table this package owns if it does not already
// exist, plus the indexes the range-query algorithm in boundarystore
// depends on. It is idempotent and safe to call on every process start,
// the way the teacher's dbmate migrations are applied once per deploy --
// here there is no external migration tool, so the schema is created
// in-process instead.
func Migrate(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*Crawl)(nil),
		(*BoundaryRecord)(nil),
		(*CapturedResource)(nil),
	}

	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("error creating table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		name  string
		model any
		cols  []string
		uniq  bool
	}{
		{"idx_boundary_crawl_shard", (*BoundaryRecord)(nil), []string{"crawl_id", "shard_num"}, true},
		{"idx_boundary_range", (*BoundaryRecord)(nil), []string{"crawl_id", "tld", "domain", "subdomain", "path"}, false},
		{"idx_captured_crawl", (*CapturedResource)(nil), []string{"crawl_id"}, false},
	}

	for _, idx := range indexes {
		q := db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.cols...).IfNotExists()
		if idx.uniq {
			q = q.Unique()
		}

		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("error creating index %s: %w", idx.name, err)
		}
	}

	return nil
}
