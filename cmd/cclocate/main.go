// Command cclocate bootstraps the process and runs one Locator pass. It is
// deliberately not a full CLI: flag parsing beyond the crawl label and URL
// patterns, and configuration-file loading, are external collaborators left
// to the caller (SPEC_FULL.md §1 Non-goals).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/term"

	"github.com/commoncrawl-go/cclocate/pkg/boundarystore"
	"github.com/commoncrawl-go/cclocate/pkg/cachedstream"
	"github.com/commoncrawl-go/cclocate/pkg/capturesink"
	"github.com/commoncrawl-go/cclocate/pkg/config"
	"github.com/commoncrawl-go/cclocate/pkg/crawldirectory"
	"github.com/commoncrawl-go/cclocate/pkg/httpfetcher"
	"github.com/commoncrawl-go/cclocate/pkg/indexbootstrapper"
	"github.com/commoncrawl-go/cclocate/pkg/locator"
	"github.com/commoncrawl-go/cclocate/pkg/store"
	"github.com/commoncrawl-go/cclocate/pkg/urlpattern"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	ctx := setupLogger(context.Background())

	log := zerolog.Ctx(ctx)

	infof := func(format string, args ...interface{}) {
		log.Info().Msg(fmt.Sprintf(format, args...))
	}

	if _, err := maxprocs.Set(maxprocs.Logger(infof)); err != nil {
		log.Warn().Err(err).Msg("failed to set GOMAXPROCS")
	}

	label, patterns, err := parseArgs(os.Args[1:])
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("invalid arguments")

		return 1
	}

	if err := run(ctx, label, patterns); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("locator run failed")

		return 1
	}

	return 0
}

// setupLogger attaches a console or JSON zerolog.Logger to ctx depending on
// whether stdout is a terminal, the way cmd/cmd.go's Before hook does.
func setupLogger(ctx context.Context) context.Context {
	var output = os.Stdout

	var writer zerolog.ConsoleWriter

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	if term.IsTerminal(int(output.Fd())) {
		writer = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
		logger = zerolog.New(writer).With().Timestamp().Logger()
	}

	lvl := os.Getenv("CCLOCATE_LOG_LEVEL")
	if lvl == "" {
		lvl = "info"
	}

	if parsed, err := zerolog.ParseLevel(lvl); err == nil {
		logger = logger.Level(parsed)
	}

	return logger.WithContext(ctx)
}

// parseArgs recognizes a single positional crawl label plus repeated
// "-pattern tld,domain,subdomain,path" flags; each pattern is a comma
// separated 4-tuple with empty fields meaning "wildcard".
func parseArgs(args []string) (string, []urlpattern.UrlPattern, error) {
	fs := flag.NewFlagSet("cclocate", flag.ContinueOnError)

	var rawPatterns patternFlags

	fs.Var(&rawPatterns, "pattern", "tld,domain,subdomain,path (repeatable)")

	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}

	if fs.NArg() != 1 {
		return "", nil, fmt.Errorf("cclocate: expected exactly one crawl label argument, got %d", fs.NArg())
	}

	if len(rawPatterns) == 0 {
		return "", nil, fmt.Errorf("cclocate: at least one -pattern is required")
	}

	return fs.Arg(0), rawPatterns, nil
}

type patternFlags []urlpattern.UrlPattern

func (p *patternFlags) String() string { return fmt.Sprintf("%v", []urlpattern.UrlPattern(*p)) }

func (p *patternFlags) Set(value string) error {
	parts := strings.SplitN(value, ",", 4)
	for len(parts) < 4 {
		parts = append(parts, "")
	}

	*p = append(*p, urlpattern.UrlPattern{
		TLD:       parts[0],
		Domain:    parts[1],
		Subdomain: parts[2],
		Path:      parts[3],
	})

	return nil
}

func run(ctx context.Context, label string, patterns []urlpattern.UrlPattern) error {
	cfg := config.Config{
		CCDataHostname:  envOr("CCLOCATE_CC_DATA_HOSTNAME", ""),
		CCIndexHostname: envOr("CCLOCATE_CC_INDEX_HOSTNAME", ""),
		StoreDSN:        envOr("CCLOCATE_STORE_DSN", "sqlite:cclocate.db"),
		CacheDir:        envOr("CCLOCATE_CACHE_DIR", os.TempDir()+"/cclocate-cache"),
		UserAgent:       envOr("CCLOCATE_USER_AGENT", ""),
	}.WithDefaults()

	db, _, err := store.Open(cfg.StoreDSN, nil)
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}
	defer db.Close()

	if err := store.Migrate(ctx, db); err != nil {
		return fmt.Errorf("error migrating store: %w", err)
	}

	fetcher, err := httpfetcher.New(httpfetcher.Options{UserAgent: cfg.UserAgent})
	if err != nil {
		return fmt.Errorf("error building fetcher: %w", err)
	}

	cache, err := cachedstream.New(cfg.CacheDir, fetcher)
	if err != nil {
		return fmt.Errorf("error building cache: %w", err)
	}

	ccDataBaseURL := "https://" + cfg.CCDataHostname
	ccIndexBaseURL := "https://" + cfg.CCIndexHostname

	directory := crawldirectory.New(fetcher, ccIndexBaseURL)
	boundaries := boundarystore.New(db)
	bootstrapper := indexbootstrapper.New(fetcher, directory, boundaries, ccDataBaseURL)

	sink, err := capturesink.New(db, fetcher, ccDataBaseURL, nil)
	if err != nil {
		return fmt.Errorf("error building capture sink: %w", err)
	}

	loc := locator.New(boundaries, bootstrapper, sink, cache, ccDataBaseURL)

	indexProgress := func(label, statusMsg string, complete bool, done, total int) {
		zerolog.Ctx(ctx).Info().
			Str("crawl_label", label).
			Str("status", statusMsg).
			Bool("complete", complete).
			Int("done", done).
			Int("total", total).
			Msg("index bootstrap progress")
	}

	scanProgress := func(crawlLabel string, shardNum, shardIndex, shardTotal int) {
		zerolog.Ctx(ctx).Info().
			Str("crawl_label", crawlLabel).
			Int("shard_num", shardNum).
			Int("shard_index", shardIndex).
			Int("shard_total", shardTotal).
			Msg("shard scan progress")
	}

	return loc.Run(ctx, label, patterns, indexProgress, scanProgress)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
