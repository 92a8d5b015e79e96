// Package shardscanner streams a decompressed CDX shard through a
// PatternRegex, emitting matching lines as Captures, per SPEC_FULL.md §4.7.
// Ported from original_source/ccdownloader.py's CCPageLocator.run /
// _find_cdxes / filter_cdx_by_url; the channel-based emission follows
// pkg/chunker/chunker.go's goroutine-with-double-select pattern.
package shardscanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/commoncrawl-go/cclocate/pkg/cachedstream"
)

const blockSize = 4 << 20 // 4 MiB

// Capture is a single matched CDX line, parsed into its header metadata
// JSON plus the key fields recovered from the outer match.
type Capture struct {
	TLD       string
	Domain    string
	Subdomain string
	Timestamp string
	Metadata  map[string]any
}

// Scan decompresses the shard served at shardURL through cache, matches
// every line against re, and sends one Capture per match on the returned
// channel. The channel is closed when the shard is exhausted or ctx is
// cancelled; a non-nil error is sent on the error channel in either the
// decode-abort or cancellation case.
func Scan(ctx context.Context, cache *cachedstream.Cache, shardURL string, re *regexp.Regexp) (<-chan Capture, <-chan error) {
	captures := make(chan Capture)
	errc := make(chan error, 1)

	go func() {
		defer close(captures)

		log := zerolog.Ctx(ctx).With().Str("shard_url", shardURL).Logger()

		r, err := cache.Open(ctx, shardURL, false)
		if err != nil {
			errc <- fmt.Errorf("error opening shard %q: %w", shardURL, err)

			return
		}
		defer r.Close()

		zr, err := gzip.NewReader(r)
		if err != nil {
			errc <- fmt.Errorf("error opening gzip reader for %q: %w", shardURL, err)

			return
		}
		zr.Multistream(true)

		var (
			partial   []byte
			skipCount int
			lastPct   = -1
		)

		buf := make([]byte, blockSize)

		for {
			select {
			case <-ctx.Done():
				errc <- ctx.Err()

				return
			default:
			}

			n, rerr := zr.Read(buf)

			if n > 0 {
				partial = processBlock(ctx, captures, re, append(partial, buf[:n]...), &skipCount, &log)

				if length := r.Length(); length > 0 {
					pct := int(100 * r.Tell() / length)
					if pct != lastPct {
						lastPct = pct
						log.Debug().Int("percent", pct).Msg("scan progress")
					}
				}
			}

			if rerr != nil {
				if rerr == io.EOF {
					if len(partial) > 0 {
						matchLine(captures, re, partial, &skipCount, &log)
					}

					return
				}

				log.Warn().Err(rerr).Msg("aborting shard: decode error")
				errc <- fmt.Errorf("error decoding shard %q: %w", shardURL, rerr)

				return
			}
		}
	}()

	return captures, errc
}

// processBlock splits block on newlines, emits every complete line as a
// candidate match, and returns the trailing partial line to be prepended to
// the next block.
func processBlock(ctx context.Context, out chan<- Capture, re *regexp.Regexp, block []byte, skipCount *int, log *zerolog.Logger) []byte {
	lines := bytes.Split(block, []byte("\n"))

	for i, line := range lines {
		if i == len(lines)-1 {
			// Last element has no trailing newline in this block; carry it
			// over to the next read.
			return line
		}

		if len(line) == 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		matchLine(out, re, line, skipCount, log)
	}

	return nil
}

func matchLine(out chan<- Capture, re *regexp.Regexp, line []byte, skipCount *int, log *zerolog.Logger) {
	m := re.FindSubmatch(line)
	if m == nil {
		*skipCount++
		if *skipCount%1_000_000 == 0 {
			log.Info().Int("skipped", *skipCount).Msg("non-matching records skipped")
		}

		return
	}

	names := re.SubexpNames()
	groups := make(map[string]string, len(names))

	for i, name := range names {
		if name != "" && i < len(m) {
			groups[name] = string(m[i])
		}
	}

	var metadata map[string]any
	if err := json.Unmarshal([]byte(groups["headers"]), &metadata); err != nil {
		log.Warn().Err(err).Msg("skipping record with unparseable headers")

		return
	}

	out <- Capture{
		TLD:       groups["tld"],
		Domain:    groups["domain"],
		Subdomain: groups["subdomain"],
		Timestamp: groups["timestamp"],
		Metadata:  metadata,
	}
}
