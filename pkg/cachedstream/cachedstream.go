// Package cachedstream implements a one-producer/many-reader local file
// cache of an HTTP body, usable while still being downloaded, per
// SPEC_FULL.md §4.3.
//
// Identity and read semantics are grounded on
// original_source/simple_requests_cache.py's SimpleRequestsCache; the
// atomic on-disk write pattern (create-in-place, flush per block) follows
// pkg/storage/local/local.go's PutFile, adapted since here the file must be
// visible to readers while still being written rather than only after a
// final rename.
package cachedstream

import (
	"context"
	"crypto/md5" //nolint:gosec // used for cache-file identity, not security
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/commoncrawl-go/cclocate/pkg/httpfetcher"
)

const (
	blockSize      = 1 << 20 // 1 MiB
	maxLeafLen     = 150
	defaultDirPerm = 0o700
)

var sanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// unknownLength marks a Content-Length that the server did not advertise.
const unknownLength = -1

// Cache manages CachedStream entries rooted at a local directory.
type Cache struct {
	dir     string
	fetcher *httpfetcher.Fetcher

	mu     sync.Mutex
	active map[string]*stream

	sf singleflight.Group
}

// New returns a Cache rooted at dir, which is created if it does not exist.
func New(dir string, fetcher *httpfetcher.Fetcher) (*Cache, error) {
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return nil, fmt.Errorf("error creating cache directory %q: %w", dir, err)
	}

	return &Cache{
		dir:     dir,
		fetcher: fetcher,
		active:  make(map[string]*stream),
	}, nil
}

// stream is the shared state behind every Reader opened for the same URL.
type stream struct {
	path string

	mu      sync.Mutex
	cond    *sync.Cond
	length  int64 // unknownLength if the server didn't advertise it
	written int64
	done    bool
	err     error
}

func (s *stream) Length() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.length != unknownLength {
		return s.length
	}

	return s.written
}

// Reader reads sequentially from byte 0 of a cached file. It is not safe
// for concurrent use by multiple goroutines, but independent Readers over
// the same stream (e.g. from two Cache.Open calls) are.
type Reader struct {
	stream *stream
	path   string
	f      *os.File
	pos    int64
}

// Tell returns the number of bytes this reader has consumed so far.
func (r *Reader) Tell() int64 { return r.pos }

// Length returns the producer's advertised Content-Length if known, else
// the current on-disk size.
func (r *Reader) Length() int64 { return r.stream.Length() }

// Close releases the reader's file handle. It does not affect the
// producer or other readers.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}

	return r.f.Close()
}

// Read implements io.Reader. A read past the current producer head blocks
// until more bytes are flushed or the producer has finished, in which case
// it returns io.EOF.
func (r *Reader) Read(p []byte) (int, error) {
	if r.f == nil {
		f, err := os.Open(r.path)
		if err != nil {
			return 0, fmt.Errorf("error opening cache file %q: %w", r.path, err)
		}

		r.f = f
	}

	st := r.stream

	st.mu.Lock()
	for r.pos >= st.written && !st.done {
		st.cond.Wait()
	}

	written, done, err := st.written, st.done, st.err
	st.mu.Unlock()

	if r.pos >= written {
		if err != nil {
			return 0, err
		}

		if done {
			return 0, io.EOF
		}
	}

	avail := written - r.pos
	if int64(len(p)) > avail {
		p = p[:avail]
	}

	n, rerr := r.f.ReadAt(p, r.pos)
	r.pos += int64(n)

	if errors.Is(rerr, io.EOF) {
		// We only ever request bytes already known to be written, so a
		// short read here means the file handle caught up to an fsync
		// boundary; not a real end of stream.
		rerr = nil
	}

	return n, rerr
}

// Open returns a Reader for url. If no valid cache file exists (absent,
// empty, or short of the server's advertised Content-Length), a producer
// goroutine is started to (re)download it; forceRewrite bypasses the
// existence check unconditionally.
func (c *Cache) Open(ctx context.Context, url string, forceRewrite bool) (*Reader, error) {
	path := c.path(url)

	v, err, _ := c.sf.Do(url, func() (any, error) {
		return c.openOrStart(ctx, url, path, forceRewrite)
	})
	if err != nil {
		return nil, err
	}

	st, ok := v.(*stream)
	if !ok {
		return nil, fmt.Errorf("internal error: unexpected singleflight value type %T", v)
	}

	return &Reader{stream: st, path: path}, nil
}

func (c *Cache) openOrStart(ctx context.Context, url, path string, forceRewrite bool) (*stream, error) {
	c.mu.Lock()
	if st, ok := c.active[url]; ok && !forceRewrite {
		c.mu.Unlock()

		return st, nil
	}
	c.mu.Unlock()

	contentLength, err := c.headContentLength(ctx, url)
	if err != nil {
		return nil, err
	}

	st := &stream{path: path, length: contentLength}
	st.cond = sync.NewCond(&st.mu)

	if !forceRewrite && sanityCheckPasses(path, contentLength) {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error stating cache file %q: %w", path, err)
		}

		st.written = info.Size()
		st.done = true

		c.mu.Lock()
		c.active[url] = st
		c.mu.Unlock()

		return st, nil
	}

	// Stale, short, or absent: discard and restart.
	os.Remove(path)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("error creating cache file %q: %w", path, err)
	}

	c.mu.Lock()
	c.active[url] = st
	c.mu.Unlock()

	// The producer outlives the caller's cancellation so that a partially
	// downloaded file keeps growing for later readers.
	go c.produce(context.WithoutCancel(ctx), url, st, f)

	return st, nil
}

func (c *Cache) produce(ctx context.Context, url string, st *stream, f *os.File) {
	defer f.Close()

	finish := func(err error) {
		st.mu.Lock()
		st.err = err
		st.done = true
		st.mu.Unlock()
		st.cond.Broadcast()
	}

	resp, err := c.fetcher.Get(ctx, url, map[string]string{"Accept-Encoding": "gzip"})
	if err != nil {
		finish(fmt.Errorf("error starting download of %q: %w", url, err))

		return
	}
	defer resp.Body.Close()

	buf := make([]byte, blockSize)

	for {
		select {
		case <-ctx.Done():
			finish(ctx.Err())

			return
		default:
		}

		n, rerr := resp.Body.Read(buf)

		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				finish(fmt.Errorf("error writing cache block for %q: %w", url, werr))

				return
			}

			if serr := f.Sync(); serr != nil {
				finish(fmt.Errorf("error flushing cache block for %q: %w", url, serr))

				return
			}

			st.mu.Lock()
			st.written += int64(n)
			st.mu.Unlock()
			st.cond.Broadcast()
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				finish(nil)

				return
			}

			finish(fmt.Errorf("error downloading %q: %w", url, rerr))

			return
		}
	}
}

func (c *Cache) headContentLength(ctx context.Context, url string) (int64, error) {
	resp, err := c.fetcher.Head(ctx, url, nil)
	if err != nil {
		return unknownLength, fmt.Errorf("error issuing HEAD for %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.ContentLength <= 0 {
		return unknownLength, nil
	}

	return resp.ContentLength, nil
}

func sanityCheckPasses(path string, contentLength int64) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	if info.Size() == 0 {
		return false
	}

	if contentLength != unknownLength && info.Size() < contentLength {
		return false
	}

	return true
}

func (c *Cache) path(url string) string {
	sum := md5.Sum([]byte(url)) //nolint:gosec
	leaf := sanitizeRe.ReplaceAllString(url, "_")

	if len(leaf) > maxLeafLen {
		leaf = leaf[len(leaf)-maxLeafLen:]
	}

	return filepath.Join(c.dir, fmt.Sprintf("%s-%s.cache", leaf, hex.EncodeToString(sum[:])))
}
