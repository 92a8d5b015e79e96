// Package httpfetcher performs ranged GET/HEAD requests against Common
// Crawl's HTTP endpoints with exponential-backoff retry, per SPEC_FULL.md
// §4.1.
package httpfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	defaultDialerTimeout         = 5 * time.Second
	defaultResponseHeaderTimeout = 5 * time.Second
)

var (
	// ErrTransportCastError is returned if http.DefaultTransport is not an
	// *http.Transport (should not happen under the standard library).
	ErrTransportCastError = errors.New("default transport is not an *http.Transport")

	// ErrRetrievalFailed is returned when a request exhausts its retry
	// budget or receives a non-2xx, non-retryable response.
	ErrRetrievalFailed = errors.New("retrieval failed")
)

// Options configures a Fetcher.
type Options struct {
	// UserAgent is set on every outgoing request.
	UserAgent string

	// DialerTimeout bounds establishing the TCP connection.
	DialerTimeout time.Duration

	// ResponseHeaderTimeout bounds waiting for response headers.
	ResponseHeaderTimeout time.Duration

	// Retry is the backoff policy. Defaults to DefaultRetryConfig().
	Retry RetryConfig

	// Registerer receives the fetch-latency histogram, if non-nil.
	Registerer prometheus.Registerer
}

// Fetcher performs retried, ranged HTTP GET/HEAD requests.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	retry      RetryConfig
	latency    prometheus.Histogram
}

// New builds a Fetcher. Its HTTP transport is a clone of
// http.DefaultTransport with a tuned dialer and response-header timeout,
// mirroring pkg/cache/upstream/cache.go's setupHTTPClient.
func New(opts Options) (*Fetcher, error) {
	dtP, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, ErrTransportCastError
	}

	dt := dtP.Clone()

	dialerTimeout := opts.DialerTimeout
	if dialerTimeout <= 0 {
		dialerTimeout = defaultDialerTimeout
	}

	responseHeaderTimeout := opts.ResponseHeaderTimeout
	if responseHeaderTimeout <= 0 {
		responseHeaderTimeout = defaultResponseHeaderTimeout
	}

	dt.DialContext = (&net.Dialer{
		Timeout:   dialerTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	dt.ResponseHeaderTimeout = responseHeaderTimeout

	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}

	f := &Fetcher{
		httpClient: &http.Client{Transport: dt},
		userAgent:  opts.UserAgent,
		retry:      retry,
	}

	if opts.Registerer != nil {
		f.latency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cclocate_http_fetch_duration_seconds",
			Help:    "Duration of HTTP requests issued by the httpfetcher.",
			Buckets: prometheus.DefBuckets,
		})

		if err := opts.Registerer.Register(f.latency); err != nil {
			are := &prometheus.AlreadyRegisteredError{}
			if !errors.As(err, are) {
				return nil, fmt.Errorf("error registering fetch latency histogram: %w", err)
			}

			f.latency, _ = are.ExistingCollector.(prometheus.Histogram)
		}
	}

	return f, nil
}

// Get issues a GET with the given headers and returns the response. The
// caller must close the response body. Retried per the configured policy.
func (f *Fetcher) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	return f.do(ctx, http.MethodGet, url, headers)
}

// Head issues a HEAD request. The caller must close the response body.
func (f *Fetcher) Head(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	return f.do(ctx, http.MethodHead, url, headers)
}

// GetRange issues a ranged GET (bytes=first-last) and returns the body in
// full. The result may be shorter than requested if the server ignored the
// range; callers must handle both.
func (f *Fetcher) GetRange(ctx context.Context, url string, first, last int64) ([]byte, error) {
	headers := map[string]string{
		"Range": fmt.Sprintf("bytes=%d-%d", first, last),
	}

	resp, err := f.do(ctx, http.MethodGet, url, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading ranged response body: %w", err)
	}

	return body, nil
}

func (f *Fetcher) do(ctx context.Context, method, url string, headers map[string]string) (*http.Response, error) {
	log := zerolog.Ctx(ctx).With().
		Str("method", method).
		Str("url", url).
		Logger()

	deadline := time.Now().Add(f.retry.MaxElapsed)

	var lastErr error

	for attempt := 0; attempt < f.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if f.retry.MaxElapsed > 0 && time.Now().After(deadline) {
				break
			}

			delay := CalculateBackoff(f.retry, attempt)

			log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("retrying request")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, retryable, err := f.attempt(ctx, method, url, headers)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if !retryable {
			break
		}

		log.Warn().Err(err).Int("attempt", attempt).Msg("request failed, will retry")
	}

	log.Error().Err(lastErr).Msg("request failed after exhausting retries")

	return nil, fmt.Errorf("%w: %s %s: %w", ErrRetrievalFailed, method, url, lastErr)
}

// attempt performs a single HTTP round trip. The returned bool reports
// whether the error (if any) is retryable.
func (f *Fetcher) attempt(ctx context.Context, method, url string, headers map[string]string) (*http.Response, bool, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("error building request: %w", err)
	}

	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)

	if f.latency != nil {
		f.latency.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		// Transport, DNS, and timeout errors are all retryable.
		return nil, true, err
	}

	if resp.StatusCode > 299 {
		//nolint:errcheck
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		retryable := resp.StatusCode >= 500

		return nil, retryable, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	return resp, false, nil
}
