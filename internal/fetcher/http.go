// Package fetcher downloads papers into the papers folder from direct URLs,
// arXiv, DOIs (via Unpaywall) and Semantic Scholar.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/paper-cli/internal/resilience"
)

// ErrNotPDF is returned when a download does not start with the PDF magic.
var ErrNotPDF = errors.New("fetcher: response is not a PDF")

// ErrNotFound is returned when a metadata service does not know the paper.
var ErrNotFound = errors.New("fetcher: paper not found")

// pdfMagic opens every PDF file.
var pdfMagic = []byte("%PDF-")

// HTTPOptions configures the HTTP client.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	Retry        resilience.RetryConfig
	RateLimiters map[string]*rate.Limiter
}

// DefaultRateLimiters follows the published limits of the metadata APIs.
// arXiv asks for no more than one request every three seconds.
func DefaultRateLimiters() map[string]*rate.Limiter {
	return map[string]*rate.Limiter{
		"export.arxiv.org":        rate.NewLimiter(rate.Every(3*time.Second), 1),
		"arxiv.org":               rate.NewLimiter(rate.Every(time.Second), 2),
		"api.semanticscholar.org": rate.NewLimiter(1, 1),
		"api.unpaywall.org":       rate.NewLimiter(10, 10),
	}
}

// HTTPFetcher issues rate-limited GETs with retry on transient failures.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates an HTTPFetcher with defaults filled in.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "paper-cli/1.0"
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("fetcher", "get")
	}
	limiters := make(map[string]*rate.Limiter, len(opts.RateLimiters))
	for k, v := range opts.RateLimiters {
		limiters[k] = v
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: opts.Timeout},
		opts:     opts,
		limiters: limiters,
	}
}

func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rate.NewLimiter(rate.Inf, 1)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[u.Host]
	if !ok {
		lim = rate.NewLimiter(5, 5)
		f.limiters[u.Host] = lim
	}
	return lim
}

// open performs one GET and returns the response for a 200. A 404 maps to
// ErrNotFound; other statuses go through resilience.StatusError.
func (f *HTTPFetcher) open(ctx context.Context, rawURL string) (*http.Response, error) {
	if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: create request for %s", rawURL)
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: get %s", rawURL)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, eris.Wrapf(ErrNotFound, "fetcher: %s", rawURL)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, resilience.StatusError("fetcher: "+req.URL.Host, resp.StatusCode, string(body))
	}
}

// Get returns the full body of rawURL.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) ([]byte, error) {
		resp, err := f.open(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close() //nolint:errcheck
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resilience.NewTransientError(eris.Wrapf(err, "fetcher: read %s", rawURL), 0)
		}
		return b, nil
	})
}

// DownloadPDF streams rawURL into path. The body is written to path+".part"
// and renamed once complete, so a watcher never sees a partial file. A body
// that is not a PDF is rejected and nothing is left behind.
func (f *HTTPFetcher) DownloadPDF(ctx context.Context, rawURL, path string) (int64, error) {
	return resilience.DoVal(ctx, f.opts.Retry, func(ctx context.Context) (int64, error) {
		resp, err := f.open(ctx, rawURL)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close() //nolint:errcheck
		return writePDF(resp.Body, path)
	})
}

func writePDF(r io.Reader, path string) (int64, error) {
	head := make([]byte, len(pdfMagic))
	n, err := io.ReadFull(r, head)
	if err != nil || !bytes.Equal(head[:n], pdfMagic) {
		return 0, eris.Wrapf(ErrNotPDF, "fetcher: %s", filepath.Base(path))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, eris.Wrapf(err, "fetcher: create %s", filepath.Dir(path))
	}
	part := path + ".part"
	file, err := os.Create(part)
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: create %s", part)
	}

	written, err := io.Copy(file, io.MultiReader(bytes.NewReader(head), r))
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(part)
		return written, resilience.NewTransientError(eris.Wrapf(err, "fetcher: write %s", part), 0)
	}
	if err := os.Rename(part, path); err != nil {
		_ = os.Remove(part)
		return written, eris.Wrapf(err, "fetcher: publish %s", path)
	}
	zap.L().Debug("fetcher: saved", zap.String("path", path), zap.Int64("bytes", written))
	return written, nil
}
