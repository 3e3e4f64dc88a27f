// Package fetcher downloads remote data files with retry and pacing.
package fetcher

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/connectivity-cli/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	Rate       rate.Limit // requests per second; 0 means 5
	HTTPClient *http.Client
}

// HTTPFetcher downloads over net/http with retry and rate limiting.
type HTTPFetcher struct {
	client  *http.Client
	opts    HTTPOptions
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff == 0 {
		opts.Backoff = time.Second
	}
	if opts.Rate == 0 {
		opts.Rate = 5
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "connectivity-cli/1.0"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	retry := resilience.RetryConfig{
		MaxAttempts: opts.MaxRetries,
		Backoff:     opts.Backoff,
		Multiplier:  2,
		OnRetry:     resilience.RetryLogger("fetcher", "download"),
	}
	return &HTTPFetcher{
		client:  client,
		opts:    opts,
		limiter: rate.NewLimiter(opts.Rate, 1),
		retry:   retry,
	}
}

// get issues a GET, retrying transient failures. 200 and 304 are returned
// to the caller; any other status becomes a resilience.StatusError.
func (f *HTTPFetcher) get(ctx context.Context, rawURL, etag string) (*http.Response, error) {
	return resilience.DoVal(ctx, f.retry, func(ctx context.Context) (*http.Response, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		req.Header.Set("User-Agent", f.opts.UserAgent)
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotModified {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		return nil, &resilience.StatusError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	})
}

// DownloadIfChanged fetches the URL unless the server reports etag is still
// current. When nothing changed the body is nil and changed is false.
func (f *HTTPFetcher) DownloadIfChanged(ctx context.Context, rawURL string, etag string) (io.ReadCloser, string, bool, error) {
	resp, err := f.get(ctx, rawURL, etag)
	if err != nil {
		return nil, "", false, eris.Wrap(err, "download if changed")
	}
	if resp.StatusCode == http.StatusNotModified {
		_ = resp.Body.Close()
		return nil, etag, false, nil
	}
	return resp.Body, resp.Header.Get("ETag"), true, nil
}

// Mirror keeps path in sync with rawURL. The last seen ETag is stored next to
// the file in path+".etag". It reports whether the file was (re)downloaded.
func (f *HTTPFetcher) Mirror(ctx context.Context, rawURL, path string) (bool, error) {
	log := zap.L().With(zap.String("component", "fetcher"), zap.String("url", rawURL))

	var etag string
	if _, err := os.Stat(path); err == nil {
		if b, err := os.ReadFile(path + ".etag"); err == nil {
			etag = strings.TrimSpace(string(b))
		}
	}

	body, newETag, changed, err := f.DownloadIfChanged(ctx, rawURL, etag)
	if err != nil {
		return false, err
	}
	if !changed {
		log.Info("cached copy is current", zap.String("path", path))
		return false, nil
	}
	defer body.Close() //nolint:errcheck

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, eris.Wrap(err, "create download dir")
	}
	n, err := writeFile(path, body)
	if err != nil {
		return false, err
	}
	if newETag != "" {
		if err := os.WriteFile(path+".etag", []byte(newETag+"\n"), 0o644); err != nil {
			return true, eris.Wrap(err, "write etag")
		}
	} else {
		_ = os.Remove(path + ".etag")
	}

	log.Info("downloaded", zap.String("path", path), zap.Int64("bytes", n))
	return true, nil
}

func writeFile(path string, r io.Reader) (int64, error) {
	tmp := path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}

	n, err := io.Copy(file, r)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return n, eris.Wrap(err, "write file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return n, eris.Wrap(err, "rename file")
	}
	return n, nil
}
