// Package opencellid is a client for the OpenCelliD cell tower registry's
// area queries: a row count for a bounding box and paginated CSV rows.
package opencellid

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/connectivity-cli/internal/geo"
	"github.com/sells-group/connectivity-cli/internal/resilience"
)

// DefaultBaseURL is the public registry endpoint.
const DefaultBaseURL = "https://opencellid.org"

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 512

// Options configures a Client.
type Options struct {
	Token        string
	BaseURL      string
	Radio        string        // optional radio filter, e.g. "LTE"
	Delay        time.Duration // pause enforced before every request
	CountTimeout time.Duration
	PageTimeout  time.Duration
	MaxAttempts  int
	Backoff      time.Duration
	UserAgent    string
	HTTPClient   *http.Client
}

// Client queries the registry. Every request, retries included, waits on a
// single limiter so calls are paced at one per Delay.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// New creates a Client. A missing token is an error.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, eris.New("opencellid: access token is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.CountTimeout == 0 {
		opts.CountTimeout = 30 * time.Second
	}
	if opts.PageTimeout == 0 {
		opts.PageTimeout = 60 * time.Second
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff == 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "connectivity-cli/1.0"
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}

	retry := resilience.FixedRetryConfig(opts.MaxAttempts, opts.Backoff)
	// Any request failure is retried; the caller skips the tile or page
	// once attempts run out.
	retry.ShouldRetry = resilience.RetryAll

	return &Client{
		opts:    opts,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
		retry:   retry,
	}, nil
}

type countResponse struct {
	Count json.Number `json:"count"`
}

// Count returns the number of registry rows inside box. A body that cannot
// be parsed counts as zero.
func (c *Client) Count(ctx context.Context, box geo.BBox) (int, error) {
	q := c.query(box)
	q.Set("format", "json")
	u := c.opts.BaseURL + "/cell/getInAreaSize?" + q.Encode()

	retry := c.retry
	retry.OnRetry = resilience.RetryLogger("opencellid", "count")

	body, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, u, c.opts.CountTimeout)
	})
	if err != nil {
		return 0, eris.Wrapf(err, "opencellid: count %s", box)
	}

	var resp countResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		zap.L().Warn("opencellid: unparsable count response, treating as zero",
			zap.String("bbox", box.String()),
			zap.Error(err),
		)
		return 0, nil
	}
	if resp.Count == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(resp.Count.String())
	if err != nil {
		f, ferr := resp.Count.Float64()
		if ferr != nil {
			return 0, nil
		}
		n = int(f)
	}
	return n, nil
}

// Page returns one page of CSV text, header line included.
func (c *Client) Page(ctx context.Context, box geo.BBox, limit, offset int) (string, error) {
	q := c.query(box)
	q.Set("format", "csv")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	u := c.opts.BaseURL + "/cell/getInArea?" + q.Encode()

	retry := c.retry
	retry.OnRetry = resilience.RetryLogger("opencellid", "page")

	body, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, u, c.opts.PageTimeout)
	})
	if err != nil {
		return "", eris.Wrapf(err, "opencellid: page %s offset %d", box, offset)
	}
	return string(body), nil
}

func (c *Client) query(box geo.BBox) url.Values {
	q := url.Values{}
	q.Set("key", c.opts.Token)
	q.Set("BBOX", box.String())
	if c.opts.Radio != "" {
		q.Set("radio", c.opts.Radio)
	}
	return q
}

func (c *Client) get(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "http request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &resilience.StatusError{
			URL:        redact(rawURL),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read body")
	}
	return body, nil
}

// redact drops the access token from a URL before it is logged.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
