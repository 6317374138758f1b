package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/mmcdole/kinomirror/internal/domain"
	"github.com/mmcdole/kinomirror/internal/textnorm"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
	baseRetryDelay    = 500 * time.Millisecond
	maxBodyBytes      = 16 << 20
)

// Options configures the remote catalog client.
type Options struct {
	BaseURL      string
	ListPath     string // newest-updated listing
	CategoryPath string
	CountryPath  string
	YearPath     string
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	RateLimit    float64 // requests per second, 0 disables
	Burst        int
	Extractors   []Extractor
}

// Client fetches listing pages from the remote catalog API.
type Client struct {
	opts       Options
	httpClient *http.Client
	limiter    *rate.Limiter
	extractors []Extractor
	logger     *slog.Logger
}

// NewClient creates a catalog client. A nil logger uses slog.Default().
func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	extractors := opts.Extractors
	if len(extractors) == 0 {
		extractors = DefaultExtractors
	}

	return &Client{
		opts: opts,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter:    limiter,
		extractors: extractors,
		logger:     logger,
	}
}

// FetchPage returns one page of the newest-updated listing.
func (c *Client) FetchPage(ctx context.Context, page int) (domain.CatalogPage, error) {
	return c.fetchListing(ctx, c.opts.ListPath, page)
}

// FetchFiltered returns one page of a category, country or year listing.
func (c *Client) FetchFiltered(ctx context.Context, dim domain.FilterDimension, value string, page int) (domain.CatalogPage, error) {
	var base string
	switch dim {
	case domain.DimensionCategory:
		base = c.opts.CategoryPath
	case domain.DimensionCountry:
		base = c.opts.CountryPath
	case domain.DimensionYear:
		base = c.opts.YearPath
	default:
		return domain.CatalogPage{}, fmt.Errorf("unknown filter dimension %q", dim)
	}
	slug := textnorm.Slugify(value)
	if base == "" || slug == "" {
		return domain.CatalogPage{}, fmt.Errorf("no listing for %s %q", dim, value)
	}
	return c.fetchListing(ctx, strings.TrimRight(base, "/")+"/"+url.PathEscape(slug), page)
}

func (c *Client) fetchListing(ctx context.Context, path string, page int) (domain.CatalogPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))

	body, err := c.doRequest(ctx, path, query)
	if err != nil {
		return domain.CatalogPage{Page: page}, err
	}
	return c.decodePage(body, page), nil
}

// decodePage never fails: malformed bodies read as empty pages.
func (c *Client) decodePage(body []byte, page int) domain.CatalogPage {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		c.logger.Warn("catalog response is not JSON", "page", page, "error", err)
		return domain.CatalogPage{Page: page}
	}

	raws, shape := ExtractItems(decoded, c.extractors)
	if shape == "" {
		c.logger.Warn("catalog response has no known envelope", "page", page)
	}
	records := NormalizeAll(raws)
	c.logger.Debug("catalog page decoded",
		"page", page,
		"shape", shape,
		"raw", len(raws),
		"records", len(records),
	)
	return domain.CatalogPage{
		Page:       page,
		TotalPages: ExtractTotalPages(decoded),
		Records:    records,
	}
}

// doRequest performs a GET against the catalog API.
// Retries 5xx answers with exponential backoff.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	reqURL := c.opts.BaseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying catalog request", "attempt", attempt, "delay", delay, "url", reqURL)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.opts.UserAgent != "" {
			req.Header.Set("User-Agent", c.opts.UserAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			c.logger.Warn("catalog request failed", "url", reqURL, "error", err)
			return nil, fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%w: status %d", domain.ErrUpstreamStatus, resp.StatusCode)
			c.logger.Warn("catalog server error, will retry",
				"status", resp.StatusCode,
				"attempt", attempt,
				"maxRetries", c.opts.MaxRetries,
				"path", path,
			)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: status %d", domain.ErrUpstreamStatus, resp.StatusCode)
		}

		return body, nil
	}

	c.logger.Error("catalog request failed after retries", "error", lastErr, "url", reqURL)
	return nil, lastErr
}
