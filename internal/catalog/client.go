package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mswatii/pokedex-prices/internal/models"
	"github.com/mswatii/pokedex-prices/internal/retry"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL      = "https://www.pokemonpricetracker.com/api/v2"
	DefaultAPIKeyHeader = "X-Api-Key"
	DefaultTimeout      = 10 * time.Second
	DefaultRPS          = 5
	userAgent           = "pokedex-prices/1.0"
)

var (
	// ErrMissingAPIKey is the fatal configuration error: no request is attempted without a key
	ErrMissingAPIKey = errors.New("catalog API key is not configured")
	// ErrUnauthorized is returned when the catalog rejects the configured key
	ErrUnauthorized = errors.New("catalog rejected the API key")
)

// StatusError is a non-2xx catalog response
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog returned status %d: %s", e.Code, e.Body)
}

// Doer sends one request; *fasthttp.Client satisfies it
type Doer interface {
	DoDeadline(req *fasthttp.Request, resp *fasthttp.Response, deadline time.Time) error
}

// Config describes how to reach the catalog
type Config struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	RPS          int
	Timeout      time.Duration
	Retry        retry.Policy
	Pages        PaginatorConfig
}

// Client talks to the card catalog API
type Client struct {
	http      Doer
	cfg       Config
	limiter   *rate.Limiter
	paginator *Paginator
	logger    *zap.Logger
}

// NewClient creates a catalog client. A nil doer uses a fresh fasthttp.Client.
func NewClient(cfg Config, doer Doer, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}
	if cfg.RPS <= 0 {
		cfg.RPS = DefaultRPS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if doer == nil {
		doer = &fasthttp.Client{
			Name:                userAgent,
			MaxIdleConnDuration: 30 * time.Second,
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		http:    doer,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.RPS),
		logger:  logger,
	}
	c.cfg.Retry.Notify = func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("retrying catalog request",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.Retry.Attempts),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	c.paginator = NewPaginator(cfg.Pages, logger)
	return c, nil
}

// ListSets fetches every set the catalog knows about
func (c *Client) ListSets(ctx context.Context) ([]models.Set, error) {
	body, err := c.get(ctx, "/sets", nil)
	if err != nil {
		return nil, fmt.Errorf("list sets: %w", err)
	}
	var list models.SetList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse set listing: %w", err)
	}
	return list.Data, nil
}

// SetPage fetches one page of a set's cards
func (c *Client) SetPage(ctx context.Context, setID string, page, limit int) (models.CardPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	return c.cardPage(ctx, "/sets/"+url.PathEscape(setID), q)
}

// SearchPage fetches one page of full-text search results
func (c *Client) SearchPage(ctx context.Context, query string, page, limit int) (models.CardPage, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	return c.cardPage(ctx, "/search", q)
}

// Image fetches the raw image bytes for a card
func (c *Client) Image(ctx context.Context, cardID, size string) ([]byte, error) {
	var q url.Values
	if size != "" {
		q = url.Values{"size": {size}}
	}
	body, err := c.get(ctx, "/images/"+url.PathEscape(cardID), q)
	if err != nil {
		return nil, fmt.Errorf("image %s: %w", cardID, err)
	}
	return body, nil
}

// SetCards fetches every card in a set, stamping each with the set's name and code
func (c *Client) SetCards(ctx context.Context, set models.Set) ([]models.Card, error) {
	fetch := func(ctx context.Context, page, limit int) (models.CardPage, error) {
		return c.SetPage(ctx, set.Key(), page, limit)
	}
	return c.paginator.FetchAll(ctx, fetch, &set)
}

// SearchAll runs a search across at most maxPages pages (maxPages <= 0 uses the paginator cap)
func (c *Client) SearchAll(ctx context.Context, query string, maxPages int) ([]models.Card, error) {
	fetch := func(ctx context.Context, page, limit int) (models.CardPage, error) {
		return c.SearchPage(ctx, query, page, limit)
	}
	return c.paginator.WithMaxPages(maxPages).FetchAll(ctx, fetch, nil)
}

func (c *Client) cardPage(ctx context.Context, path string, q url.Values) (models.CardPage, error) {
	body, err := c.get(ctx, path, q)
	if err != nil {
		return models.CardPage{}, err
	}
	var page models.CardPage
	if err := json.Unmarshal(body, &page); err != nil {
		return models.CardPage{}, fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return page, nil
}

// get performs a GET with rate limiting and retries and returns a copy of the body
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	uri := c.cfg.BaseURL + path
	if len(q) > 0 {
		uri += "?" + q.Encode()
	}
	return retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return c.do(ctx, uri)
	})
}

func (c *Client) do(ctx context.Context, uri string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", uri, err)
	}

	code := resp.StatusCode()
	c.logger.Debug("catalog request",
		zap.String("uri", uri),
		zap.Int("status", code),
		zap.Duration("took", time.Since(start)))

	switch {
	case code == fasthttp.StatusUnauthorized || code == fasthttp.StatusForbidden:
		return nil, retry.Permanent(fmt.Errorf("%w (status %d)", ErrUnauthorized, code))
	case code == fasthttp.StatusTooManyRequests || code == fasthttp.StatusRequestTimeout || code >= 500:
		return nil, &StatusError{Code: code, Body: truncate(string(resp.Body()), 200)}
	case code < 200 || code >= 300:
		return nil, retry.Permanent(&StatusError{Code: code, Body: truncate(string(resp.Body()), 200)})
	}

	return append([]byte(nil), resp.Body()...), nil
}

// truncate shortens s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
