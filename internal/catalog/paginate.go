package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mswatii/pokedex-prices/internal/models"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Mode selects how pages after the first are requested
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeConcurrent Mode = "concurrent"
)

const (
	DefaultPageSize    = 100
	DefaultMaxPages    = 50 // Safety limit against endpoints that ignore the page parameter
	DefaultWorkers     = 3
	DefaultSpeculative = 5
	DefaultPageTimeout = 8 * time.Second
)

// ErrPartial marks a listing that stopped early because a page could not be fetched.
// The records collected before the failure are still returned.
var ErrPartial = errors.New("pagination stopped early")

// PageFunc fetches one page of a listing
type PageFunc func(ctx context.Context, page, limit int) (models.CardPage, error)

// PaginatorConfig tunes the paginator
type PaginatorConfig struct {
	PageSize    int
	MaxPages    int
	Mode        Mode
	Workers     int           // Concurrent mode: parallel page fetches
	Speculative int           // Concurrent mode: highest page of the first speculative round (K)
	PageTimeout time.Duration // Concurrent mode: per-page timeout; a timeout means "no more pages"
}

// Paginator drives a paged endpoint until it is exhausted
type Paginator struct {
	cfg    PaginatorConfig
	logger *zap.Logger
}

// NewPaginator fills in defaults for zero config values
func NewPaginator(cfg PaginatorConfig, logger *zap.Logger) *Paginator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSequential
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Speculative < 2 {
		cfg.Speculative = DefaultSpeculative
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = DefaultPageTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paginator{cfg: cfg, logger: logger}
}

// WithMaxPages returns a copy capped at maxPages; maxPages <= 0 keeps the current cap
func (p *Paginator) WithMaxPages(maxPages int) *Paginator {
	cp := *p
	if maxPages > 0 {
		cp.cfg.MaxPages = maxPages
	}
	return &cp
}

// FetchAll collects every record of a listing. An empty first page is the "no data"
// answer and ends the listing at once. When a page fails after retries the records
// gathered so far are returned together with an error wrapping ErrPartial; callers may
// log it and carry on with the partial result.
// When set is non-nil every record is stamped with the set's name and code.
func (p *Paginator) FetchAll(ctx context.Context, fetch PageFunc, set *models.Set) ([]models.Card, error) {
	first, err := fetch(ctx, 1, p.cfg.PageSize)
	if err != nil {
		p.logger.Warn("first page failed", zap.Error(err))
		return []models.Card{}, fmt.Errorf("%w: page 1: %w", ErrPartial, err)
	}
	if len(first.Cards) == 0 {
		return []models.Card{}, nil
	}

	meta := stampFrom(set, first.Set)
	cards := stamp(make([]models.Card, 0, len(first.Cards)), first.Cards, meta)
	totalPages := first.Pagination.TotalPages

	if !p.hasMore(1, len(first.Cards), totalPages) {
		return cards, nil
	}

	if p.cfg.Mode == ModeConcurrent {
		return p.fetchConcurrent(ctx, fetch, cards, meta, totalPages)
	}
	return p.fetchSequential(ctx, fetch, cards, meta, len(first.Cards), totalPages)
}

// hasMore decides whether a page after `page` should be requested. A declared
// total_pages wins over the short-page heuristic.
func (p *Paginator) hasMore(page, pageLen, totalPages int) bool {
	if page >= p.cfg.MaxPages {
		p.logger.Info("reached maximum page limit", zap.Int("max_pages", p.cfg.MaxPages))
		return false
	}
	if totalPages > 0 {
		return page < totalPages
	}
	return pageLen >= p.cfg.PageSize
}

func (p *Paginator) fetchSequential(ctx context.Context, fetch PageFunc, cards []models.Card, meta *models.Set, lastLen, totalPages int) ([]models.Card, error) {
	for page := 2; ; page++ {
		pg, err := fetch(ctx, page, p.cfg.PageSize)
		if err != nil {
			p.logger.Warn("page fetch failed, returning partial results",
				zap.Int("page", page), zap.Int("collected", len(cards)), zap.Error(err))
			return cards, fmt.Errorf("%w: page %d: %w", ErrPartial, page, err)
		}
		if len(pg.Cards) == 0 {
			return cards, nil
		}
		cards = stamp(cards, pg.Cards, meta)
		lastLen = len(pg.Cards)
		if !p.hasMore(page, lastLen, totalPages) {
			return cards, nil
		}
	}
}

type pageResult struct {
	page     int
	cards    []models.Card
	err      error
	timedOut bool
}

// fetchConcurrent fetches pages in speculative rounds of up to Speculative-1 pages on a
// pool of Workers. Each goroutine writes only its own result slot; results are merged in
// page order once the round completes.
func (p *Paginator) fetchConcurrent(ctx context.Context, fetch PageFunc, cards []models.Card, meta *models.Set, totalPages int) ([]models.Card, error) {
	next := 2
	for {
		last := next + p.cfg.Speculative - 2
		if totalPages > 0 && last > totalPages {
			last = totalPages
		}
		if last > p.cfg.MaxPages {
			last = p.cfg.MaxPages
		}
		if last < next {
			return cards, nil
		}

		results := make([]pageResult, last-next+1)
		var g errgroup.Group
		g.SetLimit(p.cfg.Workers)
		for i := range results {
			page := next + i
			slot := &results[i]
			g.Go(func() error {
				pctx, cancel := context.WithTimeout(ctx, p.cfg.PageTimeout)
				defer cancel()
				pg, err := fetch(pctx, page, p.cfg.PageSize)
				*slot = pageResult{page: page, cards: pg.Cards, err: err}
				if err != nil && (errors.Is(pctx.Err(), context.DeadlineExceeded) || isTimeout(err)) {
					slot.timedOut = true
				}
				return nil
			})
		}
		_ = g.Wait()

		for _, res := range results {
			switch {
			case res.timedOut:
				p.logger.Info("page timed out, assuming no more pages", zap.Int("page", res.page))
				return cards, nil
			case res.err != nil:
				p.logger.Warn("page fetch failed, returning partial results",
					zap.Int("page", res.page), zap.Int("collected", len(cards)), zap.Error(res.err))
				return cards, fmt.Errorf("%w: page %d: %w", ErrPartial, res.page, res.err)
			case len(res.cards) == 0:
				return cards, nil
			}
			cards = stamp(cards, res.cards, meta)
			if !p.hasMore(res.page, len(res.cards), totalPages) {
				return cards, nil
			}
		}
		next = last + 1
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// stampFrom picks the set metadata to attach: the requested set, overlaid with the
// name and code from the response envelope when it carries them.
func stampFrom(requested, envelope *models.Set) *models.Set {
	if requested == nil {
		return nil
	}
	meta := *requested
	if envelope != nil {
		if envelope.Name != "" {
			meta.Name = envelope.Name
		}
		if envelope.Code != "" {
			meta.Code = envelope.Code
		}
	}
	if meta.Code == "" {
		meta.Code = meta.ID
	}
	return &meta
}

func stamp(dst, page []models.Card, meta *models.Set) []models.Card {
	for _, c := range page {
		if meta != nil {
			c.SetName = meta.Name
			c.SetCode = meta.Code
		}
		dst = append(dst, c)
	}
	return dst
}
