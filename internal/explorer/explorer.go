// Package explorer serves set listings, priced card batches, images and assistant
// answers for a user session.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mswatii/pokedex-prices/internal/assistant"
	"github.com/mswatii/pokedex-prices/internal/cache"
	"github.com/mswatii/pokedex-prices/internal/catalog"
	"github.com/mswatii/pokedex-prices/internal/database"
	"github.com/mswatii/pokedex-prices/internal/models"
	"github.com/mswatii/pokedex-prices/internal/pricing"
	"github.com/mswatii/pokedex-prices/internal/session"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrSetNotFound is returned when no set matches a name or id
var ErrSetNotFound = errors.New("set not found")

// Catalog is the part of the catalog client the explorer needs
type Catalog interface {
	ListSets(ctx context.Context) ([]models.Set, error)
	SetCards(ctx context.Context, set models.Set) ([]models.Card, error)
	SearchAll(ctx context.Context, query string, maxPages int) ([]models.Card, error)
	Image(ctx context.Context, cardID, size string) ([]byte, error)
}

// Classifier turns a free-text question into an intent
type Classifier interface {
	Classify(ctx context.Context, question string) (assistant.Intent, error)
}

// Recorder persists observed prices; optional
type Recorder interface {
	UpsertCardPrices(ctx context.Context, prices []database.CardPrice) error
	RecordSetSnapshot(ctx context.Context, s database.SetSnapshot) error
}

// PricedCard is a card with its resolved price
type PricedCard struct {
	Card     models.Card      `json:"card"`
	Price    float64          `json:"price"`
	Source   string           `json:"price_source,omitempty"`
	Finishes []pricing.Finish `json:"finishes,omitempty"`
}

// CardBatch is the priced content of one set
type CardBatch struct {
	Set      models.Set      `json:"set"`
	Cards    []PricedCard    `json:"cards"`
	Priced   int             `json:"priced"`
	Total    decimal.Decimal `json:"total"`
	Enriched bool            `json:"enriched"`
	Partial  bool            `json:"partial"`
	Cached   bool            `json:"cached"`
}

// Options tunes the explorer
type Options struct {
	SearchPages int // Page cap for single-Pokémon lookups
	EnrichPages int // Page cap for the enrichment search
}

// Explorer is the application service behind the HTTP API and the CLI
type Explorer struct {
	catalog    Catalog
	reconciler *pricing.Reconciler
	classifier Classifier
	recorder   Recorder
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

// New creates an explorer. classifier and recorder may be nil: the assistant is then
// disabled and prices are not persisted.
func New(cat Catalog, classifier Classifier, recorder Recorder, opts Options, logger *zap.Logger) *Explorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SearchPages <= 0 {
		opts.SearchPages = 5
	}
	return &Explorer{
		catalog:    cat,
		reconciler: pricing.NewReconciler(cat, opts.EnrichPages, logger),
		classifier: classifier,
		recorder:   recorder,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Sets lists every set, newest first, from the session cache when fresh
func (e *Explorer) Sets(ctx context.Context, sess *session.Session) ([]models.Set, error) {
	sets, hit, err := sess.Sets.GetOrLoad(cache.Key("sets", nil), func() ([]models.Set, error) {
		sets, err := e.catalog.ListSets(ctx)
		if err != nil {
			return nil, err
		}
		return newestFirst(sets), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sets: %w", err)
	}
	if !hit {
		e.logger.Info("loaded set listing", zap.String("session", sess.ID), zap.Int("sets", len(sets)))
	}
	return sets, nil
}

// FindSet resolves a set by id, code or name
func (e *Explorer) FindSet(ctx context.Context, sess *session.Session, term string) (models.Set, error) {
	sets, err := e.Sets(ctx, sess)
	if err != nil {
		return models.Set{}, err
	}
	set, ok := MatchSet(sets, term)
	if !ok {
		return models.Set{}, fmt.Errorf("%w: %q", ErrSetNotFound, term)
	}
	return set, nil
}

// SelectSet resolves a set and makes it the session's current selection
func (e *Explorer) SelectSet(ctx context.Context, sess *session.Session, term string) (models.Set, error) {
	set, err := e.FindSet(ctx, sess, term)
	if err != nil {
		return models.Set{}, err
	}
	sess.Select(set)
	return set, nil
}

// SetCards returns the priced cards of a set. Listing failures degrade to whatever was
// fetched (Partial is set), except a rejected API key with nothing fetched, which is
// returned as an error. An all-unpriced batch goes through price enrichment.
func (e *Explorer) SetCards(ctx context.Context, sess *session.Session, set models.Set) (CardBatch, error) {
	key := cache.Key("set_cards", url.Values{"set": {set.Key()}})
	if entry, ok := sess.SetCards.Get(key); ok {
		batch := e.price(set, entry.Value)
		batch.Cached = true
		return batch, nil
	}

	cards, err := e.catalog.SetCards(ctx, set)
	if len(cards) == 0 && errors.Is(err, catalog.ErrUnauthorized) {
		return CardBatch{}, fmt.Errorf("failed to list cards of %s: %w", set.Name, err)
	}
	partial := err != nil
	if partial {
		e.logger.Warn("set listing incomplete",
			zap.String("set", set.Name), zap.Int("collected", len(cards)), zap.Error(err))
	}

	cards, outcome := e.reconciler.Reconcile(ctx, cards, set.Name)
	if outcome.Err != nil {
		e.logger.Info("set left unpriced", zap.String("set", set.Name), zap.Error(outcome.Err))
	}
	if !partial {
		sess.SetCards.Set(key, cards)
	}

	batch := e.price(set, cards)
	batch.Partial = partial
	batch.Enriched = outcome.Enriched > 0
	e.record(ctx, batch)
	return batch, nil
}

// Search looks up cards for a single Pokémon, most valuable first
func (e *Explorer) Search(ctx context.Context, name string) ([]PricedCard, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("search term is empty")
	}
	cards, err := e.catalog.SearchAll(ctx, name, e.opts.SearchPages)
	if err != nil {
		if len(cards) == 0 {
			return nil, fmt.Errorf("search for %q failed: %w", name, err)
		}
		e.logger.Warn("search incomplete", zap.String("query", name), zap.Error(err))
	}
	priced := make([]PricedCard, len(cards))
	for i, c := range cards {
		priced[i] = priceCard(c)
	}
	sortByPrice(priced)
	return priced, nil
}

// Image returns a card image, cached for the session
func (e *Explorer) Image(ctx context.Context, sess *session.Session, cardID, size string) ([]byte, error) {
	key := cache.Key("image", url.Values{"id": {cardID}, "size": {size}})
	img, _, err := sess.Images.GetOrLoad(key, func() ([]byte, error) {
		return e.catalog.Image(ctx, cardID, size)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	return img, nil
}

func (e *Explorer) price(set models.Set, cards []models.Card) CardBatch {
	batch := CardBatch{Set: set, Cards: make([]PricedCard, len(cards)), Total: decimal.Zero}
	for i, c := range cards {
		pc := priceCard(c)
		batch.Cards[i] = pc
		if pc.Price > 0 {
			batch.Priced++
			batch.Total = batch.Total.Add(decimal.NewFromFloat(pc.Price))
		}
	}
	batch.Total = batch.Total.Round(2)
	return batch
}

func priceCard(c models.Card) PricedCard {
	res := pricing.Resolve(c.Raw)
	pc := PricedCard{Card: c, Price: res.Price, Finishes: pricing.Finishes(c.Raw)}
	if res.Found {
		pc.Source = res.Shape.String()
	}
	return pc
}

func (e *Explorer) record(ctx context.Context, batch CardBatch) {
	if e.recorder == nil || len(batch.Cards) == 0 {
		return
	}
	prices := make([]database.CardPrice, 0, batch.Priced)
	for _, pc := range batch.Cards {
		if pc.Price > 0 {
			prices = append(prices, database.CardPrice{Card: pc.Card, Price: pc.Price, Source: pc.Source})
		}
	}
	if err := e.recorder.UpsertCardPrices(ctx, prices); err != nil {
		e.logger.Warn("failed to record card prices", zap.String("set", batch.Set.Name), zap.Error(err))
	}
	snap := database.SetSnapshot{
		SetCode:     batch.Set.Key(),
		SetName:     batch.Set.Name,
		Date:        e.now().UTC().Truncate(24 * time.Hour),
		TotalCards:  len(batch.Cards),
		PricedCards: batch.Priced,
		TotalValue:  batch.Total.StringFixed(2),
		Enriched:    batch.Enriched,
	}
	if err := e.recorder.RecordSetSnapshot(ctx, snap); err != nil {
		e.logger.Warn("failed to record set snapshot", zap.String("set", batch.Set.Name), zap.Error(err))
	}
}

// MatchSet picks a set by exact name, then exact id or code, then the first name containing term.
// All comparisons ignore case.
func MatchSet(sets []models.Set, term string) (models.Set, bool) {
	t := strings.ToLower(strings.TrimSpace(term))
	if t == "" {
		return models.Set{}, false
	}
	for _, s := range sets {
		if strings.ToLower(s.Name) == t {
			return s, true
		}
	}
	for _, s := range sets {
		if strings.ToLower(s.ID) == t || (s.Code != "" && strings.ToLower(s.Code) == t) {
			return s, true
		}
	}
	for _, s := range sets {
		if strings.Contains(strings.ToLower(s.Name), t) {
			return s, true
		}
	}
	return models.Set{}, false
}

// newestFirst reverses the catalog order (oldest first) and then orders by release date
// where dates are known.
func newestFirst(sets []models.Set) []models.Set {
	out := make([]models.Set, len(sets))
	for i, s := range sets {
		out[len(sets)-1-i] = s
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Released().After(out[j].Released())
	})
	return out
}

func sortByPrice(cards []PricedCard) {
	sort.SliceStable(cards, func(i, j int) bool {
		return cards[i].Price > cards[j].Price
	})
}

var _ Catalog = (*catalog.Client)(nil)
