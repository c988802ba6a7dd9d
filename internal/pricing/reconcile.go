package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/mswatii/pokedex-prices/internal/models"
	"go.uber.org/zap"
)

// DefaultEnrichPages caps how many search pages one enrichment pass may request
const DefaultEnrichPages = 10

// enrichSources are the nested pricing substructures copied over from search results
var enrichSources = []string{"tcgplayer", "cardmarket"}

// ErrNoSearchResults is reported when the secondary search returned nothing usable
var ErrNoSearchResults = errors.New("enrichment search returned no priced cards")

// Searcher runs a bounded full-text card search
type Searcher interface {
	SearchAll(ctx context.Context, query string, maxPages int) ([]models.Card, error)
}

// Outcome describes what an enrichment pass did
type Outcome struct {
	Triggered bool  // The batch had no usable price at all
	Enriched  int   // Records that received at least one substructure
	Err       error // Why enrichment could not run, if it was triggered
}

// Reconciler back-fills prices for batches the primary source returned unpriced
type Reconciler struct {
	search   Searcher
	maxPages int
	logger   *zap.Logger
}

// NewReconciler creates a reconciler. maxPages <= 0 uses DefaultEnrichPages.
func NewReconciler(search Searcher, maxPages int, logger *zap.Logger) *Reconciler {
	if maxPages <= 0 {
		maxPages = DefaultEnrichPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{search: search, maxPages: maxPages, logger: logger}
}

// NeedsEnrichment reports whether every record in a non-empty batch resolves to zero.
func NeedsEnrichment(cards []models.Card) bool {
	return len(cards) > 0 && Total(cards) == 0
}

// Reconcile returns the batch with missing pricing substructures merged in from a
// search for setName. The input slice and its records are never modified; the result
// always has the same length, order and ids. A batch with any usable price is returned as is.
func (r *Reconciler) Reconcile(ctx context.Context, cards []models.Card, setName string) ([]models.Card, Outcome) {
	if !NeedsEnrichment(cards) {
		return cards, Outcome{}
	}
	outcome := Outcome{Triggered: true}

	results, err := r.search.SearchAll(ctx, setName, r.maxPages)
	if err != nil && len(results) == 0 {
		outcome.Err = fmt.Errorf("enrichment search for %q: %w", setName, err)
		r.logger.Warn("price enrichment skipped", zap.String("set", setName), zap.Error(err))
		return cards, outcome
	}

	priced := make(map[string]float64)
	subs := make(map[string]map[string]any)
	for _, res := range results {
		if res.ID == "" {
			continue
		}
		price := Extract(res.Raw)
		if price <= 0 {
			continue
		}
		if _, seen := priced[res.ID]; seen {
			continue
		}
		priced[res.ID] = price
		for _, source := range enrichSources {
			if sub, ok := res.Raw[source]; ok && HasPresentPrice(sub) {
				if subs[source] == nil {
					subs[source] = make(map[string]any)
				}
				subs[source][res.ID] = sub
			}
		}
	}
	if len(priced) == 0 {
		outcome.Err = ErrNoSearchResults
		r.logger.Info("price enrichment found nothing", zap.String("set", setName), zap.Int("results", len(results)))
		return cards, outcome
	}

	out := make([]models.Card, len(cards))
	for i, card := range cards {
		out[i] = card
		if _, ok := priced[card.ID]; !ok {
			continue
		}
		merged := false
		for _, source := range enrichSources {
			sub, ok := subs[source][card.ID]
			if !ok || HasPresentPrice(card.Raw[source]) {
				continue
			}
			if !merged {
				out[i] = card.Clone()
				merged = true
			}
			out[i].Raw[source] = mergeSubstructure(card.Raw[source], sub)
		}
		if merged {
			outcome.Enriched++
		}
	}

	r.logger.Info("price enrichment complete",
		zap.String("set", setName),
		zap.Int("batch", len(cards)),
		zap.Int("lookup", len(priced)),
		zap.Int("enriched", outcome.Enriched))
	return out, outcome
}

// mergeSubstructure overlays an enrichment substructure on an existing one. The existing
// mapping's other keys (urls, update stamps) are kept; only its prices and missing keys are filled.
func mergeSubstructure(existing, enrichment any) any {
	base, ok := existing.(map[string]any)
	if !ok {
		return enrichment
	}
	add, ok := enrichment.(map[string]any)
	if !ok {
		return existing
	}
	merged := make(map[string]any, len(base)+len(add))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range add {
		if _, has := merged[k]; k == "prices" || !has {
			merged[k] = v
		}
	}
	return merged
}
