// Package pricing resolves a single market price from card records whose
// pricing layout differs between upstream sources.
package pricing

import (
	"encoding/json"
	"math"
	"sort"
	"strings"

	"github.com/mswatii/pokedex-prices/internal/models"
)

// Shape names one pricing layout a record can carry. A record may carry several.
type Shape int

const (
	ShapeUnstructured   Shape = iota // No recognised nesting, only top-level *price* fields
	ShapeTcgPrices                   // TCG_Prices: list of {market_price, mid_price, ...}
	ShapeTcgplayerDict               // tcgplayer.prices as a mapping (flat or per finish)
	ShapeTcgplayerList               // tcgplayer.prices as a list of mappings
	ShapeCardmarket                  // cardmarket.prices as a list (or mapping) of {avg, trend, ...}
)

func (s Shape) String() string {
	switch s {
	case ShapeTcgPrices:
		return "tcg_prices"
	case ShapeTcgplayerDict:
		return "tcgplayer"
	case ShapeTcgplayerList:
		return "tcgplayer_list"
	case ShapeCardmarket:
		return "cardmarket"
	default:
		return "unstructured"
	}
}

// FieldPriority is the order in which price fields are tried inside a price mapping.
var FieldPriority = []string{
	"market_price", "mid_price", "low_price", "high_price",
	"market", "mid", "low", "high",
	"avg", "trend",
}

// finishOrder fixes the scan order of per-finish tcgplayer mappings; unknown finishes follow, sorted.
var finishOrder = []string{
	"holofoil", "normal", "reverseHolofoil",
	"1stEditionHolofoil", "1stEditionNormal", "unlimitedHolofoil", "unlimited", "1stEdition",
}

// Resolution is the outcome of resolving one record's price
type Resolution struct {
	Price float64
	Shape Shape
	Found bool
}

// Shapes reports the pricing layouts present on a record, in extraction priority order.
// ShapeUnstructured is always last.
func Shapes(rec models.Record) []Shape {
	var shapes []Shape
	if list, ok := rec["TCG_Prices"].([]any); ok && len(list) > 0 {
		shapes = append(shapes, ShapeTcgPrices)
	}
	switch nestedPrices(rec, "tcgplayer").(type) {
	case map[string]any:
		shapes = append(shapes, ShapeTcgplayerDict)
	case []any:
		shapes = append(shapes, ShapeTcgplayerList)
	}
	switch nestedPrices(rec, "cardmarket").(type) {
	case map[string]any, []any:
		shapes = append(shapes, ShapeCardmarket)
	}
	return append(shapes, ShapeUnstructured)
}

// Resolve walks the record's shapes in priority order and returns the first present price.
// It never panics; a malformed record resolves to a zero Resolution.
func Resolve(rec models.Record) (res Resolution) {
	defer func() {
		if recover() != nil {
			res = Resolution{}
		}
	}()
	for _, shape := range Shapes(rec) {
		if price, ok := extractShape(rec, shape); ok {
			return Resolution{Price: price, Shape: shape, Found: true}
		}
	}
	return Resolution{}
}

// Extract returns the record's canonical price, or 0 when none is present anywhere.
func Extract(rec models.Record) float64 {
	return Resolve(rec).Price
}

// Total sums the canonical prices of a batch
func Total(cards []models.Card) float64 {
	var sum float64
	for _, c := range cards {
		sum += Extract(c.Raw)
	}
	return sum
}

func extractShape(rec models.Record, shape Shape) (float64, bool) {
	switch shape {
	case ShapeTcgPrices:
		list, _ := rec["TCG_Prices"].([]any)
		return scanList(list)
	case ShapeTcgplayerDict:
		m, _ := nestedPrices(rec, "tcgplayer").(map[string]any)
		return scanFinishes(m)
	case ShapeTcgplayerList:
		list, _ := nestedPrices(rec, "tcgplayer").([]any)
		return scanList(list)
	case ShapeCardmarket:
		switch v := nestedPrices(rec, "cardmarket").(type) {
		case []any:
			return scanList(v)
		case map[string]any:
			return scanFinishes(v)
		}
		return 0, false
	default:
		return scanTopLevel(rec)
	}
}

// HasPresentPrice reports whether a raw substructure (e.g. a record's "tcgplayer" value)
// carries at least one usable price.
func HasPresentPrice(sub any) bool {
	m, ok := sub.(map[string]any)
	if !ok {
		return false
	}
	switch v := m["prices"].(type) {
	case map[string]any:
		_, found := scanFinishes(v)
		return found
	case []any:
		_, found := scanList(v)
		return found
	}
	return false
}

func nestedPrices(rec models.Record, source string) any {
	sub, ok := rec[source].(map[string]any)
	if !ok {
		return nil
	}
	return sub["prices"]
}

// scanFields tries FieldPriority against a single price mapping
func scanFields(m map[string]any) (float64, bool) {
	for _, field := range FieldPriority {
		if v, ok := present(m[field]); ok {
			return v, true
		}
	}
	return 0, false
}

func scanList(list []any) (float64, bool) {
	for _, entry := range list {
		if m, ok := entry.(map[string]any); ok {
			if v, found := scanFields(m); found {
				return v, true
			}
		}
	}
	return 0, false
}

// scanFinishes scans a mapping directly, then each per-finish sub-mapping in finishOrder.
func scanFinishes(m map[string]any) (float64, bool) {
	if v, ok := scanFields(m); ok {
		return v, true
	}
	for _, finish := range finishKeys(m) {
		if sub, ok := m[finish].(map[string]any); ok {
			if v, found := scanFields(sub); found {
				return v, true
			}
		}
	}
	return 0, false
}

func finishKeys(m map[string]any) []string {
	known := make(map[string]bool, len(finishOrder))
	keys := make([]string, 0, len(m))
	for _, f := range finishOrder {
		known[f] = true
		if _, ok := m[f]; ok {
			keys = append(keys, f)
		}
	}
	var rest []string
	for k := range m {
		if !known[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// scanTopLevel is the last resort: any top-level field whose name contains "price".
// Keys are visited in sorted order so the result does not depend on map iteration.
func scanTopLevel(rec models.Record) (float64, bool) {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		if strings.Contains(strings.ToLower(k), "price") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := present(rec[k]); ok {
			return v, true
		}
	}
	return 0, false
}

// present reports whether v is a usable price: numeric, finite and strictly positive.
func present(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	return f, true
}
