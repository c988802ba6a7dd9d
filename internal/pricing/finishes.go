package pricing

import "github.com/mswatii/pokedex-prices/internal/models"

// Finish is the market quote for one print variant of a card
type Finish struct {
	Name   string  `json:"name"`
	Market float64 `json:"market"`
}

var finishLabels = map[string]string{
	"holofoil":        "Holofoil",
	"reverseHolofoil": "Reverse Holo",
	"normal":          "Normal",
}

// Finishes lists the per-finish tcgplayer market prices of a record, in display order.
// Finishes without a usable market price are skipped.
func Finishes(rec models.Record) []Finish {
	prices, ok := nestedPrices(rec, "tcgplayer").(map[string]any)
	if !ok {
		return nil
	}
	var out []Finish
	for _, key := range []string{"holofoil", "reverseHolofoil", "normal"} {
		sub, ok := prices[key].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := present(sub["market"]); ok {
			out = append(out, Finish{Name: finishLabels[key], Market: v})
		}
	}
	return out
}
