package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Record is one upstream card as decoded from JSON. Its pricing layout varies by source,
// so it is kept as a generic mapping and interpreted by the pricing package.
type Record map[string]any

// Card represents a single collectible card returned by the catalog
type Card struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CardNumber string `json:"card_number,omitempty"`
	Rarity     string `json:"rarity,omitempty"`
	SetName    string `json:"set_name,omitempty"` // Stamped at fetch time
	SetCode    string `json:"set_code,omitempty"` // Stamped at fetch time
	ImageURL   string `json:"image_url,omitempty"`
	Raw        Record `json:"-"`
}

// UnmarshalJSON keeps the full upstream mapping in Raw and lifts the identity fields out of it.
func (c *Card) UnmarshalJSON(data []byte) error {
	var raw Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = CardFromRecord(raw)
	return nil
}

// MarshalJSON writes the upstream mapping back out with the stamped set metadata.
func (c Card) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Raw)+4)
	for k, v := range c.Raw {
		out[k] = v
	}
	out["id"] = c.ID
	out["name"] = c.Name
	if c.SetName != "" {
		out["set_name"] = c.SetName
	}
	if c.SetCode != "" {
		out["set_code"] = c.SetCode
	}
	if c.ImageURL != "" {
		out["image_url"] = c.ImageURL
	}
	return json.Marshal(out)
}

// CardFromRecord builds a Card around an upstream mapping
func CardFromRecord(raw Record) Card {
	if raw == nil {
		raw = Record{}
	}
	c := Card{
		ID:         stringField(raw, "id", "tcgPlayerId", "cardId"),
		Name:       stringField(raw, "name"),
		CardNumber: stringField(raw, "card_number", "cardNumber", "number"),
		Rarity:     stringField(raw, "rarity"),
		SetName:    stringField(raw, "set_name", "setName"),
		SetCode:    stringField(raw, "set_code", "setCode"),
		Raw:        raw,
	}
	if images, ok := raw["images"].(map[string]any); ok {
		if small, ok := images["small"].(string); ok {
			c.ImageURL = small
		}
	}
	if c.ImageURL == "" {
		c.ImageURL = stringField(raw, "imageUrl", "image_url")
	}
	return c
}

// Clone returns a copy whose top-level mapping can be modified without touching the original
func (c Card) Clone() Card {
	out := c
	out.Raw = make(Record, len(c.Raw))
	for k, v := range c.Raw {
		out.Raw[k] = v
	}
	return out
}

// CardPage is one page of a paged card listing (set cards or search results)
type CardPage struct {
	Cards      []Card     `json:"cards"`
	Set        *Set       `json:"set,omitempty"`
	Pagination Pagination `json:"pagination"`
}

// UnmarshalJSON accepts both the set envelope ("cards") and the search envelope ("results").
func (p *CardPage) UnmarshalJSON(data []byte) error {
	var env struct {
		Cards      []Card     `json:"cards"`
		Results    []Card     `json:"results"`
		Data       []Card     `json:"data"`
		Set        *Set       `json:"set"`
		Pagination Pagination `json:"pagination"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	switch {
	case len(env.Cards) > 0:
		p.Cards = env.Cards
	case len(env.Results) > 0:
		p.Cards = env.Results
	default:
		p.Cards = env.Data
	}
	p.Set = env.Set
	p.Pagination = env.Pagination
	return nil
}

// Pagination is the paging envelope some catalog responses carry
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func stringField(raw Record, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		case nil:
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}
