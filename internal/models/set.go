package models

import (
	"encoding/json"
	"time"
)

// Set represents a released expansion of the trading card game
type Set struct {
	ID          string `json:"id"`
	Code        string `json:"code,omitempty"`
	Name        string `json:"name"`
	ReleaseDate string `json:"release_date,omitempty"` // e.g. 2021/08/27
	CardCount   int    `json:"card_count,omitempty"`
	Language    string `json:"language,omitempty"`
	LogoURL     string `json:"logo_url,omitempty"`
	SymbolURL   string `json:"symbol_url,omitempty"`
}

// UnmarshalJSON accepts both the catalog's field names (set_id, set_code) and the short ones.
func (s *Set) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          json.RawMessage `json:"id"`
		SetID       json.RawMessage `json:"set_id"`
		Code        string          `json:"code"`
		SetCode     string          `json:"set_code"`
		Name        string          `json:"name"`
		ReleaseDate string          `json:"release_date"`
		ReleaseAlt  string          `json:"releaseDate"`
		CardCount   int             `json:"card_count"`
		Total       int             `json:"total"`
		Language    string          `json:"language"`
		LogoURL     string          `json:"logo_url"`
		SymbolURL   string          `json:"symbol_url"`
		Images      struct {
			Logo   string `json:"logo"`
			Symbol string `json:"symbol"`
		} `json:"images"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Set{
		ID:          firstNonEmpty(rawID(raw.SetID), rawID(raw.ID)),
		Code:        firstNonEmpty(raw.SetCode, raw.Code),
		Name:        raw.Name,
		ReleaseDate: firstNonEmpty(raw.ReleaseDate, raw.ReleaseAlt),
		CardCount:   raw.CardCount,
		Language:    raw.Language,
		LogoURL:     firstNonEmpty(raw.LogoURL, raw.Images.Logo),
		SymbolURL:   firstNonEmpty(raw.SymbolURL, raw.Images.Symbol),
	}
	if s.CardCount == 0 {
		s.CardCount = raw.Total
	}
	return nil
}

// Key returns the identifier used to request the set's cards
func (s Set) Key() string {
	if s.Code != "" {
		return s.Code
	}
	return s.ID
}

// Released parses the release date, returning the zero time when it is absent or malformed
func (s Set) Released() time.Time {
	for _, layout := range []string{"2006/01/02", "2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s.ReleaseDate); err == nil {
			return t
		}
	}
	return time.Time{}
}

// SetList is the envelope returned by the set listing endpoint
type SetList struct {
	Data []Set `json:"data"`
}

// rawID renders a JSON id that may be either a string or a number
func rawID(msg json.RawMessage) string {
	if len(msg) == 0 || string(msg) == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(msg, &str); err == nil {
		return str
	}
	var num json.Number
	if err := json.Unmarshal(msg, &num); err == nil {
		return num.String()
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
