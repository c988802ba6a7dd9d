package cache

import (
	"net/url"
	"strings"
)

// Key builds a cache key from an endpoint kind and its query parameters.
// Parameters are encoded in sorted order so equal requests share a key.
func Key(kind string, params url.Values) string {
	if len(params) == 0 {
		return kind
	}
	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte('?')
	b.WriteString(params.Encode())
	return b.String()
}
