// Package pagination reads page size and page token parameters for catalog listings.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 32
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Limits bound the page size a listing endpoint accepts. Zero values fall back to the package
// defaults, and Default never exceeds Max.
type Limits struct {
	Default int
	Max     int
}

func (l Limits) resolve() Limits {
	if l.Max <= 0 {
		l.Max = DefaultMaxPageSize
	}
	if l.Default <= 0 {
		l.Default = DefaultPageSize
	}
	l.Default = min(l.Default, l.Max)
	return l
}

// Page is the window a listing request asked for.
type Page struct {
	Size   int
	Offset int
	// Token is the raw page token echoed by the client, empty on the first page.
	Token string
}

// FromRequest reads pageSize and pageToken (or page_size and page_token) from the query string.
func FromRequest(r *http.Request, limits Limits) (Page, error) {
	if r == nil || r.URL == nil {
		return Page{}, errors.New("pagination: nil request")
	}
	return FromQuery(r.URL.Query(), limits)
}

func FromQuery(query url.Values, limits Limits) (Page, error) {
	limits = limits.resolve()
	page := Page{Size: limits.Default}

	if raw := lookup(query, "pageSize", "page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return Page{}, fmt.Errorf("%w: %q is not a number", ErrInvalidPageSize, raw)
		case size < 1:
			return Page{}, fmt.Errorf("%w: must be at least 1", ErrInvalidPageSize)
		}
		page.Size = min(size, limits.Max)
	}

	if token := lookup(query, "pageToken", "page_token"); token != "" {
		cursor, err := DecodeToken(token)
		if err != nil {
			return Page{}, err
		}
		page.Token, page.Offset = token, cursor.Offset
	}
	return page, nil
}

func lookup(query url.Values, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(query.Get(name)); v != "" {
			return v
		}
	}
	return ""
}
