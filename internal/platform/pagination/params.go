package pagination

import (
	"cmp"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Order and promotion listings are small per tenant; a hundred rows is the hard ceiling.
const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 100
)

// Params are the pagination values extracted from a request. The token is only checked for
// shape here; the repository validates its scope against the listing being read.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options control how Parse behaves for a given listing.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// FromRequest reads pageSize and pageToken from the query string.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	return Parse(r.URL.Query(), opts)
}

// Parse validates the page size against opts and decodes the page token.
func Parse(values url.Values, opts Options) (Params, error) {
	pageSize, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: pageSize}

	if rawToken := strings.TrimSpace(values.Get("pageToken")); rawToken != "" {
		cursor, err := DecodeToken(rawToken)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = rawToken
		params.Cursor = cursor
	}
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	limit := cmp.Or(max(opts.MaxPageSize, 0), DefaultMaxPageSize)
	fallback := cmp.Or(max(opts.DefaultPageSize, 0), DefaultPageSize)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return min(fallback, limit), nil
	}
	size, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidPageSize, raw)
	case size <= 0:
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidPageSize)
	}
	return min(size, limit), nil
}
