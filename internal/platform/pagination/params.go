package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps page_size so a single call stays bounded.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Params holds the page window requested by a list call. PageToken is opaque here; the
// repository that issued it decodes it.
type Params struct {
	PageSize  int
	PageToken string
}

// Options tune Parse for a single endpoint.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) limits() (int, int) {
	maxSize := o.MaxPageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxPageSize
	}
	def := o.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	return min(def, maxSize), maxSize
}

// Parse reads page_size and page_token from the query. Sizes below one fall back to the
// default and sizes above the maximum are clamped; a non-numeric size is an error.
func Parse(values url.Values, opts Options) (Params, error) {
	def, _ := opts.limits()
	params := Params{
		PageSize:  def,
		PageToken: strings.TrimSpace(values.Get("page_token")),
	}

	raw := strings.TrimSpace(values.Get("page_size"))
	if raw == "" {
		return params, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	params.PageSize = ClampPageSize(size, opts)
	return params, nil
}

// ClampPageSize applies the Options limits to a size supplied in code rather than a query.
func ClampPageSize(size int, opts Options) int {
	def, maxSize := opts.limits()
	switch {
	case size <= 0:
		return def
	case size > maxSize:
		return maxSize
	default:
		return size
	}
}
