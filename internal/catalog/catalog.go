package catalog

import (
	"crate/pkg/models"

	"github.com/shopspring/decimal"
)

// Options control paging of the catalog.
type Options struct {
	PageSize int
}

// DefaultPageSize is the number of bundles per catalog page.
const DefaultPageSize = 12

// Catalog is the immutable, in-memory set of purchasable bundles. It is
// built once at startup and shared read-only between requests.
type Catalog struct {
	order    []string
	bundles  map[string]models.Bundle
	pageSize int
}

// New indexes bundles in the given order. Later duplicates of an ID are ignored.
func New(bundles []models.Bundle, opts Options) *Catalog {
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	c := &Catalog{
		order:    make([]string, 0, len(bundles)),
		bundles:  make(map[string]models.Bundle, len(bundles)),
		pageSize: pageSize,
	}
	for _, b := range bundles {
		if _, exists := c.bundles[b.ID]; exists {
			continue
		}
		c.order = append(c.order, b.ID)
		c.bundles[b.ID] = b
	}
	return c
}

// Empty returns a catalog without bundles, used when serving in degraded mode.
func Empty(opts Options) *Catalog {
	return New(nil, opts)
}

// Get returns the bundle with the given ID.
func (c *Catalog) Get(id string) (models.Bundle, bool) {
	b, ok := c.bundles[id]
	return b, ok
}

// PriceOf returns the bundle price; ok is false for unknown IDs.
func (c *Catalog) PriceOf(id string) (decimal.Decimal, bool) {
	b, ok := c.bundles[id]
	if !ok {
		return decimal.Zero, false
	}
	return b.Price, true
}

// Page returns the bundles on a 1-based page. Out-of-range pages yield an empty slice.
func (c *Catalog) Page(page int) []models.Bundle {
	// Bound the page before multiplying so huge values cannot overflow.
	if page < 1 || len(c.order) == 0 || page-1 > (len(c.order)-1)/c.pageSize {
		return []models.Bundle{}
	}
	start := (page - 1) * c.pageSize
	end := min(start+c.pageSize, len(c.order))

	out := make([]models.Bundle, 0, end-start)
	for _, id := range c.order[start:end] {
		out = append(out, c.bundles[id])
	}
	return out
}

// IDs returns all bundle IDs in catalog order.
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.order...)
}

// Len returns the number of bundles.
func (c *Catalog) Len() int {
	return len(c.order)
}

// PageSize returns the configured page size.
func (c *Catalog) PageSize() int {
	return c.pageSize
}

// TotalPages returns the number of pages, never less than one.
func (c *Catalog) TotalPages() int {
	pages := (len(c.order) + c.pageSize - 1) / c.pageSize
	if pages < 1 {
		return 1
	}
	return pages
}
