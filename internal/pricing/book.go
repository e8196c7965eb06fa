// Package pricing holds resolved price history and answers
// nearest-timestamp lookups for the reconstruction engine.
package pricing

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Point is one observed price for a symbol.
type Point struct {
	Symbol    string
	Timestamp time.Time
	Price     decimal.Decimal
}

// Book indexes price points per symbol. It is safe for concurrent use;
// lookups from parallel reconstruction workers may interleave with it
// being built.
//
// Symbols are upper-cased and optionally remapped (wrapped or bridged
// tokens quoted under their canonical ticker) before lookup and insert.
type Book struct {
	remap map[string]string

	mu     sync.Mutex
	series map[string][]Point
	dirty  map[string]bool
}

// NewBook creates an empty book with the given symbol remapping.
func NewBook(remap map[string]string) *Book {
	normalized := make(map[string]string, len(remap))
	for from, to := range remap {
		normalized[strings.ToUpper(from)] = strings.ToUpper(to)
	}
	return &Book{
		remap:  normalized,
		series: make(map[string][]Point),
		dirty:  make(map[string]bool),
	}
}

// MapSymbol returns the canonical ticker used for price lookups.
func (b *Book) MapSymbol(symbol string) string {
	s := strings.ToUpper(symbol)
	if mapped, ok := b.remap[s]; ok {
		return mapped
	}
	return s
}

// Add inserts a price point under the point's canonical symbol.
func (b *Book) Add(p Point) {
	key := b.MapSymbol(p.Symbol)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.series[key] = append(b.series[key], p)
	b.dirty[key] = true
}

// Len reports the total number of stored points.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, pts := range b.series {
		n += len(pts)
	}
	return n
}

// Price returns the stored price nearest to the requested timestamp, or
// false when the symbol has no history at all.
func (b *Book) Price(symbol string, at time.Time) (decimal.Decimal, bool) {
	key := b.MapSymbol(symbol)

	b.mu.Lock()
	defer b.mu.Unlock()

	pts := b.series[key]
	if len(pts) == 0 {
		return decimal.Decimal{}, false
	}

	if b.dirty[key] {
		sort.SliceStable(pts, func(i, j int) bool {
			return pts[i].Timestamp.Before(pts[j].Timestamp)
		})
		b.series[key] = pts
		b.dirty[key] = false
	}

	idx := sort.Search(len(pts), func(i int) bool {
		return !pts[i].Timestamp.Before(at)
	})

	switch idx {
	case 0:
		return pts[0].Price, true
	case len(pts):
		return pts[len(pts)-1].Price, true
	}

	before := at.Sub(pts[idx-1].Timestamp)
	after := pts[idx].Timestamp.Sub(at)
	if before <= after {
		return pts[idx-1].Price, true
	}
	return pts[idx].Price, true
}
