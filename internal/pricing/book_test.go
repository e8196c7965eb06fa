package pricing

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func point(symbol string, minute int, price string) Point {
	return Point{
		Symbol:    symbol,
		Timestamp: time.Date(2025, 4, 1, 12, minute, 0, 0, time.UTC),
		Price:     decimal.RequireFromString(price),
	}
}

func at(minute, second int) time.Time {
	return time.Date(2025, 4, 1, 12, minute, second, 0, time.UTC)
}

func TestPriceNearestMatch(t *testing.T) {
	book := NewBook(nil)
	book.Add(point("ETH", 0, "3000"))
	book.Add(point("ETH", 15, "3100"))
	book.Add(point("ETH", 30, "3200"))

	cases := []struct {
		minute, second int
		want           string
	}{
		{0, 0, "3000"},
		{5, 0, "3000"},   // closer to 12:00
		{12, 0, "3100"},  // closer to 12:15
		{22, 30, "3100"}, // tie goes to the earlier point
		{29, 0, "3200"},
		{59, 0, "3200"}, // after the last point
	}
	for _, tc := range cases {
		got, ok := book.Price("ETH", at(tc.minute, tc.second))
		if !ok {
			t.Fatalf("lookup at 12:%02d:%02d should succeed", tc.minute, tc.second)
		}
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("price at 12:%02d:%02d = %s, want %s", tc.minute, tc.second, got, tc.want)
		}
	}
}

func TestPriceBeforeFirstPoint(t *testing.T) {
	book := NewBook(nil)
	book.Add(point("BTC", 30, "70000"))

	got, ok := book.Price("BTC", at(0, 0))
	if !ok || !got.Equal(decimal.RequireFromString("70000")) {
		t.Fatalf("lookup before history should clamp to first point, got %s ok=%v", got, ok)
	}
}

func TestPriceUnknownSymbol(t *testing.T) {
	book := NewBook(nil)
	if _, ok := book.Price("DOGE", at(0, 0)); ok {
		t.Fatal("unknown symbol must report not found")
	}
}

func TestSymbolRemap(t *testing.T) {
	book := NewBook(map[string]string{"WETH": "ETH", "wbtc": "BTC"})
	book.Add(point("ETH", 0, "3000"))

	got, ok := book.Price("weth", at(0, 0))
	if !ok || !got.Equal(decimal.RequireFromString("3000")) {
		t.Fatalf("remapped lookup failed: %s ok=%v", got, ok)
	}

	if book.MapSymbol("WBTC") != "BTC" {
		t.Fatalf("MapSymbol(WBTC) = %s, want BTC", book.MapSymbol("WBTC"))
	}
	if book.MapSymbol("SOL") != "SOL" {
		t.Fatalf("MapSymbol(SOL) = %s, want SOL", book.MapSymbol("SOL"))
	}
}

func TestPriceConcurrent(t *testing.T) {
	book := NewBook(nil)
	for m := 0; m < 50; m++ {
		book.Add(point("ETH", 59-m, "3000"))
		book.Add(point("BTC", m, "70000"))
	}

	// Lookups race against the lazy per-symbol sort on first access; run
	// enough goroutines that the race detector would catch unguarded state.
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := 0; m < 50; m++ {
				if _, ok := book.Price("ETH", at(m, 0)); !ok {
					t.Error("concurrent ETH lookup failed")
					return
				}
				if _, ok := book.Price("BTC", at(m, 30)); !ok {
					t.Error("concurrent BTC lookup failed")
					return
				}
			}
		}()
	}
	wg.Wait()

	got, ok := book.Price("ETH", at(1, 0))
	if !ok || !got.Equal(decimal.RequireFromString("3000")) {
		t.Fatalf("lookup after concurrent access = %s ok=%v", got, ok)
	}
}

func TestAddOutOfOrder(t *testing.T) {
	book := NewBook(nil)
	book.Add(point("ETH", 30, "3200"))
	book.Add(point("ETH", 0, "3000"))
	book.Add(point("ETH", 15, "3100"))

	got, ok := book.Price("ETH", at(1, 0))
	if !ok || !got.Equal(decimal.RequireFromString("3000")) {
		t.Fatalf("out-of-order inserts should still resolve nearest, got %s", got)
	}
}
