// Package orderbook aggregates resting orders into L2 price levels.
package orderbook

import (
	"sort"

	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
)

type Level struct {
	Price int64
	Qty   int64
}

type Book struct {
	Bids []Level
	Asks []Level
}

// Aggregate sums remaining quantity per price. Orders without a price are
// left out. Bids are highest first, asks lowest first, each side capped at
// depth levels.
func Aggregate(orders []storage.Order, depth int) Book {
	bids := make(map[int64]int64)
	asks := make(map[int64]int64)
	for _, o := range orders {
		if !o.Resting() {
			continue
		}
		price, ok := o.Price()
		if !ok {
			continue
		}
		if o.Direction == storage.Buy {
			bids[price] += o.Remaining()
		} else {
			asks[price] += o.Remaining()
		}
	}
	return Book{
		Bids: levels(bids, depth, func(a, b int64) bool { return a > b }),
		Asks: levels(asks, depth, func(a, b int64) bool { return a < b }),
	}
}

func levels(byPrice map[int64]int64, depth int, better func(a, b int64) bool) []Level {
	out := make([]Level, 0, len(byPrice))
	for price, qty := range byPrice {
		out = append(out, Level{Price: price, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return better(out[i].Price, out[j].Price) })
	if depth >= 0 && len(out) > depth {
		out = out[:depth]
	}
	return out
}
