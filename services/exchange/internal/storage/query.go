package storage

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func EncodeCursor(ts time.Time, id uuid.UUID) string {
	payload := fmt.Sprintf("%s|%s", ts.UTC().Format(time.RFC3339Nano), id.String())
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

func DecodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	return ts, id, nil
}

// Marketable reports whether counter passes the price filter of q. A limit
// never matches a resting market order.
func (q CounterQuery) Marketable(counter Order) bool {
	if !q.HasLimit {
		return true
	}
	price, ok := counter.Price()
	if !ok {
		return false
	}
	if q.Incoming == Buy {
		return price <= q.LimitPrice
	}
	return price >= q.LimitPrice
}

// Eligible is the full candidate predicate for q.
func (q CounterQuery) Eligible(counter Order) bool {
	return counter.Ticker == q.Ticker &&
		counter.Direction == q.Incoming.Opposite() &&
		counter.UserID != q.ExcludeUser &&
		counter.Resting() &&
		q.Marketable(counter)
}

// SortCounters orders counters best price first for an incoming order of
// the given direction: cheapest ask for a buy, highest bid for a sell.
// Unpriced orders go last. Ties break on created_at, then id.
func SortCounters(counters []Order, incoming Direction) {
	sort.SliceStable(counters, func(i, j int) bool {
		a, b := counters[i], counters[j]
		pa, okA := a.Price()
		pb, okB := b.Price()
		if okA != okB {
			return okA
		}
		if okA && pa != pb {
			if incoming == Buy {
				return pa < pb
			}
			return pa > pb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}
