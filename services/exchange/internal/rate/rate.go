// Package rate limits order placement per user within a fixed window.
package rate

import (
	"context"
	"time"
)

// Limiter reports whether key may act at now. When it may not, retryAfter
// is the time left in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}

// Disabled never limits.
type Disabled struct{}

func (Disabled) Allow(context.Context, string, time.Time) (bool, time.Duration, error) {
	return true, 0, nil
}
