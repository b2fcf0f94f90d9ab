// Package pool implements the advanced connection pool of spec.md §4.D:
// per-address connection groups, pluggable selection strategies, a
// background health check, a bounded priority request queue, and
// (advisory) adaptive sizing suggestions.
package pool

import (
	"context"
	"time"

	"github.com/nostalgiatan/bey-sub000/pkg/transport"
)

// Health is a pooled connection's current standing.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthWarning   Health = "warning"
	HealthUnhealthy Health = "unhealthy"
)

// entry is one pooled connection plus the bookkeeping the selection
// strategies and health checker need.
type entry struct {
	conn           *transport.Connection
	addr           string
	health         Health
	activeRequests int64
	avgResponse    time.Duration
	qualityScore   float64
	createdAt      time.Time
}

// SizingSuggestion is the advisory verdict of the adaptive sizing pass.
type SizingSuggestion string

const (
	SuggestGrow   SizingSuggestion = "grow"
	SuggestShrink SizingSuggestion = "shrink"
	SuggestSteady SizingSuggestion = "steady"
)

// Dialer opens a new connection to addr. transport.Manager.Connect, curried
// over its own context, satisfies this signature.
type Dialer func(ctx context.Context, addr string) (*transport.Connection, error)
