// Package limiter implements sliding window rate limiting across
// workspace, user, IP and endpoint scopes.
package limiter

import (
	"context"
	"time"
)

// Scope identifies which dimension a rate limit decision applies to.
type Scope string

const (
	ScopeWorkspace Scope = "workspace"
	ScopeUser      Scope = "user"
	ScopeIP        Scope = "ip"
	ScopeEndpoint  Scope = "endpoint"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Scope     Scope
	Limit     int
	Remaining int
	// ResetAt is when the oldest counted request leaves the window.
	ResetAt time.Time
}

// Limiter counts requests per key over a sliding window.
type Limiter interface {
	// Allow records a request against key and reports whether it fits
	// within limit for the window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Decision, error)

	// Status reports the current window state without recording a
	// request.
	Status(ctx context.Context, key string, limit int, window time.Duration) (*Decision, error)

	// Reset clears all recorded requests for key.
	Reset(ctx context.Context, key string) error
}
