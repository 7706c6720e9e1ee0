package limiter

import (
	"context"
	"time"

	"github.com/kart-io/logger"

	quotaopts "github.com/ragdesk/ragdesk/pkg/options/quota"
)

// CheckRequest carries the identities a request is limited by. Empty
// fields skip their scope.
type CheckRequest struct {
	WorkspaceID string
	Tier        string
	UserID      string
	ClientIP    string
	Endpoint    string
}

// Checker runs the multi-scope admission check. Every applicable scope
// must pass. Limiter failures are logged and treated as allowed so a
// Redis outage degrades quota enforcement, not availability.
type Checker struct {
	limiter Limiter
	opts    *quotaopts.Options
}

// NewChecker creates a Checker over a limiter implementation.
func NewChecker(l Limiter, opts *quotaopts.Options) *Checker {
	return &Checker{limiter: l, opts: opts}
}

type scopeCheck struct {
	scope Scope
	key   string
	limit int
}

// Check evaluates every applicable scope in order. It returns the
// first denying decision, or the workspace decision when all pass.
func (c *Checker) Check(ctx context.Context, req *CheckRequest) *Decision {
	plan := c.opts.LimitsFor(req.Tier)

	checks := []scopeCheck{
		{ScopeWorkspace, "workspace:" + req.WorkspaceID, plan.RequestsPerWindow},
	}
	if req.UserID != "" {
		checks = append(checks, scopeCheck{ScopeUser, "user:" + req.WorkspaceID + ":" + req.UserID, c.opts.PerUserLimit})
	}
	if req.ClientIP != "" {
		checks = append(checks, scopeCheck{ScopeIP, "ip:" + req.ClientIP, c.opts.PerIPLimit})
	}
	if req.Endpoint != "" && c.opts.PerEndpointLimit > 0 {
		checks = append(checks, scopeCheck{ScopeEndpoint, "endpoint:" + req.WorkspaceID + ":" + req.Endpoint, c.opts.PerEndpointLimit})
	}

	var workspaceDecision *Decision
	for _, check := range checks {
		d, err := c.limiter.Allow(ctx, check.key, check.limit, c.opts.Window)
		if err != nil {
			logger.Warnw("rate limiter unavailable, allowing request",
				"scope", check.scope,
				"key", check.key,
				"error", err.Error(),
			)
			d = c.failOpen(check)
		}
		d.Scope = check.scope
		if !d.Allowed {
			return d
		}
		if check.scope == ScopeWorkspace {
			workspaceDecision = d
		}
	}
	return workspaceDecision
}

// Status reports the workspace-scope window state without consuming a
// request.
func (c *Checker) Status(ctx context.Context, workspaceID, tier string) *Decision {
	plan := c.opts.LimitsFor(tier)
	check := scopeCheck{ScopeWorkspace, "workspace:" + workspaceID, plan.RequestsPerWindow}

	d, err := c.limiter.Status(ctx, check.key, check.limit, c.opts.Window)
	if err != nil {
		logger.Warnw("rate limiter unavailable for status",
			"workspace_id", workspaceID,
			"error", err.Error(),
		)
		d = c.failOpen(check)
	}
	d.Scope = ScopeWorkspace
	return d
}

// Reset clears the workspace-scope counter.
func (c *Checker) Reset(ctx context.Context, workspaceID string) error {
	return c.limiter.Reset(ctx, "workspace:"+workspaceID)
}

// Window returns the configured sliding window.
func (c *Checker) Window() time.Duration {
	return c.opts.Window
}

func (c *Checker) failOpen(check scopeCheck) *Decision {
	return &Decision{
		Allowed:   true,
		Scope:     check.scope,
		Limit:     check.limit,
		Remaining: check.limit,
		ResetAt:   time.Now().Add(c.opts.Window),
	}
}
