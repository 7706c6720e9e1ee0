// Package quota provides plan and rate limit configuration options.
//
// All quota decisions flow through a single plan lookup: a workspace
// tier maps to one PlanLimits struct consumed by both the rate limiter
// and the token budget tracker. Components never re-derive limits from
// tier strings on their own.
package quota

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/ragdesk/ragdesk/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Tier identifies a subscription plan.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// PlanLimits holds every limit attached to a tier.
type PlanLimits struct {
	// RequestsPerWindow is the workspace rate limit per window.
	RequestsPerWindow int `json:"requests-per-window" mapstructure:"requests-per-window"`

	// DailyTokenLimit caps LLM tokens per UTC day.
	DailyTokenLimit int64 `json:"daily-token-limit" mapstructure:"daily-token-limit"`

	// MonthlyTokenLimit caps LLM tokens per UTC month.
	MonthlyTokenLimit int64 `json:"monthly-token-limit" mapstructure:"monthly-token-limit"`
}

// DefaultPlans returns the built-in tier table.
func DefaultPlans() map[Tier]PlanLimits {
	return map[Tier]PlanLimits{
		TierFree:       {RequestsPerWindow: 10, DailyTokenLimit: 20_000, MonthlyTokenLimit: 200_000},
		TierStarter:    {RequestsPerWindow: 60, DailyTokenLimit: 200_000, MonthlyTokenLimit: 2_000_000},
		TierPro:        {RequestsPerWindow: 300, DailyTokenLimit: 1_000_000, MonthlyTokenLimit: 20_000_000},
		TierEnterprise: {RequestsPerWindow: 1000, DailyTokenLimit: 5_000_000, MonthlyTokenLimit: 100_000_000},
	}
}

// Options contains quota configuration.
type Options struct {
	// DefaultTier is assigned to workspaces with no explicit tier.
	DefaultTier string `json:"default-tier" mapstructure:"default-tier"`

	// Window is the sliding rate limit window.
	Window time.Duration `json:"window" mapstructure:"window"`

	// PerUserLimit is the per-user request limit per window.
	PerUserLimit int `json:"per-user-limit" mapstructure:"per-user-limit"`

	// PerIPLimit is the per-IP request limit per window.
	PerIPLimit int `json:"per-ip-limit" mapstructure:"per-ip-limit"`

	// PerEndpointLimit is the optional per-endpoint limit per window.
	// Zero disables the endpoint scope.
	PerEndpointLimit int `json:"per-endpoint-limit" mapstructure:"per-endpoint-limit"`

	// Plans maps tier names to limits. Overrides merge over the
	// built-in table, unknown tiers fall back to DefaultTier.
	Plans map[Tier]PlanLimits `json:"plans" mapstructure:"plans"`
}

// NewOptions creates default quota options.
func NewOptions() *Options {
	return &Options{
		DefaultTier:  string(TierFree),
		Window:       time.Minute,
		PerUserLimit: 30,
		PerIPLimit:   120,
		Plans:        DefaultPlans(),
	}
}

// AddFlags adds flags for quota options to the specified FlagSet.
// The plan table itself is configured via the config file only.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.DefaultTier, options.Join(prefixes...)+"quota.default-tier", o.DefaultTier, "Tier assigned to workspaces without an explicit plan.")
	fs.DurationVar(&o.Window, options.Join(prefixes...)+"quota.window", o.Window, "Sliding rate limit window.")
	fs.IntVar(&o.PerUserLimit, options.Join(prefixes...)+"quota.per-user-limit", o.PerUserLimit, "Per-user request limit per window.")
	fs.IntVar(&o.PerIPLimit, options.Join(prefixes...)+"quota.per-ip-limit", o.PerIPLimit, "Per-IP request limit per window.")
	fs.IntVar(&o.PerEndpointLimit, options.Join(prefixes...)+"quota.per-endpoint-limit", o.PerEndpointLimit, "Per-endpoint request limit per window (0 disables).")
}

// Validate validates the quota options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Window <= 0 {
		errs = append(errs, fmt.Errorf("quota.window must be positive"))
	}
	if o.PerUserLimit <= 0 {
		errs = append(errs, fmt.Errorf("quota.per-user-limit must be positive"))
	}
	if o.PerIPLimit <= 0 {
		errs = append(errs, fmt.Errorf("quota.per-ip-limit must be positive"))
	}
	if o.PerEndpointLimit < 0 {
		errs = append(errs, fmt.Errorf("quota.per-endpoint-limit must be non-negative"))
	}
	if _, ok := o.Plans[Tier(o.DefaultTier)]; !ok && len(o.Plans) > 0 {
		errs = append(errs, fmt.Errorf("quota.default-tier %q has no plan entry", o.DefaultTier))
	}
	for tier, limits := range o.Plans {
		if limits.RequestsPerWindow <= 0 {
			errs = append(errs, fmt.Errorf("plan %q: requests-per-window must be positive", tier))
		}
		if limits.DailyTokenLimit <= 0 || limits.MonthlyTokenLimit <= 0 {
			errs = append(errs, fmt.Errorf("plan %q: token limits must be positive", tier))
		}
		if limits.DailyTokenLimit > limits.MonthlyTokenLimit {
			errs = append(errs, fmt.Errorf("plan %q: daily limit exceeds monthly limit", tier))
		}
	}
	return errs
}

// LimitsFor resolves a tier name to its plan limits, falling back to
// the default tier for unknown or empty tiers.
func (o *Options) LimitsFor(tier string) PlanLimits {
	if limits, ok := o.Plans[Tier(tier)]; ok {
		return limits
	}
	return o.Plans[Tier(o.DefaultTier)]
}

// Complete completes the quota options, merging overrides over the
// built-in plan table.
func (o *Options) Complete() error {
	merged := DefaultPlans()
	for tier, limits := range o.Plans {
		merged[tier] = limits
	}
	o.Plans = merged
	if o.DefaultTier == "" {
		o.DefaultTier = string(TierFree)
	}
	return nil
}
