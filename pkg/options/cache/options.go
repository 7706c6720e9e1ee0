// Package cache provides result cache configuration options.
package cache

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/ragdesk/ragdesk/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options configures the workspace-scoped retrieval result cache.
type Options struct {
	// Enabled toggles the result cache.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// TTL is the entry lifetime. Expired entries are treated as misses
	// and reclaimed lazily, there is no active purge schedule.
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`

	// KeyPrefix is the cache key prefix.
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`
}

// NewOptions creates default cache options.
func NewOptions() *Options {
	return &Options{
		Enabled:   true,
		TTL:       15 * time.Minute,
		KeyPrefix: "ragdesk:results:",
	}
}

// AddFlags adds flags for cache options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, options.Join(prefixes...)+"cache.enabled", o.Enabled, "Enable the retrieval result cache.")
	fs.DurationVar(&o.TTL, options.Join(prefixes...)+"cache.ttl", o.TTL, "Result cache entry TTL.")
	fs.StringVar(&o.KeyPrefix, options.Join(prefixes...)+"cache.key-prefix", o.KeyPrefix, "Result cache key prefix.")
}

// Validate validates the cache options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Enabled && o.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be positive"))
	}
	return errs
}
