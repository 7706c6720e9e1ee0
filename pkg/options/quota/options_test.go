package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptionsValid(t *testing.T) {
	o := NewOptions()
	require.NoError(t, o.Complete())
	assert.Empty(t, o.Validate())
}

func TestCompleteMergesPlans(t *testing.T) {
	o := NewOptions()
	o.Plans = map[Tier]PlanLimits{
		TierPro: {RequestsPerWindow: 999, DailyTokenLimit: 1, MonthlyTokenLimit: 2},
	}
	require.NoError(t, o.Complete())

	// Override wins for pro, built-ins fill the rest.
	assert.Equal(t, 999, o.Plans[TierPro].RequestsPerWindow)
	assert.Contains(t, o.Plans, TierFree)
	assert.Contains(t, o.Plans, TierEnterprise)
}

func TestValidateRejectsBadPlans(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero window", func(o *Options) { o.Window = 0 }},
		{"zero per-user", func(o *Options) { o.PerUserLimit = 0 }},
		{"negative per-endpoint", func(o *Options) { o.PerEndpointLimit = -1 }},
		{"unknown default tier", func(o *Options) { o.DefaultTier = "platinum" }},
		{"zero plan rate", func(o *Options) {
			o.Plans[TierFree] = PlanLimits{RequestsPerWindow: 0, DailyTokenLimit: 1, MonthlyTokenLimit: 1}
		}},
		{"daily over monthly", func(o *Options) {
			o.Plans[TierFree] = PlanLimits{RequestsPerWindow: 1, DailyTokenLimit: 10, MonthlyTokenLimit: 5}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOptions()
			require.NoError(t, o.Complete())
			tt.mutate(o)
			assert.NotEmpty(t, o.Validate())
		})
	}
}

func TestDefaultPlansOrdering(t *testing.T) {
	plans := DefaultPlans()
	assert.Less(t, plans[TierFree].RequestsPerWindow, plans[TierStarter].RequestsPerWindow)
	assert.Less(t, plans[TierStarter].DailyTokenLimit, plans[TierPro].DailyTokenLimit)
	assert.Equal(t, time.Minute, NewOptions().Window)
}
