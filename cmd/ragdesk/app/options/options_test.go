package options

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	opts := NewServerOptions()
	require.NoError(t, opts.Complete())
	require.NoError(t, opts.Validate())
}

func TestFlagsRegistered(t *testing.T) {
	opts := NewServerOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(fs)

	for _, name := range []string{
		"http.addr",
		"log.level",
		"redis.host",
		"milvus.address",
		"embedding.provider",
		"chat.provider",
		"rag.similarity-threshold",
		"cache.ttl",
		"quota.default-tier",
	} {
		assert.NotNil(t, fs.Lookup(name), name)
	}
}

func TestConfigCarriesOptionGroups(t *testing.T) {
	opts := NewServerOptions()
	require.NoError(t, opts.Complete())

	cfg, err := opts.Config()
	require.NoError(t, err)
	assert.Same(t, opts.CacheOptions, cfg.CacheOptions)
	assert.Same(t, opts.QuotaOptions, cfg.QuotaOptions)
	assert.Same(t, opts.RAGOptions, cfg.RAGOptions)
}
