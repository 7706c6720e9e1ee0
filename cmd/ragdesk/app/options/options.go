// Package options contains flags and options for initializing the ragdesk server.
package options

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	ragsvc "github.com/ragdesk/ragdesk/internal/rag"
	cacheopts "github.com/ragdesk/ragdesk/pkg/options/cache"
	llmopts "github.com/ragdesk/ragdesk/pkg/options/llm"
	logopts "github.com/ragdesk/ragdesk/pkg/options/logger"
	milvusopts "github.com/ragdesk/ragdesk/pkg/options/milvus"
	quotaopts "github.com/ragdesk/ragdesk/pkg/options/quota"
	ragopts "github.com/ragdesk/ragdesk/pkg/options/rag"
	redisopts "github.com/ragdesk/ragdesk/pkg/options/redis"
	serveropts "github.com/ragdesk/ragdesk/pkg/options/server"
)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	// ServerOptions contains HTTP server configuration.
	ServerOptions *serveropts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// RedisOptions contains Redis configuration for the result cache,
	// rate limiter and token budget tracker.
	RedisOptions *redisopts.Options `json:"redis" mapstructure:"redis"`

	// MilvusOptions contains Milvus vector database configuration.
	MilvusOptions *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// EmbeddingOptions contains embedding provider configuration.
	EmbeddingOptions *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// ChatOptions contains chat provider configuration.
	ChatOptions *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`

	// RAGOptions contains retrieval and generation configuration.
	RAGOptions *ragopts.Options `json:"rag" mapstructure:"rag"`

	// CacheOptions contains result cache configuration.
	CacheOptions *cacheopts.Options `json:"cache" mapstructure:"cache"`

	// QuotaOptions contains rate limit and token budget configuration.
	QuotaOptions *quotaopts.Options `json:"quota" mapstructure:"quota"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		ServerOptions:    serveropts.NewOptions(),
		LogOptions:       logopts.NewOptions(),
		RedisOptions:     redisopts.NewOptions(),
		MilvusOptions:    milvusopts.NewOptions(),
		EmbeddingOptions: llmopts.NewEmbeddingOptions(),
		ChatOptions:      llmopts.NewChatOptions(),
		RAGOptions:       ragopts.NewOptions(),
		CacheOptions:     cacheopts.NewOptions(),
		QuotaOptions:     quotaopts.NewOptions(),
	}
}

// AddFlags adds the flags of every option group to the flagset.
func (o *ServerOptions) AddFlags(fs *pflag.FlagSet) {
	o.ServerOptions.AddFlags(fs)
	o.LogOptions.AddFlags(fs)
	o.RedisOptions.AddFlags(fs)
	o.MilvusOptions.AddFlags(fs)
	o.EmbeddingOptions.AddFlags(fs, "embedding")
	o.ChatOptions.AddFlags(fs, "chat")
	o.RAGOptions.AddFlags(fs)
	o.CacheOptions.AddFlags(fs)
	o.QuotaOptions.AddFlags(fs)
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	if err := o.RedisOptions.Complete(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := o.EmbeddingOptions.Complete(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := o.ChatOptions.Complete(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if err := o.RAGOptions.Complete(); err != nil {
		return fmt.Errorf("rag: %w", err)
	}
	if err := o.QuotaOptions.Complete(); err != nil {
		return fmt.Errorf("quota: %w", err)
	}
	return nil
}

// Validate checks whether the options in ServerOptions are valid.
func (o *ServerOptions) Validate() error {
	var errs []error

	errs = append(errs, o.ServerOptions.Validate()...)
	errs = append(errs, o.LogOptions.Validate())
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.MilvusOptions.Validate()...)
	errs = append(errs, o.EmbeddingOptions.Validate()...)
	errs = append(errs, o.ChatOptions.Validate()...)
	errs = append(errs, o.RAGOptions.Validate()...)
	errs = append(errs, o.CacheOptions.Validate()...)
	errs = append(errs, o.QuotaOptions.Validate()...)

	return errors.Join(errs...)
}

// Config builds a ragsvc.Config based on ServerOptions.
func (o *ServerOptions) Config() (*ragsvc.Config, error) {
	return &ragsvc.Config{
		ServerOptions:    o.ServerOptions,
		LogOptions:       o.LogOptions,
		RedisOptions:     o.RedisOptions,
		MilvusOptions:    o.MilvusOptions,
		EmbeddingOptions: o.EmbeddingOptions,
		ChatOptions:      o.ChatOptions,
		RAGOptions:       o.RAGOptions,
		CacheOptions:     o.CacheOptions,
		QuotaOptions:     o.QuotaOptions,
	}, nil
}
