// Package llm provides LLM provider configuration options.
package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/ragdesk/ragdesk/pkg/options"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// ProviderOptions defines configuration for an LLM provider endpoint.
// The same shape is used for both embedding and chat providers.
type ProviderOptions struct {
	// Provider is the provider name (ollama, openai).
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL is the API base URL.
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey is the API key (required by openai).
	APIKey string `json:"-" mapstructure:"api-key"`

	// Model is the model name.
	Model string `json:"model" mapstructure:"model"`

	// Timeout is the per-request timeout.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries is the maximum number of retries for transient failures.
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// Organization is the organization ID (openai, optional).
	Organization string `json:"organization" mapstructure:"organization"`
}

// NewEmbeddingOptions creates default embedding provider options.
func NewEmbeddingOptions() *ProviderOptions {
	return &ProviderOptions{
		Provider:   "ollama",
		BaseURL:    "http://localhost:11434",
		Model:      "nomic-embed-text",
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// NewChatOptions creates default chat provider options.
func NewChatOptions() *ProviderOptions {
	return &ProviderOptions{
		Provider:   "ollama",
		BaseURL:    "http://localhost:11434",
		Model:      "llama3.1:8b",
		Timeout:    120 * time.Second,
		MaxRetries: 3,
	}
}

// AddFlags adds flags for LLM provider options to the specified FlagSet.
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Provider, options.Join(prefixes...)+"provider", o.Provider, "LLM provider (ollama, openai).")
	fs.StringVar(&o.BaseURL, options.Join(prefixes...)+"base-url", o.BaseURL, "LLM API base URL.")
	fs.StringVar(&o.APIKey, options.Join(prefixes...)+"api-key", o.APIKey, "LLM API key (prefer OPENAI_API_KEY env var).")
	fs.StringVar(&o.Model, options.Join(prefixes...)+"model", o.Model, "LLM model name.")
	fs.DurationVar(&o.Timeout, options.Join(prefixes...)+"timeout", o.Timeout, "LLM request timeout.")
	fs.IntVar(&o.MaxRetries, options.Join(prefixes...)+"max-retries", o.MaxRetries, "LLM maximum number of retries.")
	fs.StringVar(&o.Organization, options.Join(prefixes...)+"organization", o.Organization, "LLM organization ID (optional).")
}

// Validate validates the LLM provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Provider == "" {
		errs = append(errs, fmt.Errorf("llm provider is required"))
	}
	if o.BaseURL == "" {
		errs = append(errs, fmt.Errorf("llm base-url is required"))
	}
	if o.Model == "" {
		errs = append(errs, fmt.Errorf("llm model is required"))
	}
	if o.Provider == "openai" && o.APIKey == "" {
		errs = append(errs, fmt.Errorf("api-key is required for openai provider"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("llm timeout must be positive"))
	}
	return errs
}

// Complete completes the LLM provider options with defaults.
func (o *ProviderOptions) Complete() error {
	if o.APIKey == "" {
		o.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	return nil
}
