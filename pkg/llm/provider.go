// Package llm provides the provider abstraction for embeddings and
// answer generation.
//
// Providers register themselves in an init function and are looked up
// by name, so wiring a different vendor is a configuration change.
package llm

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	llmopts "github.com/ragdesk/ragdesk/pkg/options/llm"
)

// EmbeddingProvider generates vector embeddings for text.
type EmbeddingProvider interface {
	// Embed generates embeddings for multiple texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle generates an embedding for one text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider name.
	Name() string
}

// TokenUsage reports token consumption for one generation call.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// GenerateResponse is the result of a blocking generation call.
type GenerateResponse struct {
	Content string     `json:"content"`
	Usage   TokenUsage `json:"usage"`
}

// Fragment is one streamed piece of a generated answer. The final
// fragment has Done set and carries the total usage; a fragment with a
// non-nil Err terminates the stream.
type Fragment struct {
	Content string
	Done    bool
	Usage   TokenUsage
	Err     error
}

// ChatProvider generates answers from prompts.
type ChatProvider interface {
	// Generate produces a complete answer.
	Generate(ctx context.Context, prompt, systemPrompt string) (*GenerateResponse, error)

	// GenerateStream produces an answer incrementally. The returned
	// channel is closed after the final fragment. Cancelling ctx aborts
	// the upstream call; fragments received before the abort remain
	// valid for token accounting.
	GenerateStream(ctx context.Context, prompt, systemPrompt string) (<-chan Fragment, error)

	// Name returns the provider name.
	Name() string
}

// EmbeddingFactory constructs an embedding provider from options.
type EmbeddingFactory func(opts *llmopts.ProviderOptions) (EmbeddingProvider, error)

// ChatFactory constructs a chat provider from options.
type ChatFactory func(opts *llmopts.ProviderOptions) (ChatProvider, error)

var registry = &providerRegistry{
	embedding: make(map[string]EmbeddingFactory),
	chat:      make(map[string]ChatFactory),
}

type providerRegistry struct {
	mu        sync.RWMutex
	embedding map[string]EmbeddingFactory
	chat      map[string]ChatFactory
}

// RegisterEmbeddingProvider registers an embedding provider factory.
func RegisterEmbeddingProvider(name string, factory EmbeddingFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.embedding[name] = factory
}

// RegisterChatProvider registers a chat provider factory.
func RegisterChatProvider(name string, factory ChatFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.chat[name] = factory
}

// NewEmbeddingProvider creates an embedding provider by name.
func NewEmbeddingProvider(opts *llmopts.ProviderOptions) (EmbeddingProvider, error) {
	registry.mu.RLock()
	factory, ok := registry.embedding[opts.Provider]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}
	return factory(opts)
}

// NewChatProvider creates a chat provider by name.
func NewChatProvider(opts *llmopts.ProviderOptions) (ChatProvider, error) {
	registry.mu.RLock()
	factory, ok := registry.chat[opts.Provider]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown chat provider: %s", opts.Provider)
	}
	return factory(opts)
}

// ListProviders lists all registered provider names.
func ListProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	seen := make(map[string]bool)
	var names []string
	for name := range registry.embedding {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for name := range registry.chat {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// EstimateTokens approximates the token count of text from its word
// count (one token per 0.75 words). Used when a provider does not
// report usage; the real tokenizer may differ by a few percent.
func EstimateTokens(text string) int64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int64(math.Ceil(float64(words) / 0.75))
}
