// Package rag provides RAG query pipeline configuration options.
package rag

import (
	"fmt"

	"time"

	"github.com/spf13/pflag"

	"github.com/ragdesk/ragdesk/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Request bounds enforced at validation time.
const (
	MaxQueryLength = 1000
	MinTopK        = 1
	MaxTopK        = 50
	DefaultTopK    = 10
)

// DefaultSystemPrompt is the system prompt template for answer generation.
// {{context}} is replaced with citation-tagged chunk texts and
// {{question}} with the user query.
const DefaultSystemPrompt = `You are a customer support assistant. Answer the question using only the provided context.
Cite your sources with the inline markers given in the context, like [1] or [2].
If the context does not contain the answer, say that you don't have enough information.

Context:
{{context}}

Question: {{question}}

Answer:`

// DefaultFallbackContext is used when retrieval yields no chunk above
// the similarity threshold. The answer is drawn from general guidance
// instead of fabricated citations.
const DefaultFallbackContext = `No specific documentation matched this question. Offer general customer support guidance: acknowledge the question, explain that detailed documentation is not available, and suggest contacting the support team for specifics. Do not invent facts or cite sources.`

// Options contains RAG pipeline configuration.
type Options struct {
	// Collection is the name of the vector store collection.
	Collection string `json:"collection" mapstructure:"collection"`

	// EmbeddingDim is the dimension of embedding vectors.
	EmbeddingDim int `json:"embedding-dim" mapstructure:"embedding-dim"`

	// SimilarityThreshold drops chunks scoring below it.
	SimilarityThreshold float64 `json:"similarity-threshold" mapstructure:"similarity-threshold"`

	// RerankTopK is the number of candidates considered during reranking
	// before truncating to the request top_k.
	RerankTopK int `json:"rerank-top-k" mapstructure:"rerank-top-k"`

	// ChunkSize is the target chunk size in characters for ingestion.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap is the overlap between consecutive chunks.
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// SystemPrompt is the prompt template for generation.
	SystemPrompt string `json:"system-prompt" mapstructure:"system-prompt"`

	// FallbackContext is the generic guidance used when no relevant
	// chunks are retrieved.
	FallbackContext string `json:"fallback-context" mapstructure:"fallback-context"`

	// RetrievalTimeout bounds embedding plus vector search per query.
	RetrievalTimeout time.Duration `json:"retrieval-timeout" mapstructure:"retrieval-timeout"`

	// GenerationTimeout bounds the LLM call per query.
	GenerationTimeout time.Duration `json:"generation-timeout" mapstructure:"generation-timeout"`

	// RetryBackoff is the pause before the single internal retry of a
	// transient retrieval failure.
	RetryBackoff time.Duration `json:"retry-backoff" mapstructure:"retry-backoff"`

	// StreamBuffer is the stream channel buffer size.
	StreamBuffer int `json:"stream-buffer" mapstructure:"stream-buffer"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Collection:          "support_chunks",
		EmbeddingDim:        768,
		SimilarityThreshold: 0.7,
		RerankTopK:          20,
		ChunkSize:           512,
		ChunkOverlap:        50,
		SystemPrompt:        DefaultSystemPrompt,
		FallbackContext:     DefaultFallbackContext,
		RetrievalTimeout:    10 * time.Second,
		GenerationTimeout:   120 * time.Second,
		RetryBackoff:        200 * time.Millisecond,
		StreamBuffer:        64,
	}
}

// AddFlags adds flags for RAG options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Collection, options.Join(prefixes...)+"rag.collection", o.Collection, "Vector store collection name.")
	fs.IntVar(&o.EmbeddingDim, options.Join(prefixes...)+"rag.embedding-dim", o.EmbeddingDim, "Embedding vector dimension.")
	fs.Float64Var(&o.SimilarityThreshold, options.Join(prefixes...)+"rag.similarity-threshold", o.SimilarityThreshold, "Default minimum similarity for retrieved chunks.")
	fs.IntVar(&o.RerankTopK, options.Join(prefixes...)+"rag.rerank-top-k", o.RerankTopK, "Candidates considered during reranking.")
	fs.IntVar(&o.ChunkSize, options.Join(prefixes...)+"rag.chunk-size", o.ChunkSize, "Target chunk size for document ingestion.")
	fs.IntVar(&o.ChunkOverlap, options.Join(prefixes...)+"rag.chunk-overlap", o.ChunkOverlap, "Overlap between consecutive chunks.")
	fs.DurationVar(&o.RetrievalTimeout, options.Join(prefixes...)+"rag.retrieval-timeout", o.RetrievalTimeout, "Timeout for embedding and vector search.")
	fs.DurationVar(&o.GenerationTimeout, options.Join(prefixes...)+"rag.generation-timeout", o.GenerationTimeout, "Timeout for LLM generation.")
	fs.DurationVar(&o.RetryBackoff, options.Join(prefixes...)+"rag.retry-backoff", o.RetryBackoff, "Backoff before retrying a transient retrieval failure.")
	fs.IntVar(&o.StreamBuffer, options.Join(prefixes...)+"rag.stream-buffer", o.StreamBuffer, "Stream channel buffer size.")
}

// Validate validates the RAG options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Collection == "" {
		errs = append(errs, fmt.Errorf("rag.collection is required"))
	}
	if o.EmbeddingDim <= 0 {
		errs = append(errs, fmt.Errorf("rag.embedding-dim must be positive"))
	}
	if o.SimilarityThreshold < 0 || o.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("rag.similarity-threshold must be in [0,1]"))
	}
	if o.RerankTopK <= 0 {
		errs = append(errs, fmt.Errorf("rag.rerank-top-k must be positive"))
	}
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.chunk-size must be positive"))
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		errs = append(errs, fmt.Errorf("rag.chunk-overlap must be in [0, chunk-size)"))
	}
	if o.StreamBuffer <= 0 {
		errs = append(errs, fmt.Errorf("rag.stream-buffer must be positive"))
	}
	return errs
}

// Complete completes the RAG options with defaults.
func (o *Options) Complete() error {
	if o.SystemPrompt == "" {
		o.SystemPrompt = DefaultSystemPrompt
	}
	if o.FallbackContext == "" {
		o.FallbackContext = DefaultFallbackContext
	}
	return nil
}
