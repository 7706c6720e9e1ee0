// Package model defines the data contracts shared by the RAG service
// layers. All types here are plain records, construction and mutation
// rules live with the components that own them.
package model

import (
	"time"
)

// SearchMode selects the retrieval strategy.
type SearchMode string

const (
	SearchModeSemantic SearchMode = "semantic"
	SearchModeKeyword  SearchMode = "keyword"
	SearchModeHybrid   SearchMode = "hybrid"
)

// ResponseStyle controls answer verbosity.
type ResponseStyle string

const (
	ResponseStyleConcise  ResponseStyle = "concise"
	ResponseStyleBalanced ResponseStyle = "balanced"
	ResponseStyleDetailed ResponseStyle = "detailed"
)

// Confidence grades how well the retrieved context supports the answer.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Request bounds for QueryRequest.
const (
	DefaultTopK = 10
	MinTopK     = 1
	MaxTopK     = 50

	MaxQueryLength = 1000
)

// QueryRequest is one RAG query. Immutable once issued; created per
// API call and discarded after the response.
type QueryRequest struct {
	WorkspaceID         string        `json:"workspace_id" binding:"required,workspaceid"`
	SessionID           string        `json:"session_id,omitempty"`
	UserID              string        `json:"user_id,omitempty"`
	Query               string        `json:"query" binding:"required,max=1000"`
	DocumentIDs         []string      `json:"document_ids,omitempty"`
	TopK                int           `json:"top_k,omitempty" binding:"omitempty,min=1,max=50"`
	SearchMode          SearchMode    `json:"search_mode,omitempty" binding:"omitempty,oneof=semantic keyword hybrid"`
	SimilarityThreshold *float64      `json:"similarity_threshold,omitempty" binding:"omitempty,gte=0,lte=1"`
	UseReranking        bool          `json:"use_reranking,omitempty"`
	ResponseStyle       ResponseStyle `json:"response_style,omitempty" binding:"omitempty,oneof=concise balanced detailed"`
	Stream              bool          `json:"stream,omitempty"`
	UseCache            *bool         `json:"use_cache,omitempty"`

	// ClientIP and Tier are filled in by the transport layer, the
	// first for rate limiting and the second from workspace plan
	// resolution.
	ClientIP string `json:"-"`
	Tier     string `json:"-"`
}

// WithDefaults returns a copy with unset fields filled in.
func (r QueryRequest) WithDefaults() QueryRequest {
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
	if r.SearchMode == "" {
		r.SearchMode = SearchModeSemantic
	}
	if r.ResponseStyle == "" {
		r.ResponseStyle = ResponseStyleBalanced
	}
	if r.UseCache == nil {
		enabled := true
		r.UseCache = &enabled
	}
	return r
}

// CacheEnabled reports whether the result cache may serve this
// request. An unset use_cache means enabled.
func (r QueryRequest) CacheEnabled() bool {
	return r.UseCache == nil || *r.UseCache
}

// RetrievedChunk is one vector store hit, ordered by descending
// similarity within a result set.
type RetrievedChunk struct {
	ChunkID         string  `json:"chunk_id"`
	DocumentID      string  `json:"document_id"`
	ChunkIndex      int     `json:"chunk_index"`
	Text            string  `json:"text"`
	SimilarityScore float64 `json:"similarity_score"`
}

// RAGSource is a cited chunk in a response.
type RAGSource struct {
	ChunkID         string  `json:"chunk_id"`
	DocumentID      string  `json:"document_id"`
	ChunkIndex      int     `json:"chunk_index"`
	Text            string  `json:"text"`
	SimilarityScore float64 `json:"similarity_score"`
}

// SourceFromChunk converts a retrieved chunk into a citation.
func SourceFromChunk(c RetrievedChunk) RAGSource {
	return RAGSource{
		ChunkID:         c.ChunkID,
		DocumentID:      c.DocumentID,
		ChunkIndex:      c.ChunkIndex,
		Text:            c.Text,
		SimilarityScore: c.SimilarityScore,
	}
}

// RAGResponse is the complete answer to one query. Built once, never
// mutated after construction.
type RAGResponse struct {
	Answer          string      `json:"answer"`
	Sources         []RAGSource `json:"sources"`
	ResponseTimeMs  int64       `json:"response_time_ms"`
	TokensUsed      int64       `json:"tokens_used"`
	ConfidenceScore Confidence  `json:"confidence_score"`
	ModelUsed       string      `json:"model_used"`
	Cached          bool        `json:"cached,omitempty"`
}

// StreamChunkType identifies a streamed chunk.
type StreamChunkType string

const (
	// StreamChunkStart opens a stream.
	StreamChunkStart StreamChunkType = "start"
	// StreamChunkAnswer carries one answer fragment.
	StreamChunkAnswer StreamChunkType = "answer"
	// StreamChunkSources lists the cited sources, sent once after the
	// final answer fragment.
	StreamChunkSources StreamChunkType = "sources"
	// StreamChunkEnd closes a stream and carries the response summary.
	StreamChunkEnd StreamChunkType = "end"
	// StreamChunkError terminates a stream after a processing failure.
	StreamChunkError StreamChunkType = "error"
)

// StreamChunk is one independently serializable piece of a streamed
// response, written as a single NDJSON line.
type StreamChunk struct {
	Type    StreamChunkType `json:"type"`
	Content string          `json:"content,omitempty"`
	Sources []RAGSource     `json:"sources,omitempty"`
	End     *StreamEnd      `json:"end,omitempty"`
	Error   *StreamError    `json:"error,omitempty"`
}

// StreamEnd summarizes a completed stream.
type StreamEnd struct {
	TokensUsed      int64      `json:"tokens_used"`
	ResponseTimeMs  int64      `json:"response_time_ms"`
	ConfidenceScore Confidence `json:"confidence_score"`
	ModelUsed       string     `json:"model_used"`
}

// StreamError carries a typed failure down an open stream.
type StreamError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RateLimitStatus is a point-in-time view of one limiter scope.
type RateLimitStatus struct {
	Limit         int       `json:"limit"`
	Remaining     int       `json:"remaining"`
	ResetTime     time.Time `json:"reset_time"`
	WindowSeconds int       `json:"window_seconds"`
}

// TokenBudget is the per-workspace token consumption snapshot.
type TokenBudget struct {
	WorkspaceID    string    `json:"workspace_id"`
	DailyUsed      int64     `json:"daily_used"`
	DailyLimit     int64     `json:"daily_limit"`
	MonthlyUsed    int64     `json:"monthly_used"`
	MonthlyLimit   int64     `json:"monthly_limit"`
	ResetDailyAt   time.Time `json:"reset_daily_at"`
	ResetMonthlyAt time.Time `json:"reset_monthly_at"`
}

// Exhausted reports whether either period is at or over its limit.
func (b TokenBudget) Exhausted() bool {
	return b.DailyUsed >= b.DailyLimit || b.MonthlyUsed >= b.MonthlyLimit
}
