package biz

import (
	"context"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/ragdesk/ragdesk/internal/model"
	"github.com/ragdesk/ragdesk/internal/rag/budget"
	"github.com/ragdesk/ragdesk/internal/rag/limiter"
	"github.com/ragdesk/ragdesk/internal/rag/metrics"
	"github.com/ragdesk/ragdesk/internal/rag/store"
	apperrors "github.com/ragdesk/ragdesk/pkg/errors"
	"github.com/ragdesk/ragdesk/pkg/infra/pool"
	"github.com/ragdesk/ragdesk/pkg/llm"
	ragopts "github.com/ragdesk/ragdesk/pkg/options/rag"
)

// accountingTimeout bounds the detached token accounting write.
const accountingTimeout = 5 * time.Second

// Service is the RAG query orchestrator. A request passes admission
// (rate limit, then token budget), retrieval through the result
// cache, generation and finally token accounting, in that order.
type Service struct {
	checker    *limiter.Checker
	tracker    *budget.Tracker
	cache      *ResultCache
	retriever  *Retriever
	generator  *Generator
	indexer    *Indexer
	store      store.VectorStore
	metrics    *metrics.Metrics
	accounting *pool.Pool
	opts       *ragopts.Options
}

// NewService assembles the orchestrator from its stages.
func NewService(
	checker *limiter.Checker,
	tracker *budget.Tracker,
	cache *ResultCache,
	vectorStore store.VectorStore,
	embedder llm.EmbeddingProvider,
	chat llm.ChatProvider,
	accounting *pool.Pool,
	opts *ragopts.Options,
) *Service {
	return &Service{
		checker:    checker,
		tracker:    tracker,
		cache:      cache,
		retriever:  NewRetriever(vectorStore, embedder, cache, opts),
		generator:  NewGenerator(chat, opts),
		indexer:    NewIndexer(vectorStore, embedder, opts),
		store:      vectorStore,
		metrics:    metrics.Get(),
		accounting: accounting,
		opts:       opts,
	}
}

// Indexer exposes the document ingestion stage.
func (s *Service) Indexer() *Indexer {
	return s.indexer
}

// Cache exposes the result cache for invalidation endpoints.
func (s *Service) Cache() *ResultCache {
	return s.cache
}

// Budget exposes the token budget tracker.
func (s *Service) Budget() *budget.Tracker {
	return s.tracker
}

// RateLimits exposes the admission checker.
func (s *Service) RateLimits() *limiter.Checker {
	return s.checker
}

// validate rejects malformed requests before any quota is consumed.
func (s *Service) validate(req *model.QueryRequest) error {
	if req.WorkspaceID == "" {
		return apperrors.ErrInvalidParam.WithMessage("workspace_id is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return apperrors.ErrInvalidQuery.WithMessage("query must not be empty")
	}
	if len(req.Query) > model.MaxQueryLength {
		return apperrors.ErrInvalidQuery.WithMessagef("query exceeds %d characters", model.MaxQueryLength)
	}
	if req.TopK < model.MinTopK || req.TopK > model.MaxTopK {
		return apperrors.ErrInvalidParam.WithMessagef("top_k must be between %d and %d", model.MinTopK, model.MaxTopK)
	}
	return nil
}

// admit runs the rate limit and budget checks. Order matters: a rate
// limited request must not consume a budget lookup.
func (s *Service) admit(ctx context.Context, req *model.QueryRequest) error {
	decision := s.checker.Check(ctx, &limiter.CheckRequest{
		WorkspaceID: req.WorkspaceID,
		Tier:        req.Tier,
		UserID:      req.UserID,
		ClientIP:    req.ClientIP,
		Endpoint:    "query",
	})
	if !decision.Allowed {
		s.metrics.RecordRateLimitRejection()
		logger.Infow("request rate limited",
			"workspace_id", req.WorkspaceID,
			"scope", decision.Scope,
			"limit", decision.Limit,
		)
		return apperrors.ErrRateLimitExceeded.WithMessagef(
			"%s rate limit of %d requests exceeded, retry after %s",
			decision.Scope, decision.Limit, decision.ResetAt.UTC().Format(time.RFC3339),
		).WithRetryAfter(time.Until(decision.ResetAt))
	}

	b := s.tracker.Check(ctx, req.WorkspaceID, req.Tier)
	if b.Exhausted() {
		s.metrics.RecordBudgetRejection()
		logger.Infow("token budget exhausted",
			"workspace_id", req.WorkspaceID,
			"daily_used", b.DailyUsed,
			"daily_limit", b.DailyLimit,
			"monthly_used", b.MonthlyUsed,
			"monthly_limit", b.MonthlyLimit,
		)
		return apperrors.ErrTokenBudgetExceeded.WithMessagef(
			"token budget exhausted, daily resets at %s",
			b.ResetDailyAt.Format(time.RFC3339),
		).WithRetryAfter(time.Until(b.ResetDailyAt))
	}
	return nil
}

// Query answers one blocking RAG query.
func (s *Service) Query(ctx context.Context, req *model.QueryRequest) (*model.RAGResponse, error) {
	started := time.Now()
	normalized := req.WithDefaults()
	req = &normalized

	if err := s.validate(req); err != nil {
		return nil, err
	}
	if err := s.admit(ctx, req); err != nil {
		return nil, err
	}

	chunks, fromCache, resp, err := s.retrieveAndGenerate(ctx, req)
	if err != nil {
		s.metrics.RecordQuery(false, err)
		return nil, err
	}

	result := &model.RAGResponse{
		Answer:          resp.Content,
		Sources:         sourcesFromChunks(chunks),
		ResponseTimeMs:  time.Since(started).Milliseconds(),
		TokensUsed:      resp.Usage.TotalTokens,
		ConfidenceScore: confidenceFor(chunks),
		ModelUsed:       s.generator.ModelName(),
		Cached:          fromCache,
	}

	s.accountTokens(req.WorkspaceID, resp.Usage.TotalTokens)
	s.metrics.RecordQuery(fromCache, nil)

	logger.Infow("query answered",
		"workspace_id", req.WorkspaceID,
		"cached_search", fromCache,
		"sources", len(result.Sources),
		"tokens_used", result.TokensUsed,
		"confidence", result.ConfidenceScore,
		"response_time_ms", result.ResponseTimeMs,
	)
	return result, nil
}

// retrieveAndGenerate runs the processing stages shared by blocking
// and streaming queries.
func (s *Service) retrieveAndGenerate(ctx context.Context, req *model.QueryRequest) ([]model.RetrievedChunk, bool, *llm.GenerateResponse, error) {
	chunks, fromCache, err := s.retrieve(ctx, req)
	if err != nil {
		return nil, false, nil, err
	}

	genStarted := time.Now()
	resp, err := s.generator.Generate(ctx, req, chunks)
	if err != nil {
		s.metrics.RecordLLMCall(time.Since(genStarted), 0, 0, err)
		return nil, false, nil, apperrors.ErrGenerationFailed.WithCause(err)
	}
	s.metrics.RecordLLMCall(time.Since(genStarted), resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil)

	return chunks, fromCache, resp, nil
}

func (s *Service) retrieve(ctx context.Context, req *model.QueryRequest) ([]model.RetrievedChunk, bool, error) {
	started := time.Now()
	chunks, fromCache, err := s.retriever.Retrieve(ctx, req)
	s.metrics.RecordRetrieval(time.Since(started), err)
	return chunks, fromCache, err
}

// accountTokens records consumption on the accounting pool, detached
// from the request context so a client abort cannot lose the write.
func (s *Service) accountTokens(workspaceID string, tokens int64) {
	if tokens <= 0 {
		return
	}
	err := s.accounting.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), accountingTimeout)
		defer cancel()
		s.tracker.Add(ctx, workspaceID, tokens)
	})
	if err != nil {
		logger.Errorw("accounting pool rejected task, recording inline",
			"workspace_id", workspaceID,
			"error", err.Error(),
		)
		ctx, cancel := context.WithTimeout(context.Background(), accountingTimeout)
		defer cancel()
		s.tracker.Add(ctx, workspaceID, tokens)
	}
}

func sourcesFromChunks(chunks []model.RetrievedChunk) []model.RAGSource {
	sources := make([]model.RAGSource, len(chunks))
	for i, c := range chunks {
		sources[i] = model.SourceFromChunk(c)
	}
	return sources
}
