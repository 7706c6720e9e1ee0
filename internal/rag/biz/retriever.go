package biz

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/ragdesk/ragdesk/internal/model"
	"github.com/ragdesk/ragdesk/internal/rag/store"
	apperrors "github.com/ragdesk/ragdesk/pkg/errors"
	"github.com/ragdesk/ragdesk/pkg/llm"
	ragopts "github.com/ragdesk/ragdesk/pkg/options/rag"
)

// Relevance blend weights per search mode: the share of vector
// similarity in the final score, the remainder comes from literal
// query term overlap.
const (
	rerankSemanticWeight  = 0.75
	hybridSemanticWeight  = 0.5
	keywordSemanticWeight = 0
)

// Retriever embeds a query and fetches the matching chunks from the
// workspace corpus, reading through the result cache.
type Retriever struct {
	store    store.VectorStore
	embedder llm.EmbeddingProvider
	cache    *ResultCache
	opts     *ragopts.Options
}

// NewRetriever creates a retriever.
func NewRetriever(vectorStore store.VectorStore, embedder llm.EmbeddingProvider, cache *ResultCache, opts *ragopts.Options) *Retriever {
	return &Retriever{
		store:    vectorStore,
		embedder: embedder,
		cache:    cache,
		opts:     opts,
	}
}

// Retrieve runs the retrieval stage for one query: embed, search the
// vector store through the result cache, rank per search mode,
// truncate to top_k and drop chunks below the similarity threshold.
// The second return reports whether the search was served from cache.
func (r *Retriever) Retrieve(ctx context.Context, req *model.QueryRequest) ([]model.RetrievedChunk, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.RetrievalTimeout)
	defer cancel()

	fetchK := r.fetchK(req)

	// Document-filtered searches bypass the cache: the entry would not
	// be valid for requests with a different filter.
	cacheable := req.CacheEnabled() && len(req.DocumentIDs) == 0

	var chunks []model.RetrievedChunk
	cached := false
	if cacheable {
		chunks, cached = r.cache.Get(ctx, req.WorkspaceID, req.Query, fetchK)
	}

	if !cached {
		vector, err := r.embedder.EmbedSingle(ctx, req.Query)
		if err != nil {
			return nil, false, apperrors.ErrEmbeddingFailed.WithCause(err)
		}

		chunks, err = r.searchWithRetry(ctx, req, vector, fetchK)
		if err != nil {
			return nil, false, apperrors.ErrRetrievalFailed.WithCause(err)
		}

		if cacheable {
			r.cache.Set(ctx, req.WorkspaceID, req.Query, fetchK, chunks)
		}
	}

	chunks = rankForMode(req, chunks)

	if len(chunks) > req.TopK {
		chunks = chunks[:req.TopK]
	}

	threshold := r.opts.SimilarityThreshold
	if req.SimilarityThreshold != nil {
		threshold = *req.SimilarityThreshold
	}

	filtered := chunks[:0]
	for _, c := range chunks {
		if c.SimilarityScore >= threshold {
			filtered = append(filtered, c)
		}
	}

	logger.Debugw("retrieval complete",
		"workspace_id", req.WorkspaceID,
		"search_mode", req.SearchMode,
		"cached", cached,
		"fetched", len(chunks),
		"kept", len(filtered),
		"threshold", threshold,
	)
	return filtered, cached, nil
}

// fetchK widens the candidate pool when a secondary ranking pass will
// reorder it.
func (r *Retriever) fetchK(req *model.QueryRequest) int {
	k := req.TopK
	reorders := req.UseReranking || req.SearchMode == model.SearchModeKeyword || req.SearchMode == model.SearchModeHybrid
	if reorders && r.opts.RerankTopK > k {
		k = r.opts.RerankTopK
	}
	return k
}

// rankForMode orders candidates per the requested search mode.
// Semantic keeps the vector store order unless reranking is requested.
func rankForMode(req *model.QueryRequest, chunks []model.RetrievedChunk) []model.RetrievedChunk {
	switch req.SearchMode {
	case model.SearchModeKeyword:
		return orderByRelevance(req.Query, chunks, keywordSemanticWeight)
	case model.SearchModeHybrid:
		return orderByRelevance(req.Query, chunks, hybridSemanticWeight)
	default:
		if req.UseReranking {
			return orderByRelevance(req.Query, chunks, rerankSemanticWeight)
		}
		return chunks
	}
}

// searchWithRetry retries one transient search failure after a short
// backoff.
func (r *Retriever) searchWithRetry(ctx context.Context, req *model.QueryRequest, vector []float32, topK int) ([]model.RetrievedChunk, error) {
	chunks, err := r.store.Search(ctx, req.WorkspaceID, vector, topK, req.DocumentIDs)
	if err == nil {
		return chunks, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	logger.Warnw("vector search failed, retrying",
		"workspace_id", req.WorkspaceID,
		"error", err.Error(),
	)

	select {
	case <-time.After(r.opts.RetryBackoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return r.store.Search(ctx, req.WorkspaceID, vector, topK, req.DocumentIDs)
}

// orderByRelevance reorders candidates by a weighted blend of vector
// similarity and query term overlap. A semanticWeight of 1 keeps the
// vector order, 0 orders by literal term overlap alone. Ties preserve
// the incoming order.
func orderByRelevance(query string, chunks []model.RetrievedChunk, semanticWeight float64) []model.RetrievedChunk {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 || len(chunks) < 2 {
		return chunks
	}

	type scored struct {
		chunk model.RetrievedChunk
		score float64
	}

	candidates := make([]scored, len(chunks))
	for i, c := range chunks {
		overlap := termOverlap(terms, c.Text)
		candidates[i] = scored{
			chunk: c,
			score: semanticWeight*c.SimilarityScore + (1-semanticWeight)*overlap,
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	reranked := make([]model.RetrievedChunk, len(candidates))
	for i, s := range candidates {
		reranked[i] = s.chunk
	}
	return reranked
}

// termOverlap is the share of query terms appearing literally in text.
func termOverlap(terms []string, text string) float64 {
	lower := strings.ToLower(text)
	matched := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
