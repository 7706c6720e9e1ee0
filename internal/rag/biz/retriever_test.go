package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragdesk/ragdesk/internal/model"
	cacheopts "github.com/ragdesk/ragdesk/pkg/options/cache"
	ragopts "github.com/ragdesk/ragdesk/pkg/options/rag"
)

func retrieverOpts() *ragopts.Options {
	opts := ragopts.NewOptions()
	opts.EmbeddingDim = 3
	opts.SimilarityThreshold = 0.5
	return opts
}

// noCache backs retriever tests that do not exercise the result cache.
func noCache() *ResultCache {
	return NewResultCache(nil, cacheopts.NewOptions())
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	fs := newFakeStore()
	seedChunks(fs, "ws1", 0.9, 0.85, 0.8, 0.75)
	r := NewRetriever(fs, &fakeEmbedder{}, noCache(), retrieverOpts())

	req := &model.QueryRequest{WorkspaceID: "ws1", Query: "refund", TopK: 2}
	chunks, _, err := r.Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestRetrieveAppliesThreshold(t *testing.T) {
	fs := newFakeStore()
	seedChunks(fs, "ws1", 0.9, 0.4, 0.3)
	r := NewRetriever(fs, &fakeEmbedder{}, noCache(), retrieverOpts())

	req := &model.QueryRequest{WorkspaceID: "ws1", Query: "refund", TopK: 10}
	chunks, _, err := r.Retrieve(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0.9, chunks[0].SimilarityScore)
}

func TestRetrieveRequestThresholdOverride(t *testing.T) {
	fs := newFakeStore()
	seedChunks(fs, "ws1", 0.9, 0.4, 0.3)
	r := NewRetriever(fs, &fakeEmbedder{}, noCache(), retrieverOpts())

	threshold := 0.2
	req := &model.QueryRequest{WorkspaceID: "ws1", Query: "refund", TopK: 10, SimilarityThreshold: &threshold}
	chunks, _, err := r.Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
}

func TestRetrieveRerankingWidensFetch(t *testing.T) {
	fs := newFakeStore()
	seedChunks(fs, "ws1", 0.9, 0.85, 0.8)
	opts := retrieverOpts()
	opts.RerankTopK = 20
	r := NewRetriever(fs, &fakeEmbedder{}, noCache(), opts)

	req := &model.QueryRequest{WorkspaceID: "ws1", Query: "refund", TopK: 2, UseReranking: true}
	chunks, _, err := r.Retrieve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 20, fs.lastTopK)
	assert.Len(t, chunks, 2)
}

func TestRetrieveSearchModes(t *testing.T) {
	fs := newFakeStore()
	fs.chunks["ws1"] = []model.RetrievedChunk{
		{ChunkID: "sem", Text: "billing address changes", SimilarityScore: 0.90},
		{ChunkID: "kw", Text: "refund policy for returns", SimilarityScore: 0.80},
	}

	cases := []struct {
		mode  model.SearchMode
		first string
	}{
		// Semantic keeps the vector order, keyword ranks the literal
		// match first, hybrid blends both signals.
		{model.SearchModeSemantic, "sem"},
		{model.SearchModeKeyword, "kw"},
		{model.SearchModeHybrid, "kw"},
	}

	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			r := NewRetriever(fs, &fakeEmbedder{}, noCache(), retrieverOpts())
			req := &model.QueryRequest{WorkspaceID: "ws1", Query: "refund policy", TopK: 2, SearchMode: tc.mode}
			chunks, _, err := r.Retrieve(context.Background(), req)
			require.NoError(t, err)
			require.Len(t, chunks, 2)
			assert.Equal(t, tc.first, chunks[0].ChunkID)
		})
	}
}

func TestRetrieveKeywordModeWidensFetch(t *testing.T) {
	fs := newFakeStore()
	seedChunks(fs, "ws1", 0.9, 0.85)
	opts := retrieverOpts()
	opts.RerankTopK = 20
	r := NewRetriever(fs, &fakeEmbedder{}, noCache(), opts)

	req := &model.QueryRequest{WorkspaceID: "ws1", Query: "refund", TopK: 2, SearchMode: model.SearchModeKeyword}
	_, _, err := r.Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 20, fs.lastTopK)
}

func TestOrderByRelevanceKeywordSignal(t *testing.T) {
	chunks := []model.RetrievedChunk{
		{ChunkID: "a", Text: "billing address changes", SimilarityScore: 0.80},
		{ChunkID: "b", Text: "refund policy for returns", SimilarityScore: 0.78},
	}

	ordered := orderByRelevance("refund policy", chunks, rerankSemanticWeight)

	// The chunk containing both query terms outranks the slightly more
	// similar one containing neither.
	assert.Equal(t, "b", ordered[0].ChunkID)
	assert.Equal(t, "a", ordered[1].ChunkID)
}

func TestOrderByRelevancePreservesOrderWithoutSignal(t *testing.T) {
	chunks := []model.RetrievedChunk{
		{ChunkID: "a", Text: "alpha", SimilarityScore: 0.9},
		{ChunkID: "b", Text: "beta", SimilarityScore: 0.8},
	}

	ordered := orderByRelevance("unrelated query terms", chunks, rerankSemanticWeight)
	assert.Equal(t, "a", ordered[0].ChunkID)
	assert.Equal(t, "b", ordered[1].ChunkID)
}

func TestRetrieveReadsThroughCache(t *testing.T) {
	client := setupCacheRedis(t)
	cache := NewResultCache(client, cacheopts.NewOptions())
	fs := newFakeStore()
	seedChunks(fs, "ws1", 0.9, 0.8)
	r := NewRetriever(fs, &fakeEmbedder{}, cache, retrieverOpts())

	req := &model.QueryRequest{WorkspaceID: "ws1", Query: "refund", TopK: 5}

	chunks, fromCache, err := r.Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Len(t, chunks, 2)

	chunks, fromCache, err = r.Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Len(t, chunks, 2)
	assert.Equal(t, 1, fs.searchCalls)
}

func TestRetrieveCachedSearchHonorsRequestThreshold(t *testing.T) {
	client := setupCacheRedis(t)
	cache := NewResultCache(client, cacheopts.NewOptions())
	fs := newFakeStore()
	seedChunks(fs, "ws1", 0.9, 0.4)
	r := NewRetriever(fs, &fakeEmbedder{}, cache, retrieverOpts())

	loose := 0.2
	req := &model.QueryRequest{WorkspaceID: "ws1", Query: "refund", TopK: 5, SimilarityThreshold: &loose}
	chunks, _, err := r.Retrieve(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	// A stricter threshold on the same query filters the cached search
	// result instead of replaying the first caller's view.
	strict := 0.5
	req = &model.QueryRequest{WorkspaceID: "ws1", Query: "refund", TopK: 5, SimilarityThreshold: &strict}
	chunks, fromCache, err := r.Retrieve(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Len(t, chunks, 1)
}

func TestRetrieveDocumentFilterBypassesCache(t *testing.T) {
	client := setupCacheRedis(t)
	cache := NewResultCache(client, cacheopts.NewOptions())
	fs := newFakeStore()
	seedChunks(fs, "ws1", 0.9)
	r := NewRetriever(fs, &fakeEmbedder{}, cache, retrieverOpts())

	req := &model.QueryRequest{WorkspaceID: "ws1", Query: "refund", TopK: 5, DocumentIDs: []string{"doc-ws1"}}

	for i := 0; i < 2; i++ {
		_, fromCache, err := r.Retrieve(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, fromCache)
	}
	assert.Equal(t, 2, fs.searchCalls)
}

func TestRetrieveCacheOptOutPerRequest(t *testing.T) {
	client := setupCacheRedis(t)
	cache := NewResultCache(client, cacheopts.NewOptions())
	fs := newFakeStore()
	seedChunks(fs, "ws1", 0.9)
	r := NewRetriever(fs, &fakeEmbedder{}, cache, retrieverOpts())

	disabled := false
	req := &model.QueryRequest{WorkspaceID: "ws1", Query: "refund", TopK: 5, UseCache: &disabled}

	for i := 0; i < 2; i++ {
		_, fromCache, err := r.Retrieve(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, fromCache)
	}
	assert.Equal(t, 2, fs.searchCalls)
}
