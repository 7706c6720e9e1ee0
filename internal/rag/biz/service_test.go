package biz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragdesk/ragdesk/internal/model"
	"github.com/ragdesk/ragdesk/internal/rag/budget"
	"github.com/ragdesk/ragdesk/internal/rag/limiter"
	"github.com/ragdesk/ragdesk/internal/rag/store"
	apperrors "github.com/ragdesk/ragdesk/pkg/errors"
	"github.com/ragdesk/ragdesk/pkg/infra/pool"
	"github.com/ragdesk/ragdesk/pkg/llm"
	cacheopts "github.com/ragdesk/ragdesk/pkg/options/cache"
	quotaopts "github.com/ragdesk/ragdesk/pkg/options/quota"
	ragopts "github.com/ragdesk/ragdesk/pkg/options/rag"
)

// fakeStore serves canned chunks and records the workspace filter it
// was queried with.
type fakeStore struct {
	mu          sync.Mutex
	chunks      map[string][]model.RetrievedChunk
	lastTopK    int
	searchErrs  []error
	searchCalls int
}

var _ store.VectorStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{chunks: make(map[string][]model.RetrievedChunk)}
}

func (f *fakeStore) EnsureReady(ctx context.Context) error { return nil }

func (f *fakeStore) Insert(ctx context.Context, chunks []store.EmbeddedChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ec := range chunks {
		f.chunks[ec.Chunk.WorkspaceID] = append(f.chunks[ec.Chunk.WorkspaceID], model.RetrievedChunk{
			ChunkID:         ec.Chunk.ChunkID,
			DocumentID:      ec.Chunk.DocumentID,
			ChunkIndex:      ec.Chunk.ChunkIndex,
			Text:            ec.Chunk.Text,
			SimilarityScore: 0.9,
		})
	}
	return nil
}

func (f *fakeStore) Search(ctx context.Context, workspaceID string, vector []float32, topK int, documentIDs []string) ([]model.RetrievedChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	f.lastTopK = topK
	if len(f.searchErrs) > 0 {
		err := f.searchErrs[0]
		f.searchErrs = f.searchErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	results := f.chunks[workspaceID]
	if len(documentIDs) > 0 {
		allowed := make(map[string]bool, len(documentIDs))
		for _, id := range documentIDs {
			allowed[id] = true
		}
		var filtered []model.RetrievedChunk
		for _, c := range results {
			if allowed[c.DocumentID] {
				filtered = append(filtered, c)
			}
		}
		results = filtered
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, workspaceID, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []model.RetrievedChunk
	for _, c := range f.chunks[workspaceID] {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	f.chunks[workspaceID] = kept
	return nil
}

func (f *fakeStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chunks, workspaceID)
	return nil
}

func (f *fakeStore) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := int64(0)
	for _, chunks := range f.chunks {
		total += int64(len(chunks))
	}
	return total, nil
}

func (f *fakeStore) Close(ctx context.Context) error { return nil }

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) Name() string { return "fake-embed" }

// fakeChat streams its answer word by word.
type fakeChat struct {
	answer        string
	usage         llm.TokenUsage
	err           error
	streamErr     error
	generateCalls int
	// delay between fragments, for abort tests.
	fragmentDelay time.Duration
}

func (f *fakeChat) Generate(ctx context.Context, prompt, systemPrompt string) (*llm.GenerateResponse, error) {
	f.generateCalls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.GenerateResponse{Content: f.answer, Usage: f.usage}, nil
}

func (f *fakeChat) GenerateStream(ctx context.Context, prompt, systemPrompt string) (<-chan llm.Fragment, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan llm.Fragment)
	go func() {
		defer close(out)
		words := splitWords(f.answer)
		for i, w := range words {
			if f.fragmentDelay > 0 {
				time.Sleep(f.fragmentDelay)
			}
			if f.streamErr != nil && i == len(words)/2 {
				select {
				case out <- llm.Fragment{Err: f.streamErr}:
				case <-ctx.Done():
				}
				return
			}
			content := w
			if i > 0 {
				content = " " + w
			}
			select {
			case out <- llm.Fragment{Content: content}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- llm.Fragment{Done: true, Usage: f.usage}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (f *fakeChat) Name() string { return "fake-chat" }

func splitWords(s string) []string {
	var words []string
	current := ""
	for _, r := range s {
		if r == ' ' {
			if current != "" {
				words = append(words, current)
			}
			current = ""
			continue
		}
		current += string(r)
	}
	if current != "" {
		words = append(words, current)
	}
	return words
}

type serviceHarness struct {
	service  *Service
	store    *fakeStore
	chat     *fakeChat
	budget   *budget.Tracker
	limiter  *limiter.MemoryLimiter
	pool     *pool.Pool
	ragOpts  *ragopts.Options
	quota    *quotaopts.Options
	embedder *fakeEmbedder
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()
	cacheOpts := cacheopts.NewOptions()
	cacheOpts.Enabled = false
	return newServiceHarnessWithCache(t, NewResultCache(nil, cacheOpts))
}

func newServiceHarnessWithCache(t *testing.T, cache *ResultCache) *serviceHarness {
	t.Helper()

	quota := quotaopts.NewOptions()
	require.NoError(t, quota.Complete())

	ragOpts := ragopts.NewOptions()
	ragOpts.EmbeddingDim = 3
	ragOpts.RetryBackoff = time.Millisecond
	ragOpts.SimilarityThreshold = 0.5

	mem := limiter.NewMemoryLimiter()
	t.Cleanup(mem.Stop)

	tracker := budget.NewTracker(budget.NewMemoryStore(), quota)

	accounting, err := pool.NewPool("accounting-test", pool.AccountingPool, pool.AccountingPoolConfig())
	require.NoError(t, err)
	t.Cleanup(accounting.Release)

	fs := newFakeStore()
	chat := &fakeChat{
		answer: "Refunds are processed within 30 days [1].",
		usage:  llm.TokenUsage{PromptTokens: 100, CompletionTokens: 40, TotalTokens: 140},
	}
	embedder := &fakeEmbedder{}

	svc := NewService(
		limiter.NewChecker(mem, quota),
		tracker,
		cache,
		fs,
		embedder,
		chat,
		accounting,
		ragOpts,
	)

	return &serviceHarness{
		service:  svc,
		store:    fs,
		chat:     chat,
		budget:   tracker,
		limiter:  mem,
		pool:     accounting,
		ragOpts:  ragOpts,
		quota:    quota,
		embedder: embedder,
	}
}

func seedChunks(fs *fakeStore, workspaceID string, scores ...float64) {
	for i, score := range scores {
		fs.chunks[workspaceID] = append(fs.chunks[workspaceID], model.RetrievedChunk{
			ChunkID:         "chunk-" + workspaceID + "-" + string(rune('a'+i)),
			DocumentID:      "doc-" + workspaceID,
			ChunkIndex:      i,
			Text:            "refund policy text section",
			SimilarityScore: score,
		})
	}
}

func query(workspaceID string) *model.QueryRequest {
	return &model.QueryRequest{
		WorkspaceID: workspaceID,
		Query:       "what is the refund policy",
		Tier:        "enterprise",
	}
}

func TestQueryHappyPath(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.92, 0.85)

	resp, err := h.service.Query(context.Background(), query("ws1"))
	require.NoError(t, err)

	assert.Equal(t, "Refunds are processed within 30 days [1].", resp.Answer)
	assert.Len(t, resp.Sources, 2)
	assert.Equal(t, int64(140), resp.TokensUsed)
	assert.Equal(t, model.ConfidenceHigh, resp.ConfidenceScore)
	assert.Equal(t, "fake-chat", resp.ModelUsed)
	assert.False(t, resp.Cached)
	assert.GreaterOrEqual(t, resp.ResponseTimeMs, int64(0))
}

func TestQueryAccountsTokens(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.9)

	_, err := h.service.Query(context.Background(), query("ws1"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		b := h.budget.Check(context.Background(), "ws1", "enterprise")
		return b.DailyUsed == 140
	}, time.Second, 10*time.Millisecond)
}

func TestQueryValidation(t *testing.T) {
	h := newServiceHarness(t)

	cases := []struct {
		name string
		req  *model.QueryRequest
	}{
		{"missing workspace", &model.QueryRequest{Query: "hi"}},
		{"empty query", &model.QueryRequest{WorkspaceID: "ws1", Query: "   "}},
		{"oversized query", &model.QueryRequest{WorkspaceID: "ws1", Query: strings1001()}},
		{"top_k too large", &model.QueryRequest{WorkspaceID: "ws1", Query: "hi", TopK: 51}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.service.Query(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, apperrors.IsClientError(apperrors.GetCode(err)), "want client error, got %v", err)
		})
	}
}

func strings1001() string {
	b := make([]byte, model.MaxQueryLength+1)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestQueryRateLimited(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.9)

	req := query("ws1")
	req.Tier = "free" // 10 requests per window

	var err error
	for i := 0; i < 10; i++ {
		_, err = h.service.Query(context.Background(), req)
		require.NoError(t, err)
	}

	_, err = h.service.Query(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrRateLimitExceeded.Code))
	assert.True(t, apperrors.IsAdmissionError(err))
}

func TestQueryBudgetExhausted(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.9)

	req := query("ws1")
	req.Tier = "free" // 20k daily tokens
	h.budget.Add(context.Background(), "ws1", 20_000)

	_, err := h.service.Query(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrTokenBudgetExceeded.Code))
	assert.True(t, apperrors.IsAdmissionError(err))

	// A rejected query must not consume budget.
	b := h.budget.Check(context.Background(), "ws1", "free")
	assert.Equal(t, int64(20_000), b.DailyUsed)
}

func TestRateLimitCheckedBeforeBudget(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.9)

	req := query("ws1")
	req.Tier = "free"
	h.budget.Add(context.Background(), "ws1", 20_000)

	// Exhaust the rate limit with budget-rejected requests.
	for i := 0; i < 10; i++ {
		_, err := h.service.Query(context.Background(), req)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrTokenBudgetExceeded.Code))
	}

	_, err := h.service.Query(context.Background(), req)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrRateLimitExceeded.Code))
}

func TestQueryCachedSearchStillGeneratesAndAccounts(t *testing.T) {
	client := setupCacheRedis(t)
	h := newServiceHarnessWithCache(t, NewResultCache(client, cacheopts.NewOptions()))
	seedChunks(h.store, "ws1", 0.9)

	first, err := h.service.Query(context.Background(), query("ws1"))
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := h.service.Query(context.Background(), query("ws1"))
	require.NoError(t, err)

	// The second query reuses the cached search but still runs its own
	// generation pass and is charged for it.
	assert.True(t, second.Cached)
	assert.Equal(t, 1, h.store.searchCalls)
	assert.Equal(t, 2, h.chat.generateCalls)
	assert.Equal(t, int64(140), second.TokensUsed)

	assert.Eventually(t, func() bool {
		b := h.budget.Check(context.Background(), "ws1", "enterprise")
		return b.DailyUsed == 280
	}, time.Second, 10*time.Millisecond)
}

func TestQueryWorkspaceIsolation(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.9)
	seedChunks(h.store, "ws2", 0.95)

	resp, err := h.service.Query(context.Background(), query("ws1"))
	require.NoError(t, err)

	for _, src := range resp.Sources {
		assert.Equal(t, "doc-ws1", src.DocumentID)
	}
}

func TestQueryNoRelevantChunks(t *testing.T) {
	h := newServiceHarness(t)
	// All chunks below threshold.
	seedChunks(h.store, "ws1", 0.2, 0.1)

	resp, err := h.service.Query(context.Background(), query("ws1"))
	require.NoError(t, err)

	assert.Empty(t, resp.Sources)
	assert.Equal(t, model.ConfidenceLow, resp.ConfidenceScore)
	assert.NotEmpty(t, resp.Answer)
}

func TestQueryGenerationFailure(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.9)
	h.chat.err = errors.New("model overloaded")

	_, err := h.service.Query(context.Background(), query("ws1"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrGenerationFailed.Code))
	assert.True(t, apperrors.IsProcessingError(err))
}

func TestQueryEmbeddingFailure(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.9)
	h.embedder.err = errors.New("embedding service down")

	_, err := h.service.Query(context.Background(), query("ws1"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrEmbeddingFailed.Code))
}

func TestQueryRetrievalRetriesOnce(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.9)
	h.store.searchErrs = []error{errors.New("transient")}

	resp, err := h.service.Query(context.Background(), query("ws1"))
	require.NoError(t, err)
	assert.Len(t, resp.Sources, 1)
	assert.Equal(t, 2, h.store.searchCalls)
}

func TestQueryRetrievalFailsAfterRetry(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.9)
	h.store.searchErrs = []error{errors.New("down"), errors.New("still down")}

	_, err := h.service.Query(context.Background(), query("ws1"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrRetrievalFailed.Code))
}

func TestStreamHappyPath(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.92)

	stream, err := h.service.Stream(context.Background(), query("ws1"))
	require.NoError(t, err)

	var types []model.StreamChunkType
	var answer string
	var end *model.StreamEnd
	var sources []model.RAGSource
	for chunk := range stream {
		types = append(types, chunk.Type)
		switch chunk.Type {
		case model.StreamChunkAnswer:
			answer += chunk.Content
		case model.StreamChunkSources:
			sources = chunk.Sources
		case model.StreamChunkEnd:
			end = chunk.End
		}
	}

	require.NotEmpty(t, types)
	assert.Equal(t, model.StreamChunkStart, types[0])
	assert.Equal(t, model.StreamChunkSources, types[len(types)-2])
	assert.Equal(t, model.StreamChunkEnd, types[len(types)-1])
	assert.Equal(t, "Refunds are processed within 30 days [1].", answer)
	assert.Len(t, sources, 1)
	require.NotNil(t, end)
	assert.Equal(t, int64(140), end.TokensUsed)
	assert.Equal(t, model.ConfidenceHigh, end.ConfidenceScore)
	assert.Equal(t, "fake-chat", end.ModelUsed)
}

func TestStreamGenerationError(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.9)
	h.chat.streamErr = errors.New("upstream reset")

	stream, err := h.service.Stream(context.Background(), query("ws1"))
	require.NoError(t, err)

	var last model.StreamChunk
	for chunk := range stream {
		last = chunk
	}

	require.Equal(t, model.StreamChunkError, last.Type)
	require.NotNil(t, last.Error)
	assert.Equal(t, apperrors.ErrGenerationFailed.Code, last.Error.Code)
}

func TestStreamAdmissionErrorBeforeChannel(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.9)

	req := query("ws1")
	req.Tier = "free"
	for i := 0; i < 10; i++ {
		_, err := h.service.Query(context.Background(), req)
		require.NoError(t, err)
	}

	_, err := h.service.Stream(context.Background(), req)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrRateLimitExceeded.Code))
}

func TestStreamAbortStillAccountsTokens(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.9)
	h.chat.fragmentDelay = 10 * time.Millisecond
	h.chat.usage = llm.TokenUsage{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := h.service.Stream(ctx, query("ws1"))
	require.NoError(t, err)

	received := 0
	for chunk := range stream {
		if chunk.Type == model.StreamChunkAnswer {
			received++
			if received == 2 {
				cancel()
			}
		}
	}
	require.GreaterOrEqual(t, received, 2)

	assert.Eventually(t, func() bool {
		b := h.budget.Check(context.Background(), "ws1", "enterprise")
		return b.DailyUsed > 0
	}, time.Second, 10*time.Millisecond)
}

func TestStreamEstimatesUsageWhenUnreported(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.9)
	h.chat.usage = llm.TokenUsage{}

	stream, err := h.service.Stream(context.Background(), query("ws1"))
	require.NoError(t, err)

	var end *model.StreamEnd
	for chunk := range stream {
		if chunk.Type == model.StreamChunkEnd {
			end = chunk.End
		}
	}
	require.NotNil(t, end)
	assert.Greater(t, end.TokensUsed, int64(0))
}

func TestIndexDocumentAndDelete(t *testing.T) {
	h := newServiceHarness(t)

	result, err := h.service.IndexDocument(context.Background(), &model.IndexRequest{
		WorkspaceID: "ws1",
		Text:        "Our refund policy allows returns within thirty days of purchase for a full refund.",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.DocumentID)
	assert.Greater(t, result.ChunkCount, 0)

	count, err := h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(result.ChunkCount), count)

	require.NoError(t, h.service.DeleteDocument(context.Background(), "ws1", result.DocumentID))
	count, err = h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStats(t *testing.T) {
	h := newServiceHarness(t)
	seedChunks(h.store, "ws1", 0.9)

	stats, err := h.service.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["chunk_count"])
	assert.Contains(t, stats, "cache")
	assert.Contains(t, stats, "metrics")
}
