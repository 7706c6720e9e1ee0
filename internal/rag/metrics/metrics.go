// Package metrics collects service counters for queries, admission
// decisions, LLM usage and indexing.
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics holds atomic service counters. All Record methods are safe
// for concurrent use.
type Metrics struct {
	queriesTotal       uint64
	queriesCacheHits   uint64
	queriesCacheMisses uint64
	queriesErrors      uint64

	rateLimitRejections uint64
	budgetRejections    uint64

	retrievalTotal    uint64
	retrievalErrors   uint64
	retrievalDuration float64

	llmCallsTotal       uint64
	llmCallsErrors      uint64
	llmCallsRetries     uint64
	llmCallsDuration    float64
	llmTokensPrompt     uint64
	llmTokensCompletion uint64

	streamsStarted uint64
	streamsAborted uint64

	documentsIndexed uint64
	chunksIndexed    uint64
	indexErrors      uint64

	durationMu sync.Mutex
	startTime  time.Time
}

var (
	global *Metrics
	once   sync.Once
)

// Get returns the process-wide metrics instance.
func Get() *Metrics {
	once.Do(func() {
		global = New()
	})
	return global
}

// New creates an empty metrics instance.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordQuery records one completed query.
func (m *Metrics) RecordQuery(cacheHit bool, err error) {
	atomic.AddUint64(&m.queriesTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.queriesErrors, 1)
		return
	}
	if cacheHit {
		atomic.AddUint64(&m.queriesCacheHits, 1)
	} else {
		atomic.AddUint64(&m.queriesCacheMisses, 1)
	}
}

// RecordRateLimitRejection records a request denied at admission.
func (m *Metrics) RecordRateLimitRejection() {
	atomic.AddUint64(&m.rateLimitRejections, 1)
}

// RecordBudgetRejection records a request denied for an exhausted
// token budget.
func (m *Metrics) RecordBudgetRejection() {
	atomic.AddUint64(&m.budgetRejections, 1)
}

// RecordRetrieval records a vector search.
func (m *Metrics) RecordRetrieval(duration time.Duration, err error) {
	atomic.AddUint64(&m.retrievalTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.retrievalErrors, 1)
		return
	}
	m.durationMu.Lock()
	m.retrievalDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordLLMCall records one generation call with its token usage.
func (m *Metrics) RecordLLMCall(duration time.Duration, promptTokens, completionTokens int64, err error) {
	atomic.AddUint64(&m.llmCallsTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.llmCallsErrors, 1)
		return
	}
	m.durationMu.Lock()
	m.llmCallsDuration += duration.Seconds()
	m.durationMu.Unlock()

	if promptTokens > 0 {
		atomic.AddUint64(&m.llmTokensPrompt, uint64(promptTokens))
	}
	if completionTokens > 0 {
		atomic.AddUint64(&m.llmTokensCompletion, uint64(completionTokens))
	}
}

// RecordLLMRetry records one generation retry.
func (m *Metrics) RecordLLMRetry() {
	atomic.AddUint64(&m.llmCallsRetries, 1)
}

// RecordStreamStart records one streaming query started.
func (m *Metrics) RecordStreamStart() {
	atomic.AddUint64(&m.streamsStarted, 1)
}

// RecordStreamAbort records a stream terminated by client disconnect.
func (m *Metrics) RecordStreamAbort() {
	atomic.AddUint64(&m.streamsAborted, 1)
}

// RecordIndexing records a document indexing operation.
func (m *Metrics) RecordIndexing(documents, chunks int, err error) {
	if err != nil {
		atomic.AddUint64(&m.indexErrors, 1)
		return
	}
	atomic.AddUint64(&m.documentsIndexed, uint64(documents))
	atomic.AddUint64(&m.chunksIndexed, uint64(chunks))
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	QueriesTotal        uint64  `json:"queries_total"`
	CacheHits           uint64  `json:"cache_hits"`
	CacheMisses         uint64  `json:"cache_misses"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
	QueryErrors         uint64  `json:"query_errors"`
	RateLimitRejections uint64  `json:"rate_limit_rejections"`
	BudgetRejections    uint64  `json:"budget_rejections"`
	RetrievalTotal      uint64  `json:"retrieval_total"`
	RetrievalErrors     uint64  `json:"retrieval_errors"`
	LLMCallsTotal       uint64  `json:"llm_calls_total"`
	LLMCallsErrors      uint64  `json:"llm_calls_errors"`
	LLMCallsRetries     uint64  `json:"llm_calls_retries"`
	PromptTokens        uint64  `json:"prompt_tokens"`
	CompletionTokens    uint64  `json:"completion_tokens"`
	StreamsStarted      uint64  `json:"streams_started"`
	StreamsAborted      uint64  `json:"streams_aborted"`
	DocumentsIndexed    uint64  `json:"documents_indexed"`
	ChunksIndexed       uint64  `json:"chunks_indexed"`
	IndexErrors         uint64  `json:"index_errors"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	hits := atomic.LoadUint64(&m.queriesCacheHits)
	misses := atomic.LoadUint64(&m.queriesCacheMisses)
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	return Snapshot{
		QueriesTotal:        atomic.LoadUint64(&m.queriesTotal),
		CacheHits:           hits,
		CacheMisses:         misses,
		CacheHitRate:        hitRate,
		QueryErrors:         atomic.LoadUint64(&m.queriesErrors),
		RateLimitRejections: atomic.LoadUint64(&m.rateLimitRejections),
		BudgetRejections:    atomic.LoadUint64(&m.budgetRejections),
		RetrievalTotal:      atomic.LoadUint64(&m.retrievalTotal),
		RetrievalErrors:     atomic.LoadUint64(&m.retrievalErrors),
		LLMCallsTotal:       atomic.LoadUint64(&m.llmCallsTotal),
		LLMCallsErrors:      atomic.LoadUint64(&m.llmCallsErrors),
		LLMCallsRetries:     atomic.LoadUint64(&m.llmCallsRetries),
		PromptTokens:        atomic.LoadUint64(&m.llmTokensPrompt),
		CompletionTokens:    atomic.LoadUint64(&m.llmTokensCompletion),
		StreamsStarted:      atomic.LoadUint64(&m.streamsStarted),
		StreamsAborted:      atomic.LoadUint64(&m.streamsAborted),
		DocumentsIndexed:    atomic.LoadUint64(&m.documentsIndexed),
		ChunksIndexed:       atomic.LoadUint64(&m.chunksIndexed),
		IndexErrors:         atomic.LoadUint64(&m.indexErrors),
		UptimeSeconds:       time.Since(m.startTime).Seconds(),
	}
}

// Export renders the counters in Prometheus text format.
func (m *Metrics) Export(namespace string) string {
	s := m.Snapshot()
	var sb strings.Builder

	counter := func(name, help string, value uint64) {
		fmt.Fprintf(&sb, "# HELP %s_%s %s\n", namespace, name, help)
		fmt.Fprintf(&sb, "# TYPE %s_%s counter\n", namespace, name)
		fmt.Fprintf(&sb, "%s_%s %d\n\n", namespace, name, value)
	}
	gauge := func(name, help string, value float64) {
		fmt.Fprintf(&sb, "# HELP %s_%s %s\n", namespace, name, help)
		fmt.Fprintf(&sb, "# TYPE %s_%s gauge\n", namespace, name)
		fmt.Fprintf(&sb, "%s_%s %.4f\n\n", namespace, name, value)
	}

	counter("queries_total", "Total number of RAG queries.", s.QueriesTotal)
	counter("queries_cache_hits_total", "Number of result cache hits.", s.CacheHits)
	counter("queries_cache_misses_total", "Number of result cache misses.", s.CacheMisses)
	counter("queries_errors_total", "Number of query errors.", s.QueryErrors)
	gauge("cache_hit_rate", "Result cache hit rate (0-1).", s.CacheHitRate)
	counter("rate_limit_rejections_total", "Requests denied by the rate limiter.", s.RateLimitRejections)
	counter("budget_rejections_total", "Requests denied for an exhausted token budget.", s.BudgetRejections)
	counter("retrieval_total", "Total number of vector searches.", s.RetrievalTotal)
	counter("retrieval_errors_total", "Number of vector search errors.", s.RetrievalErrors)
	counter("llm_calls_total", "Total number of LLM calls.", s.LLMCallsTotal)
	counter("llm_calls_errors_total", "Number of LLM call errors.", s.LLMCallsErrors)
	counter("llm_calls_retries_total", "Number of LLM call retries.", s.LLMCallsRetries)
	counter("llm_tokens_prompt_total", "Total prompt tokens.", s.PromptTokens)
	counter("llm_tokens_completion_total", "Total completion tokens.", s.CompletionTokens)
	counter("streams_started_total", "Streaming queries started.", s.StreamsStarted)
	counter("streams_aborted_total", "Streams terminated by client disconnect.", s.StreamsAborted)
	counter("documents_indexed_total", "Total documents indexed.", s.DocumentsIndexed)
	counter("chunks_indexed_total", "Total chunks indexed.", s.ChunksIndexed)
	counter("index_errors_total", "Number of indexing errors.", s.IndexErrors)
	gauge("uptime_seconds", "Process uptime in seconds.", s.UptimeSeconds)

	return sb.String()
}
