package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmopts "github.com/ragdesk/ragdesk/pkg/options/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(&llmopts.ProviderOptions{
		Provider:   ProviderName,
		BaseURL:    srv.URL,
		APIKey:     "sk-test",
		Model:      "gpt-4o-mini",
		Timeout:    5 * time.Second,
		MaxRetries: 1,
	})
	require.NoError(t, err)
	return p
}

func TestNewValidation(t *testing.T) {
	_, err := New(&llmopts.ProviderOptions{Model: "m"})
	assert.Error(t, err)

	_, err = New(&llmopts.ProviderOptions{APIKey: "k"})
	assert.Error(t, err)
}

func TestEmbed(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		// Out-of-order data entries must land at their index.
		fmt.Fprintln(w, `{"data":[{"index":1,"embedding":[0.3,0.4]},{"index":0,"embedding":[0.1,0.2]}]}`)
	})

	embeddings, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, embeddings[0])
	assert.Equal(t, []float32{0.3, 0.4}, embeddings[1])
}

func TestGenerate(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		fmt.Fprintln(w, `{"choices":[{"message":{"role":"assistant","content":"the answer"}}],"usage":{"prompt_tokens":12,"completion_tokens":4,"total_tokens":16}}`)
	})

	resp, err := p.Generate(context.Background(), "question", "sys")
	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.Content)
	assert.Equal(t, int64(16), resp.Usage.TotalTokens)
}

func TestGenerateRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		fmt.Fprintln(w, `{"choices":[{"message":{"content":"ok"}}],"usage":{"total_tokens":1}}`)
	})

	resp, err := p.Generate(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	_, err := p.Generate(context.Background(), "q", "")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		require.NotNil(t, req.StreamOptions)
		assert.True(t, req.StreamOptions.IncludeUsage)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, delta := range []string{"Refunds ", "within ", "30 days"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
			flusher.Flush()
		}
		fmt.Fprintln(w, `data: {"choices":[],"usage":{"prompt_tokens":9,"completion_tokens":3,"total_tokens":12}}`)
		fmt.Fprintln(w, "data: [DONE]")
	})

	fragments, err := p.GenerateStream(context.Background(), "refund policy?", "sys")
	require.NoError(t, err)

	var content string
	var total int64
	for f := range fragments {
		require.NoError(t, f.Err)
		if f.Done {
			total = f.Usage.TotalTokens
			continue
		}
		content += f.Content
	}

	assert.Equal(t, "Refunds within 30 days", content)
	assert.Equal(t, int64(12), total)
}

func TestGenerateStreamUsageFallback(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"two words"}}]}`)
		fmt.Fprintln(w, "data: [DONE]")
	})

	fragments, err := p.GenerateStream(context.Background(), "one two three", "")
	require.NoError(t, err)

	var usage int64
	for f := range fragments {
		require.NoError(t, f.Err)
		if f.Done {
			usage = f.Usage.TotalTokens
		}
	}
	// Estimated from word counts when the server omits usage.
	assert.Equal(t, int64(7), usage)
}
