package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragdesk/ragdesk/pkg/llm"
	llmopts "github.com/ragdesk/ragdesk/pkg/options/llm"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(&llmopts.ProviderOptions{
		Provider: ProviderName,
		BaseURL:  srv.URL,
		Model:    "test-model",
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	return p
}

func TestNewValidation(t *testing.T) {
	_, err := New(&llmopts.ProviderOptions{Model: "m"})
	assert.Error(t, err)

	_, err = New(&llmopts.ProviderOptions{BaseURL: "http://x"})
	assert.Error(t, err)
}

func TestEmbed(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Len(t, req.Input, 2)

		_ = json.NewEncoder(w).Encode(embedResponse{
			Model:      req.Model,
			Embeddings: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	})

	embeddings, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.Equal(t, []float32{0.3, 0.4}, embeddings[1])
}

func TestEmbedSingle(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 2, 3}}})
	})

	vec, err := p.EmbedSingle(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
}

func TestGenerate(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "sys", req.System)

		_ = json.NewEncoder(w).Encode(generateResponse{
			Response:        "the answer",
			Done:            true,
			PromptEvalCount: 20,
			EvalCount:       5,
		})
	})

	resp, err := p.Generate(context.Background(), "question", "sys")
	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.Content)
	assert.Equal(t, int64(25), resp.Usage.TotalTokens)
}

func TestGenerateUsageFallback(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "four words in here", Done: true})
	})

	resp, err := p.Generate(context.Background(), "one two three", "")
	require.NoError(t, err)
	// Estimated: ceil(4/0.75) completion + ceil(3/0.75) prompt.
	assert.Equal(t, int64(6), resp.Usage.CompletionTokens)
	assert.Equal(t, int64(4), resp.Usage.PromptTokens)
}

func TestGenerateServerError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})

	_, err := p.Generate(context.Background(), "q", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestGenerateStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		flusher := w.(http.Flusher)
		for _, word := range []string{"Refunds ", "within ", "30 days"} {
			fmt.Fprintf(w, `{"response":%q,"done":false}`+"\n", word)
			flusher.Flush()
		}
		fmt.Fprintln(w, `{"response":"","done":true,"prompt_eval_count":15,"eval_count":3}`)
	})

	fragments, err := p.GenerateStream(context.Background(), "refund policy?", "sys")
	require.NoError(t, err)

	var content string
	var final *llm.Fragment
	for f := range fragments {
		require.NoError(t, f.Err)
		if f.Done {
			cp := f
			final = &cp
			break
		}
		content += f.Content
	}

	assert.Equal(t, "Refunds within 30 days", content)
	require.NotNil(t, final)
	assert.Equal(t, int64(18), final.Usage.TotalTokens)
}

func TestGenerateStreamCancel(t *testing.T) {
	blocked := make(chan struct{})
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"response":"partial","done":false}`)
		flusher.Flush()
		<-blocked
	})
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	fragments, err := p.GenerateStream(ctx, "q", "")
	require.NoError(t, err)

	f := <-fragments
	assert.Equal(t, "partial", f.Content)

	cancel()

	// The producer goroutine must terminate and close the channel.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-fragments:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream not closed after cancel")
		}
	}
}
