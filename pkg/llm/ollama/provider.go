// Package ollama provides the Ollama LLM provider implementation.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ragdesk/ragdesk/pkg/llm"
	llmopts "github.com/ragdesk/ragdesk/pkg/options/llm"
	"github.com/ragdesk/ragdesk/pkg/utils/json"
)

// ProviderName identifies this provider in the registry.
const ProviderName = "ollama"

func init() {
	llm.RegisterEmbeddingProvider(ProviderName, func(opts *llmopts.ProviderOptions) (llm.EmbeddingProvider, error) {
		return New(opts)
	})
	llm.RegisterChatProvider(ProviderName, func(opts *llmopts.ProviderOptions) (llm.ChatProvider, error) {
		return New(opts)
	})
}

// Provider implements embedding and generation against an Ollama server.
type Provider struct {
	baseURL    string
	model      string
	maxRetries int
	httpClient *http.Client
}

// New creates an Ollama provider from options.
func New(opts *llmopts.ProviderOptions) (*Provider, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("ollama base URL is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}

	return &Provider{
		baseURL:    opts.BaseURL,
		model:      opts.Model,
		maxRetries: opts.MaxRetries,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return ProviderName
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates embeddings for multiple texts.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	resp, err := p.postWithRetry(ctx, "/api/embed", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embed returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return embedResp.Embeddings, nil
}

// EmbedSingle generates an embedding for one text.
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("ollama returned no embeddings")
	}
	return embeddings[0], nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
}

// Generate produces a complete answer.
func (p *Provider) Generate(ctx context.Context, prompt, systemPrompt string) (*llm.GenerateResponse, error) {
	body, err := json.Marshal(generateRequest{
		Model:  p.model,
		Prompt: prompt,
		System: systemPrompt,
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	resp, err := p.postWithRetry(ctx, "/api/generate", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama generate returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}

	usage := llm.TokenUsage{
		PromptTokens:     genResp.PromptEvalCount,
		CompletionTokens: genResp.EvalCount,
		TotalTokens:      genResp.PromptEvalCount + genResp.EvalCount,
	}
	if usage.TotalTokens == 0 {
		usage.CompletionTokens = llm.EstimateTokens(genResp.Response)
		usage.PromptTokens = llm.EstimateTokens(prompt)
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return &llm.GenerateResponse{Content: genResp.Response, Usage: usage}, nil
}

// GenerateStream produces an answer incrementally. Ollama streams one
// JSON object per line; the final object carries eval counts.
func (p *Provider) GenerateStream(ctx context.Context, prompt, systemPrompt string) (<-chan llm.Fragment, error) {
	body, err := json.Marshal(generateRequest{
		Model:  p.model,
		Prompt: prompt,
		System: systemPrompt,
		Stream: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Streaming bypasses the client timeout, ctx bounds the call instead.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("ollama generate returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	out := make(chan llm.Fragment)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var completion bytes.Buffer
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}

			var chunk generateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				p.emit(ctx, out, llm.Fragment{Err: fmt.Errorf("decode stream chunk: %w", err)})
				return
			}

			if chunk.Done {
				usage := llm.TokenUsage{
					PromptTokens:     chunk.PromptEvalCount,
					CompletionTokens: chunk.EvalCount,
					TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
				}
				if usage.TotalTokens == 0 {
					usage.PromptTokens = llm.EstimateTokens(prompt)
					usage.CompletionTokens = llm.EstimateTokens(completion.String())
					usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
				}
				p.emit(ctx, out, llm.Fragment{Content: chunk.Response, Done: true, Usage: usage})
				return
			}

			completion.WriteString(chunk.Response)
			if !p.emit(ctx, out, llm.Fragment{Content: chunk.Response}) {
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			p.emit(ctx, out, llm.Fragment{Err: fmt.Errorf("read stream: %w", err)})
		}
	}()

	return out, nil
}

// emit sends a fragment unless ctx is done. Returns false when the
// consumer has gone away.
func (p *Provider) emit(ctx context.Context, out chan<- llm.Fragment, f llm.Fragment) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// postWithRetry posts body to path, retrying transport-level failures
// with linear backoff. HTTP error statuses are not retried.
func (p *Provider) postWithRetry(ctx context.Context, path string, body []byte) (*http.Response, error) {
	var lastErr error
	for i := 0; i <= p.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i < p.maxRetries {
			select {
			case <-time.After(time.Duration(i+1) * 500 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("ollama request failed after %d attempts: %w", p.maxRetries+1, lastErr)
}

// Ping checks whether the Ollama server is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}
