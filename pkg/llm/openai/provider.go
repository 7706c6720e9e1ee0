// Package openai provides the OpenAI LLM provider implementation.
// It also works against OpenAI-compatible endpoints (Azure OpenAI,
// LocalAI, vLLM) by overriding the base URL.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ragdesk/ragdesk/pkg/llm"
	llmopts "github.com/ragdesk/ragdesk/pkg/options/llm"
	"github.com/ragdesk/ragdesk/pkg/utils/json"
)

// ProviderName identifies this provider in the registry.
const ProviderName = "openai"

func init() {
	llm.RegisterEmbeddingProvider(ProviderName, func(opts *llmopts.ProviderOptions) (llm.EmbeddingProvider, error) {
		return New(opts)
	})
	llm.RegisterChatProvider(ProviderName, func(opts *llmopts.ProviderOptions) (llm.ChatProvider, error) {
		return New(opts)
	})
}

// Provider implements embedding and generation against the OpenAI API.
type Provider struct {
	baseURL      string
	apiKey       string
	model        string
	organization string
	maxRetries   int
	httpClient   *http.Client
}

// New creates an OpenAI provider from options.
func New(opts *llmopts.ProviderOptions) (*Provider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("openai model is required")
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &Provider{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       opts.APIKey,
		model:        opts.Model,
		organization: opts.Organization,
		maxRetries:   opts.MaxRetries,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return ProviderName
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates embeddings for multiple texts.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	resp, err := p.postWithRetry(ctx, "/embeddings", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.apiError(resp)
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, fmt.Errorf("embeddings response index %d out of range", d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}

// EmbedSingle generates an embedding for one text.
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("openai returned no embeddings")
	}
	return embeddings[0], nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type usagePayload struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage usagePayload `json:"usage"`
}

func buildMessages(prompt, systemPrompt string) []chatMessage {
	var messages []chatMessage
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	return append(messages, chatMessage{Role: "user", Content: prompt})
}

// Generate produces a complete answer.
func (p *Provider) Generate(ctx context.Context, prompt, systemPrompt string) (*llm.GenerateResponse, error) {
	body, err := json.Marshal(chatRequest{
		Model:    p.model,
		Messages: buildMessages(prompt, systemPrompt),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := p.postWithRetry(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.apiError(resp)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &llm.GenerateResponse{
		Content: chatResp.Choices[0].Message.Content,
		Usage: llm.TokenUsage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}, nil
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`
}

// GenerateStream produces an answer incrementally via server-sent
// events. Usage is requested on the final chunk; if the server omits
// it, the completion is estimated from the accumulated text.
func (p *Provider) GenerateStream(ctx context.Context, prompt, systemPrompt string) (<-chan llm.Fragment, error) {
	body, err := json.Marshal(chatRequest{
		Model:         p.model,
		Messages:      buildMessages(prompt, systemPrompt),
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(req)

	// Streaming bypasses the client timeout, ctx bounds the call instead.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, p.apiError(resp)
	}

	out := make(chan llm.Fragment)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var completion bytes.Buffer
		var usage *usagePayload

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}

			var chunk chatStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				p.emit(ctx, out, llm.Fragment{Err: fmt.Errorf("decode stream chunk: %w", err)})
				return
			}

			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if content := chunk.Choices[0].Delta.Content; content != "" {
				completion.WriteString(content)
				if !p.emit(ctx, out, llm.Fragment{Content: content}) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			p.emit(ctx, out, llm.Fragment{Err: fmt.Errorf("read stream: %w", err)})
			return
		}

		final := llm.Fragment{Done: true}
		if usage != nil {
			final.Usage = llm.TokenUsage{
				PromptTokens:     usage.PromptTokens,
				CompletionTokens: usage.CompletionTokens,
				TotalTokens:      usage.TotalTokens,
			}
		} else {
			final.Usage.PromptTokens = llm.EstimateTokens(prompt)
			final.Usage.CompletionTokens = llm.EstimateTokens(completion.String())
			final.Usage.TotalTokens = final.Usage.PromptTokens + final.Usage.CompletionTokens
		}
		p.emit(ctx, out, final)
	}()

	return out, nil
}

func (p *Provider) emit(ctx context.Context, out chan<- llm.Fragment, f llm.Fragment) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if p.organization != "" {
		req.Header.Set("OpenAI-Organization", p.organization)
	}
}

func (p *Provider) postWithRetry(ctx context.Context, path string, body []byte) (*http.Response, error) {
	var lastErr error
	for i := 0; i <= p.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		p.setHeaders(req)

		resp, err := p.httpClient.Do(req)
		if err == nil {
			// Retry rate limited and transient server errors.
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				bodyBytes, _ := io.ReadAll(resp.Body)
				_ = resp.Body.Close()
				lastErr = fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(bodyBytes))
			} else {
				return resp, nil
			}
		} else {
			lastErr = err
		}

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
	return nil, fmt.Errorf("openai request failed after %d attempts: %w", p.maxRetries+1, lastErr)
}

func (p *Provider) apiError(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("openai returned status %d: %s", resp.StatusCode, string(bodyBytes))
}
