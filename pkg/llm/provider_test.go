package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmopts "github.com/ragdesk/ragdesk/pkg/options/llm"
)

type mockEmbedder struct {
	name string
}

func (m *mockEmbedder) Name() string { return m.name }

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = []float32{0.1, 0.2, 0.3}
	}
	return result, nil
}

func (m *mockEmbedder) EmbedSingle(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type mockChat struct {
	name string
}

func (m *mockChat) Name() string { return m.name }

func (m *mockChat) Generate(_ context.Context, _, _ string) (*GenerateResponse, error) {
	return &GenerateResponse{Content: "mock answer", Usage: TokenUsage{TotalTokens: 10}}, nil
}

func (m *mockChat) GenerateStream(_ context.Context, _, _ string) (<-chan Fragment, error) {
	out := make(chan Fragment, 2)
	out <- Fragment{Content: "mock "}
	out <- Fragment{Done: true, Usage: TokenUsage{TotalTokens: 10}}
	close(out)
	return out, nil
}

func TestRegisterAndNewEmbeddingProvider(t *testing.T) {
	RegisterEmbeddingProvider("test-embed", func(opts *llmopts.ProviderOptions) (EmbeddingProvider, error) {
		return &mockEmbedder{name: opts.Model}, nil
	})

	p, err := NewEmbeddingProvider(&llmopts.ProviderOptions{Provider: "test-embed", Model: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "m1", p.Name())

	vec, err := p.EmbedSingle(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
}

func TestRegisterAndNewChatProvider(t *testing.T) {
	RegisterChatProvider("test-chat", func(opts *llmopts.ProviderOptions) (ChatProvider, error) {
		return &mockChat{name: opts.Model}, nil
	})

	p, err := NewChatProvider(&llmopts.ProviderOptions{Provider: "test-chat", Model: "m2"})
	require.NoError(t, err)

	resp, err := p.Generate(context.Background(), "q", "sys")
	require.NoError(t, err)
	assert.Equal(t, "mock answer", resp.Content)
	assert.Equal(t, int64(10), resp.Usage.TotalTokens)
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewEmbeddingProvider(&llmopts.ProviderOptions{Provider: "nope"})
	assert.Error(t, err)

	_, err = NewChatProvider(&llmopts.ProviderOptions{Provider: "nope"})
	assert.Error(t, err)
}

func TestListProviders(t *testing.T) {
	RegisterEmbeddingProvider("listed", func(opts *llmopts.ProviderOptions) (EmbeddingProvider, error) {
		return &mockEmbedder{}, nil
	})
	assert.Contains(t, ListProviders(), "listed")
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int64
	}{
		{"empty", "", 0},
		{"whitespace only", "   \n\t ", 0},
		{"single word", "hello", 2},
		{"three words", "hello wonderful world", 4},
		{"six words", "the quick brown fox jumps over", 8},
		{"collapsed whitespace", "a  b\n\nc", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.text))
		})
	}
}
