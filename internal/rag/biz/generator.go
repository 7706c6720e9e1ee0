package biz

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/logger"

	"github.com/ragdesk/ragdesk/internal/model"
	"github.com/ragdesk/ragdesk/pkg/llm"
	ragopts "github.com/ragdesk/ragdesk/pkg/options/rag"
)

// Similarity above which an answer counts as well supported.
const highConfidenceThreshold = 0.8

// Generator assembles the prompt from retrieved chunks and calls the
// chat provider.
type Generator struct {
	chat llm.ChatProvider
	opts *ragopts.Options
}

// NewGenerator creates a generator.
func NewGenerator(chat llm.ChatProvider, opts *ragopts.Options) *Generator {
	return &Generator{chat: chat, opts: opts}
}

// buildPrompt renders the system prompt template. Chunks are tagged
// with [n] markers matching their position in the sources list so the
// model can cite them.
func (g *Generator) buildPrompt(query string, style model.ResponseStyle, chunks []model.RetrievedChunk) string {
	var contextText string
	if len(chunks) == 0 {
		contextText = g.opts.FallbackContext
	} else {
		var sb strings.Builder
		for i, c := range chunks {
			fmt.Fprintf(&sb, "[%d] (document %s)\n%s\n\n", i+1, c.DocumentID, c.Text)
		}
		contextText = sb.String()
	}

	prompt := strings.ReplaceAll(g.opts.SystemPrompt, "{{context}}", contextText)
	prompt = strings.ReplaceAll(prompt, "{{question}}", query)

	if directive := styleDirective(style); directive != "" {
		prompt = directive + "\n\n" + prompt
	}
	return prompt
}

func styleDirective(style model.ResponseStyle) string {
	switch style {
	case model.ResponseStyleConcise:
		return "Keep the answer short, two or three sentences at most."
	case model.ResponseStyleDetailed:
		return "Give a thorough answer with step by step detail where it helps."
	default:
		return ""
	}
}

// Generate produces a complete answer for the query.
func (g *Generator) Generate(ctx context.Context, req *model.QueryRequest, chunks []model.RetrievedChunk) (*llm.GenerateResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.GenerationTimeout)
	defer cancel()

	prompt := g.buildPrompt(req.Query, req.ResponseStyle, chunks)
	resp, err := g.chat.Generate(ctx, prompt, "")
	if err != nil {
		logger.Errorw("generation failed",
			"workspace_id", req.WorkspaceID,
			"provider", g.chat.Name(),
			"error", err.Error(),
		)
		return nil, err
	}
	return resp, nil
}

// GenerateStream produces the answer incrementally. The caller owns
// cancel and must invoke it once the stream is drained or abandoned.
func (g *Generator) GenerateStream(ctx context.Context, req *model.QueryRequest, chunks []model.RetrievedChunk) (<-chan llm.Fragment, context.CancelFunc, error) {
	genCtx, cancel := context.WithTimeout(ctx, g.opts.GenerationTimeout)

	prompt := g.buildPrompt(req.Query, req.ResponseStyle, chunks)
	fragments, err := g.chat.GenerateStream(genCtx, prompt, "")
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return fragments, cancel, nil
}

// ModelName reports the backing provider name.
func (g *Generator) ModelName() string {
	return g.chat.Name()
}

// confidenceFor grades answer support from the retrieved similarities.
func confidenceFor(chunks []model.RetrievedChunk) model.Confidence {
	if len(chunks) == 0 {
		return model.ConfidenceLow
	}
	best := chunks[0].SimilarityScore
	for _, c := range chunks[1:] {
		if c.SimilarityScore > best {
			best = c.SimilarityScore
		}
	}
	if best >= highConfidenceThreshold {
		return model.ConfidenceHigh
	}
	return model.ConfidenceMedium
}
