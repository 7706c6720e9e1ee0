package biz

import (
	"context"
	"time"

	"github.com/kart-io/logger"

	"github.com/ragdesk/ragdesk/internal/model"
	apperrors "github.com/ragdesk/ragdesk/pkg/errors"
	"github.com/ragdesk/ragdesk/pkg/llm"
)

// Stream answers one query incrementally. Admission and retrieval run
// before the first chunk so their failures surface as plain errors;
// generation failures after that arrive as an error chunk on the
// returned channel. The channel is closed when the stream ends.
//
// Tokens consumed by an aborted stream are still accounted, estimated
// from the prompt and the fragments delivered before the abort.
func (s *Service) Stream(ctx context.Context, req *model.QueryRequest) (<-chan model.StreamChunk, error) {
	started := time.Now()
	normalized := req.WithDefaults()
	req = &normalized

	if err := s.validate(req); err != nil {
		return nil, err
	}
	if err := s.admit(ctx, req); err != nil {
		return nil, err
	}

	chunks, fromCache, err := s.retrieve(ctx, req)
	if err != nil {
		s.metrics.RecordQuery(false, err)
		return nil, err
	}

	genStarted := time.Now()
	fragments, cancelGen, err := s.generator.GenerateStream(ctx, req, chunks)
	if err != nil {
		wrapped := apperrors.ErrGenerationFailed.WithCause(err)
		s.metrics.RecordLLMCall(time.Since(genStarted), 0, 0, err)
		s.metrics.RecordQuery(false, wrapped)
		return nil, wrapped
	}

	out := make(chan model.StreamChunk, s.opts.StreamBuffer)
	s.metrics.RecordStreamStart()

	go s.pumpStream(ctx, req, chunks, fromCache, fragments, cancelGen, out, started, genStarted)
	return out, nil
}

// pumpStream forwards generation fragments as answer chunks and
// finishes with sources and an end summary. It owns out and cancelGen.
func (s *Service) pumpStream(
	ctx context.Context,
	req *model.QueryRequest,
	chunks []model.RetrievedChunk,
	fromCache bool,
	fragments <-chan llm.Fragment,
	cancelGen context.CancelFunc,
	out chan<- model.StreamChunk,
	started, genStarted time.Time,
) {
	defer close(out)
	defer cancelGen()

	var answer []byte
	var usage llm.TokenUsage
	aborted := false

	emit := func(c model.StreamChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	finishAborted := func() {
		aborted = true
		cancelGen()
		// Drain so the producer goroutine can exit.
		for range fragments {
		}
	}

	if !emit(model.StreamChunk{Type: model.StreamChunkStart}) {
		finishAborted()
		s.settleStream(req, chunks, fromCache, string(answer), usage, genStarted, aborted, nil)
		return
	}

	var genErr error
	for fragment := range fragments {
		if fragment.Err != nil {
			genErr = fragment.Err
			break
		}
		if fragment.Content != "" {
			answer = append(answer, fragment.Content...)
			if !emit(model.StreamChunk{Type: model.StreamChunkAnswer, Content: fragment.Content}) {
				finishAborted()
				s.settleStream(req, chunks, fromCache, string(answer), usage, genStarted, aborted, nil)
				return
			}
		}
		if fragment.Done {
			usage = fragment.Usage
		}
	}

	if genErr != nil {
		wrapped := apperrors.ErrGenerationFailed.WithCause(genErr)
		emit(model.StreamChunk{Type: model.StreamChunkError, Error: &model.StreamError{
			Code:    wrapped.Code,
			Message: wrapped.Message,
		}})
		s.settleStream(req, chunks, fromCache, string(answer), usage, genStarted, aborted, genErr)
		return
	}

	if !emit(model.StreamChunk{Type: model.StreamChunkSources, Sources: sourcesFromChunks(chunks)}) {
		finishAborted()
		s.settleStream(req, chunks, fromCache, string(answer), usage, genStarted, aborted, nil)
		return
	}

	tokens := s.settleStream(req, chunks, fromCache, string(answer), usage, genStarted, aborted, nil)
	emit(model.StreamChunk{Type: model.StreamChunkEnd, End: &model.StreamEnd{
		TokensUsed:      tokens,
		ResponseTimeMs:  time.Since(started).Milliseconds(),
		ConfidenceScore: confidenceFor(chunks),
		ModelUsed:       s.generator.ModelName(),
	}})
}

// settleStream records metrics and token accounting for a finished or
// aborted stream and returns the accounted token total.
func (s *Service) settleStream(
	req *model.QueryRequest,
	chunks []model.RetrievedChunk,
	fromCache bool,
	answer string,
	usage llm.TokenUsage,
	genStarted time.Time,
	aborted bool,
	genErr error,
) int64 {
	tokens := usage.TotalTokens
	if tokens == 0 && answer != "" {
		// The provider never reported usage, estimate what was consumed
		// before the stream ended.
		prompt := s.generator.buildPrompt(req.Query, req.ResponseStyle, chunks)
		tokens = llm.EstimateTokens(prompt) + llm.EstimateTokens(answer)
	}

	if aborted {
		s.metrics.RecordStreamAbort()
		logger.Infow("stream aborted by client",
			"workspace_id", req.WorkspaceID,
			"tokens_accounted", tokens,
		)
	}

	if genErr != nil {
		s.metrics.RecordLLMCall(time.Since(genStarted), 0, 0, genErr)
		s.metrics.RecordQuery(false, genErr)
	} else {
		s.metrics.RecordLLMCall(time.Since(genStarted), usage.PromptTokens, usage.CompletionTokens, nil)
		s.metrics.RecordQuery(fromCache, nil)
	}

	s.accountTokens(req.WorkspaceID, tokens)
	return tokens
}
