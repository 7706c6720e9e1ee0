package biz

import (
	"context"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/ragdesk/ragdesk/internal/model"
	"github.com/ragdesk/ragdesk/internal/rag/store"
	apperrors "github.com/ragdesk/ragdesk/pkg/errors"
	"github.com/ragdesk/ragdesk/pkg/id"
	"github.com/ragdesk/ragdesk/pkg/llm"
	ragopts "github.com/ragdesk/ragdesk/pkg/options/rag"
)

// Indexer splits documents into chunks, embeds them and writes them to
// the vector store.
type Indexer struct {
	store    store.VectorStore
	embedder llm.EmbeddingProvider
	opts     *ragopts.Options
}

// NewIndexer creates an indexer.
func NewIndexer(vectorStore store.VectorStore, embedder llm.EmbeddingProvider, opts *ragopts.Options) *Indexer {
	return &Indexer{
		store:    vectorStore,
		embedder: embedder,
		opts:     opts,
	}
}

// Index ingests one document. Re-indexing an existing document ID
// replaces its chunks.
func (ix *Indexer) Index(ctx context.Context, req *model.IndexRequest) (*model.IndexResult, error) {
	if req.WorkspaceID == "" {
		return nil, apperrors.ErrInvalidParam.WithMessage("workspace_id is required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperrors.ErrInvalidParam.WithMessage("text must not be empty")
	}

	documentID := req.DocumentID
	if documentID == "" {
		documentID = id.NewULID()
	} else {
		// Replace semantics for an explicit document ID.
		if err := ix.store.DeleteDocument(ctx, req.WorkspaceID, documentID); err != nil {
			return nil, apperrors.ErrIndexingFailed.WithCause(err)
		}
	}

	texts := chunkText(req.Text, ix.opts.ChunkSize, ix.opts.ChunkOverlap)
	embeddings, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, apperrors.ErrEmbeddingFailed.WithCause(err)
	}

	now := time.Now().UTC()
	chunks := make([]store.EmbeddedChunk, len(texts))
	for i, text := range texts {
		chunks[i] = store.EmbeddedChunk{
			Chunk: model.Chunk{
				ChunkID:     id.NewULID(),
				DocumentID:  documentID,
				WorkspaceID: req.WorkspaceID,
				ChunkIndex:  i,
				Text:        text,
				CreatedAt:   now,
			},
			Embedding: embeddings[i],
		}
	}

	if err := ix.store.Insert(ctx, chunks); err != nil {
		return nil, apperrors.ErrIndexingFailed.WithCause(err)
	}

	logger.Infow("document indexed",
		"workspace_id", req.WorkspaceID,
		"document_id", documentID,
		"chunks", len(chunks),
	)
	return &model.IndexResult{
		DocumentID: documentID,
		ChunkCount: len(chunks),
	}, nil
}

// chunkText splits text into overlapping chunks of roughly size
// characters, breaking on word boundaries.
func chunkText(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentLen := 0
	fresh := 0

	flush := func() {
		chunks = append(chunks, strings.Join(current, " "))

		// Carry trailing words into the next chunk for overlap.
		carried := 0
		var next []string
		for i := len(current) - 1; i >= 0 && carried < overlap; i-- {
			carried += len(current[i]) + 1
			next = append([]string{current[i]}, next...)
		}
		current = next
		currentLen = carried
		fresh = 0
	}

	for _, word := range words {
		if currentLen+len(word)+1 > size && fresh > 0 {
			flush()
		}
		current = append(current, word)
		currentLen += len(word) + 1
		fresh++
	}
	if fresh > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}
