// Package store provides the workspace-scoped vector store used for
// chunk retrieval.
package store

import (
	"context"

	"github.com/ragdesk/ragdesk/internal/model"
)

// EmbeddedChunk pairs a chunk with its embedding for insertion.
type EmbeddedChunk struct {
	Chunk     model.Chunk
	Embedding []float32
}

// VectorStore defines chunk storage and similarity search. Every
// operation is scoped by workspace, results never cross tenants.
type VectorStore interface {
	// EnsureReady creates the backing collection if needed.
	EnsureReady(ctx context.Context) error

	// Insert stores embedded chunks.
	Insert(ctx context.Context, chunks []EmbeddedChunk) error

	// Search returns up to topK chunks for the workspace ordered by
	// descending similarity. When documentIDs is non-empty, results are
	// restricted to those documents.
	Search(ctx context.Context, workspaceID string, vector []float32, topK int, documentIDs []string) ([]model.RetrievedChunk, error)

	// DeleteDocument removes all chunks of one document in a workspace.
	DeleteDocument(ctx context.Context, workspaceID, documentID string) error

	// DeleteWorkspace removes all chunks of a workspace.
	DeleteWorkspace(ctx context.Context, workspaceID string) error

	// Count returns the total number of stored chunks.
	Count(ctx context.Context) (int64, error)

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}
