package model

import "time"

// IndexRequest asks for a document to be chunked, embedded and stored
// for a workspace.
type IndexRequest struct {
	WorkspaceID string            `json:"workspace_id" binding:"required,workspaceid"`
	DocumentID  string            `json:"document_id,omitempty"`
	Title       string            `json:"title,omitempty"`
	Text        string            `json:"text" binding:"required"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IndexResult reports the outcome of an indexing call.
type IndexResult struct {
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
}

// Chunk is a stored slice of a source document.
type Chunk struct {
	ChunkID     string    `json:"chunk_id"`
	DocumentID  string    `json:"document_id"`
	WorkspaceID string    `json:"workspace_id"`
	ChunkIndex  int       `json:"chunk_index"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}
