package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/ragdesk/ragdesk/internal/model"
	"github.com/ragdesk/ragdesk/pkg/component/milvus"
	ragopts "github.com/ragdesk/ragdesk/pkg/options/rag"
)

const (
	fieldWorkspaceID = "workspace_id"
	fieldDocumentID  = "document_id"
	fieldChunkID     = "chunk_id"
	fieldChunkIndex  = "chunk_index"
	fieldText        = "text"
)

var outputFields = []string{fieldWorkspaceID, fieldDocumentID, fieldChunkID, fieldChunkIndex, fieldText}

// MilvusStore implements VectorStore on top of a Milvus collection. All
// searches carry a workspace filter so a query can never see another
// tenant's chunks.
type MilvusStore struct {
	client     *milvus.Client
	collection string
	dimension  int
}

var _ VectorStore = (*MilvusStore)(nil)

// NewMilvusStore creates a MilvusStore over an existing client.
func NewMilvusStore(client *milvus.Client, opts *ragopts.Options) *MilvusStore {
	return &MilvusStore{
		client:     client,
		collection: opts.Collection,
		dimension:  opts.EmbeddingDim,
	}
}

// EnsureReady creates the chunk collection if it does not exist.
func (s *MilvusStore) EnsureReady(ctx context.Context) error {
	schema := &milvus.CollectionSchema{
		Name:        s.collection,
		Description: "support document chunks",
		Dimension:   s.dimension,
		MetaFields: []milvus.MetaField{
			{Name: fieldWorkspaceID, DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: fieldDocumentID, DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: fieldChunkID, DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: fieldChunkIndex, DataType: entity.FieldTypeInt64},
			{Name: fieldText, DataType: entity.FieldTypeVarChar, MaxLen: 65535},
		},
	}
	return s.client.EnsureCollection(ctx, schema)
}

// Insert stores embedded chunks.
func (s *MilvusStore) Insert(ctx context.Context, chunks []EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	embeddings := make([][]float32, len(chunks))
	workspaceIDs := make([]any, len(chunks))
	documentIDs := make([]any, len(chunks))
	chunkIDs := make([]any, len(chunks))
	chunkIndexes := make([]any, len(chunks))
	texts := make([]any, len(chunks))

	for i, ec := range chunks {
		if len(ec.Embedding) != s.dimension {
			return fmt.Errorf("chunk %s embedding dimension %d, want %d", ec.Chunk.ChunkID, len(ec.Embedding), s.dimension)
		}
		embeddings[i] = ec.Embedding
		workspaceIDs[i] = ec.Chunk.WorkspaceID
		documentIDs[i] = ec.Chunk.DocumentID
		chunkIDs[i] = ec.Chunk.ChunkID
		chunkIndexes[i] = int64(ec.Chunk.ChunkIndex)
		texts[i] = ec.Chunk.Text
	}

	_, err := s.client.Insert(ctx, s.collection, &milvus.InsertData{
		Embeddings: embeddings,
		Metadata: map[string][]any{
			fieldWorkspaceID: workspaceIDs,
			fieldDocumentID:  documentIDs,
			fieldChunkID:     chunkIDs,
			fieldChunkIndex:  chunkIndexes,
			fieldText:        texts,
		},
	})
	return err
}

// Search returns up to topK chunks of one workspace ordered by
// descending similarity.
func (s *MilvusStore) Search(ctx context.Context, workspaceID string, vector []float32, topK int, documentIDs []string) ([]model.RetrievedChunk, error) {
	filter := fmt.Sprintf("%s == %s", fieldWorkspaceID, quoteExpr(workspaceID))
	if len(documentIDs) > 0 {
		quoted := make([]string, len(documentIDs))
		for i, id := range documentIDs {
			quoted[i] = quoteExpr(id)
		}
		filter += fmt.Sprintf(" and %s in [%s]", fieldDocumentID, strings.Join(quoted, ", "))
	}

	results, err := s.client.Search(ctx, s.collection, vector, topK, filter, outputFields)
	if err != nil {
		return nil, err
	}

	chunks := make([]model.RetrievedChunk, 0, len(results))
	for _, r := range results {
		chunk := model.RetrievedChunk{
			// COSINE scores are already in [-1, 1] with 1 the best match.
			SimilarityScore: float64(r.Score),
		}
		if v, ok := r.Metadata[fieldDocumentID].(string); ok {
			chunk.DocumentID = v
		}
		if v, ok := r.Metadata[fieldChunkID].(string); ok {
			chunk.ChunkID = v
		}
		if v, ok := r.Metadata[fieldChunkIndex].(int64); ok {
			chunk.ChunkIndex = int(v)
		}
		if v, ok := r.Metadata[fieldText].(string); ok {
			chunk.Text = v
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// DeleteDocument removes all chunks of one document in a workspace.
func (s *MilvusStore) DeleteDocument(ctx context.Context, workspaceID, documentID string) error {
	expr := fmt.Sprintf("%s == %s and %s == %s",
		fieldWorkspaceID, quoteExpr(workspaceID),
		fieldDocumentID, quoteExpr(documentID))
	return s.client.DeleteByExpr(ctx, s.collection, expr)
}

// DeleteWorkspace removes all chunks of a workspace.
func (s *MilvusStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	expr := fmt.Sprintf("%s == %s", fieldWorkspaceID, quoteExpr(workspaceID))
	return s.client.DeleteByExpr(ctx, s.collection, expr)
}

// Count returns the total number of stored chunks.
func (s *MilvusStore) Count(ctx context.Context) (int64, error) {
	return s.client.RowCount(ctx, s.collection)
}

// Close closes the underlying client.
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// quoteExpr quotes a string literal for a Milvus boolean expression.
func quoteExpr(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
