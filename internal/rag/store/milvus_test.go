package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragdesk/ragdesk/internal/model"
	ragopts "github.com/ragdesk/ragdesk/pkg/options/rag"
)

func TestQuoteExpr(t *testing.T) {
	assert.Equal(t, `"ws_123"`, quoteExpr("ws_123"))
	assert.Equal(t, `"a\"b"`, quoteExpr(`a"b`))
	assert.Equal(t, `"a\\b"`, quoteExpr(`a\b`))
}

func TestMilvusStoreInsertValidation(t *testing.T) {
	s := NewMilvusStore(nil, ragopts.NewOptions())

	// Empty insert is a no-op.
	require.NoError(t, s.Insert(context.Background(), nil))

	err := s.Insert(context.Background(), []EmbeddedChunk{
		{
			Chunk:     model.Chunk{ChunkID: "c1", WorkspaceID: "ws1"},
			Embedding: []float32{0.1, 0.2},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}
