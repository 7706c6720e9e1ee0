package biz

import (
	"context"

	"github.com/kart-io/logger"

	"github.com/ragdesk/ragdesk/internal/model"
	apperrors "github.com/ragdesk/ragdesk/pkg/errors"
)

// IndexDocument ingests one document and drops the workspace's cached
// results, which may cite replaced content.
func (s *Service) IndexDocument(ctx context.Context, req *model.IndexRequest) (*model.IndexResult, error) {
	result, err := s.indexer.Index(ctx, req)
	s.metrics.RecordIndexing(1, chunkCount(result), err)
	if err != nil {
		return nil, err
	}

	if _, err := s.cache.InvalidateWorkspace(ctx, req.WorkspaceID); err != nil {
		logger.Warnw("cache invalidation after indexing failed",
			"workspace_id", req.WorkspaceID,
			"error", err.Error(),
		)
	}
	return result, nil
}

// DeleteDocument removes one document's chunks and the workspace's
// cached results.
func (s *Service) DeleteDocument(ctx context.Context, workspaceID, documentID string) error {
	if workspaceID == "" || documentID == "" {
		return apperrors.ErrInvalidParam.WithMessage("workspace_id and document_id are required")
	}

	if err := s.store.DeleteDocument(ctx, workspaceID, documentID); err != nil {
		return apperrors.ErrVectorStoreUnavailable.WithCause(err)
	}
	if _, err := s.cache.InvalidateWorkspace(ctx, workspaceID); err != nil {
		logger.Warnw("cache invalidation after delete failed",
			"workspace_id", workspaceID,
			"error", err.Error(),
		)
	}

	logger.Infow("document deleted", "workspace_id", workspaceID, "document_id", documentID)
	return nil
}

// DeleteWorkspace removes every chunk and cached result of a
// workspace.
func (s *Service) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	if workspaceID == "" {
		return apperrors.ErrInvalidParam.WithMessage("workspace_id is required")
	}

	if err := s.store.DeleteWorkspace(ctx, workspaceID); err != nil {
		return apperrors.ErrVectorStoreUnavailable.WithCause(err)
	}
	if _, err := s.cache.InvalidateWorkspace(ctx, workspaceID); err != nil {
		logger.Warnw("cache invalidation after workspace delete failed",
			"workspace_id", workspaceID,
			"error", err.Error(),
		)
	}

	logger.Infow("workspace purged", "workspace_id", workspaceID)
	return nil
}

// Stats reports corpus and cache statistics.
func (s *Service) Stats(ctx context.Context) (map[string]any, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return nil, apperrors.ErrVectorStoreUnavailable.WithCause(err)
	}

	cacheStats, err := s.cache.Stats(ctx)
	if err != nil {
		cacheStats = map[string]any{"enabled": true, "error": err.Error()}
	}

	return map[string]any{
		"chunk_count": count,
		"cache":       cacheStats,
		"metrics":     s.metrics.Snapshot(),
	}, nil
}

func chunkCount(result *model.IndexResult) int {
	if result == nil {
		return 0
	}
	return result.ChunkCount
}
