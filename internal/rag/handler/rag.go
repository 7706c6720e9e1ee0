// Package handler provides the HTTP handlers for the RAG service.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/ragdesk/ragdesk/internal/model"
	"github.com/ragdesk/ragdesk/internal/rag/biz"
	"github.com/ragdesk/ragdesk/internal/rag/metrics"
	apperrors "github.com/ragdesk/ragdesk/pkg/errors"
	"github.com/ragdesk/ragdesk/pkg/utils/json"
)

// TierHeader names the request header carrying the workspace plan
// tier, set by the upstream auth gateway.
const TierHeader = "X-Plan-Tier"

// Handler handles RAG HTTP requests.
type Handler struct {
	service *biz.Service
}

// New creates a Handler.
func New(service *biz.Service) *Handler {
	return &Handler{service: service}
}

// SuccessResponse is the standard success envelope.
type SuccessResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: data})
}

func fail(c *gin.Context, err error) {
	e := apperrors.FromError(err)
	if e.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	c.JSON(e.HTTPStatus(), ErrorResponse{Code: e.Code, Message: e.Message})
}

func bindError(c *gin.Context, err error) {
	e := apperrors.ErrValidationFailed.WithMessage(err.Error())
	c.JSON(e.HTTPStatus(), ErrorResponse{Code: e.Code, Message: e.Message})
}

// decorate fills the transport-derived request fields.
func decorate(c *gin.Context, req *model.QueryRequest) {
	req.ClientIP = c.ClientIP()
	req.Tier = c.GetHeader(TierHeader)
}

// Query answers a blocking RAG query.
func (h *Handler) Query(c *gin.Context) {
	var req model.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	decorate(c, &req)

	result, err := h.service.Query(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

// QueryStream answers a RAG query as NDJSON, one chunk per line.
// Admission failures surface as a regular error response before any
// chunk is written.
func (h *Handler) QueryStream(c *gin.Context) {
	var req model.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	decorate(c, &req)
	req.Stream = true

	stream, err := h.service.Stream(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, _ := c.Writer.(http.Flusher)
	for chunk := range stream {
		line, err := json.Marshal(chunk)
		if err != nil {
			logger.Errorw("failed to marshal stream chunk", "error", err.Error())
			continue
		}
		if _, err := c.Writer.Write(append(line, '\n')); err != nil {
			// Client gone, the service drains and accounts on its own.
			logger.Debugw("stream write failed", "error", err.Error())
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// IndexDocument ingests one document into a workspace corpus.
func (h *Handler) IndexDocument(c *gin.Context) {
	var req model.IndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.service.IndexDocument(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, result)
}

// DeleteDocument removes one document from a workspace corpus.
func (h *Handler) DeleteDocument(c *gin.Context) {
	workspaceID := c.Query("workspace_id")
	documentID := c.Param("document_id")

	if err := h.service.DeleteDocument(c.Request.Context(), workspaceID, documentID); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"document_id": documentID})
}

// DeleteWorkspace purges a workspace corpus.
func (h *Handler) DeleteWorkspace(c *gin.Context) {
	workspaceID := c.Param("workspace_id")

	if err := h.service.DeleteWorkspace(c.Request.Context(), workspaceID); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"workspace_id": workspaceID})
}

// RateLimitStatus reports the workspace rate limit window.
func (h *Handler) RateLimitStatus(c *gin.Context) {
	workspaceID := c.Param("workspace_id")

	checker := h.service.RateLimits()
	decision := checker.Status(c.Request.Context(), workspaceID, c.GetHeader(TierHeader))

	ok(c, model.RateLimitStatus{
		Limit:         decision.Limit,
		Remaining:     decision.Remaining,
		ResetTime:     decision.ResetAt,
		WindowSeconds: int(checker.Window().Seconds()),
	})
}

// BudgetStatus reports the workspace token budget.
func (h *Handler) BudgetStatus(c *gin.Context) {
	workspaceID := c.Param("workspace_id")

	b := h.service.Budget().Check(c.Request.Context(), workspaceID, c.GetHeader(TierHeader))
	ok(c, b)
}

// BudgetReset clears a workspace's token counters.
func (h *Handler) BudgetReset(c *gin.Context) {
	workspaceID := c.Param("workspace_id")

	if err := h.service.Budget().Reset(c.Request.Context(), workspaceID); err != nil {
		fail(c, apperrors.ErrCacheUnavailable.WithCause(err))
		return
	}
	ok(c, gin.H{"workspace_id": workspaceID})
}

// CacheInvalidateRequest scopes a cache invalidation. An empty
// workspace clears everything.
type CacheInvalidateRequest struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
}

// CacheInvalidate removes cached query results.
func (h *Handler) CacheInvalidate(c *gin.Context) {
	var req CacheInvalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	var deleted int
	var err error
	if req.WorkspaceID != "" {
		deleted, err = h.service.Cache().InvalidateWorkspace(c.Request.Context(), req.WorkspaceID)
	} else {
		deleted, err = h.service.Cache().InvalidateAll(c.Request.Context())
	}
	if err != nil {
		fail(c, apperrors.ErrCacheUnavailable.WithCause(err))
		return
	}
	ok(c, gin.H{"deleted": deleted})
}

// Stats reports corpus, cache and service counters.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, stats)
}

// Metrics serves the Prometheus text exposition.
func (h *Handler) Metrics(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; version=0.0.4", []byte(metrics.Get().Export("ragdesk")))
}
