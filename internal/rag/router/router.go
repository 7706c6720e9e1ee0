// Package router wires the RAG HTTP routes.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	"github.com/kart-io/version"

	"github.com/ragdesk/ragdesk/internal/rag/handler"
)

// HealthFunc reports component health, keyed by component name. A nil
// error value means healthy.
type HealthFunc func() map[string]error

// Register registers all RAG routes on the engine.
func Register(engine *gin.Engine, h *handler.Handler, health HealthFunc) {
	engine.GET("/healthz", healthz(health))
	engine.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, version.Get())
	})
	engine.GET("/metrics", h.Metrics)

	rag := engine.Group("/api/v1/rag")
	{
		rag.POST("/query", h.Query)
		rag.POST("/query/stream", h.QueryStream)
		rag.GET("/stats", h.Stats)

		documents := rag.Group("/documents")
		{
			documents.POST("", h.IndexDocument)
			documents.DELETE("/:document_id", h.DeleteDocument)
		}

		rag.DELETE("/workspaces/:workspace_id", h.DeleteWorkspace)

		quota := rag.Group("/quota")
		{
			quota.GET("/ratelimit/:workspace_id", h.RateLimitStatus)
			quota.GET("/budget/:workspace_id", h.BudgetStatus)
			quota.POST("/budget/:workspace_id/reset", h.BudgetReset)
		}

		rag.POST("/cache/invalidate", h.CacheInvalidate)
	}

	logger.Info("HTTP routes registered")
}

func healthz(health HealthFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		components := make(map[string]string)
		if health != nil {
			for name, err := range health() {
				if err != nil {
					// Degraded components are reported but do not fail
					// the probe, the query path degrades gracefully.
					components[name] = err.Error()
					continue
				}
				components[name] = "ok"
			}
		}
		c.JSON(status, gin.H{"status": "ok", "components": components})
	}
}
