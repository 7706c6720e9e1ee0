// Package ragsvc assembles and runs the RAG service.
package ragsvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ragdesk/ragdesk/internal/rag/biz"
	"github.com/ragdesk/ragdesk/internal/rag/budget"
	"github.com/ragdesk/ragdesk/internal/rag/handler"
	"github.com/ragdesk/ragdesk/internal/rag/limiter"
	"github.com/ragdesk/ragdesk/internal/rag/router"
	"github.com/ragdesk/ragdesk/internal/rag/store"
	milvuscomp "github.com/ragdesk/ragdesk/pkg/component/milvus"
	rediscomp "github.com/ragdesk/ragdesk/pkg/component/redis"
	"github.com/ragdesk/ragdesk/pkg/infra/pool"
	"github.com/ragdesk/ragdesk/pkg/llm"
	cacheopts "github.com/ragdesk/ragdesk/pkg/options/cache"
	llmopts "github.com/ragdesk/ragdesk/pkg/options/llm"
	logopts "github.com/ragdesk/ragdesk/pkg/options/logger"
	milvusopts "github.com/ragdesk/ragdesk/pkg/options/milvus"
	quotaopts "github.com/ragdesk/ragdesk/pkg/options/quota"
	ragopts "github.com/ragdesk/ragdesk/pkg/options/rag"
	redisopts "github.com/ragdesk/ragdesk/pkg/options/redis"
	serveropts "github.com/ragdesk/ragdesk/pkg/options/server"

	// Register LLM providers.
	_ "github.com/ragdesk/ragdesk/pkg/llm/ollama"
	_ "github.com/ragdesk/ragdesk/pkg/llm/openai"
)

// Name is the service name.
const Name = "ragdesk"

// Config aggregates every option group the service needs.
type Config struct {
	ServerOptions    *serveropts.Options
	LogOptions       *logopts.Options
	RedisOptions     *redisopts.Options
	MilvusOptions    *milvusopts.Options
	EmbeddingOptions *llmopts.ProviderOptions
	ChatOptions      *llmopts.ProviderOptions
	RAGOptions       *ragopts.Options
	CacheOptions     *cacheopts.Options
	QuotaOptions     *quotaopts.Options
}

// Server is the assembled RAG service.
type Server struct {
	httpServer  *http.Server
	shutdownTO  time.Duration
	accounting  *pool.Pool
	memLimiter  *limiter.MemoryLimiter
	redisClose  func()
	milvusClose func()
}

// NewServer wires the service from its configuration. Redis being
// unreachable is not fatal: the cache stays cold and the limiter and
// budget run on in-process fallbacks.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	if err := cfg.LogOptions.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Infow("starting service", "name", Name, "addr", cfg.ServerOptions.Addr)

	srv := &Server{shutdownTO: cfg.ServerOptions.ShutdownTimeout}

	// Redis backs the result cache, the rate limiter, the budget
	// tracker and the embedding cache.
	var redisClient *goredis.Client
	if redisComp, err := rediscomp.New(ctx, cfg.RedisOptions); err != nil {
		logger.Warnw("redis unavailable, quota enforcement degrades to per-instance",
			"addr", cfg.RedisOptions.Addr(),
			"error", err.Error(),
		)
	} else {
		redisClient = redisComp.Client()
		srv.redisClose = func() { _ = redisComp.Close() }
	}

	milvusClient, err := milvuscomp.New(ctx, cfg.MilvusOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}
	srv.milvusClose = func() { _ = milvusClient.Close(context.Background()) }

	vectorStore := store.NewMilvusStore(milvusClient, cfg.RAGOptions)
	if err := vectorStore.EnsureReady(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare collection: %w", err)
	}
	logger.Infow("vector store ready", "collection", cfg.RAGOptions.Collection)

	embedder, chat, err := cfg.buildProviders(redisClient)
	if err != nil {
		return nil, err
	}

	var rateLimiter limiter.Limiter
	var budgetStore budget.Store
	if redisClient != nil {
		rateLimiter = limiter.NewRedisLimiter(redisClient)
		budgetStore = budget.NewRedisStore(redisClient)
	} else {
		srv.memLimiter = limiter.NewMemoryLimiter()
		rateLimiter = srv.memLimiter
		budgetStore = budget.NewMemoryStore()
	}

	accounting, err := pool.NewPool("accounting", pool.AccountingPool, pool.AccountingPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create accounting pool: %w", err)
	}
	srv.accounting = accounting

	service := biz.NewService(
		limiter.NewChecker(rateLimiter, cfg.QuotaOptions),
		budget.NewTracker(budgetStore, cfg.QuotaOptions),
		biz.NewResultCache(redisClient, cfg.CacheOptions),
		vectorStore,
		embedder,
		chat,
		accounting,
		cfg.RAGOptions,
	)
	logger.Infow("query pipeline initialized",
		"cache.enabled", cfg.CacheOptions.Enabled && redisClient != nil,
		"embedding.provider", embedder.Name(),
		"chat.provider", chat.Name(),
	)

	gin.SetMode(cfg.ServerOptions.Mode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	health := func() map[string]error {
		checks := map[string]error{
			"milvus": milvusClient.Ping(context.Background()),
		}
		if redisClient != nil {
			checks["redis"] = redisClient.Ping(context.Background()).Err()
		} else {
			checks["redis"] = errors.New("not configured")
		}
		return checks
	}
	router.Register(engine, handler.New(service), health)

	srv.httpServer = &http.Server{
		Addr:         cfg.ServerOptions.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.ServerOptions.ReadTimeout,
		WriteTimeout: cfg.ServerOptions.WriteTimeout,
		IdleTimeout:  cfg.ServerOptions.IdleTimeout,
	}

	logger.Info("service ready")
	return srv, nil
}

// buildProviders constructs the embedding and chat providers, wrapping
// the embedder in a Redis read-through cache when available.
func (cfg *Config) buildProviders(redisClient *goredis.Client) (llm.EmbeddingProvider, llm.ChatProvider, error) {
	embedder, err := llm.NewEmbeddingProvider(cfg.EmbeddingOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	if redisClient != nil {
		embedder = llm.NewCachedEmbeddingProvider(embedder, redisClient, llm.DefaultEmbeddingCacheConfig())
	}
	logger.Infow("embedding provider initialized",
		"provider", cfg.EmbeddingOptions.Provider,
		"model", cfg.EmbeddingOptions.Model,
	)

	chat, err := llm.NewChatProvider(cfg.ChatOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	logger.Infow("chat provider initialized",
		"provider", cfg.ChatOptions.Provider,
		"model", cfg.ChatOptions.Model,
	)
	return embedder, chat, nil
}

// Run serves HTTP until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.cleanup()
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTO)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)

	s.cleanup()
	return err
}

// cleanup releases pools and connections. The accounting pool drains
// with a timeout so pending usage writes complete.
func (s *Server) cleanup() {
	if s.accounting != nil {
		if err := s.accounting.ReleaseTimeout(10 * time.Second); err != nil {
			logger.Warnw("accounting pool did not drain cleanly", "error", err.Error())
		}
	}
	if s.memLimiter != nil {
		s.memLimiter.Stop()
	}
	if s.redisClose != nil {
		s.redisClose()
	}
	if s.milvusClose != nil {
		s.milvusClose()
	}
	logger.Info("service stopped")
}
