package app

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/chatrelay/server/internal/adapter/outbound/aiprovider"
	"github.com/chatrelay/server/internal/adapter/outbound/docstore"
	"github.com/chatrelay/server/internal/adapter/outbound/identity"
	"github.com/chatrelay/server/internal/module/ai"
	aihandler "github.com/chatrelay/server/internal/module/ai/handler"
	"github.com/chatrelay/server/internal/module/billing/quota"
	"github.com/chatrelay/server/internal/module/thread"
	"github.com/chatrelay/server/internal/module/user"
	"github.com/chatrelay/server/internal/shared/config"
	"github.com/chatrelay/server/internal/shared/logger"
	"github.com/chatrelay/server/internal/utils/metrics"
	"github.com/chatrelay/server/internal/utils/middleware"
)

// App wires the generation gateway together.
type App struct {
	config *config.Config
	logger *zap.Logger
	redis  redis.UniversalClient
	router *gin.Engine

	metrics *metrics.Metrics

	store    *docstore.Client
	verifier *identity.Verifier
	registry *aiprovider.Registry

	chatHandler   *aihandler.ChatHandler
	threadHandler *thread.Handler
	userHandler   *user.Handler
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &App{
		config:  cfg,
		logger:  log,
		metrics: metrics.New("chatrelay"),
	}

	// Redis is optional; without it the plan and token caches degrade
	// to direct lookups.
	if cfg.Redis.Address != "" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	if err := app.initModules(); err != nil {
		return nil, fmt.Errorf("init modules: %w", err)
	}

	app.router = app.setupRouter()

	return app, nil
}

// initModules builds the adapters and module services.
func (a *App) initModules() error {
	store, err := docstore.New(&a.config.Store, nil, a.logger)
	if err != nil {
		return fmt.Errorf("create document store client: %w", err)
	}
	a.store = store

	a.verifier = identity.NewVerifier(&identity.Config{
		Endpoint:  a.config.Store.Endpoint,
		ProjectID: a.config.Store.ProjectID,
		JWTSecret: a.config.Auth.JWTSecret,
	}, nil, a.redis, a.logger)

	providerClient := &http.Client{Timeout: a.config.Providers.RequestTimeout}
	a.registry = aiprovider.NewDefaultRegistry(&a.config.Providers, providerClient, a.logger)

	pricing := docstore.NewPricingStore(store, a.redis, a.logger)
	ledger := quota.NewLedger(store, pricing, a.logger)
	credentials := ai.NewCredentialResolver(store, a.logger)

	threadService := thread.NewService(store, a.logger)
	a.threadHandler = thread.NewHandler(threadService)

	userService := user.NewService(store, a.logger)
	a.userHandler = user.NewHandler(userService)

	aiService := ai.NewService(ledger, credentials, a.registry, threadService, a.logger)
	a.chatHandler = aihandler.NewChatHandler(aiService, ai.NewRelay(a.logger), a.logger)

	return nil
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.BodyLimit(a.config.Server.MaxBodyBytes))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	api := r.Group("/api/v1")
	api.Use(middleware.RequireAuth(a.verifier))
	{
		a.chatHandler.RegisterRoutes(api)
		a.threadHandler.RegisterRoutes(api)
		a.userHandler.RegisterRoutes(api)
	}

	return r
}

// Router returns the configured HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases application resources.
func (a *App) Stop() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
