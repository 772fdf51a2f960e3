package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat/internal/auth"
	"github.com/vovakirdan/jobchat/internal/config"
	"github.com/vovakirdan/jobchat/internal/objstore"
	"github.com/vovakirdan/jobchat/internal/push"
	"github.com/vovakirdan/jobchat/internal/store"
)

// Deps are the services the API is served from.
type Deps struct {
	Auth   *auth.Service
	Store  store.Store
	Broker push.Broker
	Bucket objstore.Bucket
}

// NewServer builds the HTTP server for the jobchat API.
func NewServer(cfg *config.Config, deps Deps, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(cfg, deps, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers every route on a fresh gin engine.
func NewRouter(cfg *config.Config, deps Deps, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), LoggerMiddleware(logger))

	r.GET("/health", healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if local, ok := deps.Bucket.(*objstore.Local); ok {
		r.Static("/objects", local.Root())
	}

	apiHandlers := NewAPIHandlers(deps.Auth, logger)
	jobHandlers := NewJobHandlers(deps.Store, logger)
	messageHandlers := NewMessageHandlers(deps.Store, deps.Broker, deps.Bucket, cfg.MaxUploadBytes, logger)
	liveHandler := NewLiveHandler(deps.Broker, deps.Bucket, logger)
	limiter := newLimiterPool(cfg.SendRatePerSecond, cfg.SendBurst)

	r.POST("/api/register", apiHandlers.Register)
	r.POST("/api/login", apiHandlers.Login)

	api := r.Group("/api", AuthMiddleware(deps.Auth, logger))
	api.GET("/me", apiHandlers.Me)
	api.POST("/jobs", jobHandlers.CreateJob)
	api.GET("/jobs", jobHandlers.ListJobs)

	job := api.Group("/jobs/:id", jobHandlers.RequireParticipant)
	job.GET("", jobHandlers.GetJob)
	job.POST("/accept", jobHandlers.AcceptJob)
	job.GET("/messages", messageHandlers.ListMessages)
	job.POST("/messages", RateLimitMiddleware(limiter, "messages", logger), messageHandlers.CreateMessage)
	job.POST("/attachments", RateLimitMiddleware(limiter, "attachments", logger), messageHandlers.Upload)
	job.GET("/live", liveHandler.Serve)

	return r
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
