package router

import (
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"presence-service/internal/handler"
	"presence-service/internal/metrics"
	"presence-service/internal/middleware"
	"presence-service/internal/service"
)

// Config holds everything the router needs
type Config struct {
	DB              *gorm.DB
	Redis           *redis.Client // optional
	Logger          *zap.Logger
	JWTSecret       string
	BasePath        string
	CORSOrigins     []string
	Metrics         *metrics.Metrics
	Gatherer        prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	PresenceService service.PresenceService
	Hub             handler.LiveSubscriber
}

// Setup sets up the router with all routes and middleware
func Setup(cfg Config) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	presenceHandler := handler.NewPresenceHandler(cfg.PresenceService, cfg.Logger)
	wsHandler := handler.NewWSHandler(cfg.Hub, cfg.Logger)
	healthHandler := handler.NewHealthHandler(cfg.DB, cfg.Redis)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	metricsHandler := gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Health and metrics (no auth)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	r.GET("/metrics", metricsHandler)

	api := r.Group(cfg.BasePath)
	{
		if cfg.BasePath != "" && cfg.BasePath != "/" {
			api.GET("/health", healthHandler.Health)
			api.GET("/ready", healthHandler.Ready)
		}

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(cfg.JWTSecret))
		{
			authenticated.POST("/presence", presenceHandler.SetPresence)
			authenticated.POST("/presence/offline", presenceHandler.Leave)
			authenticated.GET("/presence/organizations/:organizationId", presenceHandler.GetOrganizationPresence)
			authenticated.GET("/ws/presence/:organizationId", wsHandler.StreamOrganizationPresence)
			authenticated.GET("/presence/users/:userId", presenceHandler.GetUserPresence)
		}
	}

	return r
}
