package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/meshgate/internal/client"
	"github.com/NikhilSetiya/meshgate/internal/degrade"
	"github.com/NikhilSetiya/meshgate/internal/monitoring"
	"github.com/NikhilSetiya/meshgate/internal/registry"
	"github.com/NikhilSetiya/meshgate/pkg/config"
	"github.com/NikhilSetiya/meshgate/pkg/health"
	"github.com/NikhilSetiya/meshgate/pkg/logging"
	"github.com/NikhilSetiya/meshgate/pkg/metrics"
	"github.com/NikhilSetiya/meshgate/pkg/tracing"
)

// Deps bundles the components the router exposes
type Deps struct {
	Registry   *registry.Registry
	Client     *client.Client
	Aggregator *monitoring.Aggregator
	Flags      *degrade.FlagSet
	Health     *health.Service
	Metrics    *metrics.Metrics
	Tracing    *tracing.TracingService
	Logger     *logging.Logger
}

// NewRouter creates and configures the API router
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = logging.GetLogger()
	}

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(deps.Logger))
	router.Use(RecoveryMiddleware(deps.Logger, deps.Metrics))
	router.Use(SecurityHeadersMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID", "X-Correlation-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "X-Correlation-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	if deps.Tracing != nil {
		router.Use(deps.Tracing.TracingMiddleware())
	}
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	if deps.Health != nil {
		router.GET("/health", deps.Health.Handler())
		router.GET("/health/live", deps.Health.LivenessHandler())
		router.GET("/health/ready", deps.Health.ReadinessHandler())
	}

	serviceHandler := NewServiceHandler(deps.Registry, deps.Logger)
	dashboardHandler := NewDashboardHandler(deps.Aggregator)
	flagsHandler := NewFlagsHandler(deps.Flags, deps.Logger)
	alertsHandler := NewAlertsHandler(deps.Aggregator)

	v1 := router.Group("/api/v1")
	{
		services := v1.Group("/services")
		{
			services.POST("", serviceHandler.RegisterInstance)
			services.GET("", serviceHandler.ListInstances)
			services.DELETE("/:id", serviceHandler.DeregisterInstance)
		}

		dashboard := v1.Group("/dashboard")
		{
			dashboard.GET("", dashboardHandler.ListDashboards)
			dashboard.GET("/:service", dashboardHandler.GetDashboard)
		}

		flags := v1.Group("/flags")
		{
			flags.GET("", flagsHandler.ListFlags)
			flags.PUT("", flagsHandler.SetFlag)
			flags.DELETE("/:name", flagsHandler.DeleteFlag)
		}

		alerts := v1.Group("/alerts")
		{
			alerts.GET("", alertsHandler.ListAlerts)
			alerts.POST("/:id/ack", alertsHandler.AcknowledgeAlert)
			alerts.POST("/:id/resolve", alertsHandler.ResolveAlert)
		}
	}

	if deps.Client != nil {
		proxyHandler := NewProxyHandler(deps.Client, deps.Logger)
		router.Any("/proxy/:service/*path", proxyHandler.Proxy)
	}

	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	return router
}
