package handlers

import (
	"smartfilterpro/internal/logger"
	"smartfilterpro/internal/metrics"
	"smartfilterpro/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires the HTTP layer to services, metrics and logging.
type Handler struct {
	services *service.Service
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, m *metrics.Metrics, log *logger.Logger) *Handler {
	return &Handler{services: services, metrics: m, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health and scrape endpoints
	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	// Auth endpoints
	h.registerAuthRoutes(router)

	// Versioned API endpoints (protected)
	h.registerAPIRoutes(router)

	// Live state + cycle stream (HTTP upgrade on the same port)
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdMiddleware)
	{
		h.registerHvacRoutes(api)
		h.registerCycleRoutes(api)
		h.registerFilterRoutes(api)
		h.registerTelemetryRoutes(api)
	}
}

func (h *Handler) registerHvacRoutes(api *gin.RouterGroup) {
	hvac := api.Group("/hvac")
	{
		hvac.GET("/state", h.getState)
	}
}

func (h *Handler) registerCycleRoutes(api *gin.RouterGroup) {
	cycles := api.Group("/cycles")
	{
		cycles.GET("/", h.getCycles)
	}
}

func (h *Handler) registerFilterRoutes(api *gin.RouterGroup) {
	filter := api.Group("/filter")
	{
		filter.GET("/status", h.getFilterStatus)
		filter.POST("/reset", h.resetFilter)
	}
}

func (h *Handler) registerTelemetryRoutes(api *gin.RouterGroup) {
	telemetry := api.Group("/telemetry")
	{
		telemetry.POST("/send-now", h.sendNow)
	}
}
