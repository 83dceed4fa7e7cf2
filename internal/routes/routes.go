// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"maus-bus/internal/config"
	"maus-bus/internal/database"
	"maus-bus/internal/handler"
	"maus-bus/internal/middleware"
	"maus-bus/internal/service"
	"maus-bus/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config        *config.Config
	logger        *zap.Logger
	db            *database.DB
	busService    *service.BusService
	driverService *service.DriverService
	wsHandler     *handler.WebSocketHandler
}

// NewRouter creates a new router instance. db is nil when the database is
// disabled.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	busService *service.BusService,
	driverService *service.DriverService,
	wsHandler *handler.WebSocketHandler,
) *Router {
	return &Router{
		config:        config,
		logger:        logger,
		db:            db,
		busService:    busService,
		driverService: driverService,
		wsHandler:     wsHandler,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	r.addMiddleware(router)
	r.addRoutes(router)
	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Debug("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.db, r.config, r.busService, r.driverService, r.logger)
	busHandler := handler.NewBusHandler(r.busService, r.driverService, r.logger)
	driverHandler := handler.NewDriverHandler(r.driverService, r.logger)

	// Health check routes
	healthHandler.RegisterRoutes(&router.RouterGroup)

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	busHandler.RegisterRoutes(apiV1)
	driverHandler.RegisterRoutes(apiV1)

	// WebSocket routes
	if r.wsHandler != nil {
		r.wsHandler.RegisterRoutes(router.Group("/ws"))
	}

	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
