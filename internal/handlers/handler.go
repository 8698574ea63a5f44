package handlers

import (
	"net/http"

	"parking_barrier/internal/logger"
	"parking_barrier/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger

	// rtdb is the in-process remote store endpoint, mounted only in simulator mode.
	rtdb http.Handler
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: logger.OrNop(log).Named("http")}
}

// WithRemoteStore exposes store on GET /rtdb.
func (h *Handler) WithRemoteStore(store http.Handler) *Handler {
	h.rtdb = store
	return h
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", h.health)

	h.registerAuthRoutes(router)
	h.registerAPIRoutes(router)

	// status and barrier events, same port
	router.GET("/ws", h.wsConnect)

	if h.rtdb != nil {
		router.GET("/rtdb", gin.WrapH(h.rtdb))
	}

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
		api.GET("/parking/status", h.getParkingStatus)

		barrier := api.Group("/barrier")
		{
			barrier.POST("/open", h.openBarrier)
			barrier.GET("/state", h.getBarrierState)
		}

		api.GET("/history", h.getHistory)
		api.POST("/auth/change-password", h.changePassword)
	}
}
