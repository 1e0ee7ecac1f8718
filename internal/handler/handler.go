package handler

import (
	"errors"
	"net/http"

	"researchhub/backend/internal/apperr"
	"researchhub/backend/internal/auth"
	"researchhub/backend/internal/conversation"
	"researchhub/backend/internal/directory"
	"researchhub/backend/internal/hub"
	"researchhub/backend/internal/metrics"
	"researchhub/backend/internal/notify"
	"researchhub/backend/internal/reconcile"
	"researchhub/backend/internal/social"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps are the services the HTTP layer is built on.
type Deps struct {
	Directory     *directory.Directory
	Engine        *social.Engine
	Registry      *social.Registry
	Notifications *notify.Fanout
	Conversations *conversation.Store
	Feed          reconcile.ChangeFeed
	Hub           *hub.Hub
	Metrics       *metrics.Collector
	Logger        *zap.Logger
	JWTSecret     string
}

// Handler serves the REST API used by the web client.
type Handler struct {
	directory     *directory.Directory
	engine        *social.Engine
	registry      *social.Registry
	notifications *notify.Fanout
	conversations *conversation.Store
	feed          reconcile.ChangeFeed
	hub           *hub.Hub
	metrics       *metrics.Collector
	logger        *zap.Logger
	jwtSecret     string
}

// New creates a Handler.
func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := d.Hub
	if h == nil {
		h = hub.NewHub(logger)
	}
	return &Handler{
		directory:     d.Directory,
		engine:        d.Engine,
		registry:      d.Registry,
		notifications: d.Notifications,
		conversations: d.Conversations,
		feed:          d.Feed,
		hub:           h,
		metrics:       d.Metrics,
		logger:        logger,
		jwtSecret:     d.JWTSecret,
	}
}

// ErrorResponse represents a generic error response.
type ErrorResponse struct {
	Error string `json:"error" example:"An error message"`
	Code  string `json:"code,omitempty" example:"DUPLICATE_REQUEST"`
}

// RegisterRoutes mounts every route on router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	// Health check endpoint
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	{
		// Auth routes
		authRoutes := apiV1.Group("/auth")
		{
			authRoutes.POST("/session", h.StartSession)
		}

		// Public directory search; relation flags are filled in when a token is present.
		apiV1.GET("/users", auth.OptionalAuthMiddleware(h.jwtSecret), h.SearchUsers)

		// User routes (protected)
		userRoutes := apiV1.Group("/users")
		userRoutes.Use(auth.AuthMiddleware(h.jwtSecret))
		{
			userRoutes.GET("/me", h.GetMe)
			userRoutes.PUT("/me", h.UpdateMe)
			userRoutes.GET("/me/connections", h.GetConnections)
			userRoutes.GET("/me/requests/incoming", h.GetIncomingRequests)
			userRoutes.GET("/me/requests/outgoing", h.GetOutgoingRequests)
			userRoutes.GET("/:id", h.GetUserByID)
			userRoutes.GET("/:id/connected", h.GetConnected)

			// Connection request routes
			userRoutes.POST("/:id/request", h.SendRequest)
			userRoutes.POST("/:id/accept", h.AcceptRequest)
			userRoutes.POST("/:id/decline", h.DeclineRequest)
			userRoutes.POST("/:id/cancel", h.CancelRequest)
			userRoutes.POST("/:id/remove", h.RemoveConnection)
		}

		notificationRoutes := apiV1.Group("/notifications")
		notificationRoutes.Use(auth.AuthMiddleware(h.jwtSecret))
		{
			notificationRoutes.GET("", h.GetNotifications)
			notificationRoutes.POST("/read", h.MarkAllNotificationsRead)
			notificationRoutes.POST("/:id/read", h.MarkNotificationRead)
			notificationRoutes.DELETE("/:id", h.DeleteNotification)
			notificationRoutes.DELETE("", h.ClearNotifications)
		}

		messageRoutes := apiV1.Group("/messages")
		messageRoutes.Use(auth.AuthMiddleware(h.jwtSecret))
		{
			messageRoutes.GET("", h.GetThreads)
			messageRoutes.GET("/:id", h.GetConversation)
			messageRoutes.POST("/:id", h.SendMessage)
			messageRoutes.POST("/:id/read", h.MarkConversationRead)
		}

		syncRoutes := apiV1.Group("/sync")
		syncRoutes.Use(auth.AuthMiddleware(h.jwtSecret))
		{
			syncRoutes.GET("/stream", h.Stream)
		}
	}
}

// region --- Helpers ---

// viewerID returns the authenticated user. Routes behind AuthMiddleware always have one.
func viewerID(c *gin.Context) string {
	id, _ := auth.UserID(c)
	return id
}

// respondError maps typed service errors onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindStoreUnavailable:
		status = http.StatusServiceUnavailable
	case apperr.KindValidation:
		status = http.StatusBadRequest
	}

	resp := ErrorResponse{Error: err.Error()}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		resp.Error = appErr.Message
		resp.Code = appErr.Code
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, resp)
}

// endregion
