package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/splitchat/internal/common"
	"github.com/suPer8Hu/splitchat/internal/config"
	"github.com/suPer8Hu/splitchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/splitchat/internal/httpapi/middleware"
)

func NewRouter(cfg config.Config, h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	// CRUD users register
	r.POST("/users", h.CreateUser)
	r.GET("/users/:id", h.GetUserByID)

	// auth
	r.POST("/login", h.Login)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// Chat (JWT required)
	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.POST("/chat/messages", h.SendChatMessage)
	authGroup.GET("/chat/sessions/:session_id/messages", h.ListChatMessages)
	authGroup.POST("/chat/messages/stream", h.SendChatMessageStream)

	// Split view: one prompt, two models
	authGroup.GET("/split/models", h.ListSplitModels)
	sv := authGroup.Group("/split/sessions/:session_id")
	sv.POST("", h.OpenSplitView)
	sv.GET("", h.GetSplitView)
	sv.DELETE("", h.CloseSplitView)
	sv.PUT("/models/:side", h.SetSplitModel)
	sv.PUT("/input", h.SetSplitInput)
	sv.POST("/turns", h.SubmitSplitTurn)
	sv.POST("/cancel/:message_id", h.CancelSplitMessage)
	sv.GET("/events", h.SplitEvents)
	sv.GET("/results", h.ListSplitResults)
	return r
}
