package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"llamachat/internal/ai"
	"llamachat/internal/chat"
	"llamachat/internal/httpapi/handlers"
)

func NewRouter(svc *chat.Service, wire *ai.Client, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(accessLog(log))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "route not found", "data": nil})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"code": 40500, "message": "method not allowed", "data": nil})
	})

	h := handlers.NewHandler(svc, wire, log)

	r.GET("/healthz", h.Health)

	api := r.Group("/api")
	api.GET("/models", h.ListModels)
	api.GET("/chats", h.ListChats)
	api.POST("/chats", h.CreateChat)
	api.GET("/chats/:id", h.GetChat)
	api.DELETE("/chats/:id", h.DeleteChat)
	api.PATCH("/chats/:id/title", h.UpdateChatTitle)
	api.PATCH("/chats/:id/settings", h.UpdateChatSettings)
	api.GET("/chats/:id/messages", h.ListMessages)
	api.POST("/chats/:id/turns", h.SendTurn)

	return r
}

func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}
