package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"llamachat/internal/ai"
	"llamachat/internal/chat"
)

type Handler struct {
	Svc  *chat.Service
	Wire *ai.Client
	Log  *zap.Logger
}

func NewHandler(svc *chat.Service, wire *ai.Client, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Svc: svc, Wire: wire, Log: log}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}
