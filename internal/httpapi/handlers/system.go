package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"llamachat/internal/ai"
)

func (h *Handler) ListModels(c *gin.Context) {
	models, err := h.Wire.ListModels(c.Request.Context())
	if err != nil {
		h.wireFail(c, err, 50003, "failed to list models")
		return
	}
	ok(c, gin.H{"models": models})
}

func (h *Handler) Health(c *gin.Context) {
	health, err := h.Wire.HealthCheck(c.Request.Context())
	if err != nil {
		h.wireFail(c, err, 50004, "health check failed")
		return
	}
	ok(c, health)
}

// wireFail translates the wire error taxonomy into HTTP responses.
func (h *Handler) wireFail(c *gin.Context, err error, code int, msg string) {
	var netErr *ai.NetworkError
	var upErr *ai.UpstreamError
	switch {
	case errors.Is(err, ai.ErrModelNotFound):
		fail(c, http.StatusNotFound, 40005, "model not found")
	case errors.Is(err, ai.ErrMessageTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, 41301, "message too large")
	case errors.As(err, &netErr):
		fail(c, http.StatusBadGateway, 50201, "endpoint unreachable")
	case errors.As(err, &upErr):
		fail(c, http.StatusBadGateway, 50202, upErr.Body)
	default:
		fail(c, http.StatusInternalServerError, code, msg)
	}
}
