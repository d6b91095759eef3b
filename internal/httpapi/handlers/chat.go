package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"llamachat/internal/chat"
)

type createChatReq struct {
	Title string `json:"title" binding:"required"`
	Model string `json:"model"`
}

func (h *Handler) CreateChat(c *gin.Context) {
	var req createChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	created, err := h.Svc.CreateChat(c.Request.Context(), req.Title, req.Model)
	if err != nil {
		fail(c, http.StatusInternalServerError, 50001, "failed to create chat")
		return
	}
	ok(c, gin.H{"chat": created})
}

func (h *Handler) ListChats(c *gin.Context) {
	if err := h.Svc.LoadChats(c.Request.Context()); err != nil {
		fail(c, http.StatusInternalServerError, 50002, "failed to list chats")
		return
	}
	ok(c, gin.H{"chats": h.Svc.Snapshot().Chats})
}

func (h *Handler) GetChat(c *gin.Context) {
	id := c.Param("id")
	if err := h.Svc.LoadChat(c.Request.Context(), id); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			fail(c, http.StatusNotFound, 40004, "chat not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	snap := h.Svc.Snapshot()
	ok(c, gin.H{"chat": snap.Active, "messages": snap.Messages})
}

func (h *Handler) DeleteChat(c *gin.Context) {
	id := c.Param("id")
	if err := h.Svc.DeleteChat(c.Request.Context(), id); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			fail(c, http.StatusNotFound, 40004, "chat not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	ok(c, gin.H{"deleted": id})
}

type updateTitleReq struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) UpdateChatTitle(c *gin.Context) {
	id := c.Param("id")
	var req updateTitleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.Svc.UpdateChatTitle(c.Request.Context(), id, req.Title); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			fail(c, http.StatusNotFound, 40004, "chat not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	ok(c, gin.H{"id": id, "title": req.Title})
}

type updateSettingsReq struct {
	SendFullHistory *bool `json:"send_full_history" binding:"required"`
}

func (h *Handler) UpdateChatSettings(c *gin.Context) {
	id := c.Param("id")
	var req updateSettingsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := h.Svc.UpdateChatSettings(c.Request.Context(), id, *req.SendFullHistory); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			fail(c, http.StatusNotFound, 40004, "chat not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	ok(c, gin.H{"id": id, "send_full_history": *req.SendFullHistory})
}

func (h *Handler) ListMessages(c *gin.Context) {
	id := c.Param("id")
	if err := h.Svc.LoadChat(c.Request.Context(), id); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			fail(c, http.StatusNotFound, 40004, "chat not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}
	ok(c, gin.H{"messages": h.Svc.Snapshot().Messages})
}

type sendTurnReq struct {
	Message string `json:"message" binding:"required"`
	Model   string `json:"model"`
}

// SendTurn relays one generation as SSE: chunk events while the stream is
// live, then a single done (or error) event.
func (h *Handler) SendTurn(c *gin.Context) {
	id := c.Param("id")
	var req sendTurnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ctx := c.Request.Context()
	if err := h.Svc.LoadChat(ctx, id); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			fail(c, http.StatusNotFound, 40004, "chat not found")
			return
		}
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	snap := h.Svc.Snapshot()
	if snap.Generating {
		fail(c, http.StatusConflict, 40901, "generation already in flight")
		return
	}
	switch {
	case req.Model != "":
		h.Svc.SelectModel(req.Model)
	case snap.Active != nil && snap.Active.Model != "":
		h.Svc.SelectModel(snap.Active.Model)
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)
	if !canFlush {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	snaps, cancelSub := h.Svc.Subscribe()
	defer cancelSub()

	turnErr := make(chan error, 1)
	go func() { turnErr <- h.Svc.SendTurn(ctx, req.Message) }()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case snap := <-snaps:
			if len(snap.Pending) > sent {
				writeJSON("chunk", gin.H{"type": "chunk", "delta": snap.Pending[sent:]})
				sent = len(snap.Pending)
			}

		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})

		case err := <-turnErr:
			if err != nil {
				h.Log.Warn("turn failed", zap.String("chat_id", id), zap.Error(err))
				writeJSON("error", gin.H{"type": "error", "message": err.Error()})
				return
			}
			final := h.Svc.Snapshot()
			var last *chat.Message
			if n := len(final.Messages); n > 0 {
				last = &final.Messages[n-1]
			}
			// Coalesced snapshots can swallow the tail of the stream; the
			// persisted message is authoritative.
			if last != nil && len(last.Content) > sent {
				writeJSON("chunk", gin.H{"type": "chunk", "delta": last.Content[sent:]})
			}
			writeJSON("done", gin.H{"type": "done", "message": last})
			return

		case <-ctx.Done():
			return
		}
	}
}
