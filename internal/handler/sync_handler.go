package handler

import (
	"io"
	"net/http"

	"researchhub/backend/internal/hub"
	"researchhub/backend/internal/reconcile"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Stream godoc
// @Summary      Stream refreshed views
// @Description  Server-sent events carrying the viewer's refreshed notifications, requests, connections, directory and, with ?peer=, one conversation. The refresh session lives exactly as long as the connection.
// @Tags         sync
// @Produce      text/event-stream
// @Security     BearerAuth
// @Param        peer  query     string  false  "Open conversation with this User ID"
// @Success      200   {object}  reconcile.View
// @Failure      401   {object}  ErrorResponse
// @Failure      503   {object}  ErrorResponse
// @Router       /sync/stream [get]
func (h *Handler) Stream(c *gin.Context) {
	if h.feed == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Live updates are not enabled"})
		return
	}
	user := viewerID(c)
	ctx := c.Request.Context()

	client := make(hub.Client, 4)
	h.hub.Subscribe(user, client)
	defer h.hub.Unsubscribe(user, client)

	sub, err := h.feed.Start(ctx, user, func(v reconcile.View) {
		h.hub.Send(user, client, hub.Event{Type: hub.EventView, Payload: v})
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer sub.Stop()
	if peer := c.Query("peer"); peer != "" {
		sub.SetConversation(peer)
	}

	h.logger.Debug("Stream opened", zap.String("user_id", user), zap.Int("streams", h.hub.Clients(user)))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent(hub.EventView, string(msg))
			return true
		case <-sub.Done():
			return false
		case <-ctx.Done():
			return false
		}
	})
}
