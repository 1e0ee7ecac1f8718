package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SendMessageInput is the body of a new message.
type SendMessageInput struct {
	Text string `json:"text" binding:"required" example:"Would you like to co-author the review?"`
}

// MarkReadResponse reports how many messages were marked read.
type MarkReadResponse struct {
	Marked int `json:"marked"`
}

// GetThreads godoc
// @Summary      List conversations
// @Description  One entry per researcher the viewer has exchanged messages with, most recent first.
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   conversation.Thread
// @Failure      401  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /messages [get]
func (h *Handler) GetThreads(c *gin.Context) {
	threads, err := h.conversations.Threads(c.Request.Context(), viewerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, threads)
}

// GetConversation godoc
// @Summary      Get conversation
// @Description  Messages between the viewer and another researcher, oldest first, as recorded in the viewer's copy.
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Peer User ID"
// @Success      200  {array}   models.Message
// @Failure      401  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /messages/{id} [get]
func (h *Handler) GetConversation(c *gin.Context) {
	msgs, err := h.conversations.Conversation(c.Request.Context(), viewerID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// SendMessage godoc
// @Summary      Send message
// @Tags         messages
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string            true  "Peer User ID"
// @Param        input body      SendMessageInput  true  "Message"
// @Success      201   {object}  models.Message
// @Failure      400   {object}  ErrorResponse
// @Failure      401   {object}  ErrorResponse
// @Failure      404   {object}  ErrorResponse
// @Failure      503   {object}  ErrorResponse
// @Router       /messages/{id} [post]
func (h *Handler) SendMessage(c *gin.Context) {
	var input SendMessageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.conversations.Send(c.Request.Context(), viewerID(c), c.Param("id"), input.Text)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkConversationRead godoc
// @Summary      Mark conversation read
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Peer User ID"
// @Success      200  {object}  MarkReadResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /messages/{id}/read [post]
func (h *Handler) MarkConversationRead(c *gin.Context) {
	marked, err := h.conversations.MarkRead(c.Request.Context(), viewerID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MarkReadResponse{Marked: marked})
}
