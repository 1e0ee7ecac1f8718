package handler

import (
	"net/http"

	"researchhub/backend/internal/social"

	"github.com/gin-gonic/gin"
)

// ConnectedResponse answers whether the viewer sees a researcher as connected.
type ConnectedResponse struct {
	Connected bool `json:"connected"`
}

// RemoveConnectionResponse reports which mirrors a removal deleted.
type RemoveConnectionResponse struct {
	Message string `json:"message"`
	social.RemoveResult
}

// GetConnections godoc
// @Summary      Get connections
// @Description  Lists the researchers the viewer is connected with, as snapshotted when each connection was made.
// @Tags         connections
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   models.UserRecord
// @Failure      401  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /users/me/connections [get]
func (h *Handler) GetConnections(c *gin.Context) {
	peers, err := h.registry.ListConnections(c.Request.Context(), viewerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, peers)
}

// GetIncomingRequests godoc
// @Summary      Get incoming requests
// @Description  Lists pending connection requests sent to the viewer.
// @Tags         connections
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   models.ConnectionRequest
// @Failure      401  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /users/me/requests/incoming [get]
func (h *Handler) GetIncomingRequests(c *gin.Context) {
	requests, err := h.engine.PendingRequests(c.Request.Context(), viewerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requests)
}

// GetOutgoingRequests godoc
// @Summary      Get outgoing requests
// @Description  Lists pending connection requests the viewer has sent.
// @Tags         connections
// @Produce      json
// @Security     BearerAuth
// @Success      200  {array}   models.ConnectionRequest
// @Failure      401  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /users/me/requests/outgoing [get]
func (h *Handler) GetOutgoingRequests(c *gin.Context) {
	requests, err := h.engine.SentRequests(c.Request.Context(), viewerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requests)
}

// GetConnected godoc
// @Summary      Check connection
// @Description  Reports whether the viewer's own partition holds a connection to the researcher.
// @Tags         connections
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Target User ID"
// @Success      200  {object}  ConnectedResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /users/{id}/connected [get]
func (h *Handler) GetConnected(c *gin.Context) {
	ok, err := h.registry.IsConnected(c.Request.Context(), viewerID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConnectedResponse{Connected: ok})
}

// SendRequest godoc
// @Summary      Send connection request
// @Description  Sends a connection request to another researcher.
// @Tags         connections
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Target User ID"
// @Success      201  {object}  models.ConnectionRequest
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse "Target user not found"
// @Failure      409  {object}  ErrorResponse "Already connected or request pending"
// @Failure      503  {object}  ErrorResponse
// @Router       /users/{id}/request [post]
func (h *Handler) SendRequest(c *gin.Context) {
	req, err := h.engine.Send(c.Request.Context(), viewerID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// AcceptRequest godoc
// @Summary      Accept connection request
// @Description  Accepts a pending connection request from another researcher. Accepting twice returns the existing connection.
// @Tags         connections
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Requesting User ID"
// @Success      200  {object}  models.Connection
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse "Request not found"
// @Failure      503  {object}  ErrorResponse
// @Router       /users/{id}/accept [post]
func (h *Handler) AcceptRequest(c *gin.Context) {
	conn, err := h.engine.Accept(c.Request.Context(), viewerID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

// DeclineRequest godoc
// @Summary      Decline connection request
// @Description  Declines a pending connection request. Declining a request that no longer exists succeeds.
// @Tags         connections
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Requesting User ID"
// @Success      200  {object}  map[string]string "{"message": "Request declined"}"
// @Failure      401  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /users/{id}/decline [post]
func (h *Handler) DeclineRequest(c *gin.Context) {
	if err := h.engine.Reject(c.Request.Context(), viewerID(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Request declined"})
}

// CancelRequest godoc
// @Summary      Cancel connection request
// @Description  Withdraws a connection request the viewer sent.
// @Tags         connections
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Target User ID"
// @Success      200  {object}  map[string]string "{"message": "Request cancelled"}"
// @Failure      401  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /users/{id}/cancel [post]
func (h *Handler) CancelRequest(c *gin.Context) {
	if err := h.engine.Cancel(c.Request.Context(), viewerID(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Request cancelled"})
}

// RemoveConnection godoc
// @Summary      Remove connection
// @Description  Removes a connection from both researchers. If the other researcher's copy cannot be written, they keep seeing the connection until their next refresh repairs it.
// @Tags         connections
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Target User ID"
// @Success      200  {object}  RemoveConnectionResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /users/{id}/remove [post]
func (h *Handler) RemoveConnection(c *gin.Context) {
	res, err := h.registry.RemoveConnection(c.Request.Context(), viewerID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, RemoveConnectionResponse{Message: "Connection removed", RemoveResult: res})
}
