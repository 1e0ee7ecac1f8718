package handler

import (
	"net/http"
	"strings"

	"researchhub/backend/internal/apperr"
	"researchhub/backend/internal/models"
	"researchhub/backend/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// region --- DTOs ---

// SessionInput defines the structure for starting a demo session.
type SessionInput struct {
	Email     string `json:"email" binding:"required,email" example:"sarah.johnson@university.edu"`
	FirstName string `json:"firstName" example:"Sarah"`
	LastName  string `json:"lastName" example:"Johnson"`
}

// SessionResponse is returned when a session starts.
type SessionResponse struct {
	Token string              `json:"token"`
	User  PrivateUserResponse `json:"user"`
}

// ProfileInput defines the editable profile fields.
type ProfileInput struct {
	FirstName   string `json:"firstName" binding:"required" example:"Sarah"`
	LastName    string `json:"lastName" binding:"required" example:"Johnson"`
	Institution string `json:"institution" example:"Stanford University"`
	Department  string `json:"department" example:"Computer Science"`
	Role        string `json:"role" example:"Associate Professor"`
	Bio         string `json:"bio"`
}

// PublicUserResponse defines the structure for a researcher's public profile as seen by
// the viewer.
type PublicUserResponse struct {
	ID              string `json:"id" example:"user_1"`
	Name            string `json:"name" example:"Sarah Johnson"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Institution     string `json:"institution,omitempty"`
	Department      string `json:"department,omitempty"`
	Role            string `json:"role,omitempty"`
	Bio             string `json:"bio,omitempty"`
	Connected       bool   `json:"connected"`
	RequestSent     bool   `json:"requestSent"`
	RequestReceived bool   `json:"requestReceived"`
}

// PrivateUserResponse defines the structure for the authenticated user's own profile.
type PrivateUserResponse struct {
	models.UserRecord
	Name                string `json:"name"`
	ConnectionsCount    int    `json:"connectionsCount"`
	PendingCount        int    `json:"pendingCount"`
	UnreadNotifications int    `json:"unreadNotifications"`
}

// endregion

// region --- Auth Handlers ---

// StartSession godoc
// @Summary      Start a session
// @Description  Signs in by email. Unknown emails are added to the directory. Returns a bearer token.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        input body SessionInput true "Session Info"
// @Success      200  {object}  SessionResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /auth/session [post]
func (h *Handler) StartSession(c *gin.Context) {
	var input SessionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	user, err := h.directory.FindByEmail(ctx, input.Email)
	switch {
	case err == nil:
		if input.FirstName != "" || input.LastName != "" {
			user.FirstName = firstNonEmpty(input.FirstName, user.FirstName)
			user.LastName = firstNonEmpty(input.LastName, user.LastName)
			if user, err = h.directory.Upsert(ctx, user); err != nil {
				h.respondError(c, err)
				return
			}
		}
	case apperr.IsKind(err, apperr.KindNotFound):
		first, last := input.FirstName, input.LastName
		if first == "" {
			first = strings.SplitN(input.Email, "@", 2)[0]
		}
		user, err = h.directory.Upsert(ctx, models.UserRecord{
			ID:        "user_" + uuid.NewString(),
			FirstName: first,
			LastName:  last,
			Email:     input.Email,
		})
		if err != nil {
			h.respondError(c, err)
			return
		}
		h.logger.Info("Researcher joined", zap.String("user_id", user.ID))
	default:
		h.respondError(c, err)
		return
	}

	token, err := jwt.GenerateToken(h.jwtSecret, user.ID, jwt.DefaultTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	private, err := h.buildPrivateUserResponse(c, user)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{Token: token, User: private})
}

// endregion

// region --- User Handlers ---

// SearchUsers godoc
// @Summary      Search for researchers
// @Description  Searches the directory by name, institution or department with pagination.
// @Tags         users
// @Produce      json
// @Param        q     query     string  false  "Search query"
// @Param        page  query     int     false  "Page number" default(1)
// @Param        limit query     int     false  "Items per page" default(10)
// @Success      200   {object}  PaginatedResponse[PublicUserResponse]
// @Failure      503   {object}  ErrorResponse
// @Router       /users [get]
func (h *Handler) SearchUsers(c *gin.Context) {
	viewer := viewerID(c)
	page, limit := pageParams(c)
	ctx := c.Request.Context()

	// Don't show the viewer in the search results
	users, err := h.directory.Search(ctx, c.Query("q"), viewer)
	if err != nil {
		h.respondError(c, err)
		return
	}

	paged := Paginate(users, page, limit)
	rel, err := h.loadRelations(c, viewer)
	if err != nil {
		h.respondError(c, err)
		return
	}

	data := make([]PublicUserResponse, 0, len(paged.Data))
	for _, u := range paged.Data {
		data = append(data, rel.build(u))
	}
	c.JSON(http.StatusOK, NewPaginatedResponse(data, paged.Meta.TotalItems, page, limit))
}

// GetUserByID godoc
// @Summary      Get researcher by ID
// @Description  Retrieves the public profile for a specific researcher, including relationship flags.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  PublicUserResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /users/{id} [get]
func (h *Handler) GetUserByID(c *gin.Context) {
	viewer := viewerID(c)
	targetID := c.Param("id")

	// If target is the same as viewer, answer as /me
	if viewer == targetID {
		h.GetMe(c)
		return
	}

	target, err := h.directory.FindByID(c.Request.Context(), targetID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	rel, err := h.loadRelations(c, viewer)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rel.build(target))
}

// GetMe godoc
// @Summary      Get current user's info
// @Description  Retrieves the private profile for the currently authenticated user.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  PrivateUserResponse
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /users/me [get]
func (h *Handler) GetMe(c *gin.Context) {
	user, err := h.directory.FindByID(c.Request.Context(), viewerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	response, err := h.buildPrivateUserResponse(c, user)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// UpdateMe godoc
// @Summary      Update current user's profile
// @Description  Replaces the editable profile fields. Existing connections keep the snapshot taken when they were made.
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        input body ProfileInput true "Profile"
// @Success      200  {object}  PrivateUserResponse
// @Failure      400  {object}  ErrorResponse
// @Failure      401  {object}  ErrorResponse
// @Router       /users/me [put]
func (h *Handler) UpdateMe(c *gin.Context) {
	var input ProfileInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	user, err := h.directory.FindByID(ctx, viewerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	user.FirstName = input.FirstName
	user.LastName = input.LastName
	user.Institution = input.Institution
	user.Department = input.Department
	user.Role = input.Role
	user.Bio = input.Bio

	if user, err = h.directory.Upsert(ctx, user); err != nil {
		h.respondError(c, err)
		return
	}
	response, err := h.buildPrivateUserResponse(c, user)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// endregion

// region --- Helpers ---

// relations indexes the viewer's connections and requests for building profile responses.
type relations struct {
	connected map[string]bool
	sent      map[string]bool
	received  map[string]bool
}

func (h *Handler) loadRelations(c *gin.Context, viewer string) (relations, error) {
	rel := relations{
		connected: map[string]bool{},
		sent:      map[string]bool{},
		received:  map[string]bool{},
	}
	if viewer == "" {
		return rel, nil
	}
	ctx := c.Request.Context()

	conns, err := h.registry.Connections(ctx, viewer)
	if err != nil {
		return rel, err
	}
	for _, conn := range conns {
		rel.connected[conn.PeerID] = true
	}

	sent, err := h.engine.SentRequests(ctx, viewer)
	if err != nil {
		return rel, err
	}
	for _, r := range sent {
		rel.sent[r.RecipientID] = true
	}

	pending, err := h.engine.PendingRequests(ctx, viewer)
	if err != nil {
		return rel, err
	}
	for _, r := range pending {
		rel.received[r.SenderID] = true
	}
	return rel, nil
}

func (r relations) build(u models.UserRecord) PublicUserResponse {
	return PublicUserResponse{
		ID:              u.ID,
		Name:            u.FullName(),
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Institution:     u.Institution,
		Department:      u.Department,
		Role:            u.Role,
		Bio:             u.Bio,
		Connected:       r.connected[u.ID],
		RequestSent:     r.sent[u.ID],
		RequestReceived: r.received[u.ID],
	}
}

func (h *Handler) buildPrivateUserResponse(c *gin.Context, user models.UserRecord) (PrivateUserResponse, error) {
	ctx := c.Request.Context()
	conns, err := h.registry.Connections(ctx, user.ID)
	if err != nil {
		return PrivateUserResponse{}, err
	}
	pending, err := h.engine.PendingRequests(ctx, user.ID)
	if err != nil {
		return PrivateUserResponse{}, err
	}
	unread, err := h.notifications.UnreadCount(ctx, user.ID)
	if err != nil {
		return PrivateUserResponse{}, err
	}

	return PrivateUserResponse{
		UserRecord:          user,
		Name:                user.FullName(),
		ConnectionsCount:    len(conns),
		PendingCount:        len(pending),
		UnreadNotifications: unread,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// endregion
