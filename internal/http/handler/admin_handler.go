package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lanternauth/lantern/internal/service"
)

// AdminHandler exposes the administrative JSON API: client and user
// management, key ring actions, and token previews. Every route is one closed
// case; there is no string-keyed action dispatch.
type AdminHandler struct {
	Admin *service.AdminService
}

// NewAdminHandler creates the handler set.
func NewAdminHandler(admin *service.AdminService) *AdminHandler {
	return &AdminHandler{Admin: admin}
}

type clientResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// ListClients returns every registered client.
func (h *AdminHandler) ListClients(c *gin.Context) {
	clients, err := h.Admin.ListClients(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]clientResponse, 0, len(clients))
	for _, client := range clients {
		out = append(out, clientResponse{ID: client.ID, Name: client.Name, Secret: client.Secret})
	}
	c.JSON(http.StatusOK, gin.H{"clients": out})
}

// CreateClient registers a new client.
func (h *AdminHandler) CreateClient(c *gin.Context) {
	var req struct {
		Name string `form:"name" json:"name" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "name is required."})
		return
	}
	client, err := h.Admin.CreateClient(c.Request.Context(), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, clientResponse{ID: client.ID, Name: client.Name, Secret: client.Secret})
}

// DeleteClient removes a client registration.
func (h *AdminHandler) DeleteClient(c *gin.Context) {
	if err := h.Admin.DeleteClient(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ListUsers returns every account.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.Admin.ListUsers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, user := range users {
		out = append(out, userResponse{ID: user.ID, Username: user.Username, Email: user.Email})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

// CreateUser registers a new account.
func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req struct {
		Username string `form:"username" json:"username" binding:"required"`
		Email    string `form:"email" json:"email"`
		Password string `form:"password" json:"password" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "username and password are required."})
		return
	}
	user, err := h.Admin.CreateUser(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, userResponse{ID: user.ID, Username: user.Username, Email: user.Email})
}

// DeleteUser removes an account.
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	if err := h.Admin.DeleteUser(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ChangeEmail updates an account's email address.
func (h *AdminHandler) ChangeEmail(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Email string `form:"email" json:"email" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "email is required."})
		return
	}
	if err := h.Admin.ChangeEmail(c.Request.Context(), id, req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// ChangePassword sets a new password for the account.
func (h *AdminHandler) ChangePassword(c *gin.Context) {
	id, ok := userIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Password string `form:"password" json:"password" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "password is required."})
		return
	}
	if err := h.Admin.ChangePassword(c.Request.Context(), id, req.Password); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// PreviewToken mints an identity token for a user/client pair so an operator
// can inspect the claims a relying party would receive.
func (h *AdminHandler) PreviewToken(c *gin.Context) {
	var req struct {
		UserID   int64  `form:"user_id" json:"user_id" binding:"required"`
		ClientID string `form:"client_id" json:"client_id" binding:"required"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "user_id and client_id are required."})
		return
	}
	token, err := h.Admin.PreviewToken(c.Request.Context(), req.UserID, req.ClientID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// RotateKeys adds a signing key to the ring.
func (h *AdminHandler) RotateKeys(c *gin.Context) {
	if err := h.Admin.RotateKeys(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rotated"})
}

// ClearKeys wipes the key ring.
func (h *AdminHandler) ClearKeys(c *gin.Context) {
	if err := h.Admin.ClearKeys(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid user id."})
		return 0, false
	}
	return id, true
}
