package api

import (
	"context"
	"net/http"

	"persona/backend/internal/models"

	"github.com/gin-gonic/gin"
)

// UserService is what UserHandler needs from the user service
type UserService interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// UserHandler serves the profile of the caller
type UserHandler struct {
	users UserService
}

func NewUserHandler(users UserService) *UserHandler {
	return &UserHandler{users: users}
}

// RegisterRoutes mounts the profile route on an authenticated group
func (h *UserHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", h.Me)
}

// Me returns the user provisioned from the caller's token
func (h *UserHandler) Me(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	user, err := h.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, user)
}
