package api

import (
	"context"
	"net/http"

	"persona/backend/internal/ledger"
	"persona/backend/internal/models"
	"persona/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TokenLedger is what TokenHandler needs from the ledger
type TokenLedger interface {
	Balance(ctx context.Context, userID string) (int, error)
	Status(ctx context.Context, userID string, maxDaily int) (ledger.Status, error)
	Grant(ctx context.Context, userID string, amount int, reason string) (int, error)
}

// TokenHandler exposes balances and the admin grant
type TokenHandler struct {
	ledger   TokenLedger
	maxDaily int
}

func NewTokenHandler(l TokenLedger, maxDaily int) *TokenHandler {
	return &TokenHandler{ledger: l, maxDaily: maxDaily}
}

// RegisterRoutes mounts the balance routes on an authenticated group
func (h *TokenHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/tokens/balance", h.Balance)
	rg.GET("/tokens/status", h.Status)
}

// RegisterAdminRoutes mounts the grant route on an admin-only group
func (h *TokenHandler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/tokens/grant", h.Grant)
}

func (h *TokenHandler) Balance(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	balance, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (h *TokenHandler) Status(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	status, err := h.ledger.Status(c.Request.Context(), userID, h.maxDaily)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Grant credits tokens to any user
func (h *TokenHandler) Grant(c *gin.Context) {
	adminID, ok := currentUser(c)
	if !ok {
		return
	}
	var req models.GrantTokensRequest
	if !bind(c, &req) {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "admin grant"
	}

	balance, err := h.ledger.Grant(c.Request.Context(), req.UserID, req.Amount, reason)
	if err != nil {
		c.Error(err)
		return
	}
	logger.FromGin(c).Info("Tokens granted", "target_user", req.UserID, "amount", req.Amount, "admin", adminID)
	c.JSON(http.StatusOK, gin.H{"user_id": req.UserID, "balance": balance})
}
