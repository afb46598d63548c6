// Package api holds the gin handlers of the /api/v1 surface. Handlers bind
// and validate input, call a service and push failures with c.Error so the
// error middleware renders them.
package api

import (
	"strconv"

	"persona/backend/pkg/errors"
	"persona/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// pathID parses the uuid path parameter name
func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeValidation, "Invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// queryID parses an optional uuid query parameter
func queryID(c *gin.Context, name string) (*uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeValidation, "Invalid "+name))
		return nil, false
	}
	return &id, true
}

// queryInt parses an optional integer query parameter
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeValidation, name+" must be an integer"))
		return 0, false
	}
	return n, true
}

// bind decodes the JSON body into dst and checks its binding tags
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.Error(errors.BadRequestWithDetails(errors.CodeValidation, "Invalid request body", err.Error()))
		return false
	}
	return true
}

// currentUser returns the authenticated user id, pushing a 401 when absent
func currentUser(c *gin.Context) (string, bool) {
	userID := middleware.UserID(c)
	if userID == "" {
		c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Authentication required"))
		return "", false
	}
	return userID, true
}
