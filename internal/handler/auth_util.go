package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"presence-service/internal/middleware"
	"presence-service/internal/response"
)

// ExtractUserID returns the authenticated user id set by the auth middleware.
// It writes a 401 and returns false when it is missing.
func ExtractUserID(c *gin.Context) (uuid.UUID, bool) {
	userID, exists := c.Get(middleware.ContextUserID)
	if !exists {
		response.SendError(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "User ID not found in context")
		return uuid.Nil, false
	}
	userUUID, ok := userID.(uuid.UUID)
	if !ok {
		response.SendError(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "Invalid user ID format")
		return uuid.Nil, false
	}
	return userUUID, true
}

// parseUUIDParam parses a path parameter, writing a 400 when it is not a UUID
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
