package utils

import (
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
)

// ContextUserIDKey is the gin context key set by the auth middleware.
const ContextUserIDKey = "user_id"

// GetUserIDFromContext returns the authenticated user's ID from the gin
// context. It fails when the auth middleware did not run.
func GetUserIDFromContext(c *gin.Context) (uint64, error) {
	value, exists := c.Get(ContextUserIDKey)
	if !exists {
		return 0, xerr.ErrUnauthorized
	}
	userID, ok := value.(uint64)
	if !ok {
		return 0, xerr.ErrUnauthorized
	}
	return userID, nil
}
