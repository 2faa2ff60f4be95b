package middlewares

import (
	"net/http"
	"strings"

	"github.com/3Eeeecho/go-cloudvault/internal/config"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/utils"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware validates the Bearer token and stores the caller's
// identity in the request context.
func AuthMiddleware(cfg *config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.UnauthorizedCode, xerr.ErrUnauthorized.Error())
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.TokenInvalidCode, xerr.ErrTokenInvalid.Error())
			return
		}

		claims, err := utils.ParseToken(parts[1], cfg)
		if err != nil {
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.TokenInvalidCode, xerr.ErrTokenInvalid.Error())
			return
		}

		c.Set(utils.ContextUserIDKey, claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}
