package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/alevoro-com/alevoro/internal/auth"
)

const accountKey = "account_id"

// RequireAuth verifies the bearer token and stores the caller's account id
// on the request context.
func RequireAuth(jwt *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := jwt.Parse(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(accountKey, claims.AccountID)
		c.Next()
	}
}

// CallerAccount returns the authenticated account id set by RequireAuth.
func CallerAccount(c *gin.Context) string {
	v, ok := c.Get(accountKey)
	if !ok {
		return ""
	}
	account, _ := v.(string)
	return account
}
