package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/gamehub/internal/account"
	"github.com/Tyrowin/gamehub/internal/auth"
)

const claimsKey = "claims"

// requestLogger logs one line per request, in the shape of the socket logs.
func (a *api) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		a.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"addr", c.ClientIP(),
		)
	}
}

// requireAuth accepts a Bearer access token and stores its claims on the context.
func (a *api) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := a.accounts.VerifyAccess(strings.TrimSpace(token))
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// requireAdmin checks the caller's current role in the user store, so a
// demoted admin loses access before their token expires.
func (a *api) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := a.accounts.Me(c.Request.Context(), currentClaims(c).UserID())
		if err != nil {
			if errors.Is(err, account.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			a.writeError(c, err)
			return
		}
		if user.Role != account.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

func currentClaims(c *gin.Context) *auth.Claims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(*auth.Claims)
	if claims == nil {
		return &auth.Claims{}
	}
	return claims
}
