package middleware

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	errInvalidFormat  = errors.New("invalid token format")
	errInvalidToken   = errors.New("invalid token")
	errMissingSubject = errors.New("sub claim missing")
)

// UserAuth requires a valid token of any role.
func UserAuth(secret string) gin.HandlerFunc {
	return AuthGuard(secret)
}

// OptionalUserAuth records the caller when a valid bearer token is present and
// lets guests through. A malformed or expired token is rejected so a signed-in
// buyer is never silently treated as a guest.
func OptionalUserAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		if raw == "" {
			c.Next()
			return
		}

		claims, err := parseBearer(raw, secret)
		if err != nil {
			log.Println("[AUTH] [ERROR] optional token rejected:", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		setIdentity(c, claims)
		c.Next()
	}
}

// Identity returns the authenticated user id, email and role, or empty strings
// for a guest.
func Identity(c *gin.Context) (userID, email, role string) {
	return c.GetString(ContextUserID), c.GetString(ContextEmail), c.GetString(ContextRole)
}
