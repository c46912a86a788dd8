package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAPIKey checks "Authorization: Bearer <key>" when enforce is true.
// Otherwise requests pass, tagged as api_key or anonymous.
func RequireAPIKey(key string, enforce bool) gin.HandlerFunc {
	want := []byte(key)
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		tok := strings.TrimPrefix(raw, bearerPrefix)
		ok := len(want) > 0 && strings.HasPrefix(raw, bearerPrefix) &&
			subtle.ConstantTimeCompare([]byte(tok), want) == 1

		if enforce && !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing api key"})
			return
		}

		client := ClientAnonymous
		if ok {
			client = ClientAPIKey
		}
		c.Request = c.Request.WithContext(WithClient(c.Request.Context(), client))
		c.Set("client", client)
		c.Next()
	}
}
