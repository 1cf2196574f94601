package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderOwnerID names the operator on whose behalf a request is made. An
// authenticating proxy in front of the API is expected to set it.
const HeaderOwnerID = "X-Owner-ID"

const ownerKey = "owner_id"

// Owner copies the owner header into the Gin context.
func Owner() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ownerKey, strings.TrimSpace(c.GetHeader(HeaderOwnerID)))
		c.Next()
	}
}

// OwnerID returns the request's owner, or "" when none was sent.
func OwnerID(c *gin.Context) string {
	return c.GetString(ownerKey)
}
