package middleware

import (
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	CorrelationHeader = "X-Correlation-ID"
	ContextCID        = "cid"
)

var validCID = regexp.MustCompile(`^[A-Za-z0-9._-]{8,64}$`)

// CorrelationID reuses a well-formed inbound X-Correlation-ID or mints one,
// and echoes it on the response.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(CorrelationHeader)
		if !validCID.MatchString(cid) {
			cid = uuid.NewString()
		}
		c.Set(ContextCID, cid)
		c.Header(CorrelationHeader, cid)
		c.Next()
	}
}

func CID(c *gin.Context) string {
	return c.GetString(ContextCID)
}
