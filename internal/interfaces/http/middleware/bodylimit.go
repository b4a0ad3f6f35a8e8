package middleware

import (
	"errors"
	"net/http"

	"github.com/erp/stockrecon/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// BodyLimit rejects requests whose declared length exceeds maxBytes and
// caps the read of bodies sent without a length. Allocation batches and
// record payloads are the only bodies the API accepts.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, tooLargeResponse(c))
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// IsBodyTooLarge reports whether err came from reading past the BodyLimit cap
func IsBodyTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

func tooLargeResponse(c *gin.Context) dto.Response {
	return dto.NewErrorResponseWithRequestID(dto.ErrCodeRequestTooLarge,
		"Request body exceeds maximum allowed size", GetRequestID(c))
}
