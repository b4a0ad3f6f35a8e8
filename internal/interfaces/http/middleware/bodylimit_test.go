package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erp/stockrecon/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batchBody struct {
	Ref   string `json:"ref" binding:"required"`
	Notes string `json:"notes"`
}

// newLimitedRouter binds a JSON batch behind BodyLimit
func newLimitedRouter(limit int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), BodyLimit(limit))
	r.POST("/allocations", func(c *gin.Context) {
		var body batchBody
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.JSON(http.StatusOK, dto.NewSuccessResponse(body.Ref))
	})
	r.GET("/stats", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func TestBodyLimit(t *testing.T) {
	small := `{"ref":"IND-1"}`
	large := `{"ref":"IND-1","notes":"` + strings.Repeat("x", 200) + `"}`

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		streamed bool
		want     int
		wantCode string
	}{
		{"body within limit", http.MethodPost, "/allocations", small, false, http.StatusOK, ""},
		{"declared length over limit", http.MethodPost, "/allocations", large, false, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge},
		{"streamed body over limit", http.MethodPost, "/allocations", large, true, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge},
		{"streamed body within limit", http.MethodPost, "/allocations", small, true, http.StatusOK, ""},
		{"request without body", http.MethodGet, "/stats", "", false, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newLimitedRouter(64)

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.streamed {
				req.ContentLength = -1
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, tt.want, w.Code, w.Body.String())
			if tt.wantCode == "" {
				return
			}
			var resp dto.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.RequestID)
		})
	}
}

func TestIsBodyTooLarge(t *testing.T) {
	assert.True(t, IsBodyTooLarge(&http.MaxBytesError{Limit: 10}))
	assert.False(t, IsBodyTooLarge(assert.AnError))
}
