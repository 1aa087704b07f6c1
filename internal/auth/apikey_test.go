package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func authedRouter(key string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireAPIKey(key))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestRequireAPIKey(t *testing.T) {
	cases := []struct {
		name     string
		key      string
		header   string
		wantCode int
	}{
		{"empty key disables auth", "", "", http.StatusOK},
		{"matching key passes", "s3cret", "s3cret", http.StatusOK},
		{"missing header rejected", "s3cret", "", http.StatusUnauthorized},
		{"wrong key rejected", "s3cret", "nope", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tc.header != "" {
				req.Header.Set(apiKeyHeader, tc.header)
			}
			w := httptest.NewRecorder()
			authedRouter(tc.key).ServeHTTP(w, req)
			assert.Equal(t, tc.wantCode, w.Code)
		})
	}
}
