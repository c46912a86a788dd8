package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newRouter(key string, enforce bool, seen *string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/x", RequireAPIKey(key, enforce), func(c *gin.Context) {
		*seen = Client(c.Request.Context())
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequireAPIKey(t *testing.T) {
	cases := []struct {
		name       string
		enforce    bool
		header     string
		wantStatus int
		wantClient string
	}{
		{"enforced valid", true, "Bearer k3y", http.StatusOK, ClientAPIKey},
		{"enforced wrong", true, "Bearer nope", http.StatusUnauthorized, ""},
		{"enforced missing", true, "", http.StatusUnauthorized, ""},
		{"enforced no prefix", true, "k3y", http.StatusUnauthorized, ""},
		{"open anonymous", false, "", http.StatusOK, ClientAnonymous},
		{"open with key", false, "Bearer k3y", http.StatusOK, ClientAPIKey},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			r := newRouter("k3y", tc.enforce, &seen)
			req := httptest.NewRequest(http.MethodPost, "/x", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.wantStatus {
				t.Fatalf("status %d, want %d", w.Code, tc.wantStatus)
			}
			if seen != tc.wantClient {
				t.Fatalf("client %q, want %q", seen, tc.wantClient)
			}
		})
	}
}
