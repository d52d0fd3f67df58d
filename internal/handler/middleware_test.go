package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestAPIKeyAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{name: "disabled", key: "", header: "", want: http.StatusOK},
		{name: "missing", key: "secret", header: "", want: http.StatusUnauthorized},
		{name: "wrong", key: "secret", header: "nope", want: http.StatusForbidden},
		{name: "prefix", key: "secret", header: "secretsecret", want: http.StatusForbidden},
		{name: "valid", key: "secret", header: " secret ", want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/x", APIKeyAuth(tc.key), func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tc.header != "" {
				req.Header.Set(APIKeyHeader, tc.header)
			}
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}
