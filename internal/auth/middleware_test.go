package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newEngine(key string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(key))
	r.POST("/admin", func(c *gin.Context) { c.String(200, "ok") })
	return r
}

func TestMiddleware_Keys(t *testing.T) {
	r := newEngine("k-1")
	cases := []struct {
		name   string
		set    func(h http.Header)
		status int
	}{
		{name: "bearer", set: func(h http.Header) { h.Set("Authorization", "Bearer k-1") }, status: 200},
		{name: "bearer_lowercase", set: func(h http.Header) { h.Set("Authorization", "bearer k-1") }, status: 200},
		{name: "x_api_key", set: func(h http.Header) { h.Set("x-api-key", "k-1") }, status: 200},
		{name: "wrong", set: func(h http.Header) { h.Set("x-api-key", "k-2") }, status: 401},
		{name: "missing", set: func(http.Header) {}, status: 401},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin", nil)
			tc.set(req.Header)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
			}
		})
	}
}

func TestMiddleware_EmptyKeyIsOpen(t *testing.T) {
	r := newEngine("")
	req := httptest.NewRequest(http.MethodPost, "/admin", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("code=%d", w.Code)
	}
}
