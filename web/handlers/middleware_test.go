package handlers_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/petmind/internal/config"
	"github.com/scrypster/petmind/web/handlers"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRequireAuth(t *testing.T) {
	tests := []struct {
		name   string
		mode   string
		token  string
		header string
		want   int
	}{
		{"development skips auth", "development", "secret", "", http.StatusOK},
		{"production without header", "production", "secret", "", http.StatusUnauthorized},
		{"production wrong token", "production", "secret", "Bearer guess", http.StatusUnauthorized},
		{"production without bearer prefix", "production", "secret", "secret", http.StatusUnauthorized},
		{"production valid token", "production", "secret-token", "Bearer secret-token", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Security: config.SecurityConfig{SecurityMode: tt.mode, APIToken: tt.token}}
			handler := handlers.RequireAuth(http.HandlerFunc(okHandler), cfg)

			req := httptest.NewRequest("GET", "/api/pets", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), "unauthorized")
			}
		})
	}
}

func TestRateLimitMiddleware_Burst(t *testing.T) {
	handler := handlers.RateLimitMiddleware(http.HandlerFunc(okHandler), handlers.NewRateLimiter(1, 2))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/search", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimitMiddleware_PerClient(t *testing.T) {
	limiter := handlers.NewRateLimiter(1, 1)
	handler := handlers.RateLimitMiddleware(http.HandlerFunc(okHandler), limiter)

	serve := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/api/feed", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, serve("10.0.0.1:5000").Code)
	limited := serve("10.0.0.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code, "the port does not identify a client")
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusOK, serve("10.0.0.2:5000").Code, "other clients keep their own budget")
}

func TestNewRateLimiterFromConfig_Defaults(t *testing.T) {
	limiter := handlers.NewRateLimiterFromConfig(config.SecurityConfig{})
	for i := 0; i < 20; i++ {
		assert.True(t, limiter.Allow("client"), "request %d within default burst", i)
	}
	assert.False(t, limiter.Allow("client"))
}

func TestRequireAuth_EmptyConfiguredTokenRejects(t *testing.T) {
	cfg := &config.Config{Security: config.SecurityConfig{SecurityMode: "production"}}
	handler := handlers.RequireAuth(http.HandlerFunc(okHandler), cfg)

	req := httptest.NewRequest("GET", "/api/pets", nil)
	req.Header.Set("Authorization", "Bearer ")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestMaxBodyMiddleware_RejectsLargeBodies(t *testing.T) {
	handler := handlers.MaxBodyMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), 8)

	req := httptest.NewRequest("POST", "/api/posts", strings.NewReader("this body is too long"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	req = httptest.NewRequest("POST", "/api/posts", strings.NewReader("short"))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
