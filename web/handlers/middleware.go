// Package handlers provides the HTTP handlers and middleware for the petmind API:
// pet and post publishing, similarity search, chat and live ingestion events.
package handlers

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/scrypster/petmind/internal/config"
)

// trackedClients bounds how many per-client limiters are kept.
const trackedClients = 4096

var errUnauthorized = errors.New("missing or invalid bearer token")

// RequireAuth enforces the bearer token when cfg runs in production mode.
// An empty configured token rejects every request.
func RequireAuth(next http.Handler, cfg *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.Security.SecurityMode == "development" {
			next.ServeHTTP(w, r)
			return
		}

		want := cfg.Security.APIToken
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if want == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			respondError(w, http.StatusUnauthorized, "unauthorized", errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimiter hands out one token bucket per client address. The least
// recently seen clients are forgotten once trackedClients is reached.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	clients *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiter allows each client reqPerSec sustained requests with bursts
// of up to burst.
func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	clients, _ := lru.New[string, *rate.Limiter](trackedClients)
	return &RateLimiter{
		limit:   rate.Limit(reqPerSec),
		burst:   burst,
		clients: clients,
	}
}

// NewRateLimiterFromConfig builds the limiter from the security settings.
func NewRateLimiterFromConfig(cfg config.SecurityConfig) *RateLimiter {
	rps, burst := cfg.RateLimitRPS, cfg.RateLimitBurst
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 2 * rps
	}
	return NewRateLimiter(float64(rps), burst)
}

// Allow reports whether client may make a request now.
func (rl *RateLimiter) Allow(client string) bool {
	limiter, ok := rl.clients.Get(client)
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		if prev, found, _ := rl.clients.PeekOrAdd(client, limiter); found {
			limiter = prev
		}
	}
	return limiter.Allow()
}

// clientKey is the remote host without its port.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware rejects clients that exceed their rate with 429.
func RateLimitMiddleware(next http.Handler, rl *RateLimiter) http.Handler {
	retryAfter := "1"
	if rl.limit > 0 && rl.limit < 1 {
		retryAfter = strconv.Itoa(int(1/float64(rl.limit)) + 1)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", retryAfter)
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBodyMiddleware caps request bodies at maxBytes.
func MaxBodyMiddleware(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && maxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}
