// Package server provides HTTP server initialization and lifecycle management
// for the petmind API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/petmind/internal/config"
	"github.com/scrypster/petmind/internal/media"
	"github.com/scrypster/petmind/web/handlers"
)

// Options carries the optional collaborators of the server.
type Options struct {
	// Media stores uploaded images. Nil disables uploads.
	Media media.Store

	// MediaRoot is served read-only under /media/ when set.
	MediaRoot string

	// AllowedOrigins are extra WebSocket origin patterns.
	AllowedOrigins []string
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","version":"1.0.0"}`))
}

// Start initializes and starts the HTTP server.
// Returns the actual address being listened on (useful for testing with port 0)
// and the WebSocketHub for wiring ingestion event broadcasts.
// The server shuts down when ctx is cancelled.
func Start(ctx context.Context, cfg *config.Config, eng handlers.Engine, opts Options) (string, *handlers.WebSocketHub, error) {
	mux := http.NewServeMux()

	wsHub := handlers.NewWebSocketHub(opts.AllowedOrigins...)
	go wsHub.Run()

	rateLimiter := handlers.NewRateLimiterFromConfig(cfg.Security)

	entityHandler := handlers.NewEntityHandler(eng, opts.Media)
	searchHandler := handlers.NewSearchHandler(eng, cfg.Engine.SearchLimit)
	chatHandler := handlers.NewChatHandler(eng)
	statsHandler := handlers.NewStatsHandler(eng, cfg)

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/pets", entityHandler.ListPets)
	apiMux.HandleFunc("POST /api/pets", entityHandler.CreatePet)
	apiMux.HandleFunc("POST /api/posts", entityHandler.CreatePost)
	apiMux.HandleFunc("GET /api/feed", entityHandler.Feed)
	apiMux.HandleFunc("GET /api/entities/{id}", entityHandler.GetEntity)
	apiMux.HandleFunc("POST /api/entities/{id}/reingest", entityHandler.Reingest)
	apiMux.HandleFunc("GET /api/search", searchHandler.Search)
	apiMux.HandleFunc("POST /api/search", searchHandler.Search)
	apiMux.HandleFunc("POST /api/chat", chatHandler.Chat)
	apiMux.HandleFunc("GET /api/subjects/{id}/memories", chatHandler.Memories)
	apiMux.HandleFunc("GET /api/stats", statsHandler.GetStats)
	apiMux.HandleFunc("GET /api/config", statsHandler.GetConfig)

	// Health endpoints, no auth required
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/api/health", healthHandler)

	maxBody := int64(cfg.Media.MaxUploadMB) << 20
	if maxBody <= 0 {
		maxBody = 10 << 20
	}
	mux.Handle("/api/", handlers.MaxBodyMiddleware(handlers.RequireAuth(apiMux, cfg), maxBody))

	// WebSocket endpoint (no auth required - origin validation handles security)
	mux.Handle("/ws", wsHub)

	if opts.MediaRoot != "" {
		fs := http.FileServer(http.Dir(opts.MediaRoot))
		mux.Handle("/media/", http.StripPrefix("/media/", fs))
	}

	// Wrap entire server with rate limiting, then security headers
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // chat turns wait on the completion provider
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		wsHub.Stop()
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		wsHub.Stop()
	}()

	return actualAddr, wsHub, nil
}
