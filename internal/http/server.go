// Package http exposes the JSON API for categories, transactions and the
// expense chart.
package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"buget/internal/auth"
	"buget/internal/cache"
	"buget/internal/core"
	"buget/internal/service"
)

const categoriesCacheKey = "categories"

type Server struct {
	http.Server
	svc         *service.TransactionService
	rateLimiter *rateLimiter

	// Read caches. The chart cache is keyed per user and invalidated by that
	// user's mutations; categories are global and only seeded by migrations.
	categoriesCache *cache.LRU[[]core.Category]
	chartCache      *cache.LRU[[]core.ChartSlice]
	janitor         *cache.Janitor

	shutdownOnce sync.Once
}

type Options struct {
	Addr      string
	JWTSecret []byte
	CacheSize int
	CacheTTL  time.Duration
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(opts Options, svc *service.TransactionService, users auth.UserProvisioner) *Server {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}

	s := &Server{
		svc:             svc,
		rateLimiter:     newRateLimiter(),
		categoriesCache: cache.NewLRU[[]core.Category](4, 5*time.Minute),
		chartCache:      cache.NewLRU[[]core.ChartSlice](opts.CacheSize, opts.CacheTTL),
	}
	s.janitor = cache.NewJanitor(s.categoriesCache, s.chartCache)
	s.janitor.Start(10 * time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)
	mux.HandleFunc("GET /categories", s.handleListCategories)
	mux.HandleFunc("GET /chart", s.handleChart)
	mux.HandleFunc("GET /transactions", s.handleListTransactions)
	mux.HandleFunc("POST /transactions", s.handleCreateTransaction)
	mux.HandleFunc("PUT /transactions/{id}", s.handleUpdateTransaction)
	mux.HandleFunc("DELETE /transactions/{id}", s.handleDeleteTransaction)

	authenticate := auth.Middleware(opts.JWTSecret, users)
	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           s.withObservability(authenticate(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the full middleware chain for tests.
func (s *Server) Handler() http.Handler {
	return s.Server.Handler
}

// Shutdown stops the background cleanup goroutines and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.janitor.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withObservability tags each request with an id, logs start and completion,
// sets security headers and rate-limits mutations per client.
func (s *Server) withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := clientAddr(r)
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		if isMutation(r.Method) && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				"client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", clientIP)
	})
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// invalidateUserCaches drops every cached read for the user after a mutation.
func (s *Server) invalidateUserCaches(userID int64) {
	s.chartCache.DeletePrefix(userCacheKey(userID, ""))
}

func userCacheKey(userID int64, suffix string) string {
	return fmt.Sprintf("user:%d:%s", userID, suffix)
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

type contextKey string

const requestIDKey contextKey = "request_id"

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
