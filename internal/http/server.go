// Package http is the JSON API surface. Handlers stay thin: decode,
// call the service, map the error.
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

	"patungan/internal/auth"
	"patungan/internal/core"
	"patungan/internal/metrics"
	"patungan/internal/services"
)

// poolDetail is the GET /api/group-budgets/{id} payload.
type poolDetail struct {
	GroupBudget *core.Pool    `json:"groupBudget"`
	Periods     []core.Period `json:"periods"`
}

type Server struct {
	http.Server
	pools   *services.PoolService
	txs     *services.TransactionService
	confs   *services.ConfirmationService
	invites *services.InvitationService
	notes   *services.NotificationService

	rateLimiter *rateLimiter
	detailCache *lruCache[poolDetail]

	stopCacheCleanup chan struct{}
	shutdownOnce     sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run
// server.
func NewServer(addr string, verifier *auth.Verifier,
	pools *services.PoolService,
	txs *services.TransactionService,
	confs *services.ConfirmationService,
	invites *services.InvitationService,
	notes *services.NotificationService,
) *Server {
	mux := http.NewServeMux()

	s := &Server{
		pools:            pools,
		txs:              txs,
		confs:            confs,
		invites:          invites,
		notes:            notes,
		rateLimiter:      newRateLimiter(),
		detailCache:      newLRUCache[poolDetail](200, 30*time.Second),
		stopCacheCleanup: make(chan struct{}),
	}

	go s.startCacheCleanup()

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	api := http.NewServeMux()
	s.route(api, "POST /api/group-budgets", s.handleCreatePool)
	s.route(api, "GET /api/group-budgets", s.handleListPools)
	s.route(api, "GET /api/group-budgets/{id}", s.handleGetPool)
	s.route(api, "PUT /api/group-budgets/{id}", s.handleUpdatePool)
	s.route(api, "DELETE /api/group-budgets/{id}", s.handleDeletePool)
	s.route(api, "POST /api/group-budgets/{id}/recompute", s.handleRecompute)

	s.route(api, "GET /api/group-budgets/{id}/periods", s.handleListPeriods)
	s.route(api, "GET /api/group-budgets/{id}/periods/{periodId}", s.handleGetPeriod)
	s.route(api, "GET /api/group-budgets/{id}/periods/{periodId}/transactions", s.handleListTransactions)
	s.route(api, "POST /api/group-budgets/{id}/periods/{periodId}/confirm", s.handleConfirm)
	s.route(api, "GET /api/group-budgets/{id}/periods/{periodId}/confirmations", s.handleRoster)

	s.route(api, "POST /api/group-budgets/transactions", s.handlePostTransaction)

	s.route(api, "POST /api/group-budgets/{id}/invite", s.handleInvite)
	s.route(api, "GET /api/group-budgets/{id}/invitations", s.handleListInvitations)
	s.route(api, "GET /api/group-budgets/invitations/user", s.handleUserInvitations)
	s.route(api, "POST /api/group-budgets/invitations/{id}/accept", s.handleAcceptInvitation)
	s.route(api, "POST /api/group-budgets/invitations/{id}/decline", s.handleDeclineInvitation)

	s.route(api, "GET /api/notifications", s.handleListNotifications)
	s.route(api, "POST /api/notifications/{id}/read", s.handleMarkNotificationRead)

	mux.Handle("/api/", auth.Middleware(verifier)(api))

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.withCommon(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// route registers an instrumented handler under the literal pattern.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		h(rw, r)
		metrics.ObserveRequest(pattern, rw.statusCode, time.Since(start))
	})
}

// withCommon adds request ids, security headers, rate limiting and
// request logging.
func (s *Server) withCommon(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
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

type contextKey string

const requestIDKey contextKey = "request_id"

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

// startCacheCleanup evicts expired detail cache entries periodically.
func (s *Server) startCacheCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.detailCache.CleanExpired(); n > 0 {
				slog.Debug("Cache cleanup completed", "entries_removed", n)
			}
		case <-s.stopCacheCleanup:
			return
		}
	}
}

// Shutdown stops the background goroutines and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.stopCacheCleanup != nil {
			close(s.stopCacheCleanup)
		}
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
