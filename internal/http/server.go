// Package http exposes the JSON API. Authentication happens upstream; the
// proxy injects the caller's identity as an X-User-ID header and every route
// under /api scopes its reads and writes to that user.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"centime/internal/cache"
	"centime/internal/core"
	"centime/internal/log"
	"centime/internal/services"
	"centime/internal/storage"
)

type contextKey string

const userIDKey contextKey = "user_id"

type Server struct {
	http.Server
	store     *storage.SQLiteRepository
	recurring *services.RecurringService
	expenses  *services.ExpenseService
	advisor   *services.BudgetAdvisor
	outbox    *services.OutboxProcessor

	rateLimiter *rateLimiter

	// Month overviews are read far more often than they change
	overviewCache *cache.LRUCache[core.MonthOverview]
	cacheManager  *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(
	addr string,
	store *storage.SQLiteRepository,
	recurring *services.RecurringService,
	expenses *services.ExpenseService,
	advisor *services.BudgetAdvisor,
	outbox *services.OutboxProcessor,
) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		store:         store,
		recurring:     recurring,
		expenses:      expenses,
		advisor:       advisor,
		outbox:        outbox,
		rateLimiter:   newRateLimiter(),
		overviewCache: cache.NewLRUCache[core.MonthOverview](100, 5*time.Minute),
		cacheManager:  cache.NewManager(),
	}

	s.cacheManager.Register(s.overviewCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/categories", s.protect(s.handleListCategories))

	mux.HandleFunc("GET /api/expenses", s.protect(s.handleListExpenses))
	mux.HandleFunc("POST /api/expenses", s.protect(s.handleCreateExpense))
	mux.HandleFunc("DELETE /api/expenses/{id}", s.protect(s.handleDeleteExpense))

	mux.HandleFunc("GET /api/recurring", s.protect(s.handleListTemplates))
	mux.HandleFunc("POST /api/recurring", s.protect(s.handleCreateTemplate))
	mux.HandleFunc("PUT /api/recurring/{id}", s.protect(s.handleUpdateTemplate))
	mux.HandleFunc("DELETE /api/recurring/{id}", s.protect(s.handleDeleteTemplate))
	mux.HandleFunc("POST /api/recurring/process", s.protect(s.handleProcessMonth))
	mux.HandleFunc("GET /api/recurring/upcoming", s.protect(s.handleUpcoming))

	mux.HandleFunc("GET /api/budgets", s.protect(s.handleListBudgets))
	mux.HandleFunc("PUT /api/budgets", s.protect(s.handleSetBudget))
	mux.HandleFunc("GET /api/budgets/suggestions", s.protect(s.handleSuggestions))

	mux.HandleFunc("GET /api/dashboard", s.protect(s.handleDashboard))

	mux.HandleFunc("GET /api/outbox/stats", s.protect(s.handleOutboxStats))
	mux.HandleFunc("POST /api/outbox/retry", s.protect(s.handleOutboxRetry))

	return s
}

// protect wraps a handler with request logging, rate limiting, security
// headers and user identification.
func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)
		requestID := generateRequestID()

		ctx := context.WithValue(r.Context(), contextKey("request_id"), requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			log.FieldRequestID, requestID,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldClientIP, clientIP)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				log.FieldClientIP, clientIP, log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		userID := sanitizeInput(r.Header.Get("X-User-ID"))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), userIDKey, userID))

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			log.FieldRequestID, requestID,
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatus, rw.statusCode,
			log.FieldDuration, time.Since(start).Milliseconds())
	}
}

// userID returns the authenticated user set by protect.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// respondError maps domain and storage errors onto HTTP statuses.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrUnavailable):
		slog.ErrorContext(r.Context(), "Storage unavailable", log.FieldError, err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	case errors.Is(err, core.ErrInvalidMonth):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidDay),
		errors.Is(err, core.ErrEmptyName),
		errors.Is(err, core.ErrEmptyCategory),
		errors.Is(err, core.ErrUnknownCategory):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.ErrorContext(r.Context(), "Request failed", log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ListCategories(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "storage not ready")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// invalidateUserCaches drops cached views after a mutation.
func (s *Server) invalidateUserCaches(user string) {
	s.overviewCache.DeletePrefix(user + ":")
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
