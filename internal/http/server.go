// Package http exposes the series CRUD and processing operations as a JSON
// API, with the middleware, rate limiting, and caching the rest of the
// system expects from its front door.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ricorrenze/internal/cache"
	"ricorrenze/internal/core"
	"ricorrenze/internal/recurrence"
	"ricorrenze/internal/services"
)

// SeriesAPI is the slice of the series service the handlers need.
type SeriesAPI interface {
	Create(ctx context.Context, series core.RecurringSeries) (core.RecurringSeries, error)
	Update(ctx context.Context, id int64, series core.RecurringSeries) (core.RecurringSeries, error)
	Get(ctx context.Context, id int64) (core.RecurringSeries, error)
	List(ctx context.Context) ([]core.RecurringSeries, error)
	Delete(ctx context.Context, id int64) error
	Pause(ctx context.Context, id int64) error
	Resume(ctx context.Context, id int64) (core.RecurringSeries, error)
	ProcessSeries(ctx context.Context, id int64, processAsOf time.Time) (services.Outcome, error)
}

// DueRunner runs a full sweep over every due series.
type DueRunner interface {
	ProcessDue(ctx context.Context, now time.Time) (int, error)
}

type Server struct {
	http.Server
	series      SeriesAPI
	runner      DueRunner
	clock       recurrence.Clock
	rateLimiter *rateLimiter

	// Series listings are read on every page load; cache them briefly and
	// purge on any write.
	listCache *cache.LRUCache[[]core.RecurringSeries]

	cacheManager *cache.Manager
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server. A nil clock falls back to the system clock.
func NewServer(addr string, series SeriesAPI, runner DueRunner, clock recurrence.Clock) *Server {
	if clock == nil {
		clock = recurrence.SystemClock{}
	}

	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		series:       series,
		runner:       runner,
		clock:        clock,
		rateLimiter:  newRateLimiter(),
		listCache:    cache.NewLRUCache[[]core.RecurringSeries](10, 5*time.Minute),
		cacheManager: cache.NewManager(),
	}

	s.cacheManager.Register(s.listCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)
	mux.HandleFunc("/series", s.withMiddleware(s.handleSeries))
	mux.HandleFunc("/series/update", s.withMiddleware(s.handleUpdateSeries))
	mux.HandleFunc("/series/delete", s.withMiddleware(s.handleDeleteSeries))
	mux.HandleFunc("/series/pause", s.withMiddleware(s.handlePauseSeries))
	mux.HandleFunc("/series/resume", s.withMiddleware(s.handleResumeSeries))
	mux.HandleFunc("/series/process", s.withMiddleware(s.handleProcessSeries))
	mux.HandleFunc("/process-due", s.withMiddleware(s.handleProcessDue))

	return s
}

// Shutdown stops the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}

// withMiddleware adds security headers, rate limiting, and request logging.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"client_ip", clientIP)

		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			slog.WarnContext(ctx, "Rate limit exceeded", "client_ip", clientIP, "method", r.Method, "url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		duration := time.Since(start)
		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"client_ip", clientIP)
	}
}

type requestIDKey struct{}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
