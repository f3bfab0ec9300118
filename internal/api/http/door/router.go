package door

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/engfidow/server-door-lock/internal/logger"
)

// Options configures the router.
type Options struct {
	// WebSocket serves the event channel under /ws. Nil leaves it unmounted.
	WebSocket http.Handler
	// Simulated is reported by /healthz.
	Simulated bool
	// Version is reported by /healthz.
	Version string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(service Service, opts Options) http.Handler {
	h := &handler{
		service: service,
		opts:    opts,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/open", h.handleOpen)
	r.Get("/lock", h.handleLock)
	r.Get("/status", h.handleStatus)
	r.Get("/healthz", h.handleHealth)

	if opts.WebSocket != nil {
		r.Get("/ws", opts.WebSocket.ServeHTTP)
	}

	return r
}

// loggingMiddleware stores a request-scoped logger in the context and logs each request.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithFields(r.Context(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.DebugKV(ctx, "HTTP request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
