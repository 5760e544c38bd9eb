package wsdhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/officekit/wsdbroker/internal/logger"
)

// NewRouter builds the chi router: request-id/real-ip/recoverer/timeout
// middleware (the teacher's stack, unchanged) in front of the liveness
// probes and the WebSocket admission route.
func NewRouter(h *Handler, readTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if readTimeout > 0 {
		r.Use(middleware.Timeout(readTimeout))
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.Liveness)
		r.Get("/ready", h.Readiness)
	})

	r.Get("/cool/ws", h.ServeWS)
	r.Get("/cool/clipboard", h.ServeClipboard)

	return r
}

// requestLogger logs each admission-surface request's method, path, and
// status, mirroring the teacher's pkg/api/router.go requestLogger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("admission request completed",
			logger.KeyRequestID, requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			logger.KeyDurationMs, float64(time.Since(start).Microseconds())/1000,
		)
	})
}
