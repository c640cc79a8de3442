package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxbiblia/ark/internal/logger"
	"github.com/voxbiblia/ark/pkg/api/handlers"
	"github.com/voxbiblia/ark/pkg/metrics"
)

// NewRouter assembles the ops API routes around the given engine.
//
// Routes:
//   - GET /health        liveness probe
//   - GET /health/ready  readiness probe
//   - GET /status        engine snapshot
//   - GET /metrics       Prometheus scrape endpoint, when metrics are enabled
func NewRouter(engine handlers.Engine) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	health := handlers.NewHealthHandler(engine)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", health.Liveness)
		r.Get("/ready", health.Readiness)
	})

	r.Get("/status", handlers.NewStatusHandler(engine).Status)

	// Prometheus scrape endpoint. Only mounted when the registry exists, so
	// a metrics-disabled deployment returns 404 here.
	if reg := metrics.GetRegistry(); reg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	// Root redirect for anyone poking the port by hand
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs one line per ops API request, tagged with the chi
// request id. Health probes poll constantly, so those lines stay at debug.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		emit := logger.Info
		if p := r.URL.Path; p == "/health" || strings.HasPrefix(p, "/health/") {
			emit = logger.Debug
		}
		emit("ops API request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
