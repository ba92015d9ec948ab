/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address for rate limiting
  3. Logger:     Structured request logging (zap)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request counters and latency
  6. RateLimit:  Token bucket per client (optional)
  7. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/vouchers/*         Voucher lifecycle
  /api/payments           Payment recording
  /api/vendors/*          Vendor accounts
  /api/admin/*            Admin operations
  /api/voucher-numbers/*  Number preview
  /metrics                Prometheus scrape endpoint
  /healthz                Liveness and storage check

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/warp/jobwork-ledger/telemetry"
)

// RouterOptions configures NewRouter. Zero values disable the optional parts.
type RouterOptions struct {
	Logger         *zap.Logger
	Metrics        *telemetry.Metrics
	AllowedOrigins []string
	RateLimit      float64 // requests per second per client
	RateBurst      int

	// Health checks storage reachability for /healthz.
	Health func(ctx context.Context) error
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Instrument)
	}
	if opts.RateLimit > 0 {
		r.Use(RateLimit(rate.Limit(opts.RateLimit), opts.RateBurst))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthz(opts.Health))
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/vouchers", func(r chi.Router) {
			r.Get("/", h.ListVouchers)
			r.Post("/", h.CreateVoucher)
			r.Get("/{id}", h.GetVoucher)
			r.Delete("/{id}", h.DeleteVoucher)
			r.Get("/{id}/view", h.GetVoucherView)
			r.Get("/{id}/payments", h.ListVoucherPayments)
			r.Post("/{id}/receive", h.Receive)
			r.Post("/{id}/forward", h.Forward)
			r.Post("/{id}/complete", h.Complete)
		})

		r.Post("/payments", h.RecordPayment)
		r.Get("/vendors/{id}/account", h.GetVendorAccount)
		r.Get("/vendors/{id}/payments", h.ListVendorPayments)
		r.Get("/voucher-numbers/next", h.PreviewNextNumber)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/cache-audit", h.RunCacheAudit)
		})
	})

	return r
}

func healthz(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
