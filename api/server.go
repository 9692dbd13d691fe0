/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. CORS:       Cross-origin requests for the front desk UI
  3. httplog:    Structured access log (ECS schema, JSON)
  4. CleanPath / Recoverer
  5. Heartbeat:  GET /health for load balancers

ROUTE GROUPS:
  /api/customers/*      Customers, balances, payments, manual charges
  /api/frames/*         Frame lifecycle
  /api/sessions/*       Frames by session
  /api/rate-cards/*     Rate card management
  /api/billing/*        Pure total / distribution previews
  /api/audit            Ledger audit
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus

SECURITY NOTE:
  No authentication middleware. All endpoints are public; deploy behind
  the venue's internal network.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"io"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	CORSOrigins []string
	AccessLog   io.Writer // nil discards the access log
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httplog.RequestLogger(accessLogger(opts.AccessLog), &httplog.Options{
		Level:  slog.LevelDebug,
		Schema: httplog.SchemaECS,
	}))
	r.Use(middleware.CleanPath)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/statement", h.GetStatement)
			r.Post("/{id}/payments", h.ApplyPayment)
			r.Post("/{id}/charges", h.AddCharge)
		})

		r.Route("/frames", func(r chi.Router) {
			r.Post("/", h.StartFrame)
			r.Get("/{id}", h.GetFrame)
			r.Post("/{id}/complete", h.CompleteFrame)
		})

		r.Get("/sessions/{id}/frames", h.ListSessionFrames)

		r.Route("/rate-cards", func(r chi.Router) {
			r.Get("/", h.ListRateCards)
			r.Post("/", h.CreateRateCard)
			r.Get("/{id}", h.GetRateCard)
		})

		r.Route("/billing", func(r chi.Router) {
			r.Post("/total", h.ComputeTotal)
			r.Post("/distribute", h.DistributeCharges)
		})

		r.Get("/audit", h.RunAudit)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

func accessLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = io.Discard
	}
	logFormat := httplog.SchemaECS.Concise(false)
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		ReplaceAttr: logFormat.ReplaceAttr,
	})).With(slog.String("app", "table-ledger"))
}
