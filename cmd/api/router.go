package main

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/noah-isme/dental-quote/internal/catalog"
	"github.com/noah-isme/dental-quote/internal/checkout"
	"github.com/noah-isme/dental-quote/internal/common"
	"github.com/noah-isme/dental-quote/internal/health"
	"github.com/noah-isme/dental-quote/internal/obs"
	"github.com/noah-isme/dental-quote/internal/payment"
	"github.com/noah-isme/dental-quote/internal/promo"
	"github.com/noah-isme/dental-quote/internal/quote"
	"github.com/noah-isme/dental-quote/internal/ratelimit"
	"github.com/noah-isme/dental-quote/internal/security"
)

// routes bundles everything the HTTP router mounts.
type routes struct {
	Logger      zerolog.Logger
	Metrics     *obs.HTTPMetrics
	Tracing     bool
	CORSOrigins []string
	HSTS        bool

	MetricsHandler http.Handler
	Pprof          http.Handler

	Global    ratelimit.Global
	CodeLimit ratelimit.Handler
	Idem      common.Idem

	Health   health.Handler
	Catalog  *catalog.Handler
	Promo    *promo.Handler
	Quotes   *quote.Handler
	Checkout *checkout.Handler
	Webhook  payment.Webhook
}

func newRouter(rt routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if rt.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if rt.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: rt.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: rt.Logger}.Middleware)
	r.Use(security.Headers{EnableHSTS: rt.HSTS}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(rt.CORSOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if rt.MetricsHandler != nil {
		r.Handle("/metrics", rt.MetricsHandler)
	}
	if rt.Pprof != nil {
		r.Mount("/debug", rt.Pprof)
	}
	r.Get("/health/live", rt.Health.Live)
	r.Get("/health/ready", rt.Health.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(rt.Global.Middleware)

		v.Get("/treatments", rt.Catalog.Treatments)
		v.Get("/treatments/{id}", rt.Catalog.TreatmentDetail)

		v.Group(func(g chi.Router) {
			g.Use(security.BodyLimit{Max: security.DefaultMaxBody}.Middleware)

			g.Route("/promo", func(p chi.Router) {
				p.Post("/validate", rt.Promo.Validate)
				p.Get("/packages", rt.Promo.Packages)
			})

			g.Route("/quotes", func(q chi.Router) {
				q.Post("/", rt.Quotes.Create)
				q.Route("/{sessionID}", func(s chi.Router) {
					s.Get("/", rt.Quotes.Get)
					s.Delete("/", rt.Quotes.Reset)
					s.Post("/lines", rt.Quotes.AddLine)
					s.Patch("/lines/{treatmentID}", rt.Quotes.SetQuantity)
					s.Delete("/lines/{treatmentID}", rt.Quotes.RemoveLine)
					s.With(rt.CodeLimit.Middleware).Post("/code", rt.Quotes.ApplyCode)
					s.Delete("/code", rt.Quotes.ClearCode)
					s.With(rt.Idem.Middleware).Post("/submit", rt.Checkout.Submit)
				})
			})
		})

		v.Get("/submissions/{submissionID}", rt.Checkout.Get)
		v.Post("/webhooks/payment/{provider}", rt.Webhook.Handle)
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
