package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DexBinion/nuscape-backend/internal/security"
	"github.com/DexBinion/nuscape-backend/internal/transport/rest/response"
)

// Pinger reports a dependency's health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterDeps struct {
	Limiter   RateLimiter
	RateLimit int
	RateWin   time.Duration
	Handler   *Handler
	Verifier  security.AccessTokenVerifier
	JWTIssuer string
	DB        Pinger
	Cache     Pinger
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.Verifier == nil {
		panic("rest.NewRouter: nil verifier")
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(RequestID)
	r.Use(HTTPLogger)

	// Panic recovery
	r.Use(middleware.Recoverer)

	if d.Limiter != nil {
		r.Use(RateLimitMiddleware(d.Limiter, d.RateLimit, d.RateWin))
	}
	r.Use(SecurityHeaders)

	r.Get("/healthz", healthz(d.DB, d.Cache))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(d.Verifier, AuthOptions{ExpectedIssuer: d.JWTIssuer}))

		r.Post("/usage/batch", Instrument("/usage/batch", d.Handler.RecordUsage))
		r.Post("/events/batch", Instrument("/events/batch", d.Handler.EnqueueEvents))
		r.Post("/usage/rollups/run", Instrument("/usage/rollups/run", d.Handler.RunRollup))

		r.Get("/controls", Instrument("/controls", d.Handler.GetControls))
		r.Put("/controls", Instrument("/controls", d.Handler.PutControls))
	})

	return r
}

func healthz(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"db": "ok", "cache": "ok"}
		healthy := true

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				status["db"] = "down"
				healthy = false
			}
		}
		if cache != nil {
			if err := cache.Ping(ctx); err != nil {
				status["cache"] = "down"
				healthy = false
			}
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		response.Data(w, code, status)
	}
}
