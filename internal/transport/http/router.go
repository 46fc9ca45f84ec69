package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-account-tokens/internal/application/account"
	"github.com/go-account-tokens/internal/config"
	"github.com/go-account-tokens/internal/transport/http/handler"
	appmiddleware "github.com/go-account-tokens/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const verifiedPath = "/user/verified"

// Deps holds the services the router exposes.
type Deps struct {
	Account  account.Service
	Verifier appmiddleware.TokenVerifier // nil disables the authenticated routes
	Metrics  prometheus.Gatherer         // nil disables /metrics
}

// NewRouter builds and returns the application router. ctx bounds the
// rate limiter's background cleanup.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	signinRL := hourlyLimiter(ctx, cfg.SigninRatePerHour)
	sensitiveRL := hourlyLimiter(ctx, cfg.SensitiveRatePerHour)

	healthH := handler.NewHealthHandler()
	userH := handler.NewUserHandler(deps.Account, verifiedPath)

	r.Get("/health-check/{action}", healthH.Ping)
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/user", func(r chi.Router) {
		r.With(sensitiveRL.Limit).Post("/signup", userH.Signup)
		r.With(signinRL.Limit).Post("/signin", userH.Signin)
		r.Get("/verify/{userId}/{verifier}", userH.Verify)
		r.Get("/verified", userH.Verified)
		r.With(sensitiveRL.Limit).Post("/forgotpassword", userH.ForgotPassword)
		r.Post("/resetpassword", userH.ResetPassword)

		if deps.Verifier != nil {
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.Auth(deps.Verifier))
				r.With(sensitiveRL.Limit).Post("/verify/resend", userH.ResendVerification)
				r.Delete("/me", userH.DeleteMe)
			})
		}
	})

	return r
}

// hourlyLimiter allows perHour requests per client address per hour, all of
// them available as an initial burst.
func hourlyLimiter(ctx context.Context, perHour int) *appmiddleware.RateLimiter {
	if perHour < 1 {
		perHour = 1
	}
	rl := appmiddleware.NewRateLimiter(rate.Every(time.Hour/time.Duration(perHour)), perHour, 2*time.Hour)
	go rl.Run(ctx, 5*time.Minute)
	return rl
}
