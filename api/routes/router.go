package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielvey/a2ubridge/api/controllers"
	"github.com/danielvey/a2ubridge/api/middleware"
	"github.com/danielvey/a2ubridge/internal/payouts"
	"github.com/danielvey/a2ubridge/pkg/config"
	"github.com/danielvey/a2ubridge/pkg/db"
	"github.com/danielvey/a2ubridge/pkg/logger"
	pkgredis "github.com/danielvey/a2ubridge/pkg/redis"
)

// RouterParams collects the dependencies the HTTP surface needs.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            db.Pinger
	Redis         *pkgredis.Client
	PayoutService *payouts.Service
	Metrics       prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(p.Config))
		r.Get("/ready", controllers.HealthReady(p.Config, p.Logger, readinessDeps(p)))
	})

	gatherer := p.Metrics
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	payoutPolicy := middleware.NewRateLimitPolicy(
		"payout",
		p.Config.RateLimit.PayoutWindow,
		p.Config.RateLimit.PayoutIPLimit,
		p.Config.RateLimit.PayoutUIDLimit,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKey(p.Config.App.APIKey, p.Logger))
		if p.Redis != nil {
			r.Use(middleware.Idempotency(p.Redis, p.Config.Payout.IdempotencyTTL, p.Logger))
		}

		r.Route("/payouts", func(r chi.Router) {
			create := chi.Chain()
			if p.Redis != nil {
				create = chi.Chain(middleware.RateLimit(payoutPolicy, p.Redis, p.Logger))
			}
			r.With(create...).Post("/", controllers.CreatePayout(p.PayoutService, p.Logger))
			r.Get("/{paymentId}", controllers.GetPayout(p.PayoutService, p.Logger))
		})
	})

	return r
}

func readinessDeps(p RouterParams) map[string]controllers.Pinger {
	deps := map[string]controllers.Pinger{}
	if p.DB != nil {
		deps["database"] = p.DB
	}
	if p.Redis != nil {
		deps["redis"] = p.Redis
	}
	return deps
}
