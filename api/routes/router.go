package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-payments/api/controllers"
	"github.com/angelmondragon/storefront-payments/api/middleware"
	"github.com/angelmondragon/storefront-payments/internal/checkout"
	"github.com/angelmondragon/storefront-payments/internal/orders"
	"github.com/angelmondragon/storefront-payments/pkg/config"
	"github.com/angelmondragon/storefront-payments/pkg/db"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/redis"
)

// NewRouter wires the payment session API. redisClient may be nil, in which
// case idempotency and rate limiting are skipped.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	payments checkout.Service,
	history orders.History,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var (
		redisPinger controllers.Pinger
		idemStore   redis.IdempotencyStore
		rateStore   *redis.Client
	)
	if redisClient != nil {
		redisPinger, idemStore, rateStore = redisClient, redisClient, redisClient
	}
	var dbPinger controllers.Pinger
	if dbP != nil {
		dbPinger = dbP
	}

	openPolicy := middleware.NewRateLimitPolicy(
		"payment_session_open",
		cfg.RateLimit.SessionWindow,
		cfg.RateLimit.SessionIPLimit,
		cfg.RateLimit.SessionOrderLimit,
	)
	retryPolicy := middleware.NewRateLimitPolicy(
		"payment_session_retry",
		cfg.RateLimit.SessionWindow,
		cfg.RateLimit.SessionIPLimit,
		cfg.RateLimit.SessionOrderLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbPinger, redisPinger))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api/public/ping", controllers.PublicPing())

	r.Route("/api/v1/payments/sessions", func(r chi.Router) {
		r.Use(middleware.Idempotency(idemStore, logg))

		r.With(rateLimit(openPolicy, rateStore, logg)).Post("/", controllers.PaymentSessionStart(payments, logg))
		r.Route("/{orderId}", func(r chi.Router) {
			r.Get("/", controllers.PaymentSessionFetch(payments, logg))
			r.Delete("/", controllers.PaymentSessionClose(payments, logg))
			r.Get("/qr", controllers.PaymentSessionQR(payments, logg))
			r.Post("/cancel", controllers.PaymentSessionCancel(payments, logg))
			r.With(rateLimit(retryPolicy, rateStore, logg)).Post("/retry", controllers.PaymentSessionRetry(payments, logg))
		})
	})
	r.Get("/api/v1/payments/orders/{orderId}/attempts", controllers.PaymentAttemptHistory(history, logg))

	return r
}

func rateLimit(policy middleware.RateLimitPolicy, store *redis.Client, logg *logger.Logger) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimit(policy, store, logg)
}
