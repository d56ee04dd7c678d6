package api

import (
	"net/http"

	"github.com/ayo6706/saldo-exchange/internal/api/handler"
	"github.com/ayo6706/saldo-exchange/internal/api/middleware"
	"github.com/ayo6706/saldo-exchange/internal/api/spec"
	"github.com/ayo6706/saldo-exchange/internal/config"
	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/idempotency"
	"github.com/ayo6706/saldo-exchange/internal/repository"
	"github.com/ayo6706/saldo-exchange/internal/service"
	"github.com/ayo6706/saldo-exchange/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services are the domain services the HTTP surface dispatches to. They are
// built once by the app so the background workers share them.
type Services struct {
	Orders    *service.OrderService
	Poll      *service.PollService
	Webhooks  *service.WebhookService
	Proofs    *service.ProofService
	Expiry    *service.ExpiryService
	Admin     *service.AdminActionService
	Audit     *service.AuditService
	Integrity *service.IntegrityService
	Hub       *websocket.Hub
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	repo      *repository.Repository
	idemStore *idempotency.Store
	redis     redis.Cmdable
	svc       Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, repo *repository.Repository, idemStore *idempotency.Store, redisClient redis.Cmdable, svc Services) *Router {
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		repo:      repo,
		idemStore: idemStore,
		redis:     redisClient,
		svc:       svc,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   api.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Trace-ID"},
		ExposedHeaders:   []string{"X-Trace-ID", "X-Idempotent-Replay"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Handlers
	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	orderHandler := handler.NewOrderHandler(api.svc.Orders, api.svc.Poll, api.svc.Audit, api.repo)
	proofHandler := handler.NewProofHandler(api.svc.Proofs)
	balanceHandler := handler.NewBalanceHandler(api.svc.Orders, api.repo)
	webhookHandler := handler.NewWebhookHandler(api.svc.Webhooks)
	cronHandler := handler.NewCronHandler(api.svc.Expiry, api.svc.Poll, api.cfg.PollBatchSize)
	adminHandler := handler.NewAdminHandler(api.svc.Admin, api.svc.Integrity, api.cfg.AdminLandingURL)
	streamHandler := handler.NewOrderStreamHandler(api.svc.Hub, api.cfg.AllowedOrigins)

	// Ops
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs/index.html", http.StatusMovedPermanently)
	})
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Gateway callbacks and the external scheduler
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/webhooks/gateway/payments", webhookHandler.HandlePaymentIPN)
		r.Post("/v1/webhooks/gateway/payouts", webhookHandler.HandlePayoutIPN)

		r.With(middleware.CronSecret(api.cfg.CronSecret)).Post("/v1/cron/expire-orders", cronHandler.ExpireOrders)
		r.With(middleware.CronSecret(api.cfg.CronSecret)).Post("/v1/cron/check-payouts", cronHandler.CheckPayouts)
	})

	// One-click admin links from email
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Use(middleware.AdminSession(adminHandler.Redirect))
		r.Get("/admin/orders/{code}/complete", adminHandler.Complete)
		r.Get("/admin/orders/{code}/reject", adminHandler.Reject)
	})

	r.With(middleware.WebSocketAuth).Get("/v1/ws/orders", streamHandler.Stream)

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		// Orders
		r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).Post("/v1/orders", orderHandler.CreateOrder)
		r.Get("/v1/orders", orderHandler.ListOrders)
		r.Get("/v1/orders/{code}", orderHandler.GetOrder)
		r.Get("/v1/orders/{code}/history", orderHandler.History)
		r.Post("/v1/orders/{code}/check", orderHandler.CheckOrder)
		r.Post("/v1/orders/{code}/proof", proofHandler.UploadProof)

		// Saldo
		r.Get("/v1/me/balance", balanceHandler.GetBalance)
		r.Get("/v1/me/saldo-entries", balanceHandler.GetStatement)

		r.With(middleware.RequireRole(domain.RoleAdmin)).Get("/v1/admin/integrity", adminHandler.Integrity)
	})

	return r
}
