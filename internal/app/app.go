package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/admintoken"
	"github.com/ayo6706/saldo-exchange/internal/api"
	"github.com/ayo6706/saldo-exchange/internal/api/middleware"
	"github.com/ayo6706/saldo-exchange/internal/config"
	"github.com/ayo6706/saldo-exchange/internal/db"
	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/gateway"
	"github.com/ayo6706/saldo-exchange/internal/idempotency"
	"github.com/ayo6706/saldo-exchange/internal/notify"
	"github.com/ayo6706/saldo-exchange/internal/observability"
	"github.com/ayo6706/saldo-exchange/internal/proofstore"
	"github.com/ayo6706/saldo-exchange/internal/rates"
	"github.com/ayo6706/saldo-exchange/internal/repository"
	"github.com/ayo6706/saldo-exchange/internal/service"
	"github.com/ayo6706/saldo-exchange/internal/websocket"
	"github.com/ayo6706/saldo-exchange/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App owns the process-wide resources and the wired services.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Services api.Services

	repo            *repository.Repository
	idemStore       *idempotency.Store
	expiryWorker    *worker.ExpiryWorker
	pollWorker      *worker.PollWorker
	integrityWorker *worker.IntegrityWorker
}

// Bootstrap loads configuration and installs the global logger.
func Bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}

// Connect opens the database pool and applies migrations when AUTO_MIGRATE is set.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.AutoMigrate {
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", zap.Strings("versions", applied))
		}
	}
	return pool, nil
}

// New wires every service. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Pool: pool, Redis: redisClient}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg := a.Config
	store := repository.NewStore(a.Pool)
	a.repo = repository.NewRepository(a.Pool)
	a.idemStore = idempotency.NewStore(a.Redis, a.Pool, cfg.IdempotencyTTL)

	gw := newGateway(cfg, a.Logger)
	oracle := rates.NewCachedOracle(newOracle(cfg), cfg.RateCacheTTL)

	files, err := proofstore.NewLocalStore(cfg.ProofDir)
	if err != nil {
		return fmt.Errorf("proof store: %w", err)
	}

	hub := websocket.NewHub()
	var outbound notify.Notifier = notify.LogNotifier{}
	if cfg.NotifyRelayURL != "" {
		outbound = notify.NewHTTPRelay(cfg.NotifyRelayURL, cfg.NotifyRelayToken, cfg.AdminEmail, cfg.GatewayTimeout)
	}
	notifier := notify.Multi{outbound, hub}

	signer := admintoken.NewSigner(cfg.AdminActionSecret, cfg.AdminActionTTL, cfg.PublicBaseURL)
	settlement := service.NewSettlementService(store, domain.NewSettlementPolicy(cfg.SettlementTolerance), notifier)
	poll := service.NewPollService(store, gw, settlement, cfg.GatewayTimeout)
	expiry := service.NewExpiryService(store, settlement)
	integrity := service.NewIntegrityService(store)

	a.Services = api.Services{
		Orders: service.NewOrderService(store, gw, oracle, settlement, notifier, signer, service.OrderSettings{
			MinOrderIDR:     cfg.MinOrderIDR,
			NetworkFeesIDR:  cfg.NetworkFeesIDR,
			DuplicateWindow: cfg.DuplicateWindow,
			PaymentWindow:   cfg.PaymentWindow,
			ProofWindow:     cfg.ProofWindow,
			GatewayTimeout:  cfg.GatewayTimeout,
			CallbackBaseURL: cfg.GatewayCallbackURL,
		}),
		Poll:      poll,
		Webhooks:  service.NewWebhookService(store, gateway.NewIPNVerifier(cfg.GatewayIPNSecret, cfg.WebhookSkipSignature), settlement),
		Proofs:    service.NewProofService(store, files, notifier, signer, cfg.ProofMaxBytes),
		Expiry:    expiry,
		Admin:     service.NewAdminActionService(store, signer, service.NewRedisTokenLedger(a.Redis), settlement, cfg.AdminActionTTL),
		Audit:     service.NewAuditService(store),
		Integrity: integrity,
		Hub:       hub,
	}

	a.expiryWorker = worker.NewExpiryWorker(expiry).WithInterval(cfg.ExpirySweepInterval).WithBatchSize(cfg.PollBatchSize)
	a.pollWorker = worker.NewPollWorker(poll).WithPollInterval(cfg.PayoutPollInterval).WithBatchSize(cfg.PollBatchSize)
	a.integrityWorker = worker.NewIntegrityWorker(integrity).WithInterval(cfg.IntegrityInterval)
	return nil
}

// SweepOnce runs one expiry pass, for the CLI.
func (a *App) SweepOnce(ctx context.Context) (*service.SweepSummary, error) {
	return a.expiryWorker.SweepOnce(ctx)
}

// PollOnce runs one gateway poll pass, for the CLI.
func (a *App) PollOnce(ctx context.Context) (*service.PollSummary, error) {
	return a.pollWorker.ProcessOnce(ctx)
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	_ = a.Logger.Sync()
}

// Serve starts the workers and the HTTP server, blocking until shutdown.
func (a *App) Serve(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopExpiry := a.expiryWorker.Run(ctx)
	stopPoll := a.pollWorker.Run(ctx)
	stopIntegrity := a.integrityWorker.Run(ctx)

	router := api.NewRouter(cfg, logger, a.Pool, a.repo, a.idemStore, a.Redis, a.Services)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort), zap.String("gateway_mode", cfg.GatewayMode))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopExpiry()
	stopPoll()
	stopIntegrity()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return runErr
}

func newGateway(cfg *config.Config, logger *zap.Logger) gateway.Gateway {
	if cfg.GatewayMode == config.GatewayModeMock {
		logger.Warn("using mock payment gateway")
		return gateway.NewMockGateway()
	}
	return gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayPayoutToken, cfg.GatewayTimeout,
		gateway.WithRateLimit(cfg.GatewayRPS))
}

func newOracle(cfg *config.Config) rates.Oracle {
	if cfg.RateSourceURL == "" {
		return rates.NewStaticOracle(cfg.StaticRates)
	}
	return rates.NewHTTPOracle(cfg.RateSourceURL, cfg.GatewayTimeout)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
