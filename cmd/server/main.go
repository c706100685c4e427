package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/kevin07696/phonepay-ivr/internal/adapters/database"
	"github.com/kevin07696/phonepay-ivr/internal/adapters/epx"
	"github.com/kevin07696/phonepay-ivr/internal/adapters/events"
	"github.com/kevin07696/phonepay-ivr/internal/adapters/memory"
	adapterports "github.com/kevin07696/phonepay-ivr/internal/adapters/ports"
	"github.com/kevin07696/phonepay-ivr/internal/adapters/secrets"
	"github.com/kevin07696/phonepay-ivr/internal/config"
	"github.com/kevin07696/phonepay-ivr/internal/domain/ports"
	ivrhandler "github.com/kevin07696/phonepay-ivr/internal/handlers/ivr"
	"github.com/kevin07696/phonepay-ivr/internal/ivr/flow"
	"github.com/kevin07696/phonepay-ivr/internal/ivr/twiml"
	internalmw "github.com/kevin07696/phonepay-ivr/internal/middleware"
	"github.com/kevin07696/phonepay-ivr/internal/seed"
	"github.com/kevin07696/phonepay-ivr/internal/services/ivrpayment"
	"github.com/kevin07696/phonepay-ivr/pkg/middleware"
	"github.com/kevin07696/phonepay-ivr/pkg/observability"
	"github.com/kevin07696/phonepay-ivr/pkg/shutdown"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Phone payment service stopped with error", zap.Error(err))
	}
}

// stores is the customer and ledger pair the flow runs against
type stores struct {
	customers ports.CustomerRepository
	ledger    ports.LedgerRepository
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting phone payment service",
		zap.String("version", version),
		zap.String("env", cfg.Env),
		zap.String("store", cfg.Database.Driver),
		zap.String("gateway", cfg.Gateway.Environment),
	)

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	sm := shutdown.NewManager(logger, cfg.Server.ShutdownTimeout)
	hc := observability.NewHealthChecker()

	secretManager, err := secrets.New(ctx, secretsConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("init secret manager: %w", err)
	}

	st, err := initStores(ctx, cfg, secretManager, hc, sm, logger)
	if err != nil {
		return err
	}

	publisher, err := initPublisher(cfg, sm, logger)
	if err != nil {
		return err
	}

	authToken, err := secrets.Resolve(ctx, secretManager, cfg.Carrier.AuthTokenSecret, cfg.Carrier.AuthToken)
	if err != nil {
		return fmt.Errorf("resolve carrier auth token: %w", err)
	}

	svc := ivrpayment.NewService(
		st.customers,
		st.ledger,
		epx.NewServerPostAdapter(gatewayConfig(cfg), logger),
		publisher,
		twiml.NewBuilder(twiml.Config{
			ActionURL:            cfg.IVR.PaymentURL(),
			EscalateURL:          cfg.IVR.EscalateURL(),
			MainMenuURL:          cfg.IVR.MainMenuURL,
			StoreName:            cfg.IVR.StoreName,
			Voice:                cfg.IVR.Voice,
			Language:             cfg.IVR.Language,
			GatherTimeoutSeconds: cfg.IVR.GatherTimeoutSeconds,
			DialTimeoutSeconds:   cfg.IVR.DialTimeoutSeconds,
			DefaultForwardNumber: cfg.IVR.ForwardNumber,
			CallerID:             cfg.IVR.CallerID,
		}),
		flow.RetryPolicy{MaxRetries: cfg.IVR.MaxRetries},
		logger,
	).WithChargeTimeout(cfg.IVR.ChargeTimeout)

	tracker := shutdown.NewInFlightTracker("ivr-webhooks", logger)
	handler := ivrhandler.NewHandler(svc, logger)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(observability.HTTPMetrics)
	router.Use(tracker.Middleware)
	router.Use(internalmw.SecurityHeaders)
	router.Use(internalmw.NewCarrierSignature(authToken, cfg.IVR.PublicBaseURL, logger).Middleware)

	var paymentMW []func(http.Handler) http.Handler
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}, logger)
		limiter.OnLimit = handler.Throttled
		sm.RegisterNoErr("rate-limiter", limiter.Shutdown)
		paymentMW = append(paymentMW, limiter.Middleware)
	}
	handler.Register(router, paymentMW...)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	adminServer := observability.NewAdminServer(":"+cfg.Admin.Port, hc)

	// Registered last so they stop first: the webhook server stops taking
	// callbacks, then in-flight charges finish while the stores are still open.
	sm.Register("in-flight", tracker.Shutdown)
	sm.RegisterHTTPServer("admin-server", adminServer)
	sm.RegisterHTTPServer("webhook-server", httpServer)
	sm.RegisterNoErr("readiness", func() { hc.SetReady(false) })

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Admin.GRPCPort != "" {
		grpcServer, healthServer := observability.NewGRPCHealthServer()
		lis, err := net.Listen("tcp", ":"+cfg.Admin.GRPCPort)
		if err != nil {
			return fmt.Errorf("listen grpc health: %w", err)
		}
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		sm.RegisterNoErr("grpc-health", func() {
			healthServer.Shutdown()
			grpcServer.GracefulStop()
		})

		g.Go(func() error {
			logger.Info("gRPC health server listening", zap.String("address", lis.Addr().String()))
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc health server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("Webhook server listening", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Admin server listening", zap.String("address", adminServer.Addr))
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	hc.SetReady(true)
	logger.Info("Phone payment service ready",
		zap.String("payment_url", cfg.IVR.PaymentURL()),
		zap.Bool("signature_check", authToken != ""),
	)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down phone payment service")
		return sm.Shutdown()
	})

	return g.Wait()
}

func initLogger(cfg *config.Config) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	if cfg.IsProduction() {
		zapCfg := zap.NewProductionConfig()
		zapCfg.Level = zap.NewAtomicLevelAt(level)
		logger, err := zapCfg.Build()
		if err != nil {
			return zap.NewExample()
		}
		return logger
	}

	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zapCfg.Build()
	if err != nil {
		return zap.NewExample()
	}
	return logger
}

func secretsConfig(cfg *config.Config) secrets.Config {
	out := secrets.Config{
		Provider:  cfg.Secrets.Provider,
		LocalPath: cfg.Secrets.LocalPath,
	}
	switch cfg.Secrets.Provider {
	case "aws":
		aws := secrets.DefaultAWSSecretsManagerConfig(cfg.Secrets.AWSRegion)
		aws.Profile = cfg.Secrets.AWSProfile
		aws.Endpoint = cfg.Secrets.Endpoint
		aws.CacheTTL = cfg.Secrets.CacheTTL
		out.AWS = aws
	case "vault":
		vault := secrets.DefaultVaultConfig(cfg.Secrets.VaultAddr)
		vault.Token = cfg.Secrets.VaultToken
		vault.MountPath = cfg.Secrets.VaultMount
		vault.CacheTTL = cfg.Secrets.CacheTTL
		out.Vault = vault
	}
	return out
}

func initStores(
	ctx context.Context,
	cfg *config.Config,
	sm adapterports.SecretManagerAdapter,
	hc *observability.HealthChecker,
	shutdownManager *shutdown.Manager,
	logger *zap.Logger,
) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using the in-memory store, payments are lost on restart")
		store := memory.NewStore()
		if cfg.Database.SeedFile != "" {
			customers, err := seed.LoadFile(cfg.Database.SeedFile)
			if err != nil {
				return nil, err
			}
			if err := seed.Import(ctx, store, customers, logger); err != nil {
				return nil, err
			}
		}
		return &stores{customers: store, ledger: store}, nil
	}

	databaseURL, err := secrets.Resolve(ctx, sm, cfg.Database.URLSecret, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("resolve database url: %w", err)
	}

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(ctx, databaseURL, "up"); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("Database migrations applied")
	}

	dbCfg := database.DefaultPostgreSQLConfig(databaseURL)
	dbCfg.MaxConns = cfg.Database.MaxConns
	dbCfg.MinConns = cfg.Database.MinConns
	dbCfg.LookupTimeout = cfg.Database.LookupTimeout
	if cfg.Database.MaxConnLifetime > 0 {
		dbCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	}
	if cfg.Database.MaxConnIdleTime > 0 {
		dbCfg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	}

	adapter, err := database.NewPostgreSQLAdapter(ctx, dbCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	adapter.StartPoolMonitoring(ctx, 30*time.Second)
	hc.AddCheck("database", adapter.HealthCheck)
	shutdownManager.RegisterNoErr("database", adapter.Close)

	return &stores{customers: adapter.CustomerRepository(), ledger: adapter.LedgerRepository()}, nil
}

func initPublisher(cfg *config.Config, sm *shutdown.Manager, logger *zap.Logger) (ports.EventPublisher, error) {
	if cfg.NATS.URL == "" {
		logger.Info("NATS not configured, flow events will not be published")
		return events.NewNoopPublisher(logger), nil
	}

	natsCfg := events.DefaultNATSConfig(cfg.NATS.URL)
	if cfg.NATS.Timeout > 0 {
		natsCfg.Timeout = cfg.NATS.Timeout
	}
	publisher, err := events.NewNATSPublisher(natsCfg, logger)
	if err != nil {
		return nil, err
	}
	sm.RegisterCloser("nats", publisher)
	return publisher, nil
}

func gatewayConfig(cfg *config.Config) *epx.ServerPostConfig {
	gw := epx.DefaultServerPostConfig(cfg.Gateway.Environment)
	if cfg.Gateway.BaseURL != "" {
		gw.BaseURL = cfg.Gateway.BaseURL
	}
	gw.CustNbr = cfg.Gateway.CustNbr
	gw.MerchNbr = cfg.Gateway.MerchNbr
	gw.DBANbr = cfg.Gateway.DBANbr
	gw.TerminalNbr = cfg.Gateway.TerminalNbr
	gw.Timeout = cfg.Gateway.Timeout
	return gw
}
