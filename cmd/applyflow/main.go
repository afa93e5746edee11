package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xela07ax/applyflow/internal/agents"
	"github.com/xela07ax/applyflow/internal/connectors"
	"github.com/xela07ax/applyflow/internal/console/handler"
	"github.com/xela07ax/applyflow/internal/console/server"
	"github.com/xela07ax/applyflow/internal/console/service"
	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/engine"
	"github.com/xela07ax/applyflow/internal/infra"
	"github.com/xela07ax/applyflow/internal/infra/auth"
	"github.com/xela07ax/applyflow/internal/pipeline"
	"github.com/xela07ax/applyflow/internal/repository/postgres"
	"github.com/xela07ax/applyflow/internal/resilience"
	"github.com/xela07ax/applyflow/internal/session"
)

// demoUserID - владелец сессий, когда авторизация консоли выключена
const demoUserID = "demo"

func main() {
	configPath := flag.String("config", "", "path to config file (default: ./config.yaml or ./configs/config.yaml)")
	flag.Parse()

	cfg, err := infra.LoadConfigFrom(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("applyflow stopped with error", zap.Error(err))
	}
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст фоновых горутин: SIGINT/SIGTERM отменяет слушателей и health loop
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Инфраструктура
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	var db *sql.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.Open(appCtx, cfg.Database)
		if err != nil {
			return fmt.Errorf("database unreachable: %w", err)
		}
		defer db.Close()
		logger.Info("postgres connected")
	} else {
		logger.Warn("database.url is empty: applications kept in memory, sessions are not archived")
	}
	return runWith(appCtx, cfg, logger, reg, metrics, db)
}

func runWith(appCtx context.Context, cfg *infra.Config, logger *zap.Logger, reg *prometheus.Registry, metrics *engine.Metrics, db *sql.DB) error {
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(appCtx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	} else {
		logger.Warn("redis.addr is empty: session cancellation is local to this instance")
	}

	// 2. Коллабораторы агентов
	deps, closeDeps, err := buildDeps(cfg, logger, db)
	if err != nil {
		return err
	}
	defer closeDeps()

	// 3. Реестр агентов
	registry := engine.NewRegistry(engine.RegistryConfig{
		BreakerFailureThreshold: cfg.Engine.BreakerThreshold,
		BreakerTimeout:          cfg.Engine.BreakerTimeout,
		HealthCheckTimeout:      cfg.Engine.HealthCheckTimeout,
	}, metrics, logger)
	agents.Register(registry, deps)

	configs := make([]engine.AgentConfig, 0, len(cfg.Engine.Agents))
	for _, name := range cfg.Engine.Agents {
		configs = append(configs, engine.AgentConfig{Name: name})
	}
	report, err := registry.InitializeAgents(appCtx, configs)
	if err != nil {
		return err
	}
	if len(report.Succeeded) == 0 {
		return domain.ConfigurationError("main", "no agents initialized: %v", report.Failed)
	}
	logger.Info("agents initialized",
		zap.Strings("succeeded", report.Succeeded),
		zap.Any("failed", report.Failed))
	go registry.StartHealthLoop(appCtx, cfg.Engine.HealthCheckInterval)

	// 4. Пайплайн и сессии
	retrier := resilience.NewRetrier(resilience.RetryPolicy{
		MaxRetries: cfg.Engine.RetryMax,
		BaseDelay:  cfg.Engine.RetryBaseDelay,
		MaxDelay:   cfg.Engine.RetryMaxDelay,
		Backoff:    resilience.Backoff(cfg.Engine.RetryBackoff),
	}, logger)
	pl := pipeline.New(registry, retrier, metrics, logger)

	cancels := session.NewCancelRegistry(rdb, logger)
	if err := cancels.Init(appCtx); err != nil {
		return err
	}
	go cancels.StartListener(appCtx)

	opts := session.Options{
		Defaults: domain.SessionConfig{
			MaxItems:       cfg.Pipeline.MaxItemsPerRun,
			RateLimitDelay: cfg.Pipeline.RateLimitDelay,
		},
		Cancels: cancels,
		Metrics: metrics,
		Logger:  logger,
	}
	var archive *session.Archive
	if db != nil {
		sessions := postgres.NewSessionRepo(db)
		archive = session.NewArchive(sessions, session.ArchiveConfig{
			BufferSize:    cfg.Engine.ArchiveBufferSize,
			FlushInterval: cfg.Engine.ArchiveFlushInterval,
		}, metrics.ArchiveBufferFill, logger)
		archive.Start()
		opts.Archive = archive
	}
	manager := session.NewManager(pl, opts)
	if db != nil {
		if _, err := manager.RestoreHistory(appCtx, postgres.NewSessionRepo(db), 1000); err != nil {
			logger.Warn("history not restored", zap.Error(err))
		}
	}

	// 5. Консоль
	authn, authH, err := buildAuth(cfg, logger, db)
	if err != nil {
		return err
	}
	sessionSvc := service.NewSessionService(manager, logger)
	sessionSvc.AutoSubmitDefault = cfg.Pipeline.AutoSubmit
	console := server.NewConsoleServer(logger,
		authn,
		authH,
		handler.NewSessionHandler(sessionSvc),
		handler.NewAgentHandler(service.NewAgentService(registry, logger)),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}

	errCh := make(chan error, 2)
	for _, s := range []*http.Server{srv, metricsSrv} {
		go func() {
			logger.Info("http server started", zap.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", s.Addr, err)
			}
		}()
	}

	var runErr error
	select {
	case <-appCtx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	// 6. Graceful Shutdown: HTTP, затем идущие прогоны, затем архив
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("console shutdown", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("sessions interrupted at shutdown", zap.Error(err))
	}
	if archive != nil {
		archive.Stop()
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown", zap.Error(err))
	}
	logger.Info("applyflow exited properly")
	return runErr
}

// buildDeps собирает коллабораторы агентов по режиму. В demo все в памяти.
func buildDeps(cfg *infra.Config, logger *zap.Logger, db *sql.DB) (agents.Deps, func(), error) {
	deps := agents.Deps{
		Jobs:       connectors.NewStaticJobSource(),
		Completion: connectors.EchoCompletion{},
		Store:      connectors.NewMemoryStore(),
		Automation: connectors.NewMockAutomation(),
		Logger:     logger,
	}
	closeFn := func() {}

	if db != nil {
		deps.Store = postgres.NewApplicationRepo(db)
	}
	if cfg.Engine.Mode != infra.ModeLive {
		logger.Info("running in demo mode")
		return deps, closeFn, nil
	}

	deps.Completion = connectors.NewHTTPCompletion(connectors.HTTPCompletionConfig{
		BaseURL: cfg.Completion.BaseURL,
		APIKey:  cfg.Completion.APIKey,
		Model:   cfg.Completion.Model,
		Timeout: cfg.Completion.Timeout,
	})
	if cfg.Automation.GRPCAddr != "" {
		conn, err := grpc.NewClient(cfg.Automation.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return deps, closeFn, fmt.Errorf("automation client: %w", err)
		}
		deps.Automation = connectors.NewGRPCAutomation(conn, cfg.Automation.Method)
		closeFn = func() { _ = conn.Close() }
	} else {
		logger.Warn("automation.grpc_addr is empty: submissions are simulated")
	}
	logger.Info("running in live mode", zap.String("completion", cfg.Completion.BaseURL))
	return deps, closeFn, nil
}

// buildAuth: RS256 с логином через Postgres или анонимный доступ, если авторизация выключена
func buildAuth(cfg *infra.Config, logger *zap.Logger, db *sql.DB) (func(http.Handler) http.Handler, *handler.AuthHandler, error) {
	if !cfg.Auth.Enabled {
		logger.Warn("console auth disabled: all requests act as admin", zap.String("user_id", demoUserID))
		return auth.Anonymous(demoUserID), nil, nil
	}
	if db == nil {
		return nil, nil, domain.ConfigurationError("main", "auth.enabled requires database.url for operator accounts")
	}
	key, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		return nil, nil, domain.NewError(domain.KindConfiguration, "main", "invalid auth private key", err)
	}
	pub, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		return nil, nil, domain.NewError(domain.KindConfiguration, "main", "invalid auth public key", err)
	}
	if !pub.Equal(&key.PublicKey) {
		return nil, nil, domain.ConfigurationError("main", "auth public key does not match private key")
	}
	authSvc := service.NewAuthService(postgres.NewUserRepo(db), key, cfg.Auth.TokenTTL, logger)
	authSvc.MinCost = cfg.Auth.BcryptCost
	return auth.NewMiddleware(authSvc, logger), handler.NewAuthHandler(authSvc, logger), nil
}
