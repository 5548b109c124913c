// Command tenantauth-server starts the multi-tenant authentication gRPC server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/tenantauth/internal/config"
	"github.com/and161185/tenantauth/internal/crypto"
	"github.com/and161185/tenantauth/internal/limiter"
	"github.com/and161185/tenantauth/internal/migrate"
	"github.com/and161185/tenantauth/internal/notify"
	"github.com/and161185/tenantauth/internal/obs"
	"github.com/and161185/tenantauth/internal/otp"
	"github.com/and161185/tenantauth/internal/repository"
	"github.com/and161185/tenantauth/internal/repository/memory"
	"github.com/and161185/tenantauth/internal/repository/postgres"
	grpcserver "github.com/and161185/tenantauth/internal/server/grpc"
	"github.com/and161185/tenantauth/internal/service"
	"github.com/and161185/tenantauth/internal/session"
	"github.com/and161185/tenantauth/internal/sweeper"
	"github.com/and161185/tenantauth/internal/telemetry"
	"github.com/and161185/tenantauth/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const notifyStreamMaxLen = 100_000

// main loads configuration, opens the store and serves gRPC until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.Dev)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.StoreDriver),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(dev bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, "tenantauth", version)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)
	metrics.SetBuildInfo(version)

	// Store
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if store.Close != nil {
		defer store.Close()
	}

	// Notifications
	var notifier notify.Notifier = notify.NewLog(logger, cfg.LogCodes)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		notifier = notify.NewStream(rdb, cfg.RedisStream, notifyStreamMaxLen, logger)
	}

	// Core components
	hasher, err := crypto.NewHasher(cfg.Hasher, cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hasher: %w", err)
	}
	issuer, err := token.NewIssuer(token.Config{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Secret:   []byte(cfg.JWTKey),
		Leeway:   30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("issuer: %w", err)
	}
	engine := otp.NewEngine(store.OTPs, notifier, metrics, logger, otp.DefaultConfig())
	ledger := session.NewLedger(store.Tokens, metrics, logger)
	peers := limiter.NewPeers(cfg.PeerRPS, cfg.PeerBurst, 10*time.Minute)
	sweep := sweeper.New(engine, ledger, peers, logger)

	// Services
	authSvc := service.NewAuthService(service.AuthDeps{
		Users:    store.Users,
		Hasher:   hasher,
		Issuer:   issuer,
		OTP:      engine,
		Sessions: ledger,
		Guard:    limiter.NewGuard(store.Users),
		Notifier: notifier,
		Metrics:  metrics,
		Log:      logger,
	})
	app := grpcserver.New(grpcserver.Deps{
		Auth:      authSvc,
		Tenants:   service.NewTenantService(store.Tenants, logger),
		Users:     service.NewUserService(store.Users, ledger, logger),
		Sweeper:   sweep,
		MasterKey: cfg.MasterKey,
		Log:       logger,
	})

	// gRPC server with interceptors
	opts := []grpc.ServerOption{
		telemetry.ServerOption(),
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.MetricsUnary(metrics),
			grpcserver.LoggingUnary(logger),
			grpcserver.RateLimitUnary(peers, metrics, logger),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("serving plaintext gRPC (dev mode)")
	}
	s := grpc.NewServer(opts...)
	app.Register(s)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}

	// Listen
	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLSCert != ""))
		errCh <- s.Serve(lis)
	}()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           obs.Handler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics: %w", err)
			}
		}()
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if cfg.SweepInterval > 0 {
		go sweep.Run(sweepCtx, cfg.SweepInterval)
	}

	// Wait for stop
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	hs.Shutdown()
	stopSweep()
	if metricsSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(sctx)
		cancel()
	}

	// graceful shutdown
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Stop()
	}
	return serveErr
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.NewStore(nil), nil
	}
	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		return repository.Store{}, fmt.Errorf("migrate up: %w", err)
	}
	db, err := postgres.New(ctx, cfg.DSN, int32(cfg.MaxConns))
	if err != nil {
		return repository.Store{}, fmt.Errorf("postgres: %w", err)
	}
	return postgres.NewStore(db), nil
}
