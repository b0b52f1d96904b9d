package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"inkpost.org/internal/auth"
	"inkpost.org/internal/config"
	"inkpost.org/internal/httpapi"
	"inkpost.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger depends on config, so fall back to a bare one.
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	logger, err := obs.NewLogger(cfg.LogLevel, cfg.IsDevelopment())
	if err != nil {
		zap.NewExample().Fatal("build logger", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()
	obs.SetLogger(logger)

	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	users, err := openStore(startCtx, cfg.Store, logger)
	cancel()
	if err != nil {
		return err
	}
	defer users.close()

	codec := auth.NewCodec(auth.WithIssuer(cfg.Tokens.Issuer))
	svc, err := auth.NewService(users.store,
		auth.WithCodec(codec),
		auth.WithAccessToken(cfg.Tokens.AccessSecret, cfg.Tokens.AccessExpiry),
		auth.WithRefreshToken(cfg.Tokens.RefreshSecret, cfg.Tokens.RefreshExpiry),
		auth.WithLogger(logger.Named("auth")),
	)
	if err != nil {
		return err
	}
	guard, err := auth.NewGuard(users.store, codec, cfg.Tokens.AccessSecret)
	if err != nil {
		return err
	}

	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return err
	}
	probe := httpapi.ReadyProbe{Store: users.pinger}

	api, err := httpapi.New(svc, guard,
		httpapi.WithReadyProbe(probe),
		httpapi.WithVersion(version),
		httpapi.WithCookies(httpapi.CookieSettings{Secure: cfg.Cookies.Secure, Domain: cfg.Cookies.Domain}),
		httpapi.WithCORSOrigin(cfg.CORSOrigin),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		httpapi.WithTrustedProxies(proxies...),
		httpapi.WithIDFormat(users.validID),
		httpapi.WithLogger(logger.Named("http")),
		httpapi.WithDevelopment(cfg.IsDevelopment()),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, httpapi.NewHealthServer(probe, logger.Named("grpc")))
		go func() {
			logger.Info("starting grpc health", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}

	go func() {
		logger.Info("starting inkpost-api",
			zap.String("version", version),
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.Store.Backend),
			zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if grpcSrv != nil {
			grpcSrv.Stop()
		}
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
