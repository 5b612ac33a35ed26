package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fault-rpc/config"
	"fault-rpc/discovery"
	"fault-rpc/interceptor"
	"fault-rpc/invoker"
	"fault-rpc/partner"
	"fault-rpc/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const target = "partner"

func main() {
	configPath := flag.String("config", "", "Path to partnerd.yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "partnerd: %v\n", err)
		os.Exit(2)
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "partnerd: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("partnerd failed", zap.Error(err))
	}
	logger.Info("partnerd stopped")
}

func newLogger(cfg config.Logging) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	partners := partner.NewRegistry()
	for id, mode := range cfg.Modes {
		if err := partners.SetMode(id, mode); err != nil {
			return err
		}
	}

	inv, err := invoker.NewBuilder().
		Register(target, demoMethods()...).
		Register(target, server.AdminMethods(partners)...).
		Build()
	if err != nil {
		return err
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []server.Option{
		server.WithTarget(target),
		server.WithSelfID(cfg.PartnerID),
		server.WithPartners(partners),
		server.WithLogger(logger),
		server.WithTimeouts(cfg.Timeouts.Handshake, cfg.Timeouts.Read, cfg.Timeouts.Write),
		server.WithMetrics(metrics),
	}
	if len(cfg.Etcd.Endpoints) > 0 {
		etcd, err := discovery.NewEtcdRegistry(cfg.Etcd.Endpoints)
		if err != nil {
			return err
		}
		defer etcd.Close()
		opts = append(opts, server.WithDiscovery(etcd, cfg.AdvertiseAddr(), cfg.Etcd.LeaseTTL))
	}

	srv, err := server.NewServer(inv, opts...)
	if err != nil {
		return err
	}
	srv.Use(interceptor.Logging(logger))
	if cfg.RateLimit.RPS > 0 {
		srv.Use(interceptor.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 0))
	}
	requests, err := interceptor.Metrics(metrics, inv.Methods(target))
	if err != nil {
		return err
	}
	srv.Use(requests)

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))
		hs := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
		defer hs.Close()
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve("tcp", cfg.Listen) }()
	logger.Info("partnerd started",
		zap.String("partner_id", cfg.PartnerID),
		zap.String("listen", cfg.Listen),
		zap.Strings("methods", inv.Describe(target)),
		zap.Int("preconfigured_modes", len(cfg.Modes)))

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	if err := srv.Shutdown(5 * time.Second); err != nil {
		return err
	}
	if err := <-served; !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}
