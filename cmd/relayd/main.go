package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	_ "go.uber.org/automaxprocs"

	"github.com/R-uan/rc/internal/config"
	"github.com/R-uan/rc/internal/logging"
	"github.com/R-uan/rc/internal/metrics"
	"github.com/R-uan/rc/internal/pool"
	"github.com/R-uan/rc/internal/relay"
	"github.com/R-uan/rc/internal/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		return 1
	}
	defer logger.Sync()

	reg := metrics.NewRegistry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			logger.Info("metrics listener up", zap.String("addr", cfg.Metrics.ListenAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics listener failed", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		go metrics.NewSampler(reg, logger.Named("metrics")).Run(ctx, cfg.Metrics.SampleInterval)
	}

	workers := pool.New(cfg.Relay.Workers, cfg.Relay.WorkerQueueSize)
	workers.Start(ctx)
	defer workers.Stop()

	relayLog := logger.Named("relay")
	clients := relay.NewClientRegistry(cfg.Relay.MaxClients)
	channels := relay.NewChannelRegistry(cfg.Relay.MaxChannels, clients, workers, relayLog, reg)
	dispatcher := relay.NewDispatcher(clients, channels, relayLog, reg)

	listenFd, err := transport.Listen(cfg.Server.Host, cfg.Server.Port)
	if err != nil {
		logger.Error("listener setup failed", zap.Error(err))
		switch {
		case errors.Is(err, transport.ErrSocket):
			return 1
		case errors.Is(err, transport.ErrBind):
			return 2
		case errors.Is(err, transport.ErrListen):
			return 3
		}
		return 1
	}

	server, err := transport.NewServer(listenFd, clients, dispatcher, workers, logger.Named("transport"), reg)
	if err != nil {
		logger.Error("readiness notifier setup failed", zap.Error(err))
		syscall.Close(listenFd)
		return 1
	}

	logger.Info("relay listening",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Int("max_clients", cfg.Relay.MaxClients),
		zap.Int("max_channels", cfg.Relay.MaxChannels),
		zap.Int("workers", cfg.Relay.Workers))

	err = server.Run(ctx)
	server.Shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("acceptor failed", zap.Error(err))
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}
