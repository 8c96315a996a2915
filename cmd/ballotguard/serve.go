package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sruthiidv/BallotGuard-sub000/api"
	"github.com/sruthiidv/BallotGuard-sub000/internal/config"
	"github.com/sruthiidv/BallotGuard-sub000/keystore"
	"github.com/sruthiidv/BallotGuard-sub000/service"
	"github.com/sruthiidv/BallotGuard-sub000/storage"
)

func serveRun(_ *cobra.Command, _ []string, cfg *config.Config) {
	logger := commonRun()
	if err := run(cfg, logger); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	store, err := storage.Open(cfg.Storage(), logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer store.Close()

	keys, err := keystore.LoadOrGenerate(
		cfg.KeyDir,
		cfg.RSAKeyBits,
		cfg.PaillierKeyBits,
		cfg.BiometricSecret,
		logger,
	)
	if err != nil {
		return fmt.Errorf("loading keys: %w", err)
	}

	svc := service.NewVotingService(
		store,
		keys,
		cfg.Service(),
		service.WithLogger(logger),
		service.WithPromRegistry(prometheus.DefaultRegisterer),
	)
	server := api.NewServer(svc, cfg.ListenAddr(), logger)

	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	g, gctx := errgroup.WithContext(signalCtx)
	if err := server.Start(gctx); err != nil {
		return err
	}
	if cfg.MetricsPort > 0 {
		metricsServer := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.MetricsPort),
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 60 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		logger.Info(
			"serving prometheus metrics on "+metricsServer.Addr,
			"component", programName,
		)
		g.Go(func() error {
			err := metricsServer.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("signal received, initiating graceful shutdown", "component", programName)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})
	return g.Wait()
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the voting API server",
		Run: func(cmd *cobra.Command, args []string) {
			serveRun(cmd, args, mustConfig(cmd))
		},
	}
}
