package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Toyota-Connected-India/red-monkey/internal/config"
	"github.com/Toyota-Connected-India/red-monkey/internal/controlplane"
	"github.com/Toyota-Connected-India/red-monkey/internal/proxy"
	"github.com/Toyota-Connected-India/red-monkey/internal/registry"
	"github.com/Toyota-Connected-India/red-monkey/internal/upstream"
)

const shutdownGracePeriod = 10 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "redfaultproxy",
		Short: "Transparent Redis proxy that injects configurable faults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.AddCommand(newServeCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the data-plane proxy and control-plane HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		cfg := zap.NewDevelopmentConfig()
		return cfg.Build()
	}
	return zap.NewProduction()
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("constructing logger: %w", err)
	}
	defer logger.Sync()

	reg := registry.New()
	connector := upstream.NewConnector(cfg.RedisAddress, cfg.IsRedisTLSConn)

	proxyAddr := fmt.Sprintf(":%d", cfg.ProxyPort)
	listener := proxy.NewListener(proxyAddr, connector, reg, logger)

	router := controlplane.NewRouter(reg, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.FaultConfigServerPort),
		Handler: router.Handler(),
	}

	errCh := make(chan error, 2)

	go func() {
		if err := listener.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("data-plane listener: %w", err)
		}
	}()

	go func() {
		logger.Info("control-plane listening", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("control-plane listener: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("listener failed, shutting down", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	if err := listener.Shutdown(ctx); err != nil {
		logger.Warn("data-plane shutdown did not complete cleanly", zap.Error(err))
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("control-plane shutdown did not complete cleanly", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
