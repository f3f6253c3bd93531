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

	"github.com/spf13/cobra"

	"github.com/rvmlabs/rvm/internal/blob"
	"github.com/rvmlabs/rvm/internal/config"
	"github.com/rvmlabs/rvm/internal/engine"
	"github.com/rvmlabs/rvm/internal/logging"
	"github.com/rvmlabs/rvm/internal/metrics"
	"github.com/rvmlabs/rvm/internal/observability"
	"github.com/rvmlabs/rvm/internal/registry"
	"github.com/rvmlabs/rvm/internal/server"
)

func daemonCmd() *cobra.Command {
	var (
		proxyAddr string
		adminAddr string
		logLevel  string
		backend   string
		storeRoot string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the rvm daemon",
		Long:  "Run the invocation proxy and the deployment admin service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("proxy-addr") {
				cfg.Daemon.ProxyAddr = proxyAddr
			}
			if cmd.Flags().Changed("admin-addr") {
				cfg.Daemon.AdminAddr = adminAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}
			if cmd.Flags().Changed("storage-backend") {
				cfg.Storage.Backend = backend
			}
			if cmd.Flags().Changed("store-root") {
				cfg.Storage.FsRoot = storeRoot
			}

			logging.Init(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)
			return runDaemon(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&proxyAddr, "proxy-addr", "127.0.0.1:8000", "Invocation listener address")
	cmd.Flags().StringVar(&adminAddr, "admin-addr", "127.0.0.1:8002", "Admin listener address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&backend, "storage-backend", "fs", "Module store backend (fs, s3, redis, postgres)")
	cmd.Flags().StringVar(&storeRoot, "store-root", "./module-store", "Module store root (fs backend)")

	return cmd
}

func runDaemon(ctx context.Context, cfg *config.Config) error {
	if err := observability.Init(ctx, cfg.Tracing); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(context.Background())

	eng, err := engine.New(cfg.Engine)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	defer eng.Close(context.Background())

	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Namespace, func() float64 {
			used, _ := eng.InstanceSlots()
			return float64(used)
		})
	}

	storage, err := blob.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open module store: %w", err)
	}
	defer storage.Close()

	reg := registry.New(eng, storage)
	defer reg.Close()

	// Recovery completes before either listener accepts a connection.
	if err := reg.Recover(ctx); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	proxyListener, err := net.Listen("tcp", cfg.Daemon.ProxyAddr)
	if err != nil {
		return fmt.Errorf("bind proxy listener: %w", err)
	}
	adminListener, err := net.Listen("tcp", cfg.Daemon.AdminAddr)
	if err != nil {
		proxyListener.Close()
		return fmt.Errorf("bind admin listener: %w", err)
	}

	proxySrv := &http.Server{Handler: server.NewProxy(reg)}
	adminSrv := &http.Server{Handler: server.NewAdmin(reg, cfg.Deploy.MaxBodyBytes).Handler()}

	errCh := make(chan error, 2)
	go func() {
		logging.Op().Info("listening for invocations", "addr", proxyListener.Addr().String())
		errCh <- proxySrv.Serve(proxyListener)
	}()
	go func() {
		logging.Op().Info("listening for deployments", "addr", adminListener.Addr().String())
		errCh <- adminSrv.Serve(adminListener)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Op().Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listener failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	proxySrv.Shutdown(shutdownCtx)
	adminSrv.Shutdown(shutdownCtx)
	return nil
}
