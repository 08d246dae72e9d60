// Command switchboardd runs the switchboard HTTP service: it evaluates
// agent action requests against policy, records a signed audit trail,
// and dispatches approved actions to the configured adapters.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"switchboard/internal/adapters"
	"switchboard/internal/approvals"
	"switchboard/internal/audit"
	"switchboard/internal/config"
	"switchboard/internal/httpapi"
	"switchboard/internal/policy"
	"switchboard/internal/router"
	"switchboard/internal/signing"
	"switchboard/internal/transparency"
)

func main() {
	remaining := config.InitLogging(os.Args[1:])
	flag.CommandLine.Parse(remaining) //nolint:errcheck

	cfg := config.ServerConfigFromEnv()

	policyConfig := policy.DefaultConfig()
	if cfg.PolicyConfigPath != "" {
		loaded, err := policy.LoadFile(cfg.PolicyConfigPath)
		if err != nil {
			slog.Error("failed to load policy config", "err", err)
			os.Exit(1)
		}
		policyConfig = loaded
	}
	engine := policy.NewEngineFromEnv(policy.NewLocalEngine(policyConfig))

	transparencyClient, err := transparency.NewClientFromEnv(cfg.AuditLogPath)
	if err != nil {
		slog.Error("failed to build transparency client", "err", err)
		os.Exit(1)
	}
	auditSvc, err := audit.NewService(signing.NewHMACSigner(cfg.SigningSecret), transparencyClient, cfg.AuditLogPath)
	if err != nil {
		slog.Error("failed to build audit service", "err", err)
		os.Exit(1)
	}

	approvalStore, err := approvals.NewStoreFromEnv()
	if err != nil {
		slog.Error("failed to build approval store", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := approvalStore.Warmup(ctx); err != nil {
		slog.Error("approval store warmup failed", "err", err)
		os.Exit(1)
	}

	registry := adapters.NewRegistry()
	registry.Register(adapters.NewMCPAdapterFromEnv())
	registry.Register(adapters.NewACPAdapterFromEnv())
	if bedrockAdapter, err := adapters.NewBedrockAdapterFromEnv(ctx); err != nil {
		slog.Error("failed to build bedrock adapter", "err", err)
		os.Exit(1)
	} else {
		registry.Register(bedrockAdapter)
	}
	if vertexAdapter, err := adapters.NewVertexAdapterFromEnv(ctx); err != nil {
		slog.Error("failed to build vertex adapter", "err", err)
		os.Exit(1)
	} else {
		registry.Register(vertexAdapter)
	}

	r := router.New(engine, auditSvc, approvalStore, registry)
	srv := httpapi.NewServer(r)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Mux(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down switchboard...")
		cancel()
		if err := approvalStore.Shutdown(context.Background()); err != nil {
			slog.Error("approval store shutdown failed", "err", err)
		}
		httpServer.Shutdown(context.Background())
	}()

	slog.Info("switchboard starting", "listen", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("switchboard stopped")
}
