package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/latticefact/runtime/internal/config"
	"github.com/latticefact/runtime/internal/facts"
	"github.com/latticefact/runtime/internal/httpfetch"
	"github.com/latticefact/runtime/internal/identity"
	"github.com/latticefact/runtime/internal/netadapter"
	"github.com/latticefact/runtime/internal/store"
	"github.com/latticefact/runtime/internal/subscription"
	"github.com/latticefact/runtime/internal/telemetry"
	"github.com/latticefact/runtime/internal/transport"
)

// runServe boots the full subscriber-side stack — store, identity,
// telemetry, the HTTP fallback client, the WebSocket transport, and the
// subscription manager gluing them together — and blocks until SIGINT or
// SIGTERM.
func runServe(stdout, stderr io.Writer) int {
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telCfg := telemetry.DefaultConfig()
	telCfg.OTLPEndpoint = cfg.OTLPEndpoint
	telCfg.SampleRate = cfg.TraceSample
	tel, err := telemetry.New(ctx, telCfg)
	if err != nil {
		logger.Error("init telemetry", "error", err)
		return 1
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	principal, err := identity.GeneratePrincipal()
	if err != nil {
		logger.Error("generate principal", "error", err)
		return 1
	}
	keySet, err := identity.NewInMemoryKeySet()
	if err != nil {
		logger.Error("init key set", "error", err)
		return 1
	}
	tokens := identity.NewTokenManager(keySet)
	token, err := tokens.IssueToken(principal, 24*time.Hour)
	if err != nil {
		logger.Error("issue token", "error", err)
		return 1
	}

	fstore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("open store", "error", err)
		return 1
	}

	httpCfg := httpfetch.DefaultConfig(cfg.RemoteHTTPURL)
	httpCfg.BearerToken = token
	httpClient := httpfetch.NewClient(httpCfg)

	var mgr *subscription.Manager
	router := transport.NewRouter(func(envs []facts.Envelope) error {
		return mgr.SaveDecoded(ctx, envs)
	})

	sockCfg := transport.DefaultConfig(cfg.RemoteWSURL)
	sockCfg.BearerToken = token
	sockCfg.MaxReconnectAttempts = cfg.Transport.MaxReconnectAttempts
	sockCfg.HeartbeatInterval = cfg.Transport.HeartbeatInterval()
	sockCfg.QueueCapacity = cfg.Transport.SendQueueCapacity
	socket := transport.NewSocket(sockCfg, router)
	streamSocket := transport.NewStreamSocket(socket, router)

	adapter := netadapter.New(httpClient, streamSocket, socket)
	mgr = subscription.NewManager(adapter, fstore)

	if err := socket.Connect(ctx); err != nil {
		logger.Warn("initial websocket connect failed, will retry", "error", err)
	}
	defer func() { _ = socket.Close() }()

	logger.Info("runtime started",
		"principal", principal.PublicKeyPEM[:40]+"...",
		"remote_http", cfg.RemoteHTTPURL,
		"remote_ws", cfg.RemoteWSURL,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return 0
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		return store.NewInMemory(), nil
	}
	return store.OpenPostgres(ctx, cfg.DatabaseURL)
}
