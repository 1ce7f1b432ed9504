package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/cwrk-planet/meet-service/config"
	"github.com/cwrk-planet/meet-service/internal/domain"
	"github.com/cwrk-planet/meet-service/internal/metrics"
	"github.com/cwrk-planet/meet-service/internal/registry"
	"github.com/cwrk-planet/meet-service/internal/relay"
	"github.com/cwrk-planet/meet-service/internal/translate"
	grpcx "github.com/cwrk-planet/meet-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/meet-service/internal/transport/http"
	"github.com/cwrk-planet/meet-service/internal/transport/ws"
	"github.com/cwrk-planet/meet-service/pkg/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := logger.DetectEnv()
	if cfg.Logging.Env != "" {
		env = logger.ParseEnv(cfg.Logging.Env)
	}
	logger.Init(logger.Config{
		Env:       env,
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting meet-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version)

	// --- translation ---
	source, err := domain.ParseLanguage(cfg.Translation.SourceLanguage)
	if err != nil {
		log.Fatalf("translation: %v", err)
	}
	langs, err := domain.ParseLanguages(cfg.Translation.Languages)
	if err != nil {
		log.Fatalf("translation: %v", err)
	}
	translator, err := translate.New(translate.Config{
		Provider: cfg.Translation.Provider,
		Endpoint: cfg.Translation.Endpoint,
		APIKey:   cfg.Translation.APIKey,
		Source:   source,
	})
	if err != nil {
		log.Fatalf("translation: %v", err)
	}

	// --- rooms, relay, ws ---
	m := metrics.New()
	hub := ws.NewHub(m)
	rooms := registry.New(registry.Options{
		GracePeriod:   cfg.Rooms.GracePeriod,
		MaxLifetime:   cfg.Rooms.MaxLifetime,
		SweepInterval: cfg.Rooms.SweepInterval,
		Notifier:      hub,
		Metrics:       m,
	})
	rl := relay.New(rooms, hub, relay.Options{
		Translator: translator,
		Languages:  langs,
		Timeout:    cfg.Translation.Timeout,
		Metrics:    m,
	})
	wsServer := ws.NewServer(hub, rooms, rl, ws.Options{
		PingInterval:         cfg.WS.PingInterval,
		WriteTimeout:         cfg.WS.WriteTimeout,
		MaxMessageBytes:      cfg.WS.MaxMessageBytes,
		SendQueue:            cfg.WS.SendQueue,
		MaxMessagesPerSecond: cfg.WS.MaxMessagesPerSecond,
		Burst:                cfg.WS.Burst,
		AllowedOrigins:       cfg.HTTP.AllowedOrigins,
		Metrics:              m,
	})

	// --- HTTP ---
	var ready atomic.Bool
	ready.Store(true)
	router := httpx.NewRouter(httpx.Deps{
		Rooms:          rooms,
		PublicBaseURL:  cfg.HTTP.PublicBaseURL,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		WS:             wsServer.HandleWS,
		Metrics:        m.Handler(),
		Ready:          ready.Load,
	})
	httpSrv := httpx.NewServer(httpx.Config{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, router)

	// --- gRPC ---
	grpcSrv := grpcx.NewServer(cfg.GRPC.Addr)

	// --- run ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		return httpSrv.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
		return grpcSrv.Run(gctx)
	})
	g.Go(func() error {
		return rooms.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Hijacked ws connections are not closed by http.Server.Shutdown.
		ready.Store(false)
		hub.CloseAll()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "err", err)
		rooms.Close()
		os.Exit(1)
	}
	rooms.Close()
	slog.Info("stopped")
}
