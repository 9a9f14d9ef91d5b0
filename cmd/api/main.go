package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dialer-platform/internal/agent"
	"dialer-platform/internal/allocation"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/compliance"
	"dialer-platform/internal/config"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/dnc"
	"dialer-platform/internal/events"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"
	"dialer-platform/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	loc, err := cfg.Location()
	if err != nil {
		log.Error("timezone init failed", "err", err)
		os.Exit(1)
	}

	campaignRepo := &campaign.PostgresRepo{DB: db}
	allocationRepo := &allocation.PostgresRepo{DB: db}
	agentRepo := &agent.PostgresRepo{DB: db}
	dncRepo := &dnc.PostgresRepo{DB: db}
	attemptRepo := &dialer.PostgresAttemptRepo{DB: db}

	registry := campaign.NewRegistry(campaignRepo)
	gate := compliance.NewGate(dncRepo, loc, cfg.Dialer.CallingHourStart, cfg.Dialer.CallingHourEnd)
	gateway := telephony.NewARIClient(cfg.ARI)
	publisher := &events.RedisPublisher{Client: rdb}

	engine := dialer.NewManager(dialer.ManagerDeps{
		Attempts:    attemptRepo,
		Allocations: allocationRepo,
		Agents:      agentRepo,
		Registry:    registry,
		Gate:        gate,
		Gateway:     gateway,
		Publisher:   publisher,
		Logger:      log,
		Redis:       rdb,
		Config:      cfg.Dialer,
	})

	stream := telephony.NewStream(cfg.ARI, engine.HandleEvent, log)
	go stream.Run(rootCtx)

	controller := dialer.NewController(engine, cfg.Dialer, log)
	go controller.Run(rootCtx)

	reaper := dialer.NewReaper(engine, cfg.Dialer, log)
	go reaper.Run(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	handlers := httpapi.Handlers{
		Auth:   authManager,
		Dialer: engine,
		Agents: agentRepo,
		Dnc:    dncRepo,
		DB:     db,
		Redis:  rdb,
	}
	registerRoutes(r, auth.RequireAccessToken(authManager), handlers)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
