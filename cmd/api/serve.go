package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"chamada/internal/agent"
	"chamada/internal/audit"
	"chamada/internal/auth"
	"chamada/internal/calls"
	"chamada/internal/config"
	"chamada/internal/dedup"
	"chamada/internal/dispatch"
	"chamada/internal/httpapi"
	"chamada/internal/metrics"
	"chamada/internal/orchestrator"
	"chamada/internal/ratelimit"
	"chamada/internal/reporting"
	"chamada/internal/telephony"
	"chamada/internal/webhook"
	"chamada/pkg/logger"
	"chamada/pkg/utils"
)

const (
	httpShutdownTimeout = 20 * time.Second
	callDrainTimeout    = 2 * time.Minute
	readyTimeout        = 2 * time.Second
	workerVersion       = "chamada/1"
)

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if !cfg.LiveKit.Configured() {
		return errors.New("LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required to place calls")
	}

	log := logger.New(logger.Options{Env: cfg.App.Env, File: cfg.App.LogFile})
	slog.SetDefault(log)
	rootCtx = logger.With(rootCtx, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	ready := map[string]httpapi.ReadyCheck{}
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return fmt.Errorf("redis init failed: %w", err)
		}
		defer rdb.Close()
		ready["redis"] = func(ctx context.Context) error { return utils.PingRedis(ctx, rdb, readyTimeout) }
	}

	eventLog, db, err := openEventLog(rootCtx, cfg.DB)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		ready["postgres"] = func(ctx context.Context) error { return utils.PingPostgres(ctx, db, readyTimeout) }
	}
	events := audit.NewService(eventLog)

	var store dedup.Store = dedup.NewCache(cfg.Dedup.TTL, cfg.Dedup.MaxEntries)
	if rdb != nil {
		if store, err = dedup.NewRedisStore(rdb, "", cfg.Dedup.TTL); err != nil {
			return err
		}
	}
	engine, err := webhook.New(webhook.Config{
		URL:         cfg.Webhook.URL,
		Secret:      cfg.Webhook.Secret,
		Timeout:     cfg.Webhook.Timeout,
		MaxAttempts: cfg.Webhook.MaxRetries,
	}, store, webhook.WithMetrics(m))
	if err != nil {
		return err
	}
	if cfg.Webhook.URL == "" {
		log.Warn("WEBHOOK_URL not set, transcripts will not be delivered")
	}

	tokens, err := auth.NewManager(cfg.LiveKit)
	if err != nil {
		return fmt.Errorf("token manager init failed: %w", err)
	}
	lk, err := telephony.NewLiveKit(cfg.LiveKit, tokens)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(orchestrator.Config{
		TrunkID:       cfg.SIP.TrunkID,
		CallerID:      cfg.SIP.CallerID,
		TransferTo:    cfg.SIP.TransferNumber,
		FallbackPhone: cfg.SIP.DefaultNumber,
		DialTimeout:   cfg.SIP.DialTimeout,
	}, orchestrator.Deps{
		Connector: lk,
		Rooms:     lk,
		Dialer:    lk,
		Transfers: lk,
		Agents:    agent.NewRealtime(cfg.Realtime),
		Delivery:  engine,
		Audit:     events,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	worker := dispatch.NewWorker(rootCtx, orch, cfg.Dispatch.MaxConcurrentCalls)
	svc, err := dispatch.NewService(dispatch.Config{
		AgentName:     cfg.LiveKit.AgentName,
		RPS:           cfg.Dispatch.RPS,
		MaxWait:       cfg.Dispatch.MaxWait,
		AssignTimeout: cfg.Dispatch.AssignTimeout,
	}, lk, lk, worker, events)
	if err != nil {
		return err
	}

	// Dispatches to AgentName come back to this process as job assignments.
	agentWorker, err := telephony.NewAgentWorker(telephony.AgentWorkerConfig{
		URL:       cfg.LiveKit.URL,
		AgentName: cfg.LiveKit.AgentName,
		Identity:  orchestrator.DefaultIdentity,
		Version:   workerVersion,
	}, tokens, svc)
	if err != nil {
		return err
	}
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = agentWorker.Run(rootCtx)
	}()

	var limiter ratelimit.Limiter = ratelimit.NewSlidingWindow(cfg.HTTP.RateLimitCount, cfg.HTTP.RateLimitWindow)
	if rdb != nil {
		if limiter, err = ratelimit.NewRedisSlidingWindow(rdb, "", cfg.HTTP.RateLimitCount, cfg.HTTP.RateLimitWindow); err != nil {
			return err
		}
	}

	r := newRouter(cfg, log, routeDeps{
		Validator: calls.NewValidator(cfg.SIP.DefaultRegion),
		Calls:     svc,
		Reports:   reporting.NewService(eventLog),
		Limiter:   limiter,
		Metrics:   m,
		Ready:     ready,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "agent", cfg.LiveKit.AgentName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated", "active_calls", worker.Active())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	<-workerDone
	svc.Close()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), callDrainTimeout)
	defer cancelDrain()
	if err := worker.Shutdown(drainCtx); err != nil {
		log.Warn("calls cancelled before they ended", "err", err)
	}
	orch.Wait()
	log.Info("shutdown complete")

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
	return nil
}

type eventStore interface {
	audit.Repository
	reporting.Repository
}

// openEventLog returns the call event log: Postgres when DATABASE_URL is
// set, memory otherwise. The returned pool is nil for the memory log.
func openEventLog(ctx context.Context, cfg config.DBConfig) (eventStore, *sql.DB, error) {
	if cfg.URL == "" {
		return audit.NewMemoryRepo(), nil, nil
	}
	db, err := utils.OpenPostgres(ctx, utils.DriverPgx, cfg.URL, utils.PostgresPoolConfig{})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres init failed: %w", err)
	}
	repo, err := audit.NewPostgresRepo(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("call_events schema: %w", err)
	}
	return repo, db, nil
}
