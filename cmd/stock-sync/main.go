package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/sellerpulse/stocksync/internal/api"
	"github.com/sellerpulse/stocksync/internal/dispatch"
	"github.com/sellerpulse/stocksync/internal/jobs"
	"github.com/sellerpulse/stocksync/internal/marketplace"
	"github.com/sellerpulse/stocksync/internal/publisher"
	"github.com/sellerpulse/stocksync/internal/rate"
	"github.com/sellerpulse/stocksync/internal/retry"
	internalsecrets "github.com/sellerpulse/stocksync/internal/secrets"
	"github.com/sellerpulse/stocksync/internal/sink"
	"github.com/sellerpulse/stocksync/internal/store"
	"github.com/sellerpulse/stocksync/internal/syncer"
	"github.com/sellerpulse/stocksync/pkg/config"
	"github.com/sellerpulse/stocksync/pkg/logger"
	"github.com/sellerpulse/stocksync/pkg/secrets"
	"github.com/sellerpulse/stocksync/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	logg := logger.S()
	logg.Info("starting [stock-sync]...")
	if cfg.DatabaseURL != "" {
		logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
	}

	// --- AWS Secrets Manager provider (optional; env fallback otherwise) ---
	var provider secrets.Provider
	if p, err := secrets.NewAWSProvider(cfg.AWSRegion); err != nil {
		logg.Warnw("AWS Secrets Manager unavailable, using env credentials", "error", err)
	} else {
		provider = p
	}

	// --- Marketplace credential resolver (secrets cached in-memory) ---
	credCache := secrets.NewCache[internalsecrets.Credentials](cfg.CacheTTL)
	stopCleaner := make(chan struct{})
	go credCache.StartCleaner(cfg.CleanupFreq, stopCleaner)

	credResolver := internalsecrets.NewResolver(
		logg.Desugar(),
		cfg.Env,
		provider,
		credCache,
		internalsecrets.Credentials{
			APIToken: cfg.MarketplaceToken,
			BaseURL:  cfg.MarketplaceBaseURL,
		},
	)
	creds, err := credResolver.Resolve(ctx)
	if err != nil {
		logg.Fatalw("failed to resolve marketplace credentials", "error", err)
	}
	logg.Infow("marketplace credentials resolved", "token", utils.MaskToken(creds.APIToken))

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	// --- Publisher ---
	pub, err := publisher.New(logg.Desugar(), nc, cfg.ServiceName)
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}

	// --- Rate limiters: one manager per upstream ---
	endpointDefaults := rate.Config{
		RequestsPerSecond: cfg.EndpointRPS,
		Burst:             cfg.EndpointBurst,
		QueueTimeout:      cfg.RateQueueTimeout,
		CooldownFactor:    cfg.RateCooldownFactor,
		RecoveryStep:      cfg.RateRecoveryStep,
	}
	globalLimits := rate.Config{
		RequestsPerSecond: cfg.GlobalRPS,
		Burst:             cfg.GlobalBurst,
		QueueTimeout:      cfg.RateQueueTimeout,
		CooldownFactor:    cfg.RateCooldownFactor,
		RecoveryStep:      cfg.RateRecoveryStep,
	}
	mktRates := rate.NewManager(globalLimits, endpointDefaults, nil)
	sinkRates := rate.NewManager(globalLimits, endpointDefaults, nil)

	// --- Retry policy ---
	policy := retry.Default()
	policy.MaxAttempts = cfg.RetryMaxAttempts
	policy.BaseDelay = cfg.RetryBaseDelay
	policy.MaxDelay = cfg.RetryMaxDelay

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}

	// --- Session summary refresher (needs Postgres) ---
	var refresher *jobs.SummaryRefresher
	if hybrid, ok := st.(*store.HybridStore); ok && hybrid.PG != nil {
		refresher = jobs.NewSummaryRefresher(logg.Desugar(), hybrid.PG, pub, cfg.SummaryRefreshFreq)
		go refresher.Start(ctx)
	}

	// --- Marketplace clients ---
	mktClient := marketplace.NewClient(logg.Desugar(), marketplace.ClientConfig{
		BaseURL:  creds.BaseURL,
		APIToken: creds.APIToken,
	}, mktRates, policy)
	jobClient := marketplace.NewJobTaskClient(
		logg.Desugar(), mktClient, cfg.ReportPollInterval, cfg.ReportMaxWait, nil)
	orderClient := marketplace.NewOrderFeedClient(logg.Desugar(), mktClient)

	// --- Sink client + dispatcher ---
	sinkClient := sink.NewHTTPClient(logg.Desugar(), sink.HTTPConfig{
		BaseURL:    cfg.SinkBaseURL,
		APIToken:   cfg.SinkToken,
		DocumentID: cfg.SinkDocumentID,
	}, sinkRates, policy)
	dispatcher := syncer.NewDispatcher(logg.Desugar(), dispatch.Config{
		MinBatch:         cfg.BatchMin,
		OptimalBatch:     cfg.BatchOptimal,
		MaxBatch:         cfg.BatchMax,
		MaxConcurrency:   cfg.BatchConcurrency,
		LatencyThreshold: cfg.BatchLatencyLimit,
		TargetThroughput: cfg.BatchThroughput,
	})

	// --- Coordinator + scheduler ---
	coordinator := syncer.NewCoordinator(
		logg.Desugar(),
		syncer.Config{
			CycleTimeout:   cfg.CycleTimeout,
			OrdersDaysBack: cfg.OrdersDaysBack,
			OrdersFlag:     cfg.OrdersFlag,
			SheetName:      cfg.SinkSheetName,
			SessionTTL:     cfg.SessionTTL,
		},
		jobClient,
		orderClient,
		sinkClient,
		dispatcher,
		st,
		pub,
	)
	runner := syncer.NewRunner(logg.Desugar(), coordinator, cfg.SyncInterval)

	go func() {
		// Daily schedules align to the configured start time; shorter
		// intervals begin immediately.
		if cfg.SyncInterval >= 24*time.Hour {
			delay := untilTimeOfDay(time.Now(), cfg.SyncTime)
			logg.Infow("first sync scheduled", "in", delay.Round(time.Second))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		runner.Start(ctx)
	}()

	// --- Fiber HTTP Server ---
	app := fiber.New()
	syncHandler := api.NewSyncHandler(logg.Desugar(), runner, st)
	api.RegisterRoutes(app, nc, st, syncHandler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[stock-sync] running",
		"nats", cfg.NATSURL,
		"env", cfg.Env,
		"sync_interval", cfg.SyncInterval,
		"cycle_timeout", cfg.CycleTimeout)

	<-ctx.Done()
	logg.Info("shutting down [stock-sync]...")

	close(stopCleaner)
	if refresher != nil {
		refresher.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := nc.Drain(); err != nil {
		logg.Warnw("nats.drain_failed", "error", err)
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
	logger.Sync()
}

// untilTimeOfDay returns the wait until the next occurrence of the HH:MM
// carried by t (date portion ignored).
func untilTimeOfDay(now time.Time, t time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
