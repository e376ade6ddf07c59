package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/steelhorse-mc/presence-engine/internal/clock"
	"github.com/steelhorse-mc/presence-engine/internal/config"
	"github.com/steelhorse-mc/presence-engine/internal/database"
	"github.com/steelhorse-mc/presence-engine/internal/gateway"
	"github.com/steelhorse-mc/presence-engine/internal/jobs"
	"github.com/steelhorse-mc/presence-engine/internal/notifier"
	"github.com/steelhorse-mc/presence-engine/internal/ops"
	"github.com/steelhorse-mc/presence-engine/internal/presence"
	"github.com/steelhorse-mc/presence-engine/internal/redis"
	"github.com/steelhorse-mc/presence-engine/internal/reminder"
	"github.com/steelhorse-mc/presence-engine/internal/repository"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(pingCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	pingCancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	activeRepo := repository.NewActiveSessionRepository(db.DB)
	completedRepo := repository.NewCompletedSessionRepository(db.DB)
	ruleRepo := repository.NewRuleRepository(db.DB)
	duesRepo := repository.NewDuesRepository(db.DB)
	dispatchRepo := repository.NewDispatchRepository(db.DB)

	clk := clock.System()

	filter := gateway.NewFilter(cfg.IgnoredDisplayNames)
	gwClient := gateway.NewClient(gateway.Config{
		URL:         cfg.GatewayURL,
		Token:       cfg.GatewayToken,
		ReadTimeout: cfg.AdapterReadTimeout(),
		BackoffCap:  cfg.AdapterBackoffCap(),
	}, filter)

	tracker := presence.NewTracker(clk, activeRepo, completedRepo, presence.Options{
		ProspectRoomSubstrings: cfg.ProspectRoomSubstrings,
		ProspectUserSubstring:  cfg.ProspectUserSubstring,
		MinSession:             cfg.MinSession(),
	})

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := tracker.Restore(restoreCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to restore active sessions")
	}
	restoreCancel()

	sink := notifier.NewWebhookSink(cfg.NotifierWebhookURL)
	limiter := notifier.NewRateLimiter(redisClient, cfg.NotifierRatePerSecond)
	notifGateway := notifier.NewGateway(sink, limiter, cfg.NotifierRetryAttempts)
	notifGateway.Start()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid reminder timezone")
	}
	tickHour, tickMinute, err := cfg.TickClock()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid reminder tick time")
	}

	scheduler := reminder.NewScheduler(clk, loc, ruleRepo, duesRepo, dispatchRepo, notifGateway)

	timers := clock.NewTimers(clk)
	scheduler.Start(timers, tickHour, tickMinute)
	log.Info().Int("hour", tickHour).Int("minute", tickMinute).Str("zone", loc.String()).
		Msg("reminder tick scheduled")

	retentionJob := jobs.NewRetentionJob(
		completedRepo, dispatchRepo, clk,
		cfg.RetentionCompleted(), cfg.RetentionDispatch(),
		config.RetentionJobInterval,
	)
	retentionJob.Start()

	opsHandler := ops.NewHandler(db, tracker, scheduler, gwClient)
	opsServer := &http.Server{
		Addr:        cfg.OpsAddr(),
		Handler:     opsHandler.Routes(),
		ReadTimeout: config.OpsReadTimeout,
		IdleTimeout: config.OpsIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.OpsAddr()).Msg("starting ops server")
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("ops server error")
		}
	}()

	gwCtx, gwCancel := context.WithCancel(context.Background())

	go func() {
		if err := gwClient.Run(gwCtx); err != nil {
			log.Error().Err(err).Msg("gateway source stopped")
		}
	}()

	trackerDone := make(chan error, 1)
	go func() {
		trackerDone <- tracker.Run(gwClient.Events())
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	// stop the event flow first: cancelling the gateway closes the event
	// channel, the tracker drains the buffered tail and closes every
	// remaining session
	gwCancel()

	var trackerErr error
	select {
	case trackerErr = <-trackerDone:
	case <-time.After(config.DrainTimeout):
		log.Error().Msg("tracker drain timed out")
	}
	if trackerErr != nil {
		log.Error().Err(trackerErr).Msg("tracker shutdown incomplete")
	}

	timers.Stop()
	retentionJob.Stop()
	notifGateway.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.OpsShutdownTimeout)
	defer shutdownCancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("ops server forced to shutdown")
	}

	log.Info().Msg("engine stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
