package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "offer-expiry-worker").Logger()
	log.Info().Msg("offer-expiry-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("schedule", cfg.OfferExpiryCron).
		Dur("offer_ttl", cfg.OfferTTL).
		Msg("configuration loaded")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	repo := scheduling.NewPgRepository(pgPool)
	waitlist := scheduling.NewWaitlist(repo, scheduling.NopNotifier{}, cfg.OfferTTL, log)

	// Run once at startup
	runOnce(rootCtx, waitlist, log)

	c := cron.New()
	if _, err := c.AddFunc(cfg.OfferExpiryCron, func() {
		runOnce(rootCtx, waitlist, log)
	}); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.OfferExpiryCron).Msg("invalid cron schedule")
	}
	c.Start()

	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received, stopping offer-expiry-worker")

	stopCtx := c.Stop()
	<-stopCtx.Done()
}

func runOnce(ctx context.Context, waitlist *scheduling.Waitlist, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	expired, err := waitlist.ExpireOffers(runCtx, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("expiry run error")
		return
	}
	log.Info().Int("expired", expired).Dur("took", time.Since(start)).Msg("expiry run complete")
}
