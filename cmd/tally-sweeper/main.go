// tally-sweeper periodically lapses subscriptions whose term has ended.
// Expiry is also detected lazily on the request path; the sweeper keeps
// the table tidy for users who never come back.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tallyhq/tally/pkg/config"
	"github.com/tallyhq/tally/pkg/observability"
	"github.com/tallyhq/tally/pkg/plans"
	storagepg "github.com/tallyhq/tally/pkg/storage/postgres"
	"github.com/tallyhq/tally/pkg/subscriptions"
)

var (
	schedule = flag.String("schedule", "*/15 * * * *", "Cron schedule for the expiry sweep (default: every 15 minutes)")
	runOnce  = flag.Bool("run-once", false, "Run one sweep and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		// No logger yet; write to stderr and bail.
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("component", "tally-sweeper")

	db, err := storagepg.Connect(storagepg.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	catalog := plans.NewPostgresCatalog(db)
	svc := subscriptions.NewPostgresService(db, catalog, logger, nil)

	sweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		expired, err := svc.SweepExpired(ctx)
		if err != nil {
			logger.WithError(err).Error("sweep failed")
			return
		}
		if expired > 0 {
			logger.WithField("expired", expired).Info("sweep completed")
		}
	}

	if *runOnce {
		sweep()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(*schedule, sweep); err != nil {
		logger.WithError(err).Error("failed to schedule sweep")
		os.Exit(1)
	}
	c.Start()
	logger.WithField("schedule", *schedule).Info("sweeper started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	<-c.Stop().Done()
}
