package main

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"stayflow/internal/adapters/mail"
	"stayflow/internal/adapters/observability"
	"stayflow/internal/app"
	"stayflow/internal/domain"
	"stayflow/internal/shared"
	mysqlrepo "stayflow/internal/storage/mysql"
)

// emailrunner is the periodic trigger for the due-email batch. The loop may
// overlap a slow previous tick after restarts or when run alongside the API's
// trigger endpoint; the execution path is idempotent, so that is fine.
func main() {
	_ = godotenv.Load()
	cfg := shared.Load()

	log.Logger = observability.NewLogger(cfg.AppEnv)
	observability.Serve()

	log.Info().
		Dur("interval", cfg.RunInterval).
		Int("batch", cfg.EmailBatchSize).
		Int("workers", cfg.EmailWorkers).
		Msg("emailrunner starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)

	var sender domain.NotificationSender
	if s, err := mail.New(cfg.MailBase, cfg.MailKey, cfg.MailFrom, 0); err != nil {
		log.Warn().Err(err).Msg("mail sender disabled; sends will fail")
	} else {
		sender = s
	}

	scheduler := app.NewEmailScheduler(repo, repo, repo, sender, cfg.Timezone)
	runner := app.NewRunner(repo, scheduler, cfg.EmailBatchSize, cfg.EmailWorkers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	t := time.NewTicker(cfg.RunInterval)
	defer t.Stop()

	// kick immediately, then on every tick
	run(ctx, runner)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("emailrunner stopping")
			return
		case <-t.C:
			run(ctx, runner)
		}
	}
}

func run(ctx context.Context, runner *app.Runner) {
	summary, err := runner.RunDueEmails(ctx, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("email batch failed")
		return
	}
	if summary.Processed == 0 {
		log.Debug().Msg("no due emails")
	}
}
