package main

import (
	"database/sql"
	"net/http"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	amqppub "stayflow/internal/adapters/amqp"
	server "stayflow/internal/adapters/http_server"
	"stayflow/internal/adapters/mail"
	"stayflow/internal/adapters/observability"
	"stayflow/internal/adapters/octorate"
	redisad "stayflow/internal/adapters/redis"
	"stayflow/internal/app"
	"stayflow/internal/domain"
	"stayflow/internal/shared"
	mysqlrepo "stayflow/internal/storage/mysql"
)

func main() {
	_ = godotenv.Load()
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	observability.Serve()

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	// deps
	repo := mysqlrepo.New(db)
	coord := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	var sender domain.NotificationSender
	if s, err := mail.New(cfg.MailBase, cfg.MailKey, cfg.MailFrom, 0); err != nil {
		log.Warn().Err(err).Msg("mail sender disabled")
	} else {
		sender = s
	}

	var channel domain.ChannelClient
	if c, err := octorate.New(cfg.OctorateBase, cfg.OctorateKey, 5, cfg.OctorateTimeout); err != nil {
		log.Warn().Err(err).Msg("octorate client disabled")
	} else {
		channel = c
	}

	var events domain.EventPublisher
	if cfg.AmqpURL != "" {
		p, err := amqppub.New(cfg.AmqpURL)
		if err != nil {
			log.Warn().Err(err).Msg("event publisher disabled")
		} else {
			defer p.Close()
			events = p
		}
	}

	scheduler := app.NewEmailScheduler(repo, repo, repo, sender, cfg.Timezone)
	lifecycle := app.NewLifecycleService(repo, repo, scheduler, sender, events)
	sync := app.NewSyncService(repo, repo, lifecycle, channel, coord, coord)
	runner := app.NewRunner(repo, scheduler, cfg.EmailBatchSize, cfg.EmailWorkers)

	// http
	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Lifecycle:        lifecycle,
		Sync:             sync,
		Runner:           runner,
		WebhookAllowlist: cfg.WebhookAllow,
		WebhookSecret:    cfg.WebhookSecret,
		TriggerToken:     cfg.TriggerToken,
	})

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}
