package shared

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string

	OctorateBase    string
	OctorateKey     string
	OctorateTimeout time.Duration
	WebhookSecret   string
	WebhookAllow    []string

	MailBase string
	MailKey  string
	MailFrom string

	AmqpURL      string
	TriggerToken string

	Timezone       *time.Location
	EmailBatchSize int
	EmailWorkers   int
	RunInterval    time.Duration
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/stayflow?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:   env("REDIS_ADDR", "localhost:6379"),
		RedisDB:     atoi("REDIS_DB", 0),
		RedisPass:   env("REDIS_PASSWORD", ""),

		OctorateBase:    env("OCTORATE_BASE_URL", "https://api.octorate.example/v1"),
		OctorateKey:     env("OCTORATE_API_KEY", ""),
		OctorateTimeout: time.Duration(atoi("OCTORATE_TIMEOUT_SECONDS", 15)) * time.Second,
		WebhookSecret:   env("OCTORATE_WEBHOOK_SECRET", ""),
		WebhookAllow:    splitCSV(env("OCTORATE_WEBHOOK_ALLOWLIST", "")),

		MailBase: env("MAIL_BASE_URL", "https://mail.example/api"),
		MailKey:  env("MAIL_API_KEY", ""),
		MailFrom: env("MAIL_FROM", "stays@example.com"),

		AmqpURL:      env("AMQP_URL", ""),
		TriggerToken: env("SCHEDULER_TRIGGER_TOKEN", ""),

		EmailBatchSize: atoi("EMAIL_BATCH_SIZE", 50),
		EmailWorkers:   atoi("EMAIL_WORKERS", 4),
		RunInterval:    time.Duration(atoi("RUN_INTERVAL_SECONDS", 60)) * time.Second,
	}

	tz := env("PROPERTY_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn().Str("tz", tz).Err(err).Msg("unknown PROPERTY_TIMEZONE, falling back to UTC")
		loc = time.UTC
	}
	c.Timezone = loc

	if c.OctorateKey == "" {
		log.Warn().Msg("OCTORATE_API_KEY is empty; channel sync disabled")
	}
	if c.MailKey == "" {
		log.Warn().Msg("MAIL_API_KEY is empty; notifications will fail")
	}
	return c
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
