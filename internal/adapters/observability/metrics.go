package observability

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stayflow", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stayflow", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stayflow", Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stayflow", Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stayflow", Name: "reservation_transitions_total", Help: "Status transitions."},
		[]string{"from", "to", "result"}, // result: applied|noop|conflict
	)
	Emails = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stayflow", Name: "scheduled_emails_total", Help: "Scheduled email outcomes."},
		[]string{"type", "outcome"}, // outcome: sent|skipped|failed
	)
	Pushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stayflow", Name: "channel_pushes_total", Help: "Outbound booking pushes."},
		[]string{"status"}, // ok|failed
	)
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "stayflow", Name: "webhook_events_total", Help: "Inbound channel manager events."},
		[]string{"event", "result"},
	)
)

func Serve() {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, Transitions, Emails, Pushes, WebhookEvents)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveTransition(from, to, result string) {
	Transitions.WithLabelValues(from, to, result).Inc()
}

func ObserveEmail(emailType, outcome string) {
	Emails.WithLabelValues(emailType, outcome).Inc()
}

func ObservePush(status string) {
	Pushes.WithLabelValues(status).Inc()
}

func ObserveWebhook(event, result string) {
	WebhookEvents.WithLabelValues(event, result).Inc()
}
