package httpserver

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stayflow/internal/adapters/observability"
)

func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return http.TimeoutHandler(next, d, "timeout") }
}

// ---- status-recording ResponseWriter ----

type srw struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *srw) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *srw) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *srw) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// ---- Metrics middleware ----

func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &srw{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		observability.ObserveHTTP(route, r.Method, sw.Status(), time.Since(start))
	})
}

// ---- Structured logging middleware ----

func Logger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &srw{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			l.Info().
				Str("route", route).
				Str("method", r.Method).
				Int("status", sw.Status()).
				Dur("duration", time.Since(start)).
				Str("remote", remoteIP(r)).
				Str("ua", r.UserAgent()).
				Msg("http_request")
		})
	}
}

// Picks first X-Forwarded-For IP, else X-Real-IP, else RemoteAddr host.
func remoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return xrip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// ---- Webhook trust boundary ----

// IPAllowlist rejects callers outside the configured set of IPs/CIDRs with
// 403. The webhook is the system's trust boundary, so an unknown source is
// never processed. An empty list allows everyone; construction logs that
// loudly so it cannot slip into production unnoticed.
func IPAllowlist(entries []string) func(http.Handler) http.Handler {
	var nets []*net.IPNet
	var ips []net.IP
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			if _, n, err := net.ParseCIDR(e); err == nil {
				nets = append(nets, n)
				continue
			}
		}
		if ip := net.ParseIP(e); ip != nil {
			ips = append(ips, ip)
			continue
		}
		log.Warn().Str("entry", e).Msg("ignoring unparseable allow-list entry")
	}
	open := len(nets) == 0 && len(ips) == 0
	if open {
		log.Warn().Msg("webhook IP allow-list empty: accepting events from any source")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !open {
				ip := net.ParseIP(remoteIP(r))
				if ip == nil || !allowed(ip, ips, nets) {
					log.Warn().Str("remote", remoteIP(r)).Msg("webhook rejected: source not allow-listed")
					writeProblem(w, http.StatusForbidden, "Forbidden", "source not allowed")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func allowed(ip net.IP, ips []net.IP, nets []*net.IPNet) bool {
	for _, a := range ips {
		if a.Equal(ip) {
			return true
		}
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Signature verifies X-Octorate-Signature as a hex HMAC-SHA256 of the raw
// body when a secret is configured; without one the check is skipped. The
// body is buffered and restored for the handler.
func Signature(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil {
				writeProblem(w, http.StatusBadRequest, "Bad Request", "unreadable body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			mac := hmac.New(sha256.New, []byte(secret))
			mac.Write(body)
			want := hex.EncodeToString(mac.Sum(nil))
			got := strings.TrimSpace(r.Header.Get("X-Octorate-Signature"))
			if got == "" || !hmac.Equal([]byte(want), []byte(strings.ToLower(got))) {
				log.Warn().Str("remote", remoteIP(r)).Msg("webhook rejected: bad signature")
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid signature")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Bearer guards internal trigger endpoints with a shared secret. Empty token
// disables the check (trusted-network deployments).
func Bearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got == "" || !hmac.Equal([]byte(got), []byte(token)) {
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
