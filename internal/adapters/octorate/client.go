package octorate

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"stayflow/internal/adapters/observability"
	"stayflow/internal/domain"
)

var (
	ErrNotFound     = errors.New("octorate: not found")
	ErrUnauthorized = errors.New("octorate: unauthorized")
	ErrForbidden    = errors.New("octorate: forbidden")
	ErrDuplicate    = errors.New("octorate: duplicate booking")
)

type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter
}

func New(base, key string, rps int, timeout time.Duration) (*Client, error) {
	if key == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if rps <= 0 {
		rps = 5
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: timeout},
		key:  key,
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

type bookingPayload struct {
	ConfirmationNumber string `json:"confirmationNumber"`
	GuestName          string `json:"guestName"`
	GuestEmail         string `json:"guestEmail"`
	CheckIn            string `json:"checkIn"`
	CheckOut           string `json:"checkOut"`
	Adults             int    `json:"adults"`
	Children           int    `json:"children"`
	TotalMinorUnits    int64  `json:"totalMinorUnits"`
	Currency           string `json:"currency"`
}

type bookingResponse struct {
	BookingID string `json:"bookingId"`
	ID        string `json:"id"`
}

// CreateBooking mirrors one reservation into the channel manager. It is a
// deliberate single attempt: a retried POST that actually landed the first
// time creates a duplicate external booking, so redelivery policy stays with
// the caller.
func (c *Client) CreateBooking(ctx context.Context, accommodationID string, r domain.Reservation) (string, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(bookingPayload{
		ConfirmationNumber: r.ConfirmationNumber,
		GuestName:          r.GuestName,
		GuestEmail:         r.GuestEmail,
		CheckIn:            r.CheckIn.Format("2006-01-02"),
		CheckOut:           r.CheckOut.Format("2006-01-02"),
		Adults:             r.Adults,
		Children:           r.Children,
		TotalMinorUnits:    r.BaseRate + r.Taxes + r.Fees,
		Currency:           r.Currency,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/accommodations/%s/bookings", c.base, accommodationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.key)
	req.Header.Set("User-Agent", "stayflow/1.0")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("octorate", "create_booking", 0, time.Since(start))
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("octorate", "create_booking", resp.StatusCode, time.Since(start))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var out bookingResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", err
		}
		id := out.BookingID
		if id == "" {
			id = out.ID
		}
		if id == "" {
			return "", fmt.Errorf("octorate: response carries no booking id")
		}
		return id, nil
	case http.StatusConflict:
		return "", ErrDuplicate
	case http.StatusNotFound:
		return "", ErrNotFound
	case http.StatusUnauthorized:
		return "", ErrUnauthorized
	case http.StatusForbidden:
		return "", ErrForbidden
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("octorate: bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
}

// Ping probes API reachability; unlike CreateBooking it is safe to retry, so
// it keeps the backoff loop for transient 429/5xx responses.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	url := c.base + "/ping"
	var lastErr error
	for i := 0; i < 4; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-API-Key", c.key)
		req.Header.Set("Accept", "application/json")

		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			return lastErr
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusNoContent:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil
		case http.StatusUnauthorized:
			resp.Body.Close()
			return ErrUnauthorized
		case http.StatusForbidden:
			resp.Body.Close()
			return ErrForbidden
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("octorate: remote %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("octorate: bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}
	return lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff doubles each attempt (200ms, 400ms, 800ms...) with up to +50%
// crypto/rand jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	j := time.Duration(0.5 * f * float64(base))
	return base + j
}
