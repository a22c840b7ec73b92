// Package mail delivers guest messages through the transactional mail
// provider's HTTP API. One message, one attempt: delivery retries risk
// duplicate guest emails, so failures are reported, never replayed.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stayflow/internal/adapters/observability"
	"stayflow/internal/domain"
)

var ErrRejected = errors.New("mail: message rejected")

type Sender struct {
	base string
	hc   *http.Client
	key  string
	from string
}

func New(base, key, from string, timeout time.Duration) (*Sender, error) {
	if key == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if from == "" {
		return nil, fmt.Errorf("from address is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: timeout},
		key:  key,
		from: from,
	}, nil
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	ToName  string `json:"toName,omitempty"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

func (s *Sender) Send(ctx context.Context, m domain.Message) (string, error) {
	if m.To == "" {
		return "", fmt.Errorf("%w: empty recipient", domain.ErrSendFailure)
	}

	body, err := json.Marshal(sendRequest{
		From:    s.from,
		To:      m.To,
		ToName:  m.ToName,
		Subject: m.Subject,
		Text:    m.Body,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.key)

	start := time.Now()
	resp, err := s.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("mail", "send", 0, time.Since(start))
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", domain.ErrSendFailure, err)
	}
	defer resp.Body.Close()
	observability.ObserveExternal("mail", "send", resp.StatusCode, time.Since(start))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		var out sendResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", err
		}
		return out.MessageID, nil
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(string(b)))
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrSendFailure, resp.StatusCode, strings.TrimSpace(string(b)))
	}
}
