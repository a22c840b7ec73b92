// Package amqp publishes reservation lifecycle events to RabbitMQ so the
// surrounding platform (notifications, analytics) can react without polling
// the primary database. Publishing is best-effort from the core's point of
// view; callers log failures and move on.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"stayflow/internal/domain"
)

const eventQueueName = "reservation.events"

type Publisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New dials the broker once; the connection is re-established lazily if the
// broker drops it.
func New(url string) (*Publisher, error) {
	p := &Publisher{url: url}
	if err := p.ensureChannel(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) ensureChannel() error {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	// Durable so events survive broker restarts.
	if _, err := ch.QueueDeclare(eventQueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("amqp queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

func (p *Publisher) Publish(ctx context.Context, ev domain.ReservationEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureChannel(); err != nil {
		return err
	}

	return p.ch.PublishWithContext(ctx,
		"",             // default exchange
		eventQueueName, // routing key = queue name
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
