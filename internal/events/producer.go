// Package events publishes onboarding domain events to a RabbitMQ topic
// exchange.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ignite/onboarding/internal/pkg/logger"
)

// channel is the part of *amqp.Channel the producer uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Producer publishes JSON events to one durable topic exchange. Safe for
// concurrent use.
type Producer struct {
	exchange string
	conn     *amqp.Connection
	open     func() (channel, error)
	now      func() time.Time

	mu       sync.Mutex
	ch       channel
	declared bool
}

// NewProducer dials RabbitMQ and opens a channel.
func NewProducer(amqpURL, exchange string) (*Producer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	open := func() (channel, error) { return conn.Channel() }
	p, err := newProducer(exchange, open)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newProducer(exchange string, open func() (channel, error)) (*Producer, error) {
	ch, err := open()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return &Producer{exchange: exchange, open: open, ch: ch, now: time.Now}, nil
}

// Publish marshals body to JSON and publishes it with routingKey. A failed
// publish reopens the channel and retries once.
func (p *Producer) Publish(ctx context.Context, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now(),
		Body:         jsonBody,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, routingKey, msg)
	if err == nil {
		return nil
	}
	logger.Warn("event publish failed, reopening channel",
		"exchange", p.exchange, "routing_key", routingKey, "error", err)

	if reopenErr := p.reopenLocked(); reopenErr != nil {
		return errors.Join(err, reopenErr)
	}
	if err := p.publishLocked(ctx, routingKey, msg); err != nil {
		return err
	}
	logger.Info("event published after channel reopen", "exchange", p.exchange, "routing_key", routingKey)
	return nil
}

func (p *Producer) publishLocked(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	if !p.declared {
		if err := p.ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
		}
		p.declared = true
	}
	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *Producer) reopenLocked() error {
	ch, err := p.open()
	if err != nil {
		return fmt.Errorf("reopen channel: %w", err)
	}
	if p.ch != nil {
		p.ch.Close()
	}
	p.ch = ch
	p.declared = false
	return nil
}

// Close closes the channel and connection.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// Fallback logs events instead of publishing them. Used when RabbitMQ is not
// configured or unreachable at startup.
type Fallback struct {
	Exchange string
}

func (f Fallback) Publish(_ context.Context, routingKey string, body interface{}) error {
	logger.Info("event not published, broker unavailable",
		"exchange", f.Exchange, "routing_key", routingKey, "body", body)
	return nil
}

func (Fallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
